package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"licsrv/internal/license"
	"licsrv/pkg/contracts/domain"
)

// Sheet names in the admin export workbook.
const (
	LicensesSheet    = "Licenses"
	ActivationsSheet = "Activations"
)

var licenseColumns = []string{
	"Key", "Email", "Name", "Type", "Issued", "Expires", "Days Remaining",
	"State", "Enabled", "Device ID", "Device Name", "Activations", "Activated", "Device Released",
}

var activationColumns = []string{"Key", "Email", "Device ID", "Device Name", "Timestamp"}

// ExportService renders the license table as a spreadsheet.
type ExportService struct {
	manager *license.Manager
	logger  *slog.Logger
}

// NewExportService creates an export service over manager.
func NewExportService(manager *license.Manager, logger *slog.Logger) *ExportService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportService{manager: manager, logger: logger.With(slog.String("service", "export"))}
}

// WriteXLSX writes a workbook with one row per license and one row per
// activation event to w.
func (s *ExportService) WriteXLSX(ctx context.Context, w io.Writer) error {
	ls, err := s.manager.List(ctx)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName(f.GetSheetName(0), LicensesSheet)
	if err := writeRow(f, LicensesSheet, 1, toCells(licenseColumns)); err != nil {
		return err
	}
	now := s.manager.Now()
	for i, l := range ls {
		if err := writeRow(f, LicensesSheet, i+2, licenseRow(l, now)); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet(ActivationsSheet); err != nil {
		return fmt.Errorf("create activations sheet: %w", err)
	}
	if err := writeRow(f, ActivationsSheet, 1, toCells(activationColumns)); err != nil {
		return err
	}
	row := 2
	for _, l := range ls {
		evs, err := s.manager.Activations(ctx, l.Key)
		if err != nil {
			return err
		}
		for _, ev := range evs {
			cells := []any{ev.Key, ev.Email, ev.DeviceID, ev.DeviceName, formatTime(&ev.Timestamp)}
			if err := writeRow(f, ActivationsSheet, row, cells); err != nil {
				return err
			}
			row++
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	s.logger.InfoContext(ctx, "license export written",
		slog.Int("licenses", len(ls)),
		slog.Int("activations", row-2),
	)
	return nil
}

// utf8BOM lets spreadsheet applications detect the encoding of CSV output.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteCSV streams the license table (without activation history) to w as
// UTF-8 CSV with a byte order mark.
func (s *ExportService) WriteCSV(ctx context.Context, w io.Writer) error {
	ls, err := s.manager.List(ctx)
	if err != nil {
		return err
	}
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("failed to write BOM: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(licenseColumns); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	now := s.manager.Now()
	record := make([]string, len(licenseColumns))
	for i, l := range ls {
		for j, v := range licenseRow(l, now) {
			record[j] = fmt.Sprint(v)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "license csv export written", slog.Int("licenses", len(ls)))
	return nil
}

func licenseRow(l *domain.License, now time.Time) []any {
	return []any{
		l.Key,
		l.OwnerEmail,
		l.OwnerName,
		string(l.Type),
		formatTime(&l.IssuedAt),
		formatTime(&l.ExpiresAt),
		license.DaysRemaining(l.ExpiresAt, now),
		string(l.State),
		l.Enabled,
		l.DeviceID,
		l.DeviceName,
		l.ActivationCount,
		formatTime(l.ActivatedAt),
		formatTime(l.DeviceReleasedAt),
	}
}

func writeRow(f *excelize.File, sheet string, row int, cells []any) error {
	for i, v := range cells {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, fmt.Sprintf("%s%d", col, row), v); err != nil {
			return fmt.Errorf("set cell %s%d: %w", col, row, err)
		}
	}
	return nil
}

func toCells(headers []string) []any {
	cells := make([]any, len(headers))
	for i, h := range headers {
		cells[i] = h
	}
	return cells
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
