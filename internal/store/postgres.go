package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"licsrv/pkg/contracts/domain"
)

const (
	defaultPostgresLicensesTable    = "licenses"
	defaultPostgresActivationsTable = "license_activations"

	pgUniqueViolation = "23505"
)

// validIdentifier matches safe PostgreSQL identifiers (letters, digits, underscores).
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresOption configures a Postgres store.
type PostgresOption func(*Postgres)

// WithPostgresTables overrides the license and activation table names.
func WithPostgresTables(licenses, activations string) PostgresOption {
	return func(p *Postgres) {
		p.licensesTable = licenses
		p.activationsTable = activations
	}
}

// Postgres implements Store on PostgreSQL. Update locks the row with
// SELECT ... FOR UPDATE for the duration of the mutation.
type Postgres struct {
	pool             *pgxpool.Pool
	ownsPool         bool
	licensesTable    string
	activationsTable string
}

// DialPostgres creates a pool from dsn and opens the store on it. The store
// owns the pool and closes it on Close.
func DialPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p, err := NewPostgres(ctx, pool, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	p.ownsPool = true
	return p, nil
}

// NewPostgres opens the store on an existing pool and auto-creates the
// tables and indexes.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, opts ...PostgresOption) (*Postgres, error) {
	p := &Postgres{
		pool:             pool,
		licensesTable:    defaultPostgresLicensesTable,
		activationsTable: defaultPostgresActivationsTable,
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, name := range []string{p.licensesTable, p.activationsTable} {
		if !validIdentifier.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", name)
		}
	}
	if err := p.ensureTables(ctx); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return p, nil
}

func (p *Postgres) ensureTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			key                TEXT PRIMARY KEY,
			owner_email        TEXT NOT NULL,
			owner_name         TEXT NOT NULL,
			license_type       TEXT NOT NULL,
			issued_at          TIMESTAMPTZ NOT NULL,
			expires_at         TIMESTAMPTZ NOT NULL,
			activation_state   TEXT NOT NULL,
			enabled            BOOLEAN NOT NULL DEFAULT TRUE,
			device_id          TEXT NOT NULL DEFAULT '',
			device_name        TEXT NOT NULL DEFAULT '',
			activation_count   INTEGER NOT NULL DEFAULT 0,
			max_activations    INTEGER NOT NULL DEFAULT 1,
			activated_at       TIMESTAMPTZ,
			device_released_at TIMESTAMPTZ,
			version            BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_owner_email ON %[1]s (LOWER(owner_email));
		CREATE TABLE IF NOT EXISTS %[2]s (
			id          BIGSERIAL PRIMARY KEY,
			license_key TEXT NOT NULL,
			email       TEXT NOT NULL,
			device_id   TEXT NOT NULL,
			device_name TEXT NOT NULL DEFAULT '',
			occurred_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[2]s_key_time ON %[2]s (license_key, occurred_at);
		CREATE INDEX IF NOT EXISTS idx_%[2]s_time ON %[2]s (occurred_at);
	`, p.licensesTable, p.activationsTable)
	_, err := p.pool.Exec(ctx, query)
	return err
}

const licenseColumns = `key, owner_email, owner_name, license_type, issued_at, expires_at,
	activation_state, enabled, device_id, device_name, activation_count, max_activations,
	activated_at, device_released_at, version`

func scanLicense(row pgx.Row) (*domain.License, error) {
	var l domain.License
	err := row.Scan(
		&l.Key, &l.OwnerEmail, &l.OwnerName, &l.Type, &l.IssuedAt, &l.ExpiresAt,
		&l.State, &l.Enabled, &l.DeviceID, &l.DeviceName, &l.ActivationCount, &l.MaxActivations,
		&l.ActivatedAt, &l.DeviceReleasedAt, &l.Version,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (p *Postgres) Put(ctx context.Context, l *domain.License) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		p.licensesTable, licenseColumns)
	_, err := p.pool.Exec(ctx, query,
		l.Key, l.OwnerEmail, l.OwnerName, l.Type, l.IssuedAt, l.ExpiresAt,
		l.State, l.Enabled, l.DeviceID, l.DeviceName, l.ActivationCount, l.MaxActivations,
		l.ActivatedAt, l.DeviceReleasedAt, l.Version,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert license: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, key string) (*domain.License, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE key = $1`, licenseColumns, p.licensesTable)
	l, err := scanLicense(p.pool.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	return l, nil
}

func (p *Postgres) Update(ctx context.Context, key string, mutate Mutation) (*domain.License, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE key = $1 FOR UPDATE`, licenseColumns, p.licensesTable)
	cur, err := scanLicense(tx.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock license: %w", err)
	}

	next, err := applyMutation(cur, mutate)
	if err != nil {
		return nil, err
	}

	update := fmt.Sprintf(`UPDATE %s SET
			owner_email = $2, owner_name = $3, activation_state = $4, enabled = $5,
			device_id = $6, device_name = $7, activation_count = $8, max_activations = $9,
			activated_at = $10, device_released_at = $11, version = $12
		WHERE key = $1`, p.licensesTable)
	_, err = tx.Exec(ctx, update,
		next.Key, next.OwnerEmail, next.OwnerName, next.State, next.Enabled,
		next.DeviceID, next.DeviceName, next.ActivationCount, next.MaxActivations,
		next.ActivatedAt, next.DeviceReleasedAt, next.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("update license: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

func (p *Postgres) ListByEmail(ctx context.Context, email string) ([]*domain.License, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE LOWER(owner_email) = $1 ORDER BY issued_at, key`,
		licenseColumns, p.licensesTable)
	return p.query(ctx, query, normalizeEmail(email))
}

func (p *Postgres) List(ctx context.Context) ([]*domain.License, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY issued_at, key`, licenseColumns, p.licensesTable)
	return p.query(ctx, query)
}

func (p *Postgres) query(ctx context.Context, query string, args ...any) ([]*domain.License, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var out []*domain.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendActivation(ctx context.Context, ev domain.ActivationEvent) error {
	query := fmt.Sprintf(`INSERT INTO %s (license_key, email, device_id, device_name, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`, p.activationsTable)
	if _, err := p.pool.Exec(ctx, query, ev.Key, ev.Email, ev.DeviceID, ev.DeviceName, ev.Timestamp); err != nil {
		return fmt.Errorf("insert activation: %w", err)
	}
	return nil
}

func (p *Postgres) Activations(ctx context.Context, key string) ([]domain.ActivationEvent, error) {
	query := fmt.Sprintf(`SELECT license_key, email, device_id, device_name, occurred_at
		FROM %s WHERE license_key = $1 ORDER BY occurred_at, id`, p.activationsTable)
	rows, err := p.pool.Query(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	defer rows.Close()

	var out []domain.ActivationEvent
	for rows.Next() {
		var ev domain.ActivationEvent
		if err := rows.Scan(&ev.Key, &ev.Email, &ev.DeviceID, &ev.DeviceName, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *Postgres) PruneActivations(ctx context.Context, cutoff time.Time) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE occurred_at < $1`, p.activationsTable)
	tag, err := p.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune activations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close(context.Context) error {
	if p.ownsPool {
		p.pool.Close()
	}
	return nil
}
