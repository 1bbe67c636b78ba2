package store

import (
	"context"
	"fmt"
	"log/slog"

	"licsrv/internal/config"
)

// Open creates the backend selected by cfg.Driver and wraps it in Resilient.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*Resilient, error) {
	var (
		backend Store
		err     error
	)
	switch cfg.Driver {
	case config.StoreDriverMemory, "":
		backend = NewMemory()
	case config.StoreDriverFile:
		backend, err = OpenJSONFile(cfg.FilePath)
	case config.StoreDriverMongo:
		backend, err = DialMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case config.StoreDriverPostgres:
		backend, err = DialPostgres(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}

	if logger != nil {
		logger.Info("license store opened", slog.String("driver", cfg.Driver))
	}
	return NewResilient(backend, ResilientOptions{
		Timeout:  cfg.Timeout,
		Attempts: cfg.Retries,
		Backoff:  cfg.RetryBackoff,
	}, logger), nil
}
