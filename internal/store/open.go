package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Open returns a Postgres store with pending migrations applied, or an empty
// Memory store when dsn is empty.
func Open(ctx context.Context, dsn, migrationsDir string, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dsn == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		return NewMemory(nil), nil
	}

	pg, err := OpenPostgres(ctx, dsn, logger)
	if err != nil {
		return nil, err
	}
	applied, err := Migrate(ctx, pg.DB, migrationsDir, logger)
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database ready", zap.Int("migrations_applied", len(applied)))
	return pg, nil
}
