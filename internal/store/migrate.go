package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Migration is one schema file and whether it has been applied.
type Migration struct {
	Filename string
	Checksum string
	Applied  bool
}

// Migrations lists the .sql files in dir in lexical order, marking the ones
// recorded in schema_migrations.
func Migrations(ctx context.Context, db *sql.DB, dir string) ([]Migration, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}
	var names []string
	for _, f := range files {
		if !f.IsDir() && strings.HasSuffix(f.Name(), ".sql") {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		sum := sha256.Sum256(content)
		m := Migration{Filename: name, Checksum: hex.EncodeToString(sum[:])}

		var count int
		err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE filename = $1`, name).Scan(&count)
		if err != nil {
			return nil, fmt.Errorf("check migration status: %w", err)
		}
		m.Applied = count > 0
		out = append(out, m)
	}
	return out, nil
}

// Migrate applies every pending migration in dir and returns the applied
// file names. Each file runs in its own transaction with its bookkeeping row.
func Migrate(ctx context.Context, db *sql.DB, dir string, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	migrations, err := Migrations(ctx, db, dir)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, m := range migrations {
		if m.Applied {
			logger.Debug("migration already applied", zap.String("file", m.Filename))
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, m.Filename))
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", m.Filename, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("begin migration %s: %w", m.Filename, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("apply migration %s: %w", m.Filename, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (filename, checksum) VALUES ($1, $2)`,
			m.Filename, m.Checksum); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("record migration %s: %w", m.Filename, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("commit migration %s: %w", m.Filename, err)
		}
		logger.Info("migration applied", zap.String("file", m.Filename))
		applied = append(applied, m.Filename)
	}
	return applied, nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id BIGSERIAL PRIMARY KEY,
			filename TEXT NOT NULL UNIQUE,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return nil
}
