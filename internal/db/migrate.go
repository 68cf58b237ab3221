// Package db owns the PostgreSQL schema and applies it.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/lib/pq"

	"packshot/internal/infra"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migration is one embedded schema step.
type Migration struct {
	Version string
	SQL     string
}

// Migrations returns the embedded migrations ordered by version.
func Migrations() ([]Migration, error) {
	return loadMigrations(migrationFS, "migrations")
}

func loadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		body, err := fs.ReadFile(fsys, dir+"/"+e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{
			Version: strings.TrimSuffix(e.Name(), ".sql"),
			SQL:     string(body),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrate applies every migration not yet recorded in schema_migrations.
// Each migration runs in its own transaction. It returns the versions applied.
func Migrate(ctx context.Context, databaseURL string, logger infra.Logger) ([]string, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `create table if not exists schema_migrations (
    version text primary key,
    applied_at timestamptz not null default now()
)`); err != nil {
		return nil, describe("create schema_migrations", err)
	}

	migrations, err := Migrations()
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, m := range migrations {
		done, err := isApplied(ctx, conn, m.Version)
		if err != nil {
			return applied, err
		}
		if done {
			logger.Debug().Str("version", m.Version).Msg("migration already applied")
			continue
		}
		if err := apply(ctx, conn, m); err != nil {
			return applied, err
		}
		logger.Info().Str("version", m.Version).Msg("migration applied")
		applied = append(applied, m.Version)
	}
	return applied, nil
}

func isApplied(ctx context.Context, conn *sql.DB, version string) (bool, error) {
	var exists bool
	err := conn.QueryRowContext(ctx, `select exists(select 1 from schema_migrations where version = $1)`, version).Scan(&exists)
	if err != nil {
		return false, describe("check migration "+version, err)
	}
	return exists, nil
}

func apply(ctx context.Context, conn *sql.DB, m Migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return describe("apply "+m.Version, err)
	}
	if _, err := tx.ExecContext(ctx, `insert into schema_migrations (version) values ($1)`, m.Version); err != nil {
		return describe("record "+m.Version, err)
	}
	return tx.Commit()
}

// describe adds the PostgreSQL error code when the driver reports one.
func describe(action string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%s: %s (%s): %w", action, pqErr.Message, pqErr.Code, err)
	}
	return fmt.Errorf("%s: %w", action, err)
}
