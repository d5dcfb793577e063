// Package db owns the schema: embedded goose migrations and the helpers that
// apply them.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"slices"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Migrations returns the migration files rooted at their directory.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// MigrationFiles lists the embedded migration file names in apply order.
func MigrationFiles() ([]string, error) {
	names, err := fs.Glob(Migrations(), "*.sql")
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

// Open opens a database/sql handle over the pgx driver, which is what goose
// drives.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("db: missing dsn")
	}
	return sql.Open("pgx", dsn)
}

// Migrator applies the embedded migrations to one database.
type Migrator struct {
	provider *goose.Provider
}

func NewMigrator(conn *sql.DB) (*Migrator, error) {
	if conn == nil {
		return nil, errors.New("db: missing connection")
	}
	p, err := goose.NewProvider(goose.DialectPostgres, conn, Migrations())
	if err != nil {
		return nil, fmt.Errorf("db: goose provider: %w", err)
	}
	return &Migrator{provider: p}, nil
}

// Step is one applied or reverted migration.
type Step struct {
	Version int64
	Path    string
	Applied bool
}

func (m *Migrator) Up(ctx context.Context) ([]Step, error) {
	results, err := m.provider.Up(ctx)
	steps := make([]Step, 0, len(results))
	for _, r := range results {
		steps = append(steps, Step{Version: r.Source.Version, Path: r.Source.Path, Applied: r.Error == nil})
	}
	return steps, err
}

// Down reverts the most recent migration.
func (m *Migrator) Down(ctx context.Context) (Step, error) {
	r, err := m.provider.Down(ctx)
	if r == nil {
		return Step{}, err
	}
	return Step{Version: r.Source.Version, Path: r.Source.Path, Applied: false}, err
}

func (m *Migrator) Status(ctx context.Context) ([]Step, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, err
	}
	steps := make([]Step, 0, len(statuses))
	for _, s := range statuses {
		steps = append(steps, Step{Version: s.Source.Version, Path: s.Source.Path, Applied: s.State == goose.StateApplied})
	}
	return steps, nil
}
