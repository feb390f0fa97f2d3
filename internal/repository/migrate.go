package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	embeddedmigrations "github.com/aadvita/dues-engine/migrations"
)

// serializes concurrent migrators across processes
const migrationLockKey = 7243001

var migrationFilePattern = regexp.MustCompile(`^(\d+)_.*\.sql$`)

// Migration is one step of the ordered schema log.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrate applies every embedded migration that is not yet recorded in schema_migrations.
// It returns the names of the migrations applied by this call.
func Migrate(ctx context.Context, db *sqlx.DB) ([]string, error) {
	migrations, err := LoadMigrations(embeddedmigrations.Files)
	if err != nil {
		return nil, err
	}
	return applyMigrations(ctx, db, migrations)
}

// LoadMigrations reads NNNN_name.sql files from fsys in version order.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	migrations := make([]Migration, 0, len(entries))
	seen := make(map[int]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		matches := migrationFilePattern.FindStringSubmatch(entry.Name())
		if len(matches) != 2 {
			continue
		}

		version, err := strconv.Atoi(matches[1])
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", entry.Name(), err)
		}
		if existing, ok := seen[version]; ok {
			return nil, fmt.Errorf("duplicate migration version %d in %s and %s", version, existing, entry.Name())
		}
		seen[version] = entry.Name()

		raw, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{Version: version, Name: entry.Name(), SQL: string(raw)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

func applyMigrations(ctx context.Context, db *sqlx.DB, migrations []Migration) ([]string, error) {
	const createTableSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("create schema_migrations table: %w", err)
	}

	applied := make([]string, 0)
	for _, migration := range migrations {
		ok, err := applyMigration(ctx, db, migration)
		if err != nil {
			return applied, err
		}
		if ok {
			applied = append(applied, migration.Name)
		}
	}
	return applied, nil
}

func applyMigration(ctx context.Context, db *sqlx.DB, migration Migration) (bool, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
		return false, fmt.Errorf("lock migrations: %w", err)
	}

	var exists bool
	if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, migration.Version); err != nil {
		return false, fmt.Errorf("check migration %s: %w", migration.Name, err)
	}
	if exists {
		return false, nil
	}

	statements := SplitStatements(migration.SQL)
	if len(statements) == 0 {
		return false, errors.New("migration has no SQL statements")
	}
	for _, statement := range statements {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return false, fmt.Errorf("execute migration %s statement %q: %w", migration.Name, statement, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
		migration.Version,
		migration.Name,
	); err != nil {
		return false, fmt.Errorf("record migration %s: %w", migration.Name, err)
	}

	return true, tx.Commit()
}

// SplitStatements splits a migration file on semicolons, dropping empty parts.
func SplitStatements(sqlText string) []string {
	parts := strings.Split(sqlText, ";")
	statements := make([]string, 0, len(parts))
	for _, part := range parts {
		if statement := strings.TrimSpace(part); statement != "" {
			statements = append(statements, statement)
		}
	}
	return statements
}
