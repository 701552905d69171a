// Package store persists the composition job ledger, dispatch log, and
// per-(output,system) advisory locks in an embedded SQLite database.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

const defaultDBName = "composer.db"

type Config struct {
	// StateDir is the directory the database file and its journal live
	// under, usually the same root as the memory store.
	StateDir string
}

func dbPath(stateDir string) string {
	if stateDir == "" {
		stateDir = "."
	}
	return filepath.Join(stateDir, defaultDBName)
}

// EnsureStateDir creates the state directory if it does not already exist.
func EnsureStateDir(stateDir string) error {
	if stateDir == "" {
		stateDir = "."
	}
	return os.MkdirAll(stateDir, 0o755)
}

// Open opens the SQLite ledger database with foreign keys enabled.
func Open(cfg Config) (*sql.DB, error) {
	if err := EnsureStateDir(cfg.StateDir); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", dbPath(cfg.StateDir))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// Path returns the resolved database file path for the given state dir.
func Path(stateDir string) string {
	return dbPath(stateDir)
}

//go:embed sql/*.sql
var migrationFiles embed.FS

// schemaMigration is one embedded sql/*.sql file, keyed by the numeric
// prefix in its filename.
type schemaMigration struct {
	version int
	file    string
	stmts   string
}

func loadSchemaMigrations() ([]schemaMigration, error) {
	entries, err := fs.ReadDir(migrationFiles, "sql")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}
	migrations := make([]schemaMigration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		prefix, _, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			return nil, fmt.Errorf("migration %s missing a version prefix", entry.Name())
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s has a non-numeric version prefix: %w", entry.Name(), err)
		}
		data, err := migrationFiles.ReadFile("sql/" + entry.Name())
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, schemaMigration{version: version, file: entry.Name(), stmts: string(data)})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })
	return migrations, nil
}

// Migrate brings db up to the latest embedded schema version. Rather than a
// hand-rolled version-tracking table, it reads and bumps SQLite's built-in
// PRAGMA user_version: each pending migration's statements and the version
// bump commit together in one transaction, so a crash mid-migration never
// leaves the database believing a partially-applied migration succeeded.
func Migrate(db *sql.DB) error {
	migrations, err := loadSchemaMigrations()
	if err != nil {
		return err
	}

	var current int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applySchemaMigration(db, m); err != nil {
			return fmt.Errorf("migration %s: %w", m.file, err)
		}
		current = m.version
	}
	return nil
}

func applySchemaMigration(db *sql.DB, m schemaMigration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.stmts); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, m.version)); err != nil {
		return err
	}
	return tx.Commit()
}
