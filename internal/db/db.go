// Package db provides the durable local store behind the sync cache.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/kimhsiao/cutlog/internal/db/migrations"
)

// FileName is the database file created inside the data directory.
const FileName = "cutlog.db"

// DB wraps the sql.DB with cutlog-specific configuration.
type DB struct {
	*sql.DB
}

// Open opens the SQLite database inside dataDir.
// The database is opened with:
// - WAL mode so background sync passes do not block foreground reads
// - Foreign key constraints enabled
// - A single connection, since SQLite has one writer
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return OpenPath(filepath.Join(dataDir, FileName))
}

// OpenPath opens the SQLite database file at path.
func OpenPath(path string) (*DB, error) {
	// modernc.org/sqlite is pure Go, no CGO
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return &DB{db}, nil
}

// OpenAndMigrate opens the database in dataDir and applies all embedded migrations.
func OpenAndMigrate(dataDir string) (*DB, error) {
	database, err := Open(dataDir)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// Migrate applies all pending embedded migrations.
func (db *DB) Migrate() error {
	migrator := NewMigrator(db.DB, migrations.FS)
	if err := migrator.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
