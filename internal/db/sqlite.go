// Package db implements the local SQLite persistence of the lobby client:
// a connection wrapper and the message and notification history.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Database wraps a SQLite database connection with serialized writes.
type Database struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// NewDatabase opens or creates a SQLite database at the given path.
func NewDatabase(dbPath string) (*Database, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Warn().Err(err).Msg("failed to enable WAL mode")
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		log.Warn().Err(err).Msg("failed to set busy timeout")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("database opened")

	return &Database{db: db, path: dbPath}, nil
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.path
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Exec executes a statement without returning rows.
func (d *Database) Exec(query string, args ...interface{}) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Exec(query, args...)
}

// Query executes a query that returns rows. The rows must be closed before
// the next statement runs.
func (d *Database) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return d.db.Query(query, args...)
}

// QueryRow executes a query that returns a single row.
func (d *Database) QueryRow(query string, args ...interface{}) *sql.Row {
	return d.db.QueryRow(query, args...)
}

// Transaction executes fn within a transaction, rolling back on error.
func (d *Database) Transaction(fn func(tx *sql.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
