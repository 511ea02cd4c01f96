// Package database provides the embedded SQLite-backed storage engine
// underlying the Message Store (C3).
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parlorsh/parlor/internal/logging"
	_ "modernc.org/sqlite"
)

// Connection pool constants. SQLite in WAL mode allows exactly one writer at
// a time, so a large pool only adds lock contention; C3's single-writer
// lock (the per-account mutex message.Store takes via lockFor) is the real
// concurrency control, this
// pool just needs enough idle connections for concurrent readers.
const (
	MaxOpenConns        = 8
	BaseIdleConns       = 2
	MaxIdleConns        = 4
	IdleConnsPerAccount = 1
	CheckpointInterval  = 5 * time.Minute
)

// DB wraps the SQL database connection for messages.db.
type DB struct {
	*sql.DB
	path string
}

// Open opens or creates the SQLite database at path, applying the PRAGMAs
// every pooled connection needs (busy_timeout avoids SQLITE_BUSY from a
// pooled connection that never saw the PRAGMA applied at Open time).
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		path,
	)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(BaseIdleConns)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := os.Chmod(path, 0600); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to set database permissions: %w", err)
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// UpdateIdleConns scales the idle connection count with the number of
// configured accounts, capped at MaxIdleConns.
func (db *DB) UpdateIdleConns(numAccounts int) {
	idle := BaseIdleConns + numAccounts*IdleConnsPerAccount
	if idle < BaseIdleConns {
		idle = BaseIdleConns
	}
	if idle > MaxIdleConns {
		idle = MaxIdleConns
	}
	db.SetMaxIdleConns(idle)
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// Checkpoint merges the write-ahead log back into the main database file,
// using PASSIVE mode so it never blocks an in-flight writer.
func (db *DB) Checkpoint() error {
	_, err := db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
	return err
}

// StartCheckpointRoutine runs periodic passive WAL checkpoints until stop is closed.
func (db *DB) StartCheckpointRoutine(stop <-chan struct{}) {
	log := logging.WithComponent("database")
	go func() {
		ticker := time.NewTicker(CheckpointInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := db.Checkpoint(); err != nil {
					log.Warn().Err(err).Msg("WAL checkpoint failed")
				}
			case <-stop:
				return
			}
		}
	}()
}
