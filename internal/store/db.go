package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	busyTimeout = 5 * time.Second
	pingTimeout = 3 * time.Second
)

// DB is the session database: stored credentials, the last conversation
// list and the open conversation's timeline.
type DB struct {
	*sql.DB
	path string
}

// Open opens the database at path. The mirror is the only writer, so a
// single connection serializes writes without SQLITE_BUSY retries.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d&_foreign_keys=on",
		path, busyTimeout.Milliseconds())
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// Path returns the database file location.
func (db *DB) Path() string { return db.path }
