// Package sqlblob provides a blob.Store kept in a single SQLite database file.
package sqlblob

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/eak1mov/go-worldmap/blob"
	"github.com/mattn/go-sqlite3"
)

// Store implements blob.Store over a SQLite table of key/blob rows.
type Store struct {
	db     *sql.DB
	fetch  *sql.Stmt
	put    *sql.Stmt
	remove *sql.Stmt
	logger *slog.Logger
}

type storeConfig struct {
	BusyTimeoutMs int
	Logger        *slog.Logger
}

type Option func(*storeConfig)

// WithBusyTimeout sets how long SQLite itself waits on a locked database
// before the operation fails with blob.ErrBusy.
func WithBusyTimeout(ms int) Option {
	return func(c *storeConfig) { c.BusyTimeoutMs = ms }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *storeConfig) { c.Logger = logger }
}

// Open opens or creates the database at filePath.
//
// The returned Store must be closed after use to release database resources.
func Open(filePath string, opts ...Option) (*Store, error) {
	config := storeConfig{
		BusyTimeoutMs: 1000,
		Logger:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&config)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d", filePath, config.BusyTimeoutMs)
	var err error
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS blobs (key TEXT PRIMARY KEY, data BLOB NOT NULL)`)
	if err != nil {
		return nil, mapError(err)
	}

	s := &Store{db: db, logger: config.Logger}
	if s.fetch, err = db.Prepare("SELECT data FROM blobs WHERE key = ?"); err != nil {
		return nil, err
	}
	if s.put, err = db.Prepare("INSERT OR REPLACE INTO blobs (key, data) VALUES (?, ?)"); err != nil {
		return nil, err
	}
	if s.remove, err = db.Prepare("DELETE FROM blobs WHERE key = ?"); err != nil {
		return nil, err
	}

	config.Logger.Debug("worldmap: opened sqlite blob store", "path", filePath)
	return s, nil
}

func (s *Store) Close() error {
	return errors.Join(s.fetch.Close(), s.put.Close(), s.remove.Close(), s.db.Close())
}

// mapError reports SQLite lock conflicts as blob.ErrBusy.
func mapError(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %w", blob.ErrBusy, err)
	}
	return err
}

func (s *Store) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	var data []byte
	if err := s.fetch.QueryRowContext(ctx, key).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, blob.ErrNotFound
		}
		return nil, mapError(err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Store) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	return blob.NewBufferWriter(func(data []byte) error {
		if data == nil {
			data = []byte{}
		}
		_, err := s.put.ExecContext(ctx, key, data)
		return mapError(err)
	}), nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.remove.ExecContext(ctx, key)
	return mapError(err)
}

// VisitKeys calls visitor for every stored key, in key order.
func (s *Store) VisitKeys(visitor func(key string) error) error {
	rows, err := s.db.Query("SELECT key FROM blobs ORDER BY key")
	if err != nil {
		return mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}
		if err := visitor(key); err != nil {
			return err
		}
	}

	return rows.Err()
}
