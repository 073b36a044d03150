package configcache

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	_ "modernc.org/sqlite" // register sqlite driver

	"github.com/c360/phasorstreams/errors"
)

// SQLiteStore keeps images in a local SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WrapFatal(err, "SQLiteStore", "OpenSQLite", "open sqlite db")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WrapFatal(err, "SQLiteStore", "OpenSQLite", "ping sqlite db")
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, errors.WrapFatal(err, "SQLiteStore", "OpenSQLite", "set wal mode")
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS configuration_cache (
			name       TEXT PRIMARY KEY,
			image      BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, errors.WrapFatal(err, "SQLiteStore", "OpenSQLite", "migrate")
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, name string) ([]byte, error) {
	var image []byte
	err := s.db.QueryRowContext(ctx, `SELECT image FROM configuration_cache WHERE name = ?`, name).Scan(&image)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(errors.ErrKeyNotFound, "SQLiteStore", "Load", "load "+name)
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "SQLiteStore", "Load", "load "+name)
	}
	return image, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, name string, image []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO configuration_cache(name, image, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			image = excluded.image,
			updated_at = excluded.updated_at
	`, name, image, s.now().UnixMilli())
	if err != nil {
		return errors.WrapTransient(err, "SQLiteStore", "Save", "save "+name)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM configuration_cache WHERE name = ?`, name); err != nil {
		return errors.WrapTransient(err, "SQLiteStore", "Delete", "delete "+name)
	}
	return nil
}

// UpdatedAt returns when the image for name was last saved.
func (s *SQLiteStore) UpdatedAt(ctx context.Context, name string) (time.Time, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT updated_at FROM configuration_cache WHERE name = ?`, name).Scan(&ms)
	if stderrors.Is(err, sql.ErrNoRows) {
		return time.Time{}, errors.Wrap(errors.ErrKeyNotFound, "SQLiteStore", "UpdatedAt", "load "+name)
	}
	if err != nil {
		return time.Time{}, errors.WrapTransient(err, "SQLiteStore", "UpdatedAt", "load "+name)
	}
	return time.UnixMilli(ms), nil
}
