package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"csharp-provider/internal/core/config"
	domainErrors "csharp-provider/internal/core/errors"
	"csharp-provider/internal/engine/index"
	"csharp-provider/internal/shared/observability"

	_ "modernc.org/sqlite"
)

const (
	sqliteDriverName     = "sqlite"
	sessionSchemaVersion = 1
)

type SQLiteStore struct {
	db    *sql.DB
	codec codec
}

func OpenSQLite(path string, busyTimeout time.Duration, c codec) (*SQLiteStore, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, domainErrors.New(domainErrors.CodeInvalidConfig, "session store path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, domainErrors.Newf(domainErrors.CodeInvalidConfig, "session store path %q is a directory, expected file", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, persistenceError(fmt.Errorf("create session store directory %q: %w", dir, err), "open", "")
		}
	}

	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cleanPath, busyTimeout.Milliseconds())
	db, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, persistenceError(fmt.Errorf("open sqlite session store %q: %w", cleanPath, err), "open", "")
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, persistenceError(fmt.Errorf("ping sqlite session store %q: %w", cleanPath, err), "open", "")
	}
	if err := migrateSessionSchema(db); err != nil {
		_ = db.Close()
		return nil, persistenceError(err, "migrate", "")
	}
	return &SQLiteStore{db: db, codec: c}, nil
}

func migrateSessionSchema(db *sql.DB) error {
	var version int
	_ = db.QueryRow(`PRAGMA user_version`).Scan(&version)
	if version >= sessionSchemaVersion {
		return nil
	}
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS sessions (
  fingerprint TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  location TEXT NOT NULL DEFAULT '',
  mode TEXT NOT NULL DEFAULT '',
  state TEXT NOT NULL DEFAULT '',
  error_code TEXT NOT NULL DEFAULT '',
  error_message TEXT NOT NULL DEFAULT '',
  metadata TEXT NOT NULL DEFAULT '{}',
  updated_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_location ON sessions(location);

CREATE TABLE IF NOT EXISTS indexes (
  fingerprint TEXT PRIMARY KEY REFERENCES sessions(fingerprint) ON DELETE CASCADE,
  codec TEXT NOT NULL,
  payload BLOB NOT NULL,
  size INTEGER NOT NULL DEFAULT 0
);
PRAGMA user_version = 1;
`)
	if err != nil {
		return fmt.Errorf("migrate session schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, fingerprint string, idx *index.Index, meta Metadata) error {
	start := time.Now()
	defer func() {
		observability.StoreWriteDuration.WithLabelValues(config.DriverSQLite).Observe(time.Since(start).Seconds())
	}()
	if idx == nil {
		return persistenceError(errors.New("nil index"), "put", fingerprint)
	}
	meta.Fingerprint = fingerprint
	payload, err := s.codec.encode(idx)
	if err != nil {
		return persistenceError(err, "put", fingerprint)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertSession(ctx, tx, meta); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO indexes(fingerprint, codec, payload, size) VALUES(?, ?, ?, ?)
ON CONFLICT(fingerprint) DO UPDATE SET codec = excluded.codec, payload = excluded.payload, size = excluded.size`,
			fingerprint, s.codec.name(), payload, len(payload))
		return err
	})
	if err != nil {
		return persistenceError(err, "put", fingerprint)
	}
	return nil
}

func (s *SQLiteStore) PutMetadata(ctx context.Context, meta Metadata) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertSession(ctx, tx, meta); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM indexes WHERE fingerprint = ?`, meta.Fingerprint)
		return err
	})
	if err != nil {
		return persistenceError(err, "put metadata", meta.Fingerprint)
	}
	return nil
}

func upsertSession(ctx context.Context, tx *sql.Tx, meta Metadata) error {
	if meta.Fingerprint == "" {
		return errors.New("metadata without fingerprint")
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode session metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO sessions(fingerprint, session_id, location, mode, state, error_code, error_message, metadata, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(fingerprint) DO UPDATE SET
  session_id = excluded.session_id,
  location = excluded.location,
  mode = excluded.mode,
  state = excluded.state,
  error_code = excluded.error_code,
  error_message = excluded.error_message,
  metadata = excluded.metadata,
  updated_at = excluded.updated_at`,
		meta.Fingerprint, meta.SessionID, meta.Location, meta.Mode, meta.State,
		meta.ErrorCode, meta.ErrorMessage, string(raw), meta.UpdatedAt.UnixNano())
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, fingerprint string) (*index.Index, Metadata, bool, error) {
	var (
		rawMeta string
		payload []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT s.metadata, i.payload
FROM sessions s JOIN indexes i ON i.fingerprint = s.fingerprint
WHERE s.fingerprint = ?`, fingerprint).Scan(&rawMeta, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Metadata{}, false, nil
	}
	if err != nil {
		return nil, Metadata{}, false, persistenceError(err, "get", fingerprint)
	}

	var meta Metadata
	if err := json.Unmarshal([]byte(rawMeta), &meta); err != nil {
		return nil, Metadata{}, false, persistenceError(fmt.Errorf("decode session metadata: %w", err), "get", fingerprint)
	}
	idx, err := s.codec.decode(payload)
	if err != nil {
		return nil, Metadata{}, false, persistenceError(err, "get", fingerprint)
	}
	return idx, meta, true, nil
}

func (s *SQLiteStore) Metadata(ctx context.Context, fingerprint string) (Metadata, bool, error) {
	var rawMeta string
	err := s.db.QueryRowContext(ctx, `SELECT metadata FROM sessions WHERE fingerprint = ?`, fingerprint).Scan(&rawMeta)
	if errors.Is(err, sql.ErrNoRows) {
		return Metadata{}, false, nil
	}
	if err != nil {
		return Metadata{}, false, persistenceError(err, "metadata", fingerprint)
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(rawMeta), &meta); err != nil {
		return Metadata{}, false, persistenceError(fmt.Errorf("decode session metadata: %w", err), "metadata", fingerprint)
	}
	return meta, true, nil
}

func (s *SQLiteStore) Invalidate(ctx context.Context, fingerprint string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE fingerprint = ?`, fingerprint)
		return err
	})
	if err != nil {
		return persistenceError(err, "invalidate", fingerprint)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
