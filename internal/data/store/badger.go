package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"csharp-provider/internal/core/config"
	domainErrors "csharp-provider/internal/core/errors"
	"csharp-provider/internal/engine/index"
	"csharp-provider/internal/shared/observability"

	"github.com/dgraph-io/badger/v4"
)

const (
	metaKeyPrefix  = "meta/"
	indexKeyPrefix = "idx/"
)

// BadgerStore keeps metadata and index payload under two keys written in
// one transaction.
type BadgerStore struct {
	db    *badger.DB
	codec codec
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func OpenBadger(path string, syncWrites bool, c codec, logger *slog.Logger) (*BadgerStore, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, domainErrors.New(domainErrors.CodeInvalidConfig, "session store path must not be empty")
	}
	if err := os.MkdirAll(cleanPath, 0o755); err != nil {
		return nil, persistenceError(fmt.Errorf("create badger directory %q: %w", cleanPath, err), "open", "")
	}

	opts := badger.DefaultOptions(cleanPath).WithSyncWrites(syncWrites)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger.With("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, persistenceError(fmt.Errorf("open badger session store %q: %w", cleanPath, err), "open", "")
	}
	return &BadgerStore{db: db, codec: c}, nil
}

func (s *BadgerStore) Put(ctx context.Context, fingerprint string, idx *index.Index, meta Metadata) error {
	start := time.Now()
	defer func() {
		observability.StoreWriteDuration.WithLabelValues(config.DriverBadger).Observe(time.Since(start).Seconds())
	}()
	if idx == nil {
		return persistenceError(errors.New("nil index"), "put", fingerprint)
	}
	meta.Fingerprint = fingerprint
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return persistenceError(fmt.Errorf("encode session metadata: %w", err), "put", fingerprint)
	}
	payload, err := s.codec.encode(idx)
	if err != nil {
		return persistenceError(err, "put", fingerprint)
	}

	err = s.withTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set([]byte(metaKeyPrefix+fingerprint), rawMeta); err != nil {
			return err
		}
		return txn.Set([]byte(indexKeyPrefix+fingerprint), payload)
	})
	if err != nil {
		return persistenceError(err, "put", fingerprint)
	}
	return nil
}

func (s *BadgerStore) PutMetadata(ctx context.Context, meta Metadata) error {
	if meta.Fingerprint == "" {
		return persistenceError(errors.New("metadata without fingerprint"), "put metadata", "")
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return persistenceError(fmt.Errorf("encode session metadata: %w", err), "put metadata", meta.Fingerprint)
	}
	err = s.withTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set([]byte(metaKeyPrefix+meta.Fingerprint), rawMeta); err != nil {
			return err
		}
		return txn.Delete([]byte(indexKeyPrefix + meta.Fingerprint))
	})
	if err != nil {
		return persistenceError(err, "put metadata", meta.Fingerprint)
	}
	return nil
}

func (s *BadgerStore) Get(ctx context.Context, fingerprint string) (*index.Index, Metadata, bool, error) {
	var (
		rawMeta []byte
		payload []byte
	)
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		if rawMeta, err = valueOf(txn, metaKeyPrefix+fingerprint); err != nil {
			return err
		}
		payload, err = valueOf(txn, indexKeyPrefix+fingerprint)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, Metadata{}, false, nil
	}
	if err != nil {
		return nil, Metadata{}, false, persistenceError(err, "get", fingerprint)
	}

	var meta Metadata
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, Metadata{}, false, persistenceError(fmt.Errorf("decode session metadata: %w", err), "get", fingerprint)
	}
	idx, err := s.codec.decode(payload)
	if err != nil {
		return nil, Metadata{}, false, persistenceError(err, "get", fingerprint)
	}
	return idx, meta, true, nil
}

func (s *BadgerStore) Metadata(ctx context.Context, fingerprint string) (Metadata, bool, error) {
	var rawMeta []byte
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		rawMeta, err = valueOf(txn, metaKeyPrefix+fingerprint)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Metadata{}, false, nil
	}
	if err != nil {
		return Metadata{}, false, persistenceError(err, "metadata", fingerprint)
	}
	var meta Metadata
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return Metadata{}, false, persistenceError(fmt.Errorf("decode session metadata: %w", err), "metadata", fingerprint)
	}
	return meta, true, nil
}

func (s *BadgerStore) Invalidate(ctx context.Context, fingerprint string) error {
	err := s.withTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(metaKeyPrefix + fingerprint)); err != nil {
			return err
		}
		return txn.Delete([]byte(indexKeyPrefix + fingerprint))
	})
	if err != nil {
		return persistenceError(err, "invalidate", fingerprint)
	}
	return nil
}

func (s *BadgerStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return errors.New("badger session store is closed")
	}
	return nil
}

func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func valueOf(txn *badger.Txn, key string) ([]byte, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (s *BadgerStore) withTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

func (s *BadgerStore) withReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := s.db.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}
