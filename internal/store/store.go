// Package store persists unitforge's bookkeeping in an embedded BadgerDB.
//
// The key space mirrors a small relational schema:
//
//	info/<unit>                         unit metadata
//	installed/<unit>                    explicitly installed units
//	files/<path>                        live file -> owning unit (one owner per path)
//	fileidx/<unit>\x00<path>            owner index for files/
//	dirs/<unit>\x00<dir>                directories created or used by activation
//	phases/<unit>\x00<version>\x00<p>   completed lifecycle phases
//	instdirs/<unit>\x00<version>        directories produced by each phase
//	meta/schema_version, updates/<name> migration bookkeeping
//
// Every mutating method commits its own transaction. The store assumes a
// single writer; concurrent processes against the same database are unsupported.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// MaxBatch bounds the number of keys read in a single ownership query transaction.
const MaxBatch = 500

var (
	// ErrNotFound indicates a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrUnknownUnit indicates a record references a unit with no info row.
	ErrUnknownUnit = errors.New("unit has no info record")
)

// Config holds configuration for opening a Store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM; used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// BatchSize overrides MaxBatch for ownership queries when positive.
	BatchSize int

	// Logger receives badger's internal log output. Nil silences it.
	Logger *slog.Logger
}

// Store is the persisted phase, file, and directory state.
type Store struct {
	db        *badger.DB
	batchSize int
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens (creating if needed) the database and applies pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, batchSize: MaxBatch}
	if cfg.BatchSize > 0 {
		s.batchSize = cfg.BatchSize
	}

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenInMemory opens an empty in-memory store.
func OpenInMemory(ctx context.Context) (*Store, error) {
	return Open(ctx, Config{InMemory: true})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BatchSize reports the ownership query batch size in use.
func (s *Store) BatchSize() int {
	return s.batchSize
}

func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(fn)
}

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

// scanPrefix calls fn with the key suffix and value of every key under prefix.
func scanPrefix(txn *badger.Txn, prefix []byte, fn func(suffix string, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(string(item.Key()[len(prefix):]), value); err != nil {
			return err
		}
	}
	return nil
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}

func getValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func requireUnit(txn *badger.Txn, unit string) error {
	ok, err := exists(txn, infoKey(unit))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUnit, unit)
	}
	return nil
}
