package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// update is a named, forward-only schema migration.
type update struct {
	name  string
	apply func(txn *badger.Txn) error
}

var updates = []update{
	{
		name:  "0001_initial",
		apply: func(txn *badger.Txn) error { return nil },
	},
	{
		// Older databases only had files/; build the per-unit owner index.
		name: "0002_file_owner_index",
		apply: func(txn *badger.Txn) error {
			var recs []FileRecord
			err := scanPrefix(txn, filesPrefix, func(path string, owner []byte) error {
				recs = append(recs, FileRecord{Path: path, Unit: string(owner)})
				return nil
			})
			if err != nil {
				return err
			}
			for _, rec := range recs {
				if err := txn.Set(fileIdxKey(rec.Unit, rec.Path), nil); err != nil {
					return err
				}
			}
			return nil
		},
	},
}

// SchemaVersion returns the number of migrations applied to the database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.view(ctx, func(txn *badger.Txn) error {
		v, err := getValue(txn, schemaVersionKey)
		if err != nil {
			if err == ErrNotFound {
				return nil
			}
			return err
		}
		version, err = strconv.Atoi(string(v))
		return err
	})
	return version, err
}

// AppliedUpdates lists the names of applied migrations.
func (s *Store) AppliedUpdates(ctx context.Context) ([]string, error) {
	var names []string
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, updatesPrefix, func(name string, _ []byte) error {
			names = append(names, name)
			return nil
		})
	})
	return names, err
}

func (s *Store) migrate(ctx context.Context) error {
	for i, u := range updates {
		err := s.update(ctx, func(txn *badger.Txn) error {
			done, err := exists(txn, updateKey(u.name))
			if err != nil || done {
				return err
			}
			if err := u.apply(txn); err != nil {
				return err
			}
			stamp := time.Now().UTC().Format(time.RFC3339)
			if err := txn.Set(updateKey(u.name), []byte(stamp)); err != nil {
				return err
			}
			return txn.Set(schemaVersionKey, []byte(strconv.Itoa(i+1)))
		})
		if err != nil {
			return fmt.Errorf("failed to apply update %s: %w", strings.TrimSpace(u.name), err)
		}
	}
	return nil
}
