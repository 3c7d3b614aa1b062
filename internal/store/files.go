package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
)

// OwnershipError is returned when a path is already owned by another unit.
type OwnershipError struct {
	Path  string
	Owner string
	Unit  string
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("%s is owned by %s, refusing to assign it to %s", e.Path, e.Owner, e.Unit)
}

// FileOwners returns the owner of each path that has a FileRecord. Paths are
// queried in chunks of the configured batch size, one read transaction each.
func (s *Store) FileOwners(ctx context.Context, paths []string) (map[string]string, error) {
	owners := make(map[string]string)
	for start := 0; start < len(paths); start += s.batchSize {
		end := min(start+s.batchSize, len(paths))
		chunk := paths[start:end]
		err := s.view(ctx, func(txn *badger.Txn) error {
			for _, p := range chunk {
				v, err := getValue(txn, fileKey(p))
				if err == ErrNotFound {
					continue
				}
				if err != nil {
					return err
				}
				owners[p] = string(v)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query file owners: %w", err)
		}
	}
	return owners, nil
}

// FilesOwnedBy returns all file records of a unit, sorted by path.
func (s *Store) FilesOwnedBy(ctx context.Context, unit string) ([]FileRecord, error) {
	var recs []FileRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, fileIdxUnitPrefix(unit), func(path string, _ []byte) error {
			recs = append(recs, FileRecord{Path: path, Unit: unit})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Path < recs[j].Path })
	return recs, nil
}

// UpsertFiles records ownership of each path. A path owned by a different
// unit is never reassigned; the first such path aborts the current chunk
// with an *OwnershipError.
func (s *Store) UpsertFiles(ctx context.Context, recs []FileRecord) error {
	for start := 0; start < len(recs); start += s.batchSize {
		end := min(start+s.batchSize, len(recs))
		chunk := recs[start:end]
		err := s.update(ctx, func(txn *badger.Txn) error {
			for _, rec := range chunk {
				if err := requireUnit(txn, rec.Unit); err != nil {
					return err
				}
				owner, err := getValue(txn, fileKey(rec.Path))
				if err != nil && err != ErrNotFound {
					return err
				}
				if err == nil && string(owner) != rec.Unit {
					return &OwnershipError{Path: rec.Path, Owner: string(owner), Unit: rec.Unit}
				}
				if err := txn.Set(fileKey(rec.Path), []byte(rec.Unit)); err != nil {
					return err
				}
				if err := txn.Set(fileIdxKey(rec.Unit, rec.Path), nil); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteFile removes a file record if it is owned by rec.Unit.
func (s *Store) DeleteFile(ctx context.Context, rec FileRecord) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		owner, err := getValue(txn, fileKey(rec.Path))
		if err != nil && err != ErrNotFound {
			return err
		}
		if err == nil && string(owner) == rec.Unit {
			if err := txn.Delete(fileKey(rec.Path)); err != nil {
				return err
			}
		}
		return txn.Delete(fileIdxKey(rec.Unit, rec.Path))
	})
}

// DirsOwnedBy returns all directory records of a unit, sorted by path.
func (s *Store) DirsOwnedBy(ctx context.Context, unit string) ([]DirRecord, error) {
	var recs []DirRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, dirUnitPrefix(unit), func(dir string, _ []byte) error {
			recs = append(recs, DirRecord{Path: dir, Unit: unit})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Path < recs[j].Path })
	return recs, nil
}

// UpsertDirs records directory usage. Several units may share a directory.
func (s *Store) UpsertDirs(ctx context.Context, recs []DirRecord) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	seen := make(map[string]bool)
	for _, rec := range recs {
		if !seen[rec.Unit] {
			if err := s.view(ctx, func(txn *badger.Txn) error { return requireUnit(txn, rec.Unit) }); err != nil {
				return err
			}
			seen[rec.Unit] = true
		}
		if err := wb.Set(dirKey(rec.Unit, rec.Path), nil); err != nil {
			return fmt.Errorf("failed to queue directory record: %w", err)
		}
	}
	return wb.Flush()
}

// DeleteDir removes a single directory record.
func (s *Store) DeleteDir(ctx context.Context, rec DirRecord) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(dirKey(rec.Unit, rec.Path))
	})
}
