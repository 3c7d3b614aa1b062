package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
)

// UpsertInfo creates or replaces a unit's metadata row.
func (s *Store) UpsertInfo(ctx context.Context, info Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal info: %w", err)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(infoKey(info.Unit), data)
	})
}

// GetInfo loads a unit's metadata row.
func (s *Store) GetInfo(ctx context.Context, unit string) (*Info, error) {
	var info Info
	err := s.view(ctx, func(txn *badger.Txn) error {
		data, err := getValue(txn, infoKey(unit))
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &info)
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// SetInstalled marks a unit as explicitly installed.
func (s *Store) SetInstalled(ctx context.Context, inst Installed) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to marshal installed record: %w", err)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		if err := requireUnit(txn, inst.Unit); err != nil {
			return err
		}
		return txn.Set(installedKey(inst.Unit), data)
	})
}

// GetInstalled returns the installed record of a unit or ErrNotFound.
func (s *Store) GetInstalled(ctx context.Context, unit string) (*Installed, error) {
	var inst Installed
	err := s.view(ctx, func(txn *badger.Txn) error {
		data, err := getValue(txn, installedKey(unit))
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &inst)
	})
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// RemoveInstalled clears the installed mark of a unit.
func (s *Store) RemoveInstalled(ctx context.Context, unit string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(installedKey(unit))
	})
}

// ListInstalled returns all installed records sorted by unit name.
func (s *Store) ListInstalled(ctx context.Context) ([]Installed, error) {
	var out []Installed
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, installedPrefix, func(_ string, data []byte) error {
			var inst Installed
			if err := json.Unmarshal(data, &inst); err != nil {
				return err
			}
			out = append(out, inst)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit < out[j].Unit })
	return out, nil
}

// InstallDirectories loads the recorded directories of a unit version, or ErrNotFound.
func (s *Store) InstallDirectories(ctx context.Context, unit, version string) (*InstallDirectories, error) {
	var dirs InstallDirectories
	err := s.view(ctx, func(txn *badger.Txn) error {
		data, err := getValue(txn, instDirsKey(unit, version))
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &dirs)
	})
	if err != nil {
		return nil, err
	}
	return &dirs, nil
}

// UpsertInstallDirectories merges the non-empty fields of dirs into the
// stored row, creating it if needed. Recorded paths are never cleared.
func (s *Store) UpsertInstallDirectories(ctx context.Context, dirs InstallDirectories) (*InstallDirectories, error) {
	merged := InstallDirectories{Unit: dirs.Unit, Version: dirs.Version}
	err := s.update(ctx, func(txn *badger.Txn) error {
		data, err := getValue(txn, instDirsKey(dirs.Unit, dirs.Version))
		switch {
		case err == ErrNotFound:
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(data, &merged); err != nil {
				return err
			}
		}
		merged.merge(dirs)
		out, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		return txn.Set(instDirsKey(dirs.Unit, dirs.Version), out)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert install directories: %w", err)
	}
	return &merged, nil
}
