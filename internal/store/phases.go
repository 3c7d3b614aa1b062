package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/danieljhkim/unitforge/internal/phase"
)

// Phases returns the current phase set for a unit version.
func (s *Store) Phases(ctx context.Context, unit, version string) (phase.Set, error) {
	set := phase.NewSet()
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, phaseVersionPrefix(unit, version), func(name string, _ []byte) error {
			p, err := phase.Parse(name)
			if err != nil {
				return err
			}
			set[p] = struct{}{}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load phases for %s-%s: %w", unit, version, err)
	}
	return set, nil
}

// AddPhase records p as complete for the unit version.
func (s *Store) AddPhase(ctx context.Context, unit, version string, p phase.Phase) error {
	if !p.Valid() {
		return &phase.UnknownPhaseError{Name: p.String()}
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(phaseKey(unit, version, p), nil)
	})
}

// RemovePhase clears p for the unit version. Removing an absent phase is a no-op.
func (s *Store) RemovePhase(ctx context.Context, unit, version string, p phase.Phase) error {
	if !p.Valid() {
		return &phase.UnknownPhaseError{Name: p.String()}
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(phaseKey(unit, version, p))
	})
}

// PhaseRecords lists every phase record for a unit across all versions.
func (s *Store) PhaseRecords(ctx context.Context, unit string) ([]PhaseRecord, error) {
	var recs []PhaseRecord
	err := s.view(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, phaseUnitPrefix(unit), func(suffix string, _ []byte) error {
			parts := strings.SplitN(suffix, sep, 2)
			if len(parts) != 2 {
				return fmt.Errorf("malformed phase key %q", suffix)
			}
			recs = append(recs, PhaseRecord{Unit: unit, Version: parts[0], Phase: parts[1]})
			return nil
		})
	})
	return recs, err
}

// VersionsWithPhase returns the versions of unit that currently hold p, sorted.
func (s *Store) VersionsWithPhase(ctx context.Context, unit string, p phase.Phase) ([]string, error) {
	recs, err := s.PhaseRecords(ctx, unit)
	if err != nil {
		return nil, err
	}
	var versions []string
	for _, r := range recs {
		if r.Phase == p.String() {
			versions = append(versions, r.Version)
		}
	}
	sort.Strings(versions)
	return versions, nil
}
