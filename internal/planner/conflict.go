package planner

import (
	"context"
	"fmt"
	"os"

	"github.com/danieljhkim/unitforge/internal/fsops"
)

// OwnerLookup finds the current owners of logical paths. Implementations
// bound the number of paths read per query.
type OwnerLookup interface {
	FileOwners(ctx context.Context, paths []string) (map[string]string, error)
}

// ConflictChecker checks for conflicts when activating a unit.
type ConflictChecker struct {
	fs     fsops.FS
	owners map[string]string
	unit   string
	root   string
}

// NewConflictChecker loads the owners of paths in one batched lookup.
func NewConflictChecker(ctx context.Context, fs fsops.FS, lookup OwnerLookup, unit, root string, paths []string) (*ConflictChecker, error) {
	owners, err := lookup.FileOwners(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("failed to query file owners: %w", err)
	}
	return &ConflictChecker{fs: fs, owners: owners, unit: unit, root: root}, nil
}

// Owner returns the unit owning path, or "".
func (c *ConflictChecker) Owner(path string) string {
	return c.owners[path]
}

// CheckPath checks the logical path. It returns a Conflict, or nil plus
// whether an existing entry must be removed before linking.
func (c *ConflictChecker) CheckPath(path string) (*Conflict, bool) {
	if owner := c.owners[path]; owner != "" && owner != c.unit {
		return &Conflict{
			Path:   path,
			Reason: fmt.Sprintf("file is owned by %s", owner),
			Owner:  owner,
		}, false
	}

	info, err := c.fs.Lstat(RealPath(c.root, path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false
		}
		return &Conflict{
			Path:   path,
			Reason: fmt.Sprintf("failed to check path: %v", err),
		}, false
	}

	// A real directory is never replaced by a link.
	if info.IsDir() {
		return &Conflict{
			Path:   path,
			Reason: "a directory exists where a file is expected",
			Owner:  c.owners[path],
		}, false
	}
	return nil, true
}
