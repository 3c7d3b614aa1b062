package planner

import (
	"path/filepath"
	"strings"
)

// ActivationPlan is the set of changes needed to activate one unit.
type ActivationPlan struct {
	// Unit is the unit name owning every path in the plan
	Unit string

	// Dirs are the logical directories the destroot contains, parents first
	Dirs []string

	// Operations is the ordered list of filesystem operations to execute
	Operations []Operation

	// Conflicts lists paths that cannot be activated
	Conflicts []Conflict
}

// Operation represents a single filesystem operation to execute.
type Operation struct {
	// Type is the operation type: "create_symlink" or "remove"
	Type string

	// SourcePath is the symlink target, inside the current destroot link
	SourcePath string

	// DestPath is the real path on disk
	DestPath string

	// Path is the logical path recorded for ownership
	Path string
}

// Conflict represents a path that cannot be activated.
type Conflict struct {
	// Path is the logical path
	Path string

	// Reason is a human-readable explanation of the conflict
	Reason string

	// Owner is the unit currently owning the path, if any
	Owner string
}

// Operation type constants
const (
	OpCreateSymlink = "create_symlink"
	OpRemove        = "remove"
)

// NewActivationPlan creates a new empty plan for unit.
func NewActivationPlan(unit string) *ActivationPlan {
	return &ActivationPlan{
		Unit:       unit,
		Dirs:       []string{},
		Operations: []Operation{},
		Conflicts:  []Conflict{},
	}
}

// HasConflicts returns true if the plan has any conflicts.
func (p *ActivationPlan) HasConflicts() bool {
	return len(p.Conflicts) > 0
}

// AddOperation adds an operation to the plan.
func (p *ActivationPlan) AddOperation(op Operation) {
	p.Operations = append(p.Operations, op)
}

// AddConflict adds a conflict to the plan.
func (p *ActivationPlan) AddConflict(conflict Conflict) {
	p.Conflicts = append(p.Conflicts, conflict)
}

// Files returns the logical paths the plan links, in order.
func (p *ActivationPlan) Files() []string {
	var out []string
	for _, op := range p.Operations {
		if op.Type == OpCreateSymlink {
			out = append(out, op.Path)
		}
	}
	return out
}

// WithoutConflicts drops every operation touching a conflicting path.
func (p *ActivationPlan) WithoutConflicts() *ActivationPlan {
	skip := make(map[string]bool, len(p.Conflicts))
	for _, c := range p.Conflicts {
		skip[c.Path] = true
	}
	out := NewActivationPlan(p.Unit)
	out.Dirs = append(out.Dirs, p.Dirs...)
	for _, op := range p.Operations {
		if !skip[op.Path] {
			out.AddOperation(op)
		}
	}
	return out
}

// RealPath maps a logical path onto root.
func RealPath(root, logical string) string {
	return filepath.Join(root, logical)
}

// LogicalPath returns the absolute logical path for a destroot-relative path.
func LogicalPath(rel string) string {
	return "/" + strings.TrimPrefix(filepath.ToSlash(rel), "/")
}
