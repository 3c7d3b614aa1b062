package manager

import (
	"github.com/danieljhkim/unitforge/internal/depend"
	"github.com/danieljhkim/unitforge/internal/phase"
	"github.com/danieljhkim/unitforge/internal/store"
)

// Request names the unit an operation acts on.
type Request struct {
	// Unit is the unit name
	Unit string

	// Force runs the named sequence even if its phase was already reached
	Force bool

	// All applies a teardown operation to every installed unit instead of Unit
	All bool
}

// OpResult describes one operation run against one unit version.
type OpResult struct {
	// Unit is the unit name
	Unit string

	// Version is the dist version acted on
	Version string

	// Sequence is the sequence that was invoked
	Sequence string

	// Executed lists the sequences whose actions actually ran, in order
	Executed []string

	// Dependencies lists the dependency units brought up first, in install order
	Dependencies []string

	// Replaced is the dist version deactivated to make room, if any
	Replaced string

	// AlreadyActive is set when an activate request found the version live
	AlreadyActive bool

	// Phases is the phase set after the operation
	Phases []phase.Phase
}

// StatusResult is the recorded state of one unit.
type StatusResult struct {
	Unit    string
	Version string

	// Defined reports whether a definition exists for the unit
	Defined bool

	Phases      []phase.Phase
	Directories store.InstallDirectories

	// Stage is the furthest phase reached
	Stage phase.Phase

	// Info is the recorded unit metadata, if any
	Info *store.Info

	// Installed is set when the unit was explicitly installed
	Installed *store.Installed

	// Active lists the activated dist versions of the unit
	Active []string

	// Files is the number of live paths owned by the unit
	Files int
}

// DepsResult is the dependency tree of a unit.
type DepsResult struct {
	Unit string

	// Runtime reports whether runtime dependencies were included
	Runtime bool

	Tree []*depend.Dependency

	// Order is the install order of unit-provided dependencies
	Order []string

	// Missing maps names that could not be resolved to the requested version
	Missing map[string]string
}
