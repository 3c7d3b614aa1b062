// Package sequence drives build units through their lifecycle phases.
//
// A sequence is a named transition between phases. Forward sequences move a
// unit towards activation and run only when their phase has not been reached
// yet (or when their predecessor ran again). Reverse sequences tear state
// down and run only while the phase they clear is still present.
//
// Sequences are described by an immutable Table built once at startup. Each
// descriptor names its predecessor (Pre, always run first) and an optional
// successor (Post, always run afterwards); the engine walks those links.
package sequence

import (
	"errors"
	"fmt"
	"sort"

	"github.com/danieljhkim/unitforge/internal/phase"
)

// Kind distinguishes forward sequences from teardown sequences.
type Kind int

const (
	Forward Kind = iota
	Reverse
)

func (k Kind) String() string {
	if k == Reverse {
		return "reverse"
	}
	return "forward"
}

// Action identifies an operation a target must provide.
type Action string

const (
	ActionDownload       Action = "download"
	ActionExtract        Action = "extract"
	ActionPatch          Action = "patch"
	ActionUnpatch        Action = "unpatch"
	ActionConfigure      Action = "configure"
	ActionBuild          Action = "build"
	ActionDestroot       Action = "destroot"
	ActionActivate       Action = "activate"
	ActionDeactivate     Action = "deactivate"
	ActionClean          Action = "clean"
	ActionDistclean      Action = "distclean"
	ActionDeleteDownload Action = "delete_download"
	ActionDeleteSource   Action = "delete_source"
	ActionDeleteBuild    Action = "delete_build"
	ActionDeleteDestroot Action = "delete_destroot"
)

var knownActions = map[Action]bool{
	ActionDownload: true, ActionExtract: true, ActionPatch: true, ActionUnpatch: true,
	ActionConfigure: true, ActionBuild: true, ActionDestroot: true, ActionActivate: true,
	ActionDeactivate: true, ActionClean: true, ActionDistclean: true,
	ActionDeleteDownload: true, ActionDeleteSource: true, ActionDeleteBuild: true,
	ActionDeleteDestroot: true,
}

// IsAction reports whether name is a known action identifier.
func IsAction(name string) bool {
	return knownActions[Action(name)]
}

// Sequence names.
const (
	Download       = "download"
	Extract        = "extract"
	Patch          = "patch"
	Configure      = "configure"
	Build          = "build"
	Destroot       = "destroot"
	Activate       = "activate"
	Install        = "install"
	Deactivate     = "deactivate"
	DeleteDestroot = "delete_destroot"
	Clean          = "clean"
	Distclean      = "distclean"
	DeleteBuild    = "delete_build"
	Unpatch        = "unpatch"
	DeleteSource   = "delete_source"
	DeleteDownload = "delete_download"
)

// ErrUnknownSequence is returned when a sequence name is not in the table.
var ErrUnknownSequence = errors.New("unknown sequence")

// UnknownActionError reports an override naming an action no target can provide.
type UnknownActionError struct {
	Sequence string
	Action   string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("sequence %s: unknown action %q", e.Sequence, e.Action)
}

// Descriptor is one phase transition.
//
// Set and Unset use phase.None for "no change". Required, when not None, must
// hold after Pre has run for the sequence to proceed.
type Descriptor struct {
	Name     string
	Kind     Kind
	Required phase.Phase
	Set      phase.Phase
	Unset    phase.Phase
	Actions  []Action
	Pre      string
	Post     string
}

// Table is an immutable set of descriptors indexed by name.
type Table struct {
	byName map[string]Descriptor
}

// NewTable builds a table and checks that every Pre and Post link resolves.
func NewTable(descs ...Descriptor) (Table, error) {
	t := Table{byName: make(map[string]Descriptor, len(descs))}
	for _, d := range descs {
		if _, dup := t.byName[d.Name]; dup {
			return Table{}, fmt.Errorf("duplicate sequence %q", d.Name)
		}
		for _, a := range d.Actions {
			if !knownActions[a] {
				return Table{}, &UnknownActionError{Sequence: d.Name, Action: string(a)}
			}
		}
		t.byName[d.Name] = d
	}
	for _, d := range descs {
		for _, link := range []string{d.Pre, d.Post} {
			if link == "" {
				continue
			}
			if _, ok := t.byName[link]; !ok {
				return Table{}, fmt.Errorf("sequence %s links to %w: %s", d.Name, ErrUnknownSequence, link)
			}
		}
	}
	return t, nil
}

// DefaultTable returns the standard lifecycle.
//
//	download -> extract -> patch -> configure -> build -> destroot -> activate
//	install = destroot chain, then activate
//
// Teardown runs its predecessor first, so deleting the download also
// deactivates, removes the destroot, cleans, removes the build tree,
// unpatches and deletes the source, in that order.
func DefaultTable() Table {
	t, err := NewTable(
		Descriptor{Name: Download, Kind: Forward, Set: phase.Downloaded,
			Actions: []Action{ActionDownload}},
		Descriptor{Name: Extract, Kind: Forward, Set: phase.Extracted,
			Actions: []Action{ActionExtract}, Pre: Download},
		Descriptor{Name: Patch, Kind: Forward, Set: phase.Patched,
			Actions: []Action{ActionPatch}, Pre: Extract},
		Descriptor{Name: Configure, Kind: Forward, Set: phase.Configured,
			Actions: []Action{ActionConfigure}, Pre: Patch},
		Descriptor{Name: Build, Kind: Forward, Set: phase.Built,
			Actions: []Action{ActionBuild}, Pre: Configure},
		Descriptor{Name: Destroot, Kind: Forward, Set: phase.Destrooted,
			Actions: []Action{ActionDestroot}, Pre: Build},
		Descriptor{Name: Activate, Kind: Forward, Required: phase.Destrooted,
			Set: phase.Activated, Unset: phase.Deactivated,
			Actions: []Action{ActionActivate}, Pre: Destroot},
		Descriptor{Name: Install, Kind: Forward, Pre: Destroot, Post: Activate},

		Descriptor{Name: Deactivate, Kind: Reverse, Unset: phase.Activated, Set: phase.Deactivated,
			Actions: []Action{ActionDeactivate}},
		Descriptor{Name: DeleteDestroot, Kind: Reverse, Unset: phase.Destrooted,
			Actions: []Action{ActionDeleteDestroot}, Pre: Deactivate},
		Descriptor{Name: Clean, Kind: Reverse, Unset: phase.Built,
			Actions: []Action{ActionClean}, Pre: DeleteDestroot},
		Descriptor{Name: Distclean, Kind: Reverse, Unset: phase.Configured,
			Actions: []Action{ActionDistclean}, Pre: Clean},
		Descriptor{Name: DeleteBuild, Kind: Reverse, Unset: phase.Configured,
			Actions: []Action{ActionDeleteBuild}, Pre: Clean},
		Descriptor{Name: Unpatch, Kind: Reverse, Unset: phase.Patched,
			Actions: []Action{ActionUnpatch}, Pre: DeleteBuild},
		Descriptor{Name: DeleteSource, Kind: Reverse, Unset: phase.Extracted,
			Actions: []Action{ActionDeleteSource}, Pre: Unpatch},
		Descriptor{Name: DeleteDownload, Kind: Reverse, Unset: phase.Downloaded,
			Actions: []Action{ActionDeleteDownload}, Pre: DeleteSource},
	)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the descriptor called name.
func (t Table) Lookup(name string) (Descriptor, bool) {
	d, ok := t.byName[name]
	return d, ok
}

// Names returns all sequence names, sorted.
func (t Table) Names() []string {
	out := make([]string, 0, len(t.byName))
	for name := range t.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// WithOverrides returns a copy of t where the action list of each named
// sequence is replaced. The receiver is not modified.
func (t Table) WithOverrides(overrides map[string][]string) (Table, error) {
	if len(overrides) == 0 {
		return t, nil
	}
	out := Table{byName: make(map[string]Descriptor, len(t.byName))}
	for name, d := range t.byName {
		out.byName[name] = d
	}
	for name, actions := range overrides {
		d, ok := out.byName[name]
		if !ok {
			return Table{}, fmt.Errorf("override: %w: %s", ErrUnknownSequence, name)
		}
		d.Actions = make([]Action, 0, len(actions))
		for _, a := range actions {
			if !knownActions[Action(a)] {
				return Table{}, &UnknownActionError{Sequence: name, Action: a}
			}
			d.Actions = append(d.Actions, Action(a))
		}
		out.byName[name] = d
	}
	return out, nil
}
