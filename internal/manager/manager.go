// Package manager is the facade the CLI drives.
//
// A Manager loads unit definitions, brings up their dependencies, and runs
// sequences through one shared sequence engine so that "ran in this
// invocation" tracking spans every unit touched by a command. Handlers are
// cached per unit version for the same reason.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/danieljhkim/unitforge/internal/clock"
	"github.com/danieljhkim/unitforge/internal/depend"
	"github.com/danieljhkim/unitforge/internal/fsops"
	"github.com/danieljhkim/unitforge/internal/handler"
	"github.com/danieljhkim/unitforge/internal/logging"
	"github.com/danieljhkim/unitforge/internal/provides"
	"github.com/danieljhkim/unitforge/internal/sequence"
	"github.com/danieljhkim/unitforge/internal/store"
	"github.com/danieljhkim/unitforge/internal/unit"
	"github.com/danieljhkim/unitforge/internal/units"
)

// ErrNotFound indicates no definition exists for a unit.
var ErrNotFound = units.ErrNotFound

// Repo is the source of unit definitions.
type Repo interface {
	List() ([]string, error)
	Load(name string) (*unit.Unit, error)
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Store    *store.Store
	Repo     Repo
	Provides *provides.Registry
	FS       fsops.FS
	Clock    clock.Clock
	Groups   *handler.Groups
	Logger   *slog.Logger

	// Table defaults to sequence.DefaultTable()
	Table *sequence.Table

	Options handler.Options
}

// Manager runs operations on units.
type Manager struct {
	store    *store.Store
	repo     Repo
	provides *provides.Registry
	fs       fsops.FS
	clock    clock.Clock
	groups   *handler.Groups
	logger   *slog.Logger
	opts     handler.Options

	engine   *sequence.Engine
	handlers map[string]*handler.Handler
}

// New creates a Manager.
func New(deps Deps) *Manager {
	table := sequence.DefaultTable()
	if deps.Table != nil {
		table = *deps.Table
	}
	logger := logging.Ensure(deps.Logger)
	clk := deps.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	fs := deps.FS
	if fs == nil {
		fs = fsops.NewRealFS()
	}
	return &Manager{
		store:    deps.Store,
		repo:     deps.Repo,
		provides: deps.Provides,
		fs:       fs,
		clock:    clk,
		groups:   deps.Groups,
		logger:   logger,
		opts:     deps.Options,
		engine:   sequence.New(table, logger),
		handlers: make(map[string]*handler.Handler),
	}
}

// Engine returns the sequence engine shared by every operation.
func (m *Manager) Engine() *sequence.Engine { return m.engine }

func (m *Manager) load(name string) (*unit.Unit, error) {
	u, err := m.repo.Load(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load unit %s: %w", name, err)
	}
	return u, nil
}

func (m *Manager) handlerFor(ctx context.Context, u *unit.Unit) (*handler.Handler, error) {
	if h, ok := m.handlers[u.Key()]; ok {
		return h, nil
	}
	h, err := handler.New(ctx, handler.Deps{
		Store:   m.store,
		FS:      m.fs,
		Groups:  m.groups,
		Logger:  m.logger,
		Options: m.opts,
	}, u)
	if err != nil {
		return nil, err
	}
	m.handlers[u.Key()] = h
	return h, nil
}

// invoke validates the chain reachable from name and runs it.
func (m *Manager) invoke(ctx context.Context, h *handler.Handler, name string, force bool) error {
	if err := m.engine.Validate(h, name); err != nil {
		return err
	}
	return m.engine.Invoke(ctx, h, name, force)
}

// systemProvider avoids handing the resolver a typed nil.
func (m *Manager) systemProvider() depend.SystemProvider {
	if m.provides == nil {
		return noProvider{}
	}
	return m.provides
}

type noProvider struct{}

func (noProvider) Provided(string) (string, bool) { return "", false }

// atVersion returns a copy of u pinned to the given dist version. It is
// used to act on a recorded version the current definition no longer
// describes; only version-independent actions are expected to run on it.
func atVersion(u *unit.Unit, distVersion string) (*unit.Unit, error) {
	version, revision, err := splitDistVersion(distVersion)
	if err != nil {
		return nil, err
	}
	c := *u
	c.Version = version
	c.Revision = revision
	return &c, nil
}

// splitDistVersion splits "1.2-3" into "1.2" and 3.
func splitDistVersion(dv string) (string, int, error) {
	i := strings.LastIndex(dv, "-")
	if i <= 0 || i == len(dv)-1 {
		return "", 0, fmt.Errorf("invalid dist version %q", dv)
	}
	rev, err := strconv.Atoi(dv[i+1:])
	if err != nil || rev < 0 {
		return "", 0, fmt.Errorf("invalid dist version %q", dv)
	}
	return dv[:i], rev, nil
}
