package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/danieljhkim/unitforge/internal/depend"
	"github.com/danieljhkim/unitforge/internal/phase"
	"github.com/danieljhkim/unitforge/internal/provides"
	"github.com/danieljhkim/unitforge/internal/store"
)

// ErrNoRegistry indicates the manager was built without a provides registry.
var ErrNoRegistry = errors.New("no provides registry configured")

// List returns the explicitly installed units.
func (m *Manager) List(ctx context.Context) ([]store.Installed, error) {
	installed, err := m.store.ListInstalled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list installed units: %w", err)
	}
	return installed, nil
}

// Units returns the names of every defined unit.
func (m *Manager) Units() ([]string, error) {
	return m.repo.List()
}

// Status reports the recorded state of a unit.
func (m *Manager) Status(ctx context.Context, name string) (*StatusResult, error) {
	h, err := m.recordedHandler(ctx, name)
	if err != nil {
		return nil, err
	}
	_, loadErr := m.repo.Load(name)

	res := &StatusResult{
		Unit:        name,
		Version:     h.Unit().DistVersion(),
		Defined:     loadErr == nil,
		Phases:      h.Phases(),
		Directories: h.InstallDirectories(),
		Stage:       h.Stage(),
	}

	info, err := m.store.GetInfo(ctx, name)
	switch {
	case err == nil:
		res.Info = info
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	inst, err := m.store.GetInstalled(ctx, name)
	switch {
	case err == nil:
		res.Installed = inst
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	if res.Active, err = m.store.VersionsWithPhase(ctx, name, phase.Activated); err != nil {
		return nil, err
	}
	files, err := m.store.FilesOwnedBy(ctx, name)
	if err != nil {
		return nil, err
	}
	res.Files = len(files)
	return res, nil
}

// Deps analyses the dependencies of a unit without failing on missing ones.
func (m *Manager) Deps(name string, runtime bool) (*DepsResult, error) {
	u, err := m.load(name)
	if err != nil {
		return nil, err
	}
	r := depend.NewBuildResolver(m.repo, m.systemProvider(), m.logger)
	if runtime {
		r = depend.NewRuntimeResolver(m.repo, m.systemProvider(), m.logger)
	}
	tree, err := r.Analyse(u)
	if err != nil {
		return nil, err
	}
	res := &DepsResult{Unit: name, Runtime: runtime, Tree: tree, Missing: r.Missing()}
	for _, d := range depend.InstallOrder(tree) {
		res.Order = append(res.Order, d.Name)
	}
	return res, nil
}

// ProvidesAdd records name as satisfied by the host system.
func (m *Manager) ProvidesAdd(name, version string) error {
	if m.provides == nil {
		return ErrNoRegistry
	}
	if err := m.provides.Add(name, version); err != nil {
		return err
	}
	return m.provides.Save()
}

// ProvidesRemove drops name from the system-provided registry.
func (m *Manager) ProvidesRemove(name string) error {
	if m.provides == nil {
		return ErrNoRegistry
	}
	if err := m.provides.Remove(name); err != nil {
		return err
	}
	return m.provides.Save()
}

// ProvidesList returns the system-provided entries.
func (m *Manager) ProvidesList() ([]provides.Entry, error) {
	if m.provides == nil {
		return nil, ErrNoRegistry
	}
	return m.provides.List(), nil
}
