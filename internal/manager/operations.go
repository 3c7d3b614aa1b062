package manager

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/mod/semver"

	"github.com/danieljhkim/unitforge/internal/depend"
	"github.com/danieljhkim/unitforge/internal/handler"
	"github.com/danieljhkim/unitforge/internal/phase"
	"github.com/danieljhkim/unitforge/internal/sequence"
	"github.com/danieljhkim/unitforge/internal/store"
	"github.com/danieljhkim/unitforge/internal/unit"
)

// Download fetches the unit's sources.
func (m *Manager) Download(ctx context.Context, req *Request) (*OpResult, error) {
	return m.forward(ctx, req, sequence.Download, false)
}

// Extract unpacks the unit's sources.
func (m *Manager) Extract(ctx context.Context, req *Request) (*OpResult, error) {
	return m.forward(ctx, req, sequence.Extract, false)
}

// Patch applies the unit's patches.
func (m *Manager) Patch(ctx context.Context, req *Request) (*OpResult, error) {
	return m.forward(ctx, req, sequence.Patch, false)
}

// Configure configures the unit's build tree.
func (m *Manager) Configure(ctx context.Context, req *Request) (*OpResult, error) {
	return m.forward(ctx, req, sequence.Configure, false)
}

// Build builds the unit.
func (m *Manager) Build(ctx context.Context, req *Request) (*OpResult, error) {
	return m.forward(ctx, req, sequence.Build, false)
}

// Destroot stages the unit's install tree.
func (m *Manager) Destroot(ctx context.Context, req *Request) (*OpResult, error) {
	return m.forward(ctx, req, sequence.Destroot, false)
}

// Activate links the staged tree into the live filesystem. It fails with
// handler.ErrAlreadyActivated when another version is active.
func (m *Manager) Activate(ctx context.Context, req *Request) (*OpResult, error) {
	res, err := m.forward(ctx, req, sequence.Activate, true)
	if err != nil {
		return nil, err
	}
	if len(res.Executed) == 0 && slices.Contains(res.Phases, phase.Activated) {
		res.AlreadyActive = true
		m.logger.Info("already activated", "unit", res.Unit, "version", res.Version)
	}
	return res, nil
}

// forward brings up the build dependencies of the unit, plus its runtime
// dependencies when runtime is set, and then runs seq on it.
func (m *Manager) forward(ctx context.Context, req *Request, seq string, runtime bool) (*OpResult, error) {
	u, err := m.load(req.Unit)
	if err != nil {
		return nil, err
	}
	deps, err := m.bringUpDependencies(ctx, u, runtime)
	if err != nil {
		return nil, err
	}
	h, err := m.handlerFor(ctx, u)
	if err != nil {
		return nil, err
	}

	before := len(m.engine.Executed(h.Key()))
	if err := m.invoke(ctx, h, seq, req.Force); err != nil {
		return nil, err
	}
	res := m.result(h, seq, before)
	res.Dependencies = deps
	return res, nil
}

// Install builds and activates the unit and marks it installed. A
// different active version is deactivated once the new one is staged.
func (m *Manager) Install(ctx context.Context, req *Request) (*OpResult, error) {
	u, err := m.load(req.Unit)
	if err != nil {
		return nil, err
	}
	deps, err := m.bringUpDependencies(ctx, u, true)
	if err != nil {
		return nil, err
	}
	h, err := m.handlerFor(ctx, u)
	if err != nil {
		return nil, err
	}
	if err := m.engine.Validate(h, sequence.Install); err != nil {
		return nil, err
	}

	before := len(m.engine.Executed(h.Key()))

	// Stage first so a failed build leaves the active version in place.
	if err := m.engine.Invoke(ctx, h, sequence.Destroot, req.Force); err != nil {
		return nil, err
	}
	// Conflicts are known before anything live is touched.
	if err := h.CheckActivation(ctx); err != nil {
		return nil, err
	}
	replaced, err := m.replaceActive(ctx, h)
	if err != nil {
		return nil, err
	}
	if req.Force && h.HasPhase(phase.Activated) {
		// The staged tree was rebuilt under the live links.
		if err := m.engine.Invoke(ctx, h, sequence.Deactivate, false); err != nil {
			return nil, err
		}
	}
	if err := m.engine.Invoke(ctx, h, sequence.Install, false); err != nil {
		if replaced != "" {
			m.restoreActive(ctx, h.Unit(), replaced)
		}
		return nil, err
	}

	err = m.store.SetInstalled(ctx, store.Installed{
		Unit:    u.Name,
		Version: u.DistVersion(),
		Date:    m.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark %s installed: %w", u.Name, err)
	}

	res := m.result(h, sequence.Install, before)
	res.Dependencies = deps
	res.Replaced = replaced
	return res, nil
}

// replaceActive deactivates every other active version of the handled unit
// and returns the last one replaced.
func (m *Manager) replaceActive(ctx context.Context, h *handler.Handler) (string, error) {
	active, err := h.ActiveVersions(ctx)
	if err != nil {
		return "", err
	}
	var replaced string
	for _, v := range active {
		old, err := atVersion(h.Unit(), v)
		if err != nil {
			return "", err
		}
		oh, err := m.handlerFor(ctx, old)
		if err != nil {
			return "", err
		}
		m.logger.Info(versionChange(v, h.Unit().DistVersion()), "unit", h.Unit().Name, "from", v, "to", h.Unit().DistVersion())
		if err := m.invoke(ctx, oh, sequence.Deactivate, false); err != nil {
			return "", fmt.Errorf("failed to deactivate %s: %w", old.Key(), err)
		}
		replaced = v
	}
	return replaced, nil
}

// restoreActive reactivates version of u after a failed replacement. A
// failure here is logged; the caller reports the original error.
func (m *Manager) restoreActive(ctx context.Context, u *unit.Unit, version string) {
	old, err := atVersion(u, version)
	if err != nil {
		m.logger.Error("cannot restore previous version", "unit", u.Name, "version", version, "error", err)
		return
	}
	oh, err := m.handlerFor(ctx, old)
	if err == nil {
		err = m.invoke(ctx, oh, sequence.Activate, false)
	}
	if err != nil {
		m.logger.Error("failed to restore previous version", "unit", u.Name, "version", version, "error", err)
		return
	}
	m.logger.Warn("restored previous version", "unit", u.Name, "version", version)
}

// versionChange names the direction of a move between two dist versions.
func versionChange(from, to string) string {
	fv, fr, err := splitDistVersion(from)
	if err != nil {
		return "replacing"
	}
	tv, tr, err := splitDistVersion(to)
	if err != nil {
		return "replacing"
	}
	c := 0
	switch {
	case semver.IsValid("v"+fv) && semver.IsValid("v"+tv):
		c = semver.Compare("v"+fv, "v"+tv)
	case fv != tv:
		return "replacing"
	}
	if c == 0 {
		c = cmp.Compare(fr, tr)
	}
	switch {
	case c < 0:
		return "upgrading"
	case c > 0:
		return "downgrading"
	}
	return "reinstalling"
}

// bringUpDependencies installs, in dependency order, every unit the build
// of u needs and, when runtime is set, every unit it needs to run. System
// provided and already active dependencies are left alone. It returns the
// names brought up.
func (m *Manager) bringUpDependencies(ctx context.Context, u *unit.Unit, runtime bool) ([]string, error) {
	resolvers := []*depend.Resolver{depend.NewBuildResolver(m.repo, m.systemProvider(), m.logger)}
	if runtime {
		resolvers = append(resolvers, depend.NewRuntimeResolver(m.repo, m.systemProvider(), m.logger))
	}

	var names []string
	seen := make(map[string]bool)
	for _, r := range resolvers {
		deps, err := r.Resolve(u)
		if err != nil {
			return nil, err
		}
		for _, d := range depend.InstallOrder(deps) {
			if seen[d.Name] {
				continue
			}
			seen[d.Name] = true
			if err := m.installDependency(ctx, d.Unit); err != nil {
				return nil, fmt.Errorf("dependency %s of %s: %w", d.Name, u.Name, err)
			}
			names = append(names, d.Name)
		}
	}
	return names, nil
}

// installDependency runs the install sequence on a dependency without
// marking it installed. Any active version of it satisfies the need.
func (m *Manager) installDependency(ctx context.Context, u *unit.Unit) error {
	h, err := m.handlerFor(ctx, u)
	if err != nil {
		return err
	}
	if h.HasPhase(phase.Activated) {
		return nil
	}
	active, err := h.ActiveVersions(ctx)
	if err != nil {
		return err
	}
	if len(active) > 0 {
		m.logger.Info("dependency satisfied by active version", "unit", u.Name, "active", active[0])
		return nil
	}
	if _, err := m.bringUpDependencies(ctx, u, true); err != nil {
		return err
	}
	m.logger.Info("installing dependency", "unit", u.Key())
	return m.invoke(ctx, h, sequence.Install, false)
}

// Deactivate unlinks the unit from the live filesystem.
func (m *Manager) Deactivate(ctx context.Context, req *Request) ([]*OpResult, error) {
	return m.teardown(ctx, req, sequence.Deactivate)
}

// Unpatch reverts the unit's patches.
func (m *Manager) Unpatch(ctx context.Context, req *Request) ([]*OpResult, error) {
	return m.teardown(ctx, req, sequence.Unpatch)
}

// Clean runs the build tool's clean step.
func (m *Manager) Clean(ctx context.Context, req *Request) ([]*OpResult, error) {
	return m.teardown(ctx, req, sequence.Clean)
}

// Distclean runs the build tool's distclean step.
func (m *Manager) Distclean(ctx context.Context, req *Request) ([]*OpResult, error) {
	return m.teardown(ctx, req, sequence.Distclean)
}

// DeleteDownload removes the unit's downloads and everything derived from them.
func (m *Manager) DeleteDownload(ctx context.Context, req *Request) ([]*OpResult, error) {
	return m.teardown(ctx, req, sequence.DeleteDownload)
}

// DeleteSource removes the unit's extracted source tree.
func (m *Manager) DeleteSource(ctx context.Context, req *Request) ([]*OpResult, error) {
	return m.teardown(ctx, req, sequence.DeleteSource)
}

// DeleteBuild removes the unit's build tree.
func (m *Manager) DeleteBuild(ctx context.Context, req *Request) ([]*OpResult, error) {
	return m.teardown(ctx, req, sequence.DeleteBuild)
}

// DeleteDestroot removes the unit's staged install tree.
func (m *Manager) DeleteDestroot(ctx context.Context, req *Request) ([]*OpResult, error) {
	return m.teardown(ctx, req, sequence.DeleteDestroot)
}

// Uninstall deactivates the unit and clears its installed mark.
func (m *Manager) Uninstall(ctx context.Context, req *Request) ([]*OpResult, error) {
	results, err := m.teardown(ctx, req, sequence.Deactivate)
	if err != nil {
		return results, err
	}
	for _, res := range results {
		if err := m.store.RemoveInstalled(ctx, res.Unit); err != nil {
			return results, fmt.Errorf("failed to clear installed mark of %s: %w", res.Unit, err)
		}
	}
	return results, nil
}

// teardown runs a reverse sequence on the unit, or on every installed unit
// when req.All is set. Results gathered before a failure are returned with
// the error.
func (m *Manager) teardown(ctx context.Context, req *Request, seq string) ([]*OpResult, error) {
	names := []string{req.Unit}
	if req.All {
		installed, err := m.store.ListInstalled(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list installed units: %w", err)
		}
		names = names[:0]
		for _, inst := range installed {
			names = append(names, inst.Unit)
		}
	}

	var results []*OpResult
	for _, name := range names {
		h, err := m.recordedHandler(ctx, name)
		if err != nil {
			return results, err
		}
		before := len(m.engine.Executed(h.Key()))
		if err := m.invoke(ctx, h, seq, req.Force); err != nil {
			return results, err
		}
		results = append(results, m.result(h, seq, before))
	}
	return results, nil
}

// recordedHandler returns a handler for the version of name the store
// knows about: the installed version, else the single active version,
// else the defined one. A unit whose definition is gone can still be torn
// down from its records.
func (m *Manager) recordedHandler(ctx context.Context, name string) (*handler.Handler, error) {
	recorded, err := m.recordedVersion(ctx, name)
	if err != nil {
		return nil, err
	}

	u, err := m.repo.Load(name)
	switch {
	case errors.Is(err, ErrNotFound) && recorded != "":
		m.logger.Warn("unit definition is gone, using recorded state", "unit", name, "version", recorded)
		u = &unit.Unit{Name: name}
	case err != nil:
		return nil, fmt.Errorf("failed to load unit %s: %w", name, err)
	}

	if recorded != "" && recorded != u.DistVersion() {
		if u, err = atVersion(u, recorded); err != nil {
			return nil, err
		}
	}
	return m.handlerFor(ctx, u)
}

func (m *Manager) recordedVersion(ctx context.Context, name string) (string, error) {
	inst, err := m.store.GetInstalled(ctx, name)
	switch {
	case err == nil:
		return inst.Version, nil
	case !errors.Is(err, store.ErrNotFound):
		return "", err
	}
	active, err := m.store.VersionsWithPhase(ctx, name, phase.Activated)
	if err != nil {
		return "", err
	}
	if len(active) == 1 {
		return active[0], nil
	}
	return "", nil
}

func (m *Manager) result(h *handler.Handler, seq string, before int) *OpResult {
	executed := m.engine.Executed(h.Key())
	return &OpResult{
		Unit:     h.Unit().Name,
		Version:  h.Unit().DistVersion(),
		Sequence: seq,
		Executed: executed[before:],
		Phases:   h.Phases(),
	}
}
