package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danieljhkim/unitforge/internal/clock"
	"github.com/danieljhkim/unitforge/internal/depend"
	"github.com/danieljhkim/unitforge/internal/fsops"
	"github.com/danieljhkim/unitforge/internal/handler"
	"github.com/danieljhkim/unitforge/internal/logging"
	"github.com/danieljhkim/unitforge/internal/phase"
	"github.com/danieljhkim/unitforge/internal/provides"
	"github.com/danieljhkim/unitforge/internal/sequence"
	"github.com/danieljhkim/unitforge/internal/store"
	"github.com/danieljhkim/unitforge/internal/unit"
)

// mapRepo serves units from memory.
type mapRepo struct {
	units map[string]*unit.Unit
}

func (r *mapRepo) List() ([]string, error) {
	var out []string
	for name := range r.units {
		out = append(out, name)
	}
	return out, nil
}

func (r *mapRepo) Load(name string) (*unit.Unit, error) {
	u, ok := r.units[name]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

type stubDownloader struct{}

func (stubDownloader) Copy(_ context.Context, src unit.Source, destDir string, _ bool) (string, error) {
	name, err := src.StoredName()
	if err != nil {
		return "", err
	}
	path := filepath.Join(destDir, name)
	return path, os.WriteFile(path, []byte("archive"), 0644)
}

func (stubDownloader) Verify(string, map[string]string) error { return nil }

type stubExtractor struct{}

func (stubExtractor) Extract(_ context.Context, _, destDir string) error {
	return os.MkdirAll(filepath.Join(destDir, "src"), 0755)
}

type stubPatches struct{}

func (stubPatches) Apply(context.Context, *unit.Env) error   { return nil }
func (stubPatches) Unapply(context.Context, *unit.Env) error { return nil }

// stubBuild stages one executable named after the unit.
type stubBuild struct{}

func (stubBuild) Configure(context.Context, *unit.Env) error { return nil }
func (stubBuild) Build(context.Context, *unit.Env) error     { return nil }
func (stubBuild) Clean(context.Context, *unit.Env) error     { return nil }
func (stubBuild) Distclean(context.Context, *unit.Env) error { return nil }

func (stubBuild) Destroot(_ context.Context, env *unit.Env) error {
	bin := filepath.Join(env.DestDir, "usr", "local", "bin")
	if err := os.MkdirAll(bin, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(bin, env.Name), []byte(env.Version), 0755)
}

// shippingBuild stages the unit's executable plus extra files under bin.
type shippingBuild struct {
	stubBuild
	extra []string
}

func (b shippingBuild) Destroot(ctx context.Context, env *unit.Env) error {
	if err := b.stubBuild.Destroot(ctx, env); err != nil {
		return err
	}
	for _, name := range b.extra {
		if err := os.WriteFile(filepath.Join(env.DestDir, "usr", "local", "bin", name), nil, 0755); err != nil {
			return err
		}
	}
	return nil
}

func newUnit(name, version string, depends ...string) *unit.Unit {
	u := &unit.Unit{
		Name:         name,
		Version:      version,
		Sources:      []unit.Source{{URL: "https://example.org/" + name + ".tar.gz"}},
		Downloader:   stubDownloader{},
		Extractor:    stubExtractor{},
		PatchSystem:  stubPatches{},
		BuildCommand: stubBuild{},
	}
	for _, d := range depends {
		u.Depends = append(u.Depends, unit.DependencySpec{Name: d})
	}
	return u
}

type fixture struct {
	ctx   context.Context
	mgr   *Manager
	repo  *mapRepo
	store *store.Store
	reg   *provides.Registry
	clock *clock.FakeClock
	root  string
}

func newFixture(t *testing.T, units ...*unit.Unit) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := store.OpenInMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	base := t.TempDir()
	fs := fsops.NewRealFS()
	reg, err := provides.Load(fs, filepath.Join(base, "provides.yaml"))
	require.NoError(t, err)

	repo := &mapRepo{units: map[string]*unit.Unit{}}
	for _, u := range units {
		repo.units[u.Name] = u
	}
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	root := filepath.Join(base, "root")
	require.NoError(t, os.MkdirAll(root, 0755))

	mgr := New(Deps{
		Store:    s,
		Repo:     repo,
		Provides: reg,
		FS:       fs,
		Clock:    clk,
		Logger:   logging.Discard(),
		Options: handler.Options{
			Downloads: filepath.Join(base, "downloads"),
			Builds:    filepath.Join(base, "builds"),
			Destroot:  filepath.Join(base, "destroot"),
			Root:      root,
			Prefix:    "/usr/local",
		},
	})
	return &fixture{ctx: ctx, mgr: mgr, repo: repo, store: s, reg: reg, clock: clk, root: root}
}

func (f *fixture) linked(name string) bool {
	info, err := os.Lstat(filepath.Join(f.root, "usr", "local", "bin", name))
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

func TestInstall_BringsUpBuildDependencies(t *testing.T) {
	f := newFixture(t, newUnit("foo", "1.0"), newUnit("bar", "2.0", "foo"))

	res, err := f.mgr.Install(f.ctx, &Request{Unit: "bar"})
	require.NoError(t, err)

	assert.Equal(t, []string{"foo"}, res.Dependencies)
	assert.Equal(t, "2.0-0", res.Version)
	assert.Equal(t, []string{sequence.Download, sequence.Extract, sequence.Patch, sequence.Configure,
		sequence.Build, sequence.Destroot, sequence.Activate}, res.Executed)
	assert.Contains(t, res.Phases, phase.Activated)

	assert.True(t, f.linked("foo"))
	assert.True(t, f.linked("bar"))

	installed, err := f.mgr.List(f.ctx)
	require.NoError(t, err)
	require.Len(t, installed, 1, "dependencies are not marked installed")
	assert.Equal(t, "bar", installed[0].Unit)
	assert.Equal(t, "2.0-0", installed[0].Version)
	assert.True(t, installed[0].Date.Equal(f.clock.Now()))

	st, err := f.mgr.Status(f.ctx, "foo")
	require.NoError(t, err)
	assert.Nil(t, st.Installed)
	assert.Equal(t, []string{"1.0-0"}, st.Active)
}

func TestInstall_Idempotent(t *testing.T) {
	f := newFixture(t, newUnit("foo", "1.0"))

	_, err := f.mgr.Install(f.ctx, &Request{Unit: "foo"})
	require.NoError(t, err)
	res, err := f.mgr.Install(f.ctx, &Request{Unit: "foo"})
	require.NoError(t, err)
	assert.Empty(t, res.Executed)
}

func TestInstall_ForceRestages(t *testing.T) {
	f := newFixture(t, newUnit("foo", "1.0"))

	_, err := f.mgr.Install(f.ctx, &Request{Unit: "foo"})
	require.NoError(t, err)
	res, err := f.mgr.Install(f.ctx, &Request{Unit: "foo", Force: true})
	require.NoError(t, err)

	assert.Equal(t, []string{sequence.Destroot, sequence.Deactivate, sequence.Activate}, res.Executed)
	assert.True(t, f.linked("foo"))
}

func TestInstall_ReplacesActiveVersion(t *testing.T) {
	f := newFixture(t, newUnit("foo", "1.0"))
	_, err := f.mgr.Install(f.ctx, &Request{Unit: "foo"})
	require.NoError(t, err)

	f.repo.units["foo"] = newUnit("foo", "2.0")
	res, err := f.mgr.Install(f.ctx, &Request{Unit: "foo"})
	require.NoError(t, err)
	assert.Equal(t, "1.0-0", res.Replaced)

	active, err := f.store.VersionsWithPhase(f.ctx, "foo", phase.Activated)
	require.NoError(t, err)
	assert.Equal(t, []string{"2.0-0"}, active)

	data, err := os.ReadFile(filepath.Join(f.root, "usr", "local", "bin", "foo"))
	require.NoError(t, err)
	assert.Equal(t, "2.0", string(data))

	inst, err := f.store.GetInstalled(f.ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, "2.0-0", inst.Version)
}

func TestInstall_ConflictKeepsActiveVersion(t *testing.T) {
	f := newFixture(t, newUnit("foo", "1.0"), newUnit("other", "1.0"))
	for _, name := range []string{"foo", "other"} {
		_, err := f.mgr.Install(f.ctx, &Request{Unit: name})
		require.NoError(t, err)
	}

	next := newUnit("foo", "2.0")
	next.BuildCommand = shippingBuild{extra: []string{"other"}}
	f.repo.units["foo"] = next

	_, err := f.mgr.Install(f.ctx, &Request{Unit: "foo"})
	require.ErrorIs(t, err, handler.ErrFileConflict)

	active, err := f.store.VersionsWithPhase(f.ctx, "foo", phase.Activated)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0-0"}, active)

	data, err := os.ReadFile(filepath.Join(f.root, "usr", "local", "bin", "foo"))
	require.NoError(t, err)
	assert.Equal(t, "1.0", string(data))

	inst, err := f.store.GetInstalled(f.ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, "1.0-0", inst.Version)
}

func TestInstall_FailedActivationRestoresPreviousVersion(t *testing.T) {
	f := newFixture(t, newUnit("foo", "1.0"))
	_, err := f.mgr.Install(f.ctx, &Request{Unit: "foo"})
	require.NoError(t, err)

	next := newUnit("foo", "2.0")
	next.Hooks = map[string]unit.HookFunc{
		"pre-activate": func(_ context.Context, env *unit.Env) error {
			if env.Version == "2.0" {
				return errors.New("hook failed")
			}
			return nil
		},
	}
	f.repo.units["foo"] = next

	_, err = f.mgr.Install(f.ctx, &Request{Unit: "foo"})
	require.Error(t, err)

	active, err := f.store.VersionsWithPhase(f.ctx, "foo", phase.Activated)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0-0"}, active)

	data, err := os.ReadFile(filepath.Join(f.root, "usr", "local", "bin", "foo"))
	require.NoError(t, err)
	assert.Equal(t, "1.0", string(data))
}

func TestActivate_OtherVersionActive(t *testing.T) {
	f := newFixture(t, newUnit("foo", "1.0"))
	_, err := f.mgr.Install(f.ctx, &Request{Unit: "foo"})
	require.NoError(t, err)

	f.repo.units["foo"] = newUnit("foo", "2.0")
	_, err = f.mgr.Activate(f.ctx, &Request{Unit: "foo"})
	assert.ErrorIs(t, err, handler.ErrAlreadyActivated)
}

func TestActivate_AlreadyActive(t *testing.T) {
	f := newFixture(t, newUnit("foo", "1.0"))
	_, err := f.mgr.Install(f.ctx, &Request{Unit: "foo"})
	require.NoError(t, err)

	res, err := f.mgr.Activate(f.ctx, &Request{Unit: "foo"})
	require.NoError(t, err)
	assert.True(t, res.AlreadyActive)
	assert.Empty(t, res.Executed)
	assert.True(t, f.linked("foo"))

	res, err = f.mgr.Install(f.ctx, &Request{Unit: "foo"})
	require.NoError(t, err)
	assert.False(t, res.AlreadyActive)
}

func TestBuild_InstallsDependenciesOnly(t *testing.T) {
	f := newFixture(t, newUnit("foo", "1.0"), newUnit("bar", "2.0", "foo"))

	res, err := f.mgr.Build(f.ctx, &Request{Unit: "bar"})
	require.NoError(t, err)
	assert.Equal(t, []string{sequence.Download, sequence.Extract, sequence.Patch, sequence.Configure, sequence.Build}, res.Executed)
	assert.NotContains(t, res.Phases, phase.Destrooted)
	assert.True(t, f.linked("foo"))
	assert.False(t, f.linked("bar"))
}

func TestBuild_MissingDependencies(t *testing.T) {
	f := newFixture(t, newUnit("bar", "2.0", "foo", "baz"))

	_, err := f.mgr.Build(f.ctx, &Request{Unit: "bar"})
	var unresolved *depend.UnresolvedDependencies
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, map[string]string{"foo": "", "baz": ""}, unresolved.Missing)

	st, err := f.mgr.Status(f.ctx, "bar")
	require.NoError(t, err)
	assert.Empty(t, st.Phases)
}

func TestBuild_SystemProvidedDependency(t *testing.T) {
	f := newFixture(t, newUnit("bar", "2.0", "zlib"))
	require.NoError(t, f.mgr.ProvidesAdd("zlib", "1.3"))

	res, err := f.mgr.Build(f.ctx, &Request{Unit: "bar"})
	require.NoError(t, err)
	assert.Empty(t, res.Dependencies)
}

func TestInstall_DependencyCycle(t *testing.T) {
	f := newFixture(t, newUnit("a", "1", "b"), newUnit("b", "1", "a"))

	_, err := f.mgr.Install(f.ctx, &Request{Unit: "a"})
	var cycle *depend.CycleError
	assert.ErrorAs(t, err, &cycle)
}

func TestUnknownUnit(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.Build(f.ctx, &Request{Unit: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.mgr.Status(f.ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUninstall_All(t *testing.T) {
	f := newFixture(t, newUnit("foo", "1.0"), newUnit("bar", "2.0"))
	for _, name := range []string{"foo", "bar"} {
		_, err := f.mgr.Install(f.ctx, &Request{Unit: name})
		require.NoError(t, err)
	}

	results, err := f.mgr.Uninstall(f.ctx, &Request{All: true})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "bar", results[0].Unit)
	assert.Equal(t, "foo", results[1].Unit)

	assert.False(t, f.linked("foo"))
	assert.False(t, f.linked("bar"))
	installed, err := f.mgr.List(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, installed)
}

func TestDeleteDownload_TearsDownEverything(t *testing.T) {
	f := newFixture(t, newUnit("foo", "1.0"))
	_, err := f.mgr.Install(f.ctx, &Request{Unit: "foo"})
	require.NoError(t, err)

	results, err := f.mgr.DeleteDownload(f.ctx, &Request{Unit: "foo"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{sequence.Deactivate, sequence.DeleteDestroot, sequence.Clean,
		sequence.DeleteBuild, sequence.Unpatch, sequence.DeleteSource, sequence.DeleteDownload}, results[0].Executed)
	assert.Equal(t, []phase.Phase{phase.Deactivated}, results[0].Phases)
}

func TestTeardown_InstalledVersionNotDefinition(t *testing.T) {
	f := newFixture(t, newUnit("foo", "1.0"))
	_, err := f.mgr.Install(f.ctx, &Request{Unit: "foo"})
	require.NoError(t, err)

	// The definition moved on without installing the new version.
	f.repo.units["foo"] = newUnit("foo", "2.0")
	results, err := f.mgr.Deactivate(f.ctx, &Request{Unit: "foo"})
	require.NoError(t, err)
	assert.Equal(t, "1.0-0", results[0].Version)
	assert.False(t, f.linked("foo"))
}

func TestUninstall_DefinitionGone(t *testing.T) {
	f := newFixture(t, newUnit("foo", "1.0"))
	_, err := f.mgr.Install(f.ctx, &Request{Unit: "foo"})
	require.NoError(t, err)

	delete(f.repo.units, "foo")
	_, err = f.mgr.Uninstall(f.ctx, &Request{Unit: "foo"})
	require.NoError(t, err)
	assert.False(t, f.linked("foo"))

	_, err = f.store.GetInstalled(f.ctx, "foo")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestStatus(t *testing.T) {
	foo := newUnit("foo", "1.0")
	foo.Description = "the foo tool"
	f := newFixture(t, foo)
	_, err := f.mgr.Install(f.ctx, &Request{Unit: "foo"})
	require.NoError(t, err)

	st, err := f.mgr.Status(f.ctx, "foo")
	require.NoError(t, err)
	assert.True(t, st.Defined)
	assert.Equal(t, "1.0-0", st.Version)
	assert.Equal(t, 1, st.Files)
	require.NotNil(t, st.Installed)
	assert.Equal(t, []phase.Phase{phase.Downloaded, phase.Extracted, phase.Patched, phase.Configured,
		phase.Built, phase.Destrooted, phase.Activated}, st.Phases)
	assert.NotEmpty(t, st.Directories.Destroot)
	assert.Equal(t, phase.Activated, st.Stage)
	require.NotNil(t, st.Info)
	assert.Equal(t, "the foo tool", st.Info.Description)
}

func TestStatus_StageAfterDeactivate(t *testing.T) {
	f := newFixture(t, newUnit("foo", "1.0"))
	_, err := f.mgr.Install(f.ctx, &Request{Unit: "foo"})
	require.NoError(t, err)
	_, err = f.mgr.Deactivate(f.ctx, &Request{Unit: "foo"})
	require.NoError(t, err)

	st, err := f.mgr.Status(f.ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, phase.Destrooted, st.Stage)
	assert.Empty(t, st.Active)
}

func TestDeps(t *testing.T) {
	bar := newUnit("bar", "2.0", "foo", "ghost")
	bar.RuntimeDepends = []unit.DependencySpec{{Name: "libc"}}
	f := newFixture(t, newUnit("foo", "1.0"), bar)
	require.NoError(t, f.mgr.ProvidesAdd("libc", "system"))

	res, err := f.mgr.Deps("bar", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"foo"}, res.Order)
	assert.Equal(t, map[string]string{"ghost": ""}, res.Missing)
	require.Len(t, res.Tree, 2)

	res, err = f.mgr.Deps("bar", true)
	require.NoError(t, err)
	require.Len(t, res.Tree, 3)
	assert.Equal(t, "libc", res.Tree[0].Name)
	assert.Equal(t, depend.SystemProvided, res.Tree[0].Kind)
}

func TestProvides(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.mgr.ProvidesAdd("zlib", "1.3"))
	require.NoError(t, f.mgr.ProvidesAdd("perl", "5.36"))
	require.NoError(t, f.mgr.ProvidesRemove("perl"))

	entries, err := f.mgr.ProvidesList()
	require.NoError(t, err)
	assert.Equal(t, []provides.Entry{{Name: "zlib", Version: "1.3"}}, entries)

	assert.ErrorIs(t, f.mgr.ProvidesRemove("perl"), provides.ErrNotProvided)

	noReg := New(Deps{Store: f.store, Repo: f.repo})
	_, err = noReg.ProvidesList()
	assert.ErrorIs(t, err, ErrNoRegistry)
}

func TestVersionChange(t *testing.T) {
	tests := []struct {
		from, to string
		want     string
	}{
		{"1.0-0", "2.0-0", "upgrading"},
		{"2.0-0", "1.10-0", "downgrading"},
		{"1.0-0", "1.0-1", "upgrading"},
		{"1.0-0", "1.0-0", "reinstalling"},
		{"snapshot-0", "1.0-0", "replacing"},
		{"bogus", "1.0-0", "replacing"},
	}
	for _, tt := range tests {
		if got := versionChange(tt.from, tt.to); got != tt.want {
			t.Errorf("versionChange(%q, %q) = %q, want %q", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSplitDistVersion(t *testing.T) {
	v, rev, err := splitDistVersion("1.2-rc1-3")
	require.NoError(t, err)
	assert.Equal(t, "1.2-rc1", v)
	assert.Equal(t, 3, rev)

	for _, bad := range []string{"", "1.2", "1.2-", "-3", "1.2-x"} {
		_, _, err := splitDistVersion(bad)
		assert.Error(t, err, bad)
	}
}
