// Package integration drives whole unit lifecycles through the manager with
// the real repository, adapters and state database.
package integration

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/danieljhkim/unitforge/internal/adapters"
	"github.com/danieljhkim/unitforge/internal/clock"
	"github.com/danieljhkim/unitforge/internal/config"
	"github.com/danieljhkim/unitforge/internal/fsops"
	"github.com/danieljhkim/unitforge/internal/handler"
	"github.com/danieljhkim/unitforge/internal/hash"
	"github.com/danieljhkim/unitforge/internal/logging"
	"github.com/danieljhkim/unitforge/internal/manager"
	"github.com/danieljhkim/unitforge/internal/provides"
	"github.com/danieljhkim/unitforge/internal/store"
	"github.com/danieljhkim/unitforge/internal/units"
)

// testEnv is a data root, a live root and a manager over both.
type testEnv struct {
	t        *testing.T
	ctx      context.Context
	paths    *config.Paths
	liveRoot string
	groups   map[string]config.GroupConfig

	store *store.Store
	mgr   *manager.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	paths := config.PathsFor(t.TempDir())
	if err := paths.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories() error = %v", err)
	}
	live := filepath.Join(t.TempDir(), "live")
	if err := os.MkdirAll(live, 0755); err != nil {
		t.Fatal(err)
	}
	e := &testEnv{t: t, ctx: context.Background(), paths: paths, liveRoot: live}
	t.Cleanup(e.close)
	return e
}

// open (re)creates the manager, as a new invocation would.
func (e *testEnv) open() *manager.Manager {
	e.t.Helper()
	e.close()

	logger := logging.Discard()
	st, err := store.Open(e.ctx, store.Config{Path: e.paths.Database, Logger: logger})
	if err != nil {
		e.t.Fatalf("store.Open() error = %v", err)
	}
	e.store = st

	fs := fsops.NewRealFS()
	runner := &adapters.ShellRunner{Logger: logger}
	repo := units.NewFileRepo(e.paths.Units, units.Tools{
		FS:     fs,
		Hasher: hash.NewFileHasher(),
		Runner: runner,
		Logger: logger,
	})
	reg, err := provides.Load(fs, e.paths.Provides)
	if err != nil {
		e.t.Fatalf("provides.Load() error = %v", err)
	}

	e.mgr = manager.New(manager.Deps{
		Store:    st,
		Repo:     repo,
		Provides: reg,
		FS:       fs,
		Clock:    clock.RealClock{},
		Groups:   handler.GroupsFromConfig(e.groups, runner),
		Logger:   logger,
		Options: handler.Options{
			Downloads: e.paths.Downloads,
			Builds:    e.paths.Builds,
			Destroot:  e.paths.Destroot,
			Root:      e.liveRoot,
			Prefix:    "/usr/local",
		},
	})
	return e.mgr
}

func (e *testEnv) close() {
	if e.store != nil {
		_ = e.store.Close()
		e.store = nil
	}
}

// writeUnit writes a unit definition plus extra files relative to its directory.
func (e *testEnv) writeUnit(name, definition string, files map[string]string) string {
	e.t.Helper()
	dir := filepath.Join(e.paths.Units, name)
	writeFile(e.t, filepath.Join(dir, units.DefinitionFile), definition)
	for rel, content := range files {
		writeFile(e.t, filepath.Join(dir, rel), content)
	}
	return dir
}

// live returns the real path of a logical path under the live root.
func (e *testEnv) live(logical string) string {
	return filepath.Join(e.liveRoot, logical)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// writeTarball writes a gzip'd tar of files, all under the top directory,
// and returns its sha256.
func writeTarball(t *testing.T, path, top string, files map[string]string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	if err := tw.WriteHeader(&tar.Header{Name: top + "/", Typeflag: tar.TypeDir, Mode: 0755}); err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		content := files[name]
		hdr := &tar.Header{Name: top + "/" + name, Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	return string(data)
}
