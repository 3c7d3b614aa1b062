package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPaths(t *testing.T) {
	t.Run("returns paths based on home directory", func(t *testing.T) {
		t.Setenv(RootEnv, "")

		paths, err := DefaultPaths()
		if err != nil {
			t.Fatalf("DefaultPaths failed: %v", err)
		}
		if filepath.Base(paths.Root) != ".unitforge" {
			t.Errorf("Root should end with .unitforge, got: %s", paths.Root)
		}
		if paths.Config != filepath.Join(paths.Root, "config.yaml") {
			t.Errorf("Config path incorrect: got %s", paths.Config)
		}
	})

	t.Run("respects UNITFORGE_ROOT", func(t *testing.T) {
		customRoot := "/custom/unitforge"
		t.Setenv(RootEnv, customRoot)

		paths, err := DefaultPaths()
		if err != nil {
			t.Fatalf("DefaultPaths failed: %v", err)
		}

		want := map[string]string{
			"Root":      customRoot,
			"Units":     filepath.Join(customRoot, "units"),
			"Downloads": filepath.Join(customRoot, "cache", "downloads"),
			"Builds":    filepath.Join(customRoot, "cache", "builds"),
			"Destroot":  filepath.Join(customRoot, "destroot"),
			"Database":  filepath.Join(customRoot, "state"),
			"Provides":  filepath.Join(customRoot, "provides.yaml"),
		}
		got := map[string]string{
			"Root":      paths.Root,
			"Units":     paths.Units,
			"Downloads": paths.Downloads,
			"Builds":    paths.Builds,
			"Destroot":  paths.Destroot,
			"Database":  paths.Database,
			"Provides":  paths.Provides,
		}
		for k, v := range want {
			if got[k] != v {
				t.Errorf("%s = %s, want %s", k, got[k], v)
			}
		}
	})
}

func TestPaths_EnsureDirectories(t *testing.T) {
	root := filepath.Join(t.TempDir(), "uf")
	paths := PathsFor(root)

	if err := paths.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{paths.Root, paths.Units, paths.Downloads, paths.Builds, paths.Destroot, paths.Database} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("directory %s not created: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}

	// Idempotent.
	if err := paths.EnsureDirectories(); err != nil {
		t.Fatalf("second EnsureDirectories failed: %v", err)
	}
}
