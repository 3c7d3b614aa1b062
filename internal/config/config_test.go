package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.FSRoot != "/" || cfg.Prefix != "/usr/local" {
		t.Errorf("unexpected defaults: root=%s prefix=%s", cfg.FSRoot, cfg.Prefix)
	}
	if cfg.Activation.OnConflict != ConflictAbort {
		t.Errorf("default conflict policy = %q", cfg.Activation.OnConflict)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
root: /srv/root/
prefix: /opt/uf
units_dir: /srv/units
extra_unit_dirs:
  - /srv/vendor-units
log:
  level: debug
activation:
  on_conflict: skip
store:
  query_batch: 100
groups:
  ldconfig:
    description: refresh the linker cache
    hooks:
      post-activate: ldconfig
      post-deactivate: ldconfig
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.FSRoot != "/srv/root" {
		t.Errorf("FSRoot = %q, want cleaned /srv/root", cfg.FSRoot)
	}
	if cfg.Prefix != "/opt/uf" {
		t.Errorf("Prefix = %q", cfg.Prefix)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Activation.OnConflict != ConflictSkip {
		t.Errorf("OnConflict = %q", cfg.Activation.OnConflict)
	}
	if cfg.Store.QueryBatch != 100 {
		t.Errorf("QueryBatch = %d", cfg.Store.QueryBatch)
	}
	if cfg.Groups["ldconfig"].Hooks["post-activate"] != "ldconfig" {
		t.Errorf("Groups = %+v", cfg.Groups)
	}

	if len(cfg.ExtraUnitDirs) != 1 || cfg.ExtraUnitDirs[0] != "/srv/vendor-units" {
		t.Errorf("ExtraUnitDirs = %v", cfg.ExtraUnitDirs)
	}

	paths := cfg.ApplyTo(*PathsFor("/data"))
	if paths.Units != "/srv/units" {
		t.Errorf("Units = %q, want override", paths.Units)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"relative prefix", "prefix: usr/local\n", "prefix must be absolute"},
		{"relative root", "root: here\n", "root must be absolute"},
		{"bad policy", "activation:\n  on_conflict: merge\n", "on_conflict"},
		{"relative unit dir", "extra_unit_dirs: [units]\n", "extra_unit_dirs"},
		{"negative batch", "store:\n  query_batch: -1\n", "query_batch"},
		{"bad yaml", "prefix: [\n", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
