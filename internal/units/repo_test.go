package units

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/danieljhkim/unitforge/internal/logging"
	"github.com/danieljhkim/unitforge/internal/unit"
)

type recordingRunner struct {
	commands []string
}

func (r *recordingRunner) Run(_ context.Context, _ string, _ []string, command string) error {
	r.commands = append(r.commands, command)
	return nil
}

func writeDefinition(t *testing.T, unitsDir, name, content string) {
	t.Helper()
	dir := filepath.Join(unitsDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, DefinitionFile), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newTestRepo(t *testing.T) (string, *FileRepo, *recordingRunner) {
	t.Helper()
	dir := t.TempDir()
	runner := &recordingRunner{}
	return dir, NewFileRepo(dir, Tools{Runner: runner, Logger: logging.Discard()}), runner
}

const fooDefinition = `
name: foo
version: "1.0"
revision: 2
description: the foo library
homepage: https://example.com/foo
depends:
  - zlib
  - openssl 3.0
  - name: pcre
    version: "8.45"
runtime_depends: [ca-certs]
sources:
  - url: https://example.com/foo-1.0.tar.gz
    checksums:
      sha256: b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9
patches:
  - patches/01-fix.patch
vars:
  jobs: "4"
groups: [ldconfig]
build:
  configure: ./configure --prefix=${prefix}
  build: make -j${jobs}
  destroot: make install DESTDIR=${destdir}
hooks:
  post-destroot: rm -rf ${destdir}${prefix}/share/info
sequences:
  configure: []
`

func TestFileRepo_List(t *testing.T) {
	t.Run("returns empty list when directory does not exist", func(t *testing.T) {
		repo := NewFileRepo(filepath.Join(t.TempDir(), "missing"), Tools{})
		names, err := repo.List()
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(names) != 0 {
			t.Errorf("expected empty list, got %v", names)
		}
	})

	t.Run("lists only directories holding a definition", func(t *testing.T) {
		dir, repo, _ := newTestRepo(t)
		writeDefinition(t, dir, "foo", fooDefinition)
		writeDefinition(t, dir, "bar", "name: bar\nversion: '2.0'\n")
		if err := os.MkdirAll(filepath.Join(dir, "empty"), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "README"), nil, 0644); err != nil {
			t.Fatal(err)
		}

		names, err := repo.List()
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if !reflect.DeepEqual(names, []string{"bar", "foo"}) {
			t.Errorf("List() = %v", names)
		}
	})
}

func TestFileRepo_Load(t *testing.T) {
	dir, repo, runner := newTestRepo(t)
	writeDefinition(t, dir, "foo", fooDefinition)

	u, err := repo.Load("foo")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if u.Name != "foo" || u.DistVersion() != "1.0-2" || u.Description != "the foo library" {
		t.Errorf("unexpected identity: %+v", u)
	}
	wantDeps := []unit.DependencySpec{{Name: "zlib"}, {Name: "openssl", Version: "3.0"}, {Name: "pcre", Version: "8.45"}}
	if !reflect.DeepEqual(u.Depends, wantDeps) {
		t.Errorf("Depends = %v", u.Depends)
	}
	if !reflect.DeepEqual(u.RuntimeDepends, []unit.DependencySpec{{Name: "ca-certs"}}) {
		t.Errorf("RuntimeDepends = %v", u.RuntimeDepends)
	}
	if len(u.Sources) != 1 || u.Sources[0].Hashes["sha256"] == "" {
		t.Errorf("Sources = %+v", u.Sources)
	}
	if want := filepath.Join(dir, "foo", "patches", "01-fix.patch"); !reflect.DeepEqual(u.Patches, []string{want}) {
		t.Errorf("Patches = %v, want [%s]", u.Patches, want)
	}
	if u.Dir != filepath.Join(dir, "foo") {
		t.Errorf("Dir = %s", u.Dir)
	}
	if !reflect.DeepEqual(u.Sequences, map[string][]string{"configure": {}}) {
		t.Errorf("Sequences = %v", u.Sequences)
	}
	if u.Downloader == nil || u.Extractor == nil || u.PatchSystem == nil || u.BuildCommand == nil {
		t.Error("adapters not wired")
	}

	hook := u.Hook("post", "destroot")
	if hook == nil {
		t.Fatal("post-destroot hook missing")
	}
	env := &unit.Env{DestDir: "/stage", Prefix: "/usr/local", DataDir: u.Dir}
	if err := hook(context.Background(), env); err != nil {
		t.Fatal(err)
	}
	if err := u.BuildCommand.Configure(context.Background(), &unit.Env{BuildDir: dir, Prefix: "/opt"}); err != nil {
		t.Fatal(err)
	}
	want := []string{"rm -rf /stage/usr/local/share/info", "./configure --prefix=/opt"}
	if !reflect.DeepEqual(runner.commands, want) {
		t.Errorf("commands = %v, want %v", runner.commands, want)
	}
}

func TestFileRepo_LoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing version", "name: foo\n", "version"},
		{"unknown field", "name: foo\nversion: '1'\nflavour: spicy\n", "flavour"},
		{"name mismatch", "name: bar\nversion: '1'\n", `expected "foo"`},
		{"bad hook", "name: foo\nversion: '1'\nhooks:\n  during-build: x\n", "hookname"},
		{"bad algorithm", "name: foo\nversion: '1'\nsources:\n  - url: a.tar\n    checksums:\n      md5: abcd\n", "algorithm"},
		{"bad digest", "name: foo\nversion: '1'\nsources:\n  - url: a.tar\n    checksums:\n      sha1: xyz\n", "hexadecimal"},
		{"unknown sequence", "name: foo\nversion: '1'\nsequences:\n  compile: [build]\n", "sequence"},
		{"unknown action", "name: foo\nversion: '1'\nsequences:\n  build: [compile]\n", "action"},
		{"bad dependency", "name: foo\nversion: '1'\ndepends: ['a b c']\n", "must be"},
		{"negative revision", "name: foo\nversion: '1'\nrevision: -1\n", "min"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, repo, _ := newTestRepo(t)
			writeDefinition(t, dir, "foo", tt.content)

			_, err := repo.Load("foo")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestFileRepo_NotFound(t *testing.T) {
	_, repo, _ := newTestRepo(t)

	if _, err := repo.Load("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound", err)
	}
	if _, err := repo.Load("../etc"); err == nil {
		t.Error("expected error for path traversal")
	}
	ok, err := repo.Exists("nope")
	if err != nil || ok {
		t.Errorf("Exists() = %v, %v", ok, err)
	}
}

func TestMultiRepo_FirstDefinitionWins(t *testing.T) {
	localDir, local, _ := newTestRepo(t)
	sharedDir, shared, _ := newTestRepo(t)
	writeDefinition(t, localDir, "foo", "name: foo\nversion: '2.0'\n")
	writeDefinition(t, sharedDir, "foo", "name: foo\nversion: '1.0'\n")
	writeDefinition(t, sharedDir, "bar", "name: bar\nversion: '1.0'\n")

	repo := NewMultiRepo(local, shared)

	u, err := repo.Load("foo")
	if err != nil {
		t.Fatal(err)
	}
	if u.Version != "2.0" {
		t.Errorf("Version = %s, want the local definition", u.Version)
	}
	if _, err := repo.Load("bar"); err != nil {
		t.Errorf("Load(bar) error = %v", err)
	}
	if _, err := repo.LoadDefinition("baz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadDefinition(baz) error = %v", err)
	}

	names, err := repo.List()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"bar", "foo"}) {
		t.Errorf("List() = %v", names)
	}
}
