package adapters

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/danieljhkim/unitforge/internal/fsops"
	"github.com/danieljhkim/unitforge/internal/gitx"
	"github.com/danieljhkim/unitforge/internal/hash"
	"github.com/danieljhkim/unitforge/internal/logging"
	"github.com/danieljhkim/unitforge/internal/unit"
)

type recordingRunner struct {
	dirs     []string
	commands []string
	err      error
}

func (r *recordingRunner) Run(_ context.Context, dir string, _ []string, command string) error {
	r.dirs = append(r.dirs, dir)
	r.commands = append(r.commands, command)
	return r.err
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

func TestStoredName(t *testing.T) {
	tests := []struct {
		src     unit.Source
		want    string
		wantErr bool
	}{
		{unit.Source{URL: "https://example.com/dl/foo-1.0.tar.gz?x=1"}, "foo-1.0.tar.gz", false},
		{unit.Source{URL: "files/foo.tar"}, "foo.tar", false},
		{unit.Source{URL: "file:///srv/foo.zip"}, "foo.zip", false},
		{unit.Source{URL: "https://example.com/get", Filename: "foo.tgz"}, "foo.tgz", false},
		{unit.Source{URL: "https://example.com/"}, "", true},
	}
	for _, tt := range tests {
		got, err := tt.src.StoredName()
		if (err != nil) != tt.wantErr {
			t.Errorf("StoredName(%q) error = %v, wantErr %v", tt.src.URL, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("StoredName(%q) = %q, want %q", tt.src.URL, got, tt.want)
		}
	}
}

func TestDownloader_CopyLocal(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "files", "foo.txt"), "v1")
	dest := filepath.Join(t.TempDir(), "downloads")
	d := NewDownloader(fsops.NewRealFS(), hash.NewFileHasher(), base)
	ctx := context.Background()

	got, err := d.Copy(ctx, unit.Source{URL: "files/foo.txt"}, dest, false)
	if err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if got != filepath.Join(dest, "foo.txt") {
		t.Errorf("Copy() = %q", got)
	}

	// Existing downloads are kept unless overwrite is set.
	writeFile(t, filepath.Join(base, "files", "foo.txt"), "v2")
	if _, err := d.Copy(ctx, unit.Source{URL: "files/foo.txt"}, dest, false); err != nil {
		t.Fatal(err)
	}
	if data, _ := os.ReadFile(got); string(data) != "v1" {
		t.Errorf("content = %q, want v1", data)
	}
	if _, err := d.Copy(ctx, unit.Source{URL: "file://" + filepath.Join(base, "files", "foo.txt")}, dest, true); err != nil {
		t.Fatal(err)
	}
	if data, _ := os.ReadFile(got); string(data) != "v2" {
		t.Errorf("content = %q, want v2", data)
	}
}

func TestDownloader_CopyHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/foo-1.0.tar" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dest := t.TempDir()
	d := NewDownloader(fsops.NewRealFS(), hash.NewFileHasher(), "")
	d.Client = srv.Client()

	got, err := d.Copy(context.Background(), unit.Source{URL: srv.URL + "/foo-1.0.tar"}, dest, false)
	if err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if data, _ := os.ReadFile(got); string(data) != "payload" {
		t.Errorf("content = %q", data)
	}

	if _, err := d.Copy(context.Background(), unit.Source{URL: srv.URL + "/missing.tar"}, dest, false); err == nil {
		t.Error("expected error for 404")
	}
	if _, err := os.Stat(filepath.Join(dest, "missing.tar.part")); !os.IsNotExist(err) {
		t.Error("partial download left behind")
	}
}

func TestDownloader_CopyGit(t *testing.T) {
	dest := t.TempDir()
	fake := gitx.NewFakeGitRepo("abc123", map[string]string{"configure": "#!/bin/sh\n"})
	d := NewDownloader(fsops.NewRealFS(), hash.NewFileHasher(), "")
	d.Git = fake
	src := unit.Source{URL: "git+https://example.com/foo.git#v1.0"}

	got, err := d.Copy(context.Background(), src, dest, false)
	if err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if want := filepath.Join(dest, "foo.git"); got != want {
		t.Errorf("Copy() = %q, want %q", got, want)
	}
	if _, err := os.Stat(filepath.Join(got, "configure")); err != nil {
		t.Errorf("clone content missing: %v", err)
	}
	if !reflect.DeepEqual(fake.Clones, []string{"https://example.com/foo.git#v1.0"}) {
		t.Errorf("Clones = %v", fake.Clones)
	}

	// An existing clone is kept.
	if _, err := d.Copy(context.Background(), src, dest, false); err != nil {
		t.Fatalf("second Copy() error = %v", err)
	}
	if len(fake.Clones) != 1 {
		t.Errorf("Clones = %v, want a single clone", fake.Clones)
	}

	fake.SetError(errors.New("network down"))
	if _, err := d.Copy(context.Background(), src, dest, true); err == nil || !strings.Contains(err.Error(), "network down") {
		t.Errorf("Copy() error = %v, want clone failure", err)
	}
}

func TestDownloader_UnsupportedScheme(t *testing.T) {
	d := NewDownloader(fsops.NewRealFS(), hash.NewFileHasher(), "")
	_, err := d.Copy(context.Background(), unit.Source{URL: "ftp://example.com/foo.tar"}, t.TempDir(), false)
	if err == nil || !strings.Contains(err.Error(), "unsupported source scheme") {
		t.Errorf("error = %v", err)
	}
}

func TestDownloader_Verify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.txt")
	writeFile(t, path, "hello world")
	d := NewDownloader(fsops.NewRealFS(), hash.NewFileHasher(), "")

	good := map[string]string{
		"sha256": "B94D27B9934D3E08A52E52D7DA7DABFAC484EFE37A5380EE9088F7ACE2EFCDE9",
		"sha1":   "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed",
	}
	if err := d.Verify(path, good); err != nil {
		t.Errorf("Verify() = %v, want nil", err)
	}

	err := d.Verify(path, map[string]string{"sha256": "deadbeef"})
	var hashErr *DownloaderHashError
	if !errors.As(err, &hashErr) {
		t.Fatalf("error = %v, want DownloaderHashError", err)
	}
	if hashErr.Algorithm != "sha256" || hashErr.Expected != "deadbeef" || hashErr.Path != path {
		t.Errorf("DownloaderHashError = %+v", hashErr)
	}

	if err := d.Verify(path, map[string]string{"md4": "00"}); err == nil {
		t.Error("expected error for unsupported algorithm")
	}
}

func buildTarGz(t *testing.T, path string, entries map[string]string, extra ...*tar.Header) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, hdr := range extra {
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
	}
	for name, content := range entries {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(content)), Typeflag: tar.TypeReg}
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
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestExtract_TarGz(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "foo-1.0.tar.gz")
	buildTarGz(t, archive,
		map[string]string{"foo-1.0/configure": "#!/bin/sh\n", "foo-1.0/src/main.c": "int main(){}"},
		&tar.Header{Name: "foo-1.0/", Mode: 0755, Typeflag: tar.TypeDir},
		&tar.Header{Name: "foo-1.0/link", Linkname: "configure", Typeflag: tar.TypeSymlink},
	)
	dest := t.TempDir()

	if err := NewArchiveExtractor(fsops.NewRealFS()).Extract(context.Background(), archive, dest); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dest, "foo-1.0", "src", "main.c"))
	if err != nil || string(data) != "int main(){}" {
		t.Errorf("main.c = %q, %v", data, err)
	}
	if target, err := os.Readlink(filepath.Join(dest, "foo-1.0", "link")); err != nil || target != "configure" {
		t.Errorf("link = %q, %v", target, err)
	}
}

func TestExtract_RejectsEscapingEntries(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "evil.tar.gz")
	buildTarGz(t, archive, map[string]string{"../escape.txt": "x"})

	err := NewArchiveExtractor(fsops.NewRealFS()).Extract(context.Background(), archive, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "escapes") {
		t.Errorf("error = %v, want escape rejection", err)
	}
}

func TestExtract_RejectsWritesThroughSymlinks(t *testing.T) {
	outside := t.TempDir()
	archive := filepath.Join(t.TempDir(), "evil.tar.gz")
	buildTarGz(t, archive, map[string]string{"pkg/link/escaped.txt": "x"},
		&tar.Header{Name: "pkg/", Mode: 0755, Typeflag: tar.TypeDir},
		&tar.Header{Name: "pkg/link", Linkname: outside, Typeflag: tar.TypeSymlink},
	)

	err := NewArchiveExtractor(fsops.NewRealFS()).Extract(context.Background(), archive, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "escapes") {
		t.Errorf("error = %v, want escape rejection", err)
	}
	if _, err := os.Stat(filepath.Join(outside, "escaped.txt")); !os.IsNotExist(err) {
		t.Errorf("file written outside the extraction directory: %v", err)
	}
}

func TestExtract_FileReplacesSymlink(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "victim")
	writeFile(t, outside, "original")
	archive := filepath.Join(t.TempDir(), "pkg.tar.gz")
	buildTarGz(t, archive, map[string]string{"pkg/data": "replaced"},
		&tar.Header{Name: "pkg/data", Linkname: outside, Typeflag: tar.TypeSymlink},
	)
	dest := t.TempDir()

	if err := NewArchiveExtractor(fsops.NewRealFS()).Extract(context.Background(), archive, dest); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if data, _ := os.ReadFile(outside); string(data) != "original" {
		t.Errorf("outside file = %q, want it untouched", data)
	}
	info, err := os.Lstat(filepath.Join(dest, "pkg", "data"))
	if err != nil || !info.Mode().IsRegular() {
		t.Errorf("pkg/data = %v, %v, want a regular file", info, err)
	}
}

func TestExtract_RejectsAbsoluteEntries(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "abs.tar.gz")
	buildTarGz(t, archive, map[string]string{"/tmp/abs.txt": "x"})

	err := NewArchiveExtractor(fsops.NewRealFS()).Extract(context.Background(), archive, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "escapes") {
		t.Errorf("error = %v, want escape rejection", err)
	}
}

func TestExtract_Zip(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "foo.zip")
	f, err := os.Create(archive)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("foo/README")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = w.Write([]byte("readme"))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	dest := t.TempDir()
	if err := NewArchiveExtractor(fsops.NewRealFS()).Extract(context.Background(), archive, dest); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if data, err := os.ReadFile(filepath.Join(dest, "foo", "README")); err != nil || string(data) != "readme" {
		t.Errorf("README = %q, %v", data, err)
	}
}

func TestExtract_DirectoryAndPlainFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "tree")
	writeFile(t, filepath.Join(src, "Makefile"), "all:\n")
	plain := filepath.Join(t.TempDir(), "script.sh")
	writeFile(t, plain, "echo hi\n")
	dest := t.TempDir()
	x := NewArchiveExtractor(fsops.NewRealFS())

	if err := x.Extract(context.Background(), src, dest); err != nil {
		t.Fatal(err)
	}
	if err := x.Extract(context.Background(), plain, dest); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{filepath.Join(dest, "tree", "Makefile"), filepath.Join(dest, "script.sh")} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s missing: %v", p, err)
		}
	}
}

const samplePatch = `diff --git a/src/main.c b/src/main.c
--- a/src/main.c
+++ b/src/main.c
@@ -1 +1 @@
-int main(){}
+int main(){return 0;}
diff --git a/NEWS b/NEWS
--- a/NEWS
+++ b/NEWS
@@ -0,0 +1 @@
+patched
`

func TestInspectPatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fix.patch")
	writeFile(t, path, samplePatch)

	files, err := InspectPatch(path)
	if err != nil {
		t.Fatalf("InspectPatch() error = %v", err)
	}
	if !reflect.DeepEqual(files, []string{"src/main.c", "NEWS"}) {
		t.Errorf("files = %v", files)
	}

	empty := filepath.Join(t.TempDir(), "empty.patch")
	writeFile(t, empty, "")
	if _, err := InspectPatch(empty); err == nil {
		t.Error("expected error for empty patch")
	}
}

func TestPatchCmd_ApplyAndUnapplyOrder(t *testing.T) {
	dir := t.TempDir()
	p1 := filepath.Join(dir, "01.patch")
	p2 := filepath.Join(dir, "02.patch")
	writeFile(t, p1, samplePatch)
	writeFile(t, p2, samplePatch)
	runner := &recordingRunner{}
	pc := NewPatchCmd(runner, []string{p1, p2}, logging.Discard())
	env := &unit.Env{SrcDir: "/build/src"}

	if err := pc.Apply(context.Background(), env); err != nil {
		t.Fatal(err)
	}
	if err := pc.Unapply(context.Background(), env); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"patch -p1 -N -i '" + p1 + "'",
		"patch -p1 -N -i '" + p2 + "'",
		"patch -p1 -R -i '" + p2 + "'",
		"patch -p1 -R -i '" + p1 + "'",
	}
	if !reflect.DeepEqual(runner.commands, want) {
		t.Errorf("commands = %v", runner.commands)
	}
	for _, d := range runner.dirs {
		if d != "/build/src" {
			t.Errorf("patch ran in %s", d)
		}
	}
}

func TestShellBuild(t *testing.T) {
	buildDir := t.TempDir()
	runner := &recordingRunner{}
	b := NewShellBuild(runner, BuildCommands{
		Configure: "./configure --prefix=${prefix}",
		Build:     "make",
		Destroot:  "make install DESTDIR=${destdir}",
	})
	env := &unit.Env{Prefix: "/usr/local", BuildDir: buildDir, DestDir: "/stage"}
	ctx := context.Background()

	for _, step := range []func(context.Context, *unit.Env) error{b.Configure, b.Build, b.Destroot, b.Clean, b.Distclean} {
		if err := step(ctx, env); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"./configure --prefix=/usr/local", "make", "make install DESTDIR=/stage"}
	if !reflect.DeepEqual(runner.commands, want) {
		t.Errorf("commands = %v, want %v", runner.commands, want)
	}

	runner.err = errors.New("exit status 2")
	if err := b.Build(ctx, env); err == nil || !strings.HasPrefix(err.Error(), "build:") {
		t.Errorf("error = %v", err)
	}
}

func TestShellRunner(t *testing.T) {
	dir := t.TempDir()
	var stdout bytes.Buffer
	r := &ShellRunner{Stdout: &stdout, Stderr: &stdout, Logger: logging.Discard()}

	if err := r.Run(context.Background(), dir, []string{"GREETING=hi"}, `echo "$GREETING" > out.txt`); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if data, _ := os.ReadFile(filepath.Join(dir, "out.txt")); string(data) != "hi\n" {
		t.Errorf("out.txt = %q", data)
	}
	if err := r.Run(context.Background(), dir, nil, "exit 3"); err == nil {
		t.Error("expected error for failing command")
	}
}
