package hash

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileHasher_KnownDigests(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "hello.txt")
	if err := os.WriteFile(testFile, []byte("hello world"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	hasher := NewFileHasher()

	tests := []struct {
		algorithm string
		want      string
	}{
		{"sha256", "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
		{"sha1", "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed"},
		{"SHA256", "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			got, err := hasher.Sum(testFile, tt.algorithm)
			if err != nil {
				t.Fatalf("Sum() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Sum() = %s, want %s", got, tt.want)
			}
		})
	}

	sum, err := hasher.HashFile(testFile)
	if err != nil {
		t.Fatalf("HashFile() error = %v", err)
	}
	if sum != tests[0].want {
		t.Errorf("HashFile() = %s, want sha256 digest", sum)
	}
}

func TestFileHasher_Errors(t *testing.T) {
	hasher := NewFileHasher()
	tmpDir := t.TempDir()

	if _, err := hasher.Sum(filepath.Join(tmpDir, "missing"), "sha256"); err == nil {
		t.Error("expected error for missing file")
	}

	testFile := filepath.Join(tmpDir, "f")
	if err := os.WriteFile(testFile, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := hasher.Sum(testFile, "md4"); err == nil {
		t.Error("expected error for unsupported algorithm")
	}
}

func TestAlgorithms(t *testing.T) {
	got := Algorithms()
	want := []string{"sha1", "sha256", "sha512"}
	if len(got) != len(want) {
		t.Fatalf("Algorithms() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Algorithms()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if !Supported("SHA512") || Supported("crc32") {
		t.Error("Supported() mismatch")
	}
}

func TestFakeHasher(t *testing.T) {
	hasher := NewFakeHasher()

	got, err := hasher.Sum("/any/path", "sha256")
	if err != nil {
		t.Fatalf("Sum() error = %v", err)
	}
	if got != "fakehash" {
		t.Errorf("default hash = %q, want fakehash", got)
	}

	hasher.SetHash("/dl/foo.tar.gz", "sha256", "abc123")
	got, _ = hasher.HashFile("/dl/foo.tar.gz")
	if got != "abc123" {
		t.Errorf("HashFile() = %q, want abc123", got)
	}
	got, _ = hasher.Sum("/dl/foo.tar.gz", "sha512")
	if got != "fakehash" {
		t.Errorf("hash is keyed by algorithm, got %q", got)
	}
}
