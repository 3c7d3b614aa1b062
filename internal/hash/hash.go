// Package hash computes file digests used to verify downloaded sources.
//
// Unit definitions pin each source archive to one or more digests keyed by
// algorithm name ("sha256", "sha512", "sha1"). The package provides a real
// implementation backed by crypto and a fake one for tests.
package hash

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	stdhash "hash"
	"io"
	"os"
	"sort"
	"strings"
)

// Hasher provides an abstraction for file hashing operations.
type Hasher interface {
	// HashFile computes the SHA-256 hash of the file at the given path.
	HashFile(path string) (string, error)

	// Sum computes the digest of the file with the named algorithm.
	Sum(path, algorithm string) (string, error)
}

var algorithms = map[string]func() stdhash.Hash{
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
}

// Algorithms returns the supported algorithm names, sorted.
func Algorithms() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supported reports whether algorithm is known.
func Supported(algorithm string) bool {
	_, ok := algorithms[strings.ToLower(algorithm)]
	return ok
}

// FileHasher implements Hasher with the crypto package.
type FileHasher struct{}

// NewFileHasher creates a new FileHasher.
func NewFileHasher() *FileHasher {
	return &FileHasher{}
}

// HashFile computes the SHA-256 hash of the file at the given path.
func (h *FileHasher) HashFile(path string) (string, error) {
	return h.Sum(path, "sha256")
}

// Sum computes the digest of the file with the named algorithm.
func (h *FileHasher) Sum(path, algorithm string) (string, error) {
	newHash, ok := algorithms[strings.ToLower(algorithm)]
	if !ok {
		return "", fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	hasher := newHash()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// FakeHasher implements Hasher with deterministic hashes for testing.
type FakeHasher struct {
	hashes map[string]string
}

// NewFakeHasher creates a new FakeHasher.
func NewFakeHasher() *FakeHasher {
	return &FakeHasher{
		hashes: make(map[string]string),
	}
}

// SetHash sets the hash for a specific path and algorithm.
func (h *FakeHasher) SetHash(path, algorithm, hash string) {
	h.hashes[algorithm+":"+path] = hash
}

// HashFile returns the predetermined sha256 for the given path.
func (h *FakeHasher) HashFile(path string) (string, error) {
	return h.Sum(path, "sha256")
}

// Sum returns the predetermined hash for the path, or "fakehash".
func (h *FakeHasher) Sum(path, algorithm string) (string, error) {
	if hash, ok := h.hashes[algorithm+":"+path]; ok {
		return hash, nil
	}
	return "fakehash", nil
}
