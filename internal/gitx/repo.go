// Package gitx fetches unit sources from git repositories.
package gitx

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// GitRepo provides an abstraction for the git operations sources need.
type GitRepo interface {
	// Clone clones remote into dest and checks out ref when it is set.
	Clone(ctx context.Context, remote, ref, dest string) error

	// Head returns the commit checked out in dir.
	Head(ctx context.Context, dir string) (string, error)
}

// IsGitURL reports whether raw names a git source: git://, or any scheme
// prefixed with "git+".
func IsGitURL(raw string) bool {
	return strings.HasPrefix(raw, "git://") || strings.HasPrefix(raw, "git+")
}

// ParseURL splits a git source URL into the remote git understands and the
// ref named by its fragment. "git+https://host/x.git#v1.2" gives
// ("https://host/x.git", "v1.2").
func ParseURL(raw string) (remote, ref string, err error) {
	if !IsGitURL(raw) {
		return "", "", fmt.Errorf("not a git url: %q", raw)
	}
	remote, ref, _ = strings.Cut(raw, "#")
	remote = strings.TrimPrefix(remote, "git+")
	if remote == "" || strings.HasSuffix(remote, "://") {
		return "", "", fmt.Errorf("git url %q has no remote", raw)
	}
	return remote, ref, nil
}

// RealGitRepo implements GitRepo using actual git commands.
type RealGitRepo struct{}

// NewRealGitRepo creates a new RealGitRepo.
func NewRealGitRepo() *RealGitRepo {
	return &RealGitRepo{}
}

// Clone runs git clone and, for a ref, git checkout in the new tree.
// A failed clone leaves no partial tree behind.
func (g *RealGitRepo) Clone(ctx context.Context, remote, ref, dest string) error {
	if _, err := g.git(ctx, "", "clone", "--quiet", remote, dest); err != nil {
		_ = os.RemoveAll(dest)
		return fmt.Errorf("failed to clone %s: %w", remote, err)
	}
	if ref == "" {
		return nil
	}
	if _, err := g.git(ctx, dest, "checkout", "--quiet", ref); err != nil {
		_ = os.RemoveAll(dest)
		return fmt.Errorf("failed to check out %s: %w", ref, err)
	}
	return nil
}

// Head returns the full hash of HEAD in dir.
func (g *RealGitRepo) Head(ctx context.Context, dir string) (string, error) {
	out, err := g.git(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return out, nil
}

func (g *RealGitRepo) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(output))
		if msg == "" {
			return "", err
		}
		return "", fmt.Errorf("%w: %s", err, msg)
	}
	return strings.TrimSpace(string(output)), nil
}

// FakeGitRepo implements GitRepo by writing predetermined files.
type FakeGitRepo struct {
	files  map[string]string
	head   string
	err    error
	Clones []string
}

// NewFakeGitRepo creates a FakeGitRepo whose clones contain files.
func NewFakeGitRepo(head string, files map[string]string) *FakeGitRepo {
	return &FakeGitRepo{head: head, files: files}
}

// SetError sets an error to be returned by all methods.
func (g *FakeGitRepo) SetError(err error) {
	g.err = err
}

// Clone records "remote#ref" and writes the configured files under dest.
func (g *FakeGitRepo) Clone(_ context.Context, remote, ref, dest string) error {
	if g.err != nil {
		return g.err
	}
	g.Clones = append(g.Clones, remote+"#"+ref)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	for name, content := range g.files {
		if err := os.WriteFile(dest+string(os.PathSeparator)+name, []byte(content), 0644); err != nil {
			return err
		}
	}
	return nil
}

// Head returns the predetermined commit.
func (g *FakeGitRepo) Head(_ context.Context, _ string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.head, nil
}
