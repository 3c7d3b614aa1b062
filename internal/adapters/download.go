package adapters

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danieljhkim/unitforge/internal/fsops"
	"github.com/danieljhkim/unitforge/internal/gitx"
	"github.com/danieljhkim/unitforge/internal/hash"
	"github.com/danieljhkim/unitforge/internal/logging"
	"github.com/danieljhkim/unitforge/internal/unit"
)

// DownloaderHashError reports a downloaded file whose digest does not match.
type DownloaderHashError struct {
	Path      string
	Algorithm string
	Expected  string
	Actual    string
}

func (e *DownloaderHashError) Error() string {
	return fmt.Sprintf("%s: %s mismatch: expected %s, got %s", e.Path, e.Algorithm, e.Expected, e.Actual)
}

// Downloader fetches sources from local paths, file:// and http(s) URLs,
// and clones git:// and git+<scheme>:// URLs.
type Downloader struct {
	FS     fsops.FS
	Hasher hash.Hasher
	Client *http.Client
	Git    gitx.GitRepo
	Logger *slog.Logger

	// BaseDir resolves relative local sources, normally the unit directory.
	BaseDir string
}

// NewDownloader returns a downloader resolving relative paths against baseDir.
func NewDownloader(fs fsops.FS, hasher hash.Hasher, baseDir string) *Downloader {
	return &Downloader{
		FS:      fs,
		Hasher:  hasher,
		Client:  http.DefaultClient,
		Git:     gitx.NewRealGitRepo(),
		BaseDir: baseDir,
	}
}

// Copy stores src in destDir and returns the stored path.
func (d *Downloader) Copy(ctx context.Context, src unit.Source, destDir string, overwrite bool) (string, error) {
	name, err := src.StoredName()
	if err != nil {
		return "", err
	}
	dest := filepath.Join(destDir, name)

	exists, err := d.FS.Exists(dest)
	if err != nil {
		return "", fmt.Errorf("failed to check %s: %w", dest, err)
	}
	if exists {
		if !overwrite {
			return dest, nil
		}
		if err := d.FS.RemoveAll(dest); err != nil {
			return "", fmt.Errorf("failed to remove stale download: %w", err)
		}
	}
	if err := d.FS.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	if gitx.IsGitURL(src.URL) {
		if err := d.clone(ctx, src.URL, dest); err != nil {
			return "", fmt.Errorf("failed to fetch %s: %w", src.URL, err)
		}
		return dest, nil
	}

	u, err := url.Parse(src.URL)
	if err != nil {
		return "", fmt.Errorf("invalid source url %q: %w", src.URL, err)
	}
	switch u.Scheme {
	case "":
		local := src.URL
		if !filepath.IsAbs(local) {
			local = filepath.Join(d.BaseDir, local)
		}
		err = d.FS.Copy(local, dest)
	case "file":
		err = d.FS.Copy(u.Path, dest)
	case "http", "https":
		err = d.fetch(ctx, src.URL, dest)
	default:
		return "", fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", src.URL, err)
	}
	return dest, nil
}

func (d *Downloader) clone(ctx context.Context, rawURL, dest string) error {
	remote, ref, err := gitx.ParseURL(rawURL)
	if err != nil {
		return err
	}
	git := d.Git
	if git == nil {
		git = gitx.NewRealGitRepo()
	}
	if err := git.Clone(ctx, remote, ref, dest); err != nil {
		return err
	}
	head, err := git.Head(ctx, dest)
	if err != nil {
		return err
	}
	logging.Ensure(d.Logger).Info("cloned", "remote", remote, "ref", ref, "commit", head)
	return nil
}

func (d *Downloader) fetch(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

// Verify checks every listed digest of path, in algorithm order.
func (d *Downloader) Verify(path string, hashes map[string]string) error {
	algos := make([]string, 0, len(hashes))
	for algo := range hashes {
		algos = append(algos, algo)
	}
	sort.Strings(algos)

	for _, algo := range algos {
		actual, err := d.Hasher.Sum(path, algo)
		if err != nil {
			return fmt.Errorf("failed to hash %s: %w", path, err)
		}
		expected := strings.ToLower(hashes[algo])
		if actual != expected {
			return &DownloaderHashError{Path: path, Algorithm: algo, Expected: expected, Actual: actual}
		}
	}
	return nil
}
