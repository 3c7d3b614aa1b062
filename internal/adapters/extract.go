package adapters

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/danieljhkim/unitforge/internal/fsops"
)

// ArchiveExtractor unpacks tar (plain, gzip, bzip2, zstd) and zip archives.
// Directories are copied in under their own name and any other file is
// copied as is.
type ArchiveExtractor struct {
	FS fsops.FS
}

// NewArchiveExtractor returns an extractor using fs for plain copies.
func NewArchiveExtractor(fs fsops.FS) *ArchiveExtractor {
	return &ArchiveExtractor{FS: fs}
}

// Extract unpacks archive into destDir.
func (x *ArchiveExtractor) Extract(ctx context.Context, archive, destDir string) error {
	info, err := os.Stat(archive)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", archive, err)
	}
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", destDir, err)
	}
	if info.IsDir() {
		return x.FS.Copy(archive, filepath.Join(destDir, filepath.Base(archive)))
	}

	name := strings.ToLower(archive)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return x.extractZip(ctx, archive, destDir)
	case strings.HasSuffix(name, ".tar"),
		strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"),
		strings.HasSuffix(name, ".tar.bz2"), strings.HasSuffix(name, ".tbz2"),
		strings.HasSuffix(name, ".tar.zst"), strings.HasSuffix(name, ".tzst"):
		return x.extractTar(ctx, archive, destDir)
	default:
		return x.FS.Copy(archive, filepath.Join(destDir, filepath.Base(archive)))
	}
}

func (x *ArchiveExtractor) extractTar(ctx context.Context, archive, destDir string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	name := strings.ToLower(archive)
	switch {
	case strings.HasSuffix(name, "gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("%s: %w", archive, err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(name, "bz2"):
		r = bzip2.NewReader(f)
	case strings.HasSuffix(name, "zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("%s: %w", archive, err)
		}
		defer zr.Close()
		r = zr
	}

	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", archive, err)
		}

		target, err := x.entryPath(destDir, hdr.Name)
		if err != nil {
			return err
		}
		mode := os.FileMode(hdr.Mode).Perm()

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := x.FS.MkdirAll(target, mode|0700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := x.writeEntry(target, tr, mode); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := x.FS.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			_ = x.FS.Remove(target)
			if err := x.FS.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeLink:
			src, err := x.entryPath(destDir, hdr.Linkname)
			if err != nil {
				return err
			}
			_ = x.FS.Remove(target)
			if err := os.Link(src, target); err != nil {
				return err
			}
		default:
			// Devices, fifos and pax records have no place in a source tree.
		}
	}
}

func (x *ArchiveExtractor) extractZip(ctx context.Context, archive, destDir string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("%s: %w", archive, err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := x.entryPath(destDir, zf.Name)
		if err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			if err := x.FS.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		err = x.writeEntry(target, rc, zf.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// entryPath joins name onto destDir. Entries that leave destDir, either by
// name or through a symlink extracted earlier, are rejected.
func (x *ArchiveExtractor) entryPath(destDir, name string) (string, error) {
	if filepath.Clean(filepath.FromSlash(name)) == "." {
		return destDir, nil
	}
	if err := x.FS.ValidateRelPath(filepath.FromSlash(name)); err != nil {
		return "", fmt.Errorf("archive entry %q escapes the extraction directory: %w", name, err)
	}
	target := filepath.Join(destDir, filepath.FromSlash(name))

	rel, err := filepath.Rel(destDir, filepath.Dir(target))
	if err != nil {
		return "", fmt.Errorf("archive entry %q escapes the extraction directory", name)
	}
	if rel == "." {
		return target, nil
	}
	dir := destDir
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		dir = filepath.Join(dir, part)
		info, err := x.FS.Lstat(dir)
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			return "", err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return "", fmt.Errorf("archive entry %q escapes the extraction directory through symlink %s", name, dir)
		}
	}
	return target, nil
}

// writeEntry writes a regular file. An existing entry at target is removed
// first so a symlink there is replaced rather than written through.
func (x *ArchiveExtractor) writeEntry(target string, r io.Reader, mode os.FileMode) error {
	if err := x.FS.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	if info, err := x.FS.Lstat(target); err == nil && !info.IsDir() {
		if err := x.FS.Remove(target); err != nil {
			return err
		}
	}
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
