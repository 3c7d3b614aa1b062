package handler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danieljhkim/unitforge/internal/store"
	"github.com/danieljhkim/unitforge/internal/unit"
)

func (h *Handler) ensureDir(dir string) func(context.Context) error {
	return func(context.Context) error {
		if err := h.fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
		return nil
	}
}

// resetDir removes dir and creates it again, empty.
func (h *Handler) resetDir(dir string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := h.fs.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to clear %s: %w", dir, err)
		}
		return h.ensureDir(dir)(ctx)
	}
}

func (h *Handler) download(ctx context.Context) error {
	dir := h.layout.DownloadDir
	return h.run(ctx, "download", h.ensureDir(dir), func(ctx context.Context, env *unit.Env) error {
		for _, src := range h.unit.Sources {
			path, err := h.unit.Downloader.Copy(ctx, src, dir, false)
			if err != nil {
				return err
			}
			if len(src.Hashes) > 0 {
				if err := h.unit.Downloader.Verify(path, src.Hashes); err != nil {
					// Drop the bad file so the next attempt fetches it again.
					if rmErr := h.fs.RemoveAll(path); rmErr != nil {
						h.logger.Warn("failed to remove unverified download", "path", path, "error", rmErr)
					}
					return err
				}
			}
			h.logger.Info("downloaded", "source", src.URL, "path", path)
		}
		return h.recordDirs(ctx, store.InstallDirectories{Download: dir})
	})
}

func (h *Handler) extract(ctx context.Context) error {
	dir := h.layout.SrcDir
	return h.run(ctx, "extract", h.resetDir(dir), func(ctx context.Context, env *unit.Env) error {
		for _, src := range h.unit.Sources {
			name, err := src.StoredName()
			if err != nil {
				return err
			}
			archive := filepath.Join(h.downloadDir(), name)
			if err := h.unit.Extractor.Extract(ctx, archive, dir); err != nil {
				return fmt.Errorf("failed to extract %s: %w", archive, err)
			}
		}
		srcDir, err := h.realSourceDir(dir)
		if err != nil {
			return err
		}
		return h.recordDirs(ctx, store.InstallDirectories{Source: srcDir})
	})
}

// realSourceDir returns the single top-level directory of an extracted
// tree, or dir itself when the tree has any other shape.
func (h *Handler) realSourceDir(dir string) (string, error) {
	entries, err := h.fs.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", dir, err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}

func (h *Handler) patch(ctx context.Context) error {
	return h.run(ctx, "patch", nil, func(ctx context.Context, env *unit.Env) error {
		return h.unit.PatchSystem.Apply(ctx, env)
	})
}

func (h *Handler) unpatch(ctx context.Context) error {
	return h.run(ctx, "unpatch", nil, func(ctx context.Context, env *unit.Env) error {
		if ok, _ := h.fs.Exists(env.SrcDir); !ok {
			h.logger.Warn("source tree is gone, nothing to unpatch", "path", env.SrcDir)
			return nil
		}
		return h.unit.PatchSystem.Unapply(ctx, env)
	})
}

func (h *Handler) configure(ctx context.Context) error {
	dir := h.layout.BuildDir
	return h.run(ctx, "configure", h.ensureDir(dir), func(ctx context.Context, env *unit.Env) error {
		env.BuildDir = dir
		if err := h.unit.BuildCommand.Configure(ctx, env); err != nil {
			return err
		}
		return h.recordDirs(ctx, store.InstallDirectories{Build: dir})
	})
}

func (h *Handler) build(ctx context.Context) error {
	dir := h.layout.BuildDir
	return h.run(ctx, "build", h.ensureDir(dir), func(ctx context.Context, env *unit.Env) error {
		env.BuildDir = dir
		if err := h.unit.BuildCommand.Build(ctx, env); err != nil {
			return err
		}
		return h.recordDirs(ctx, store.InstallDirectories{Build: dir})
	})
}

func (h *Handler) destroot(ctx context.Context) error {
	dir := h.layout.DestrootDir
	return h.run(ctx, "destroot", h.resetDir(dir), func(ctx context.Context, env *unit.Env) error {
		env.DestDir = dir
		if err := h.unit.BuildCommand.Destroot(ctx, env); err != nil {
			return err
		}
		return h.recordDirs(ctx, store.InstallDirectories{Destroot: dir})
	})
}

func (h *Handler) clean(ctx context.Context) error {
	return h.run(ctx, "clean", nil, func(ctx context.Context, env *unit.Env) error {
		if ok, _ := h.fs.Exists(env.BuildDir); !ok {
			h.logger.Warn("build tree is gone, nothing to clean", "path", env.BuildDir)
			return nil
		}
		return h.unit.BuildCommand.Clean(ctx, env)
	})
}

func (h *Handler) distclean(ctx context.Context) error {
	return h.run(ctx, "distclean", nil, func(ctx context.Context, env *unit.Env) error {
		if ok, _ := h.fs.Exists(env.BuildDir); !ok {
			h.logger.Warn("build tree is gone, nothing to distclean", "path", env.BuildDir)
			return nil
		}
		return h.unit.BuildCommand.Distclean(ctx, env)
	})
}

func (h *Handler) deleteDownload(ctx context.Context) error {
	return h.run(ctx, "delete_download", nil, func(ctx context.Context, env *unit.Env) error {
		if env.DownloadDir == "" {
			return nil
		}
		// The download directory is shared by every version of the unit;
		// only this version's files go.
		for _, src := range h.unit.Sources {
			name, err := src.StoredName()
			if err != nil {
				return err
			}
			if err := h.removeTree(filepath.Join(env.DownloadDir, name)); err != nil {
				return err
			}
		}
		return h.removeIfEmpty(env.DownloadDir)
	})
}

func (h *Handler) deleteSource(ctx context.Context) error {
	return h.run(ctx, "delete_source", nil, func(ctx context.Context, env *unit.Env) error {
		if err := h.removeTree(env.SrcDir); err != nil {
			return err
		}
		if err := h.removeTree(h.layout.SrcDir); err != nil {
			return err
		}
		return h.removeIfEmpty(h.layout.WorkDir)
	})
}

func (h *Handler) deleteBuild(ctx context.Context) error {
	return h.run(ctx, "delete_build", nil, func(ctx context.Context, env *unit.Env) error {
		if err := h.removeTree(env.BuildDir); err != nil {
			return err
		}
		return h.removeIfEmpty(h.layout.WorkDir)
	})
}

func (h *Handler) deleteDestroot(ctx context.Context) error {
	return h.run(ctx, "delete_destroot", nil, func(ctx context.Context, env *unit.Env) error {
		if err := h.removeTree(env.DestDir); err != nil {
			return err
		}
		return h.removeIfEmpty(filepath.Dir(h.layout.DestrootDir))
	})
}

func (h *Handler) removeTree(dir string) error {
	if dir == "" {
		return nil
	}
	h.logger.Debug("removing", "path", dir)
	if err := h.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	return nil
}

func (h *Handler) removeIfEmpty(dir string) error {
	empty, err := h.fs.IsEmptyDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if !empty {
		return nil
	}
	return h.fs.Remove(dir)
}
