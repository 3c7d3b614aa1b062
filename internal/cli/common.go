package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/danieljhkim/unitforge/internal/adapters"
	"github.com/danieljhkim/unitforge/internal/clock"
	"github.com/danieljhkim/unitforge/internal/config"
	"github.com/danieljhkim/unitforge/internal/fsops"
	"github.com/danieljhkim/unitforge/internal/handler"
	"github.com/danieljhkim/unitforge/internal/hash"
	"github.com/danieljhkim/unitforge/internal/logging"
	"github.com/danieljhkim/unitforge/internal/manager"
	"github.com/danieljhkim/unitforge/internal/provides"
	"github.com/danieljhkim/unitforge/internal/store"
	"github.com/danieljhkim/unitforge/internal/units"
)

// session is everything one command invocation opens.
type session struct {
	mgr    *manager.Manager
	store  *store.Store
	logger *slog.Logger
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		s.logger.Warn("failed to close state database", "error", err)
	}
}

// loadSettings resolves the data paths and the configuration file.
func loadSettings() (*config.Paths, *config.Config, error) {
	paths, err := config.DefaultPaths()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get config paths: %w", err)
	}
	if rootDir != "" {
		paths = config.PathsFor(rootDir)
	}

	cfg, err := config.Load(paths.Config)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	resolved := cfg.ApplyTo(*paths)
	return &resolved, cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	format, err := logging.ParseFormat(cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.WithRun(logging.New(format, os.Stderr, level)), nil
}

// newSession wires a manager with real implementations of all dependencies.
func newSession(ctx context.Context) (*session, error) {
	paths, cfg, err := loadSettings()
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, store.Config{
		Path:       paths.Database,
		SyncWrites: cfg.Store.SyncWrites,
		BatchSize:  cfg.Store.QueryBatch,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	fs := fsops.NewRealFS()
	runner := adapters.NewShellRunner(logger)
	tools := units.Tools{
		FS:     fs,
		Hasher: hash.NewFileHasher(),
		Runner: runner,
		Logger: logger,
	}
	repos := []units.Repo{units.NewFileRepo(paths.Units, tools)}
	for _, dir := range cfg.ExtraUnitDirs {
		repos = append(repos, units.NewFileRepo(dir, tools))
	}
	repo := units.NewMultiRepo(repos...)

	reg, err := provides.Load(fs, paths.Provides)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	mgr := manager.New(manager.Deps{
		Store:    st,
		Repo:     repo,
		Provides: reg,
		FS:       fs,
		Clock:    clock.RealClock{},
		Groups:   handler.GroupsFromConfig(cfg.Groups, runner),
		Logger:   logger,
		Options: handler.Options{
			Downloads:  paths.Downloads,
			Builds:     paths.Builds,
			Destroot:   paths.Destroot,
			Root:       cfg.FSRoot,
			Prefix:     cfg.Prefix,
			OnConflict: cfg.Activation.OnConflict,
		},
	})
	return &session{mgr: mgr, store: st, logger: logger}, nil
}

// formatError formats an error for display.
func formatError(err error) string {
	initColors()
	return errorColor.Sprintf("Error: %v", err)
}

// outputJSON outputs a value as JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
