package adapters

import (
	"context"
	"fmt"
	"os"

	"github.com/danieljhkim/unitforge/internal/unit"
)

// BuildCommands holds the command line for each build step. Values are
// expanded against the unit environment before they run.
type BuildCommands struct {
	Configure string
	Build     string
	Destroot  string
	Clean     string
	Distclean string
}

// ShellBuild runs BuildCommands through a Runner. An empty command is a no-op.
type ShellBuild struct {
	Runner   Runner
	Commands BuildCommands
}

// NewShellBuild returns a build command over cmds.
func NewShellBuild(runner Runner, cmds BuildCommands) *ShellBuild {
	return &ShellBuild{Runner: runner, Commands: cmds}
}

// Configure runs in the build directory.
func (b *ShellBuild) Configure(ctx context.Context, env *unit.Env) error {
	return b.run(ctx, env, env.BuildDir, "configure", b.Commands.Configure)
}

// Build runs in the build directory.
func (b *ShellBuild) Build(ctx context.Context, env *unit.Env) error {
	return b.run(ctx, env, env.BuildDir, "build", b.Commands.Build)
}

// Destroot installs into env.DestDir.
func (b *ShellBuild) Destroot(ctx context.Context, env *unit.Env) error {
	return b.run(ctx, env, env.BuildDir, "destroot", b.Commands.Destroot)
}

// Clean runs in the build directory.
func (b *ShellBuild) Clean(ctx context.Context, env *unit.Env) error {
	return b.run(ctx, env, env.BuildDir, "clean", b.Commands.Clean)
}

// Distclean runs in the build directory.
func (b *ShellBuild) Distclean(ctx context.Context, env *unit.Env) error {
	return b.run(ctx, env, env.BuildDir, "distclean", b.Commands.Distclean)
}

func (b *ShellBuild) run(ctx context.Context, env *unit.Env, dir, step, command string) error {
	if command == "" {
		return nil
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("%s: working directory: %w", step, err)
	}
	if err := b.Runner.Run(ctx, dir, env.Environ(), env.Expand(command)); err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	return nil
}
