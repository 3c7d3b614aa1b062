// Package adapters holds the concrete collaborators a loaded unit uses:
// a downloader for local, file:// and http(s) sources, an archive
// extractor, a patch(1) driver and a shell build command.
package adapters

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/danieljhkim/unitforge/internal/logging"
)

// Runner runs one shell command line.
type Runner interface {
	Run(ctx context.Context, dir string, env []string, command string) error
}

// ShellRunner runs commands through sh -c.
type ShellRunner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// NewShellRunner returns a runner writing to the process stdout/stderr.
func NewShellRunner(logger *slog.Logger) *ShellRunner {
	return &ShellRunner{Stdout: os.Stdout, Stderr: os.Stderr, Logger: logging.Ensure(logger)}
}

// Run executes command in dir with env appended to the process environment.
func (r *ShellRunner) Run(ctx context.Context, dir string, env []string, command string) error {
	logging.Ensure(r.Logger).Debug("exec", "dir", dir, "command", command)

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %q failed: %w", command, err)
	}
	return nil
}
