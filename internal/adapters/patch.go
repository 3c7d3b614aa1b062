package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/danieljhkim/unitforge/internal/logging"
	"github.com/danieljhkim/unitforge/internal/unit"
)

// PatchCmd applies a stack of unified diffs with patch(1), stripping one
// leading path component.
type PatchCmd struct {
	Runner  Runner
	Patches []string
	Logger  *slog.Logger
}

// NewPatchCmd returns a patch system for the given patch files.
func NewPatchCmd(runner Runner, patches []string, logger *slog.Logger) *PatchCmd {
	return &PatchCmd{Runner: runner, Patches: patches, Logger: logging.Ensure(logger)}
}

// Apply applies every patch in order inside env.SrcDir.
func (p *PatchCmd) Apply(ctx context.Context, env *unit.Env) error {
	for _, patch := range p.Patches {
		files, err := InspectPatch(patch)
		if err != nil {
			return err
		}
		logging.Ensure(p.Logger).Info("applying patch", "patch", patch, "files", len(files))
		if err := p.Runner.Run(ctx, env.SrcDir, env.Environ(), "patch -p1 -N -i "+shellQuote(patch)); err != nil {
			return fmt.Errorf("patch %s: %w", patch, err)
		}
	}
	return nil
}

// Unapply reverts the patches in reverse order.
func (p *PatchCmd) Unapply(ctx context.Context, env *unit.Env) error {
	for i := len(p.Patches) - 1; i >= 0; i-- {
		patch := p.Patches[i]
		logging.Ensure(p.Logger).Info("reverting patch", "patch", patch)
		if err := p.Runner.Run(ctx, env.SrcDir, env.Environ(), "patch -p1 -R -i "+shellQuote(patch)); err != nil {
			return fmt.Errorf("unpatch %s: %w", patch, err)
		}
	}
	return nil
}

// InspectPatch parses a unified diff and returns the files it modifies,
// with the leading path component stripped.
func InspectPatch(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read patch: %w", err)
	}
	fileDiffs, err := diff.ParseMultiFileDiff(data)
	if err != nil {
		return nil, fmt.Errorf("malformed patch %s: %w", path, err)
	}
	if len(fileDiffs) == 0 {
		return nil, fmt.Errorf("patch %s contains no file changes", path)
	}

	files := make([]string, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		name := fd.NewName
		if name == "" || name == "/dev/null" {
			name = fd.OrigName
		}
		files = append(files, stripComponent(name))
	}
	return files, nil
}

func stripComponent(name string) string {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
