package handler

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/danieljhkim/unitforge/internal/adapters"
	"github.com/danieljhkim/unitforge/internal/config"
	"github.com/danieljhkim/unitforge/internal/unit"
)

// ErrUnknownGroup is returned when a unit attaches a group nobody registered.
var ErrUnknownGroup = errors.New("unknown group")

// Hook is a cross-cutting behaviour run around every operation of the
// units it is attached to.
type Hook interface {
	Name() string
	Before(ctx context.Context, operation string, env *unit.Env) error
	After(ctx context.Context, operation string, env *unit.Env) error
}

// CommandGroup runs a configured shell command before or after operations.
// Commands are keyed "pre-<operation>" and "post-<operation>".
type CommandGroup struct {
	name     string
	commands map[string]string
	runner   adapters.Runner
}

// NewCommandGroup creates a CommandGroup.
func NewCommandGroup(name string, commands map[string]string, runner adapters.Runner) *CommandGroup {
	return &CommandGroup{name: name, commands: commands, runner: runner}
}

// Name returns the group name.
func (g *CommandGroup) Name() string { return g.name }

// Before runs the pre-<operation> command, if any.
func (g *CommandGroup) Before(ctx context.Context, operation string, env *unit.Env) error {
	return g.run(ctx, "pre-"+operation, env)
}

// After runs the post-<operation> command, if any.
func (g *CommandGroup) After(ctx context.Context, operation string, env *unit.Env) error {
	return g.run(ctx, "post-"+operation, env)
}

func (g *CommandGroup) run(ctx context.Context, key string, env *unit.Env) error {
	command, ok := g.commands[key]
	if !ok || command == "" {
		return nil
	}
	if err := g.runner.Run(ctx, env.Root, env.Environ(), env.Expand(command)); err != nil {
		return fmt.Errorf("group %s %s: %w", g.name, key, err)
	}
	return nil
}

// Groups is the registry of named hooks.
type Groups struct {
	hooks map[string]Hook
}

// NewGroups creates a registry holding hooks.
func NewGroups(hooks ...Hook) *Groups {
	g := &Groups{hooks: make(map[string]Hook, len(hooks))}
	for _, h := range hooks {
		g.Register(h)
	}
	return g
}

// GroupsFromConfig registers a CommandGroup for every configured group.
func GroupsFromConfig(cfg map[string]config.GroupConfig, runner adapters.Runner) *Groups {
	g := NewGroups()
	for name, gc := range cfg {
		g.Register(NewCommandGroup(name, gc.Hooks, runner))
	}
	return g
}

// Register adds or replaces a hook.
func (g *Groups) Register(h Hook) {
	g.hooks[h.Name()] = h
}

// Names returns the registered group names, sorted.
func (g *Groups) Names() []string {
	out := make([]string, 0, len(g.hooks))
	for name := range g.hooks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the hooks for names, in the given order.
func (g *Groups) Resolve(names []string) ([]Hook, error) {
	out := make([]Hook, 0, len(names))
	for _, name := range names {
		h, ok := g.hooks[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, name)
		}
		out = append(out, h)
	}
	return out, nil
}
