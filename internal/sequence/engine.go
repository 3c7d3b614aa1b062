package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/danieljhkim/unitforge/internal/logging"
	"github.com/danieljhkim/unitforge/internal/phase"
)

// ActionFunc performs one action against a unit.
type ActionFunc func(ctx context.Context) error

// Target is the unit handle a sequence operates on.
type Target interface {
	// Key identifies the unit and version, e.g. "foo@1.0-0".
	Key() string

	HasPhase(p phase.Phase) bool
	SetPhase(ctx context.Context, p phase.Phase) error
	UnsetPhase(ctx context.Context, p phase.Phase) error

	// Action resolves an action identifier. ok is false when the unit
	// cannot perform it.
	Action(a Action) (fn ActionFunc, ok bool)
}

// Overrider is implemented by targets that replace some sequences' actions.
type Overrider interface {
	SequenceOverrides() map[string][]string
}

// SequenceError reports an action the unit does not provide.
type SequenceError struct {
	Sequence string
	Unit     string
	Action   Action
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("sequence %s: unit %s does not provide action %q", e.Sequence, e.Unit, e.Action)
}

// RequiredPhaseError reports a sequence whose prerequisite phase is missing.
type RequiredPhaseError struct {
	Sequence string
	Unit     string
	Phase    phase.Phase
}

func (e *RequiredPhaseError) Error() string {
	return fmt.Sprintf("sequence %s: unit %s has not reached phase %s", e.Sequence, e.Unit, e.Phase)
}

// Engine invokes sequences and remembers which ones ran during its lifetime.
// An Engine is not safe for concurrent use.
type Engine struct {
	table  Table
	logger *slog.Logger

	tick  int
	ranAt map[string]map[string]int
	log   map[string][]string
}

// New returns an engine over table.
func New(table Table, logger *slog.Logger) *Engine {
	return &Engine{
		table:  table,
		logger: logging.Ensure(logger),
		ranAt:  make(map[string]map[string]int),
		log:    make(map[string][]string),
	}
}

// Table returns the engine's base table.
func (e *Engine) Table() Table {
	return e.table
}

// Invoke runs the named sequence against t.
//
// The predecessor chain always runs first. A forward sequence then runs its
// actions when its phase is missing or its predecessor ran since this
// sequence last ran; a reverse sequence runs while its phase is present.
// force runs the named sequence regardless. Phase changes are committed only
// once every action has succeeded. The successor runs last.
func (e *Engine) Invoke(ctx context.Context, t Target, name string, force bool) error {
	table, err := e.tableFor(t)
	if err != nil {
		return err
	}
	return e.invoke(ctx, table, t, name, force)
}

// Validate reports every action the chain reachable from name needs but t
// cannot provide.
func (e *Engine) Validate(t Target, name string) error {
	table, err := e.tableFor(t)
	if err != nil {
		return err
	}

	var errs []error
	seen := make(map[string]bool)
	var walk func(string) error
	walk = func(n string) error {
		if n == "" || seen[n] {
			return nil
		}
		seen[n] = true
		d, ok := table.Lookup(n)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSequence, n)
		}
		if err := walk(d.Pre); err != nil {
			return err
		}
		for _, a := range d.Actions {
			if _, ok := t.Action(a); !ok {
				errs = append(errs, &SequenceError{Sequence: d.Name, Unit: t.Key(), Action: a})
			}
		}
		return walk(d.Post)
	}
	if err := walk(name); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// Executed returns, in order, the sequences whose actions ran for key.
func (e *Engine) Executed(key string) []string {
	out := make([]string, len(e.log[key]))
	copy(out, e.log[key])
	return out
}

func (e *Engine) tableFor(t Target) (Table, error) {
	o, ok := t.(Overrider)
	if !ok {
		return e.table, nil
	}
	table, err := e.table.WithOverrides(o.SequenceOverrides())
	if err != nil {
		return Table{}, fmt.Errorf("unit %s: %w", t.Key(), err)
	}
	return table, nil
}

func (e *Engine) invoke(ctx context.Context, table Table, t Target, name string, force bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d, ok := table.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSequence, name)
	}
	key := t.Key()
	logger := e.logger.With("sequence", d.Name, "unit", key)

	if d.Pre != "" {
		if err := e.invoke(ctx, table, t, d.Pre, false); err != nil {
			return err
		}
	}

	mustRun := e.mustRun(d, t)
	if force && !mustRun {
		logger.Warn("forcing sequence; phase already reached, side effects will run again")
		mustRun = true
	}

	if mustRun {
		if d.Kind == Forward && d.Required != phase.None && !t.HasPhase(d.Required) {
			return &RequiredPhaseError{Sequence: d.Name, Unit: key, Phase: d.Required}
		}

		// Resolve everything up front so a missing action aborts before any side effect.
		fns := make([]ActionFunc, 0, len(d.Actions))
		for _, a := range d.Actions {
			fn, ok := t.Action(a)
			if !ok {
				return &SequenceError{Sequence: d.Name, Unit: key, Action: a}
			}
			fns = append(fns, fn)
		}

		if len(fns) > 0 {
			logger.Info("running sequence")
		}
		for i, fn := range fns {
			if err := fn(ctx); err != nil {
				return fmt.Errorf("%s %s: %s: %w", d.Name, key, d.Actions[i], err)
			}
		}

		if err := e.commit(ctx, d, t); err != nil {
			return fmt.Errorf("%s %s: %w", d.Name, key, err)
		}
		e.markRan(key, d.Name)
		if len(fns) > 0 {
			e.log[key] = append(e.log[key], d.Name)
		}
	} else {
		logger.Debug("skipping sequence, nothing to do")
	}

	if d.Post != "" {
		if err := e.invoke(ctx, table, t, d.Post, false); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) mustRun(d Descriptor, t Target) bool {
	if d.Kind == Reverse {
		return d.Unset != phase.None && t.HasPhase(d.Unset)
	}
	if d.Pre != "" {
		ran := e.ranAt[t.Key()]
		if ran[d.Pre] > ran[d.Name] {
			return true
		}
	}
	return d.Set == phase.None || !t.HasPhase(d.Set)
}

func (e *Engine) commit(ctx context.Context, d Descriptor, t Target) error {
	first, second := d.Set, d.Unset
	if d.Kind == Reverse {
		first, second = d.Unset, d.Set
	}
	apply := func(p phase.Phase, set bool) error {
		if p == phase.None {
			return nil
		}
		if set {
			if t.HasPhase(p) {
				return nil
			}
			return t.SetPhase(ctx, p)
		}
		if !t.HasPhase(p) {
			return nil
		}
		return t.UnsetPhase(ctx, p)
	}
	if err := apply(first, d.Kind == Forward); err != nil {
		return err
	}
	return apply(second, d.Kind == Reverse)
}

func (e *Engine) markRan(key, name string) {
	e.tick++
	if e.ranAt[key] == nil {
		e.ranAt[key] = make(map[string]int)
	}
	e.ranAt[key][name] = e.tick
}
