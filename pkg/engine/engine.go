package engine

import (
	"context"
	"errors"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/routelog/pkg/compile"
	"github.com/saylorsolutions/routelog/pkg/entries"
	"github.com/saylorsolutions/routelog/pkg/event"
	"github.com/saylorsolutions/routelog/pkg/iterator"
	"sync/atomic"
	"time"
)

var (
	ErrNoRuleset = errors.New("no ruleset loaded")
)

// Dispatcher accepts output events for delivery.
// Dispatch must not block on destination I/O.
type Dispatcher interface {
	Dispatch(ctx context.Context, out event.Output) error
}

// DispatchFunc adapts a function into a Dispatcher.
type DispatchFunc func(ctx context.Context, out event.Output) error

func (f DispatchFunc) Dispatch(ctx context.Context, out event.Output) error {
	return f(ctx, out)
}

// Each evaluates rs against a line context, calling yield for each output event as it's produced.
// Rules run in ordinal order. Actions of a matching rule run in declared order until a stop, or until yield returns false.
// Each reports whether any rule's condition held.
func Each(rs *compile.Ruleset, e *entries.Entry, yield func(out event.Output) bool) bool {
	if rs == nil {
		return false
	}
	var (
		matched bool
		emit    = compile.Emitter(yield)
	)
	for _, rule := range rs.Rules {
		if !rule.Predicate(e) {
			continue
		}
		matched = true
		for _, action := range rule.Actions {
			if action.Exec(e, emit) == compile.Halt {
				return matched
			}
		}
	}
	return matched
}

// Evaluate collects every output event for a line context.
func Evaluate(rs *compile.Ruleset, e *entries.Entry) []event.Output {
	var outs []event.Output
	Each(rs, e, func(out event.Output) bool {
		outs = append(outs, out)
		return true
	})
	return outs
}

// Stats is a point in time view of Engine counters.
type Stats struct {
	Lines          int64     `json:"lines"`
	Events         int64     `json:"events"`
	Unmatched      int64     `json:"unmatched"`
	DispatchErrors int64     `json:"dispatchErrors"`
	Rules          int       `json:"rules"`
	Reloads        int64     `json:"reloads"`
	LoadedAt       time.Time `json:"loadedAt"`
}

type loaded struct {
	rules *compile.Ruleset
	at    time.Time
}

// Engine evaluates lines against the active ruleset.
// The active ruleset is replaced wholesale with Swap, so an evaluation in flight always sees one consistent ruleset.
// An Engine may be used by many goroutines at once.
type Engine struct {
	log       hclog.Logger
	extractor entries.Extractor
	active    atomic.Pointer[loaded]

	lines          atomic.Int64
	events         atomic.Int64
	unmatched      atomic.Int64
	dispatchErrors atomic.Int64
	reloads        atomic.Int64
}

// New creates an Engine. The extractor builds the well-known fields of each line, and may be nil.
func New(log hclog.Logger, extractor entries.Extractor, rs *compile.Ruleset) *Engine {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if extractor == nil {
		extractor = entries.Nop{}
	}
	e := &Engine{
		log:       log.Named("engine"),
		extractor: extractor,
	}
	if rs != nil {
		e.active.Store(&loaded{rules: rs, at: time.Now()})
	}
	return e
}

// Extractor returns the extractor used to build line contexts.
func (e *Engine) Extractor() entries.Extractor {
	return e.extractor
}

// Load returns the active ruleset, or nil if none has been set.
func (e *Engine) Load() *compile.Ruleset {
	l := e.active.Load()
	if l == nil {
		return nil
	}
	return l.rules
}

// Swap makes rs the active ruleset and returns the previous one.
func (e *Engine) Swap(rs *compile.Ruleset) *compile.Ruleset {
	prev := e.active.Swap(&loaded{rules: rs, at: time.Now()})
	e.reloads.Add(1)
	e.log.Debug("Swapped active ruleset", "rules", rs.Len())
	if prev == nil {
		return nil
	}
	return prev.rules
}

// Reload builds a new ruleset with build and swaps it in only if build succeeds.
// On failure the active ruleset is left in place and the error is returned.
func (e *Engine) Reload(build func() (*compile.Ruleset, error)) error {
	start := time.Now()
	rs, err := build()
	if err != nil {
		e.log.Error("Rejected ruleset, keeping the active one", "error", err)
		return err
	}
	e.Swap(rs)
	e.log.Info("Loaded ruleset", "rules", rs.Len(), "duration", time.Since(start).String())
	return nil
}

// Entry builds the line context for line.
func (e *Engine) Entry(line iterator.Line) *entries.Entry {
	return entries.Extract(e.extractor, line.Text, line.Num, line.Source)
}

// Each evaluates a single line against the active ruleset.
func (e *Engine) Each(line iterator.Line, yield func(out event.Output) bool) {
	e.lines.Add(1)
	matched := Each(e.Load(), e.Entry(line), func(out event.Output) bool {
		e.events.Add(1)
		return yield(out)
	})
	if !matched {
		e.unmatched.Add(1)
	}
}

// Evaluate collects every output event for a single line.
func (e *Engine) Evaluate(line iterator.Line) []event.Output {
	var outs []event.Output
	e.Each(line, func(out event.Output) bool {
		outs = append(outs, out)
		return true
	})
	return outs
}

// Run evaluates every line from src in order, handing output events to d.
// Dispatch failures are counted and logged, and never stop the stream.
// Run returns when src is exhausted or ctx is cancelled, and only returns an error if src fails.
func (e *Engine) Run(ctx context.Context, src iterator.Iterator, d Dispatcher) error {
	if e.Load() == nil {
		return ErrNoRuleset
	}
	start := time.Now()
	e.log.Info("Processing lines")
	err := iterator.Cancellable(ctx, src).Iterate(func(line iterator.Line) error {
		e.Each(line, func(out event.Output) bool {
			if err := d.Dispatch(ctx, out); err != nil {
				e.dispatchErrors.Add(1)
				e.log.Warn("Failed to dispatch output", "destination", out.Destination, "source", out.Source, "line", out.Line, "error", err)
			}
			return true
		})
		return nil
	})
	if err != nil {
		e.log.Error("Line source failed", "error", err)
		return err
	}
	e.log.Info("Finished processing lines", "duration", time.Since(start).String(), "lines", e.lines.Load())
	return nil
}

func (e *Engine) Stats() Stats {
	s := Stats{
		Lines:          e.lines.Load(),
		Events:         e.events.Load(),
		Unmatched:      e.unmatched.Load(),
		DispatchErrors: e.dispatchErrors.Load(),
		Reloads:        e.reloads.Load(),
	}
	if l := e.active.Load(); l != nil {
		s.Rules = l.rules.Len()
		s.LoadedAt = l.at
	}
	return s
}
