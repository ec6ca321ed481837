package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/hawatch/internal/metrics"
	"github.com/gyaneshwarpardhi/hawatch/internal/notify"
	"github.com/gyaneshwarpardhi/hawatch/internal/rules"
	"github.com/gyaneshwarpardhi/hawatch/internal/stats"
)

var (
	ErrFetch           = errors.New("fetch failed")
	ErrDecode          = errors.New("decode failed")
	ErrCycleInProgress = errors.New("cycle already in progress")
)

// Fetcher returns one raw stats report.
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// OutcomeKind classifies a finished cycle.
type OutcomeKind string

const (
	OutcomeMatches     OutcomeKind = "matches"
	OutcomeFetchError  OutcomeKind = "fetch_error"
	OutcomeDecodeError OutcomeKind = "decode_error"
)

// MatchRef names a rule match without carrying the record.
type MatchRef struct {
	RuleID    string `json:"rule_id"`
	Event     string `json:"event,omitempty"`
	Aggregate string `json:"pxname"`
	Member    string `json:"svname"`
}

// Outcome is the result of one cycle.
type Outcome struct {
	ID         string          `json:"id"`
	Target     string          `json:"target"`
	Kind       OutcomeKind     `json:"kind"`
	Matches    []MatchRef      `json:"matches"`
	Restarted  bool            `json:"restarted"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMs int64           `json:"duration_ms"`
	Err        error           `json:"-"`
	Snapshot   *stats.Snapshot `json:"-"`
}

// Options configures an Engine.
type Options struct {
	Target   string
	Interval time.Duration
	// Aggregate, Member and Counter select the row and field watched for
	// restarts. An empty Aggregate disables restart detection.
	Aggregate string
	Member    string
	Counter   string
	Logger    *slog.Logger
}

// Engine polls one target. Cycles never overlap.
type Engine struct {
	target   string
	fetcher  Fetcher
	rules    *rules.Set
	emitter  notify.Emitter
	interval time.Duration
	member   string
	counter  string
	logger   *slog.Logger

	cycle   sync.Mutex // held for the whole of RunCycle
	stateMu sync.RWMutex
	state   State
	last    atomic.Pointer[Outcome]
	good    atomic.Pointer[Outcome]
}

// New creates an Engine. set and emitter must not be nil.
func New(f Fetcher, set *rules.Set, emitter notify.Emitter, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	e := &Engine{
		target:   opts.Target,
		fetcher:  f,
		rules:    set,
		emitter:  emitter,
		interval: opts.Interval,
		member:   opts.Member,
		counter:  opts.Counter,
		logger:   logger.With("target", opts.Target),
		state:    State{TrackedAggregate: opts.Aggregate},
	}
	metrics.RulesLoaded.WithLabelValues(e.target).Set(float64(set.Len()))
	return e
}

func (e *Engine) Target() string          { return e.target }
func (e *Engine) Rules() *rules.Set       { return e.rules }
func (e *Engine) Interval() time.Duration { return e.interval }

// State returns a copy of the current engine state.
func (e *Engine) State() State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// Last returns the most recent outcome, or nil before the first cycle.
func (e *Engine) Last() *Outcome {
	return e.last.Load()
}

// LastGood returns the most recent successful outcome, or nil.
func (e *Engine) LastGood() *Outcome {
	return e.good.Load()
}

// AddRule appends r to the engine's rule set.
func (e *Engine) AddRule(r *rules.Rule) error {
	if err := e.rules.Add(r); err != nil {
		return err
	}
	metrics.RulesLoaded.WithLabelValues(e.target).Set(float64(e.rules.Len()))
	return nil
}

// RunCycle fetches, decodes and evaluates once, then emits notifications:
// for each match the rule's event (if any) followed by its handler (if
// any), then one update. Fetch and decode failures emit one error
// notification and are returned wrapped in ErrFetch or ErrDecode along
// with the outcome. A call made while another cycle is running is dropped
// with ErrCycleInProgress.
func (e *Engine) RunCycle(ctx context.Context) (*Outcome, error) {
	if !e.cycle.TryLock() {
		metrics.CyclesSkipped.WithLabelValues(e.target).Inc()
		return nil, ErrCycleInProgress
	}
	defer e.cycle.Unlock()

	start := time.Now()
	out := &Outcome{ID: uuid.New().String(), Target: e.target, StartedAt: start, Matches: []MatchRef{}}
	defer func() {
		out.DurationMs = time.Since(start).Milliseconds()
		metrics.CycleDuration.WithLabelValues(e.target).Observe(float64(out.DurationMs))
		metrics.CyclesTotal.WithLabelValues(e.target, string(out.Kind)).Inc()
		e.last.Store(out)
		if out.Kind == OutcomeMatches {
			e.good.Store(out)
		}
	}()

	raw, err := e.fetcher.Fetch(ctx)
	if err != nil {
		return e.fail(ctx, out, OutcomeFetchError, fmt.Errorf("%w: %w", ErrFetch, err))
	}
	snap, err := stats.Decode(raw)
	if err != nil {
		return e.fail(ctx, out, OutcomeDecodeError, fmt.Errorf("%w: %w", ErrDecode, err))
	}

	e.stateMu.RLock()
	prev := e.state
	e.stateMu.RUnlock()

	matches := rules.EvaluateSnapshot(e.rules, snap, prev.Context())

	next, restarted := CheckRestart(snap, prev, e.member, e.counter)
	e.stateMu.Lock()
	e.state = next
	e.stateMu.Unlock()
	if next.TrackedAggregate != "" {
		metrics.LastTotalSessions.WithLabelValues(e.target).Set(float64(next.LastTotalSessions))
	}
	if restarted {
		metrics.Restarts.WithLabelValues(e.target).Inc()
		e.logger.Warn("load balancer restart detected",
			"aggregate", next.TrackedAggregate,
			"previous", prev.LastTotalSessions,
			"current", next.LastTotalSessions)
	}

	out.Kind = OutcomeMatches
	out.Restarted = restarted
	out.Snapshot = snap

	for _, m := range matches {
		out.Matches = append(out.Matches, MatchRef{
			RuleID:    m.Rule.ID,
			Event:     m.Rule.Event,
			Aggregate: m.Record.Aggregate(),
			Member:    m.Record.Member(),
		})
		metrics.RuleMatches.WithLabelValues(e.target, m.Rule.ID).Inc()
		if m.Rule.Event != "" {
			e.emitter.Emit(ctx, notify.Notification{
				Name:    m.Rule.Event,
				Target:  e.target,
				CycleID: out.ID,
				RuleID:  m.Rule.ID,
				Record:  m.Record,
			})
		}
		if m.Rule.Handler != nil {
			e.runHandler(ctx, m)
		}
	}

	e.emitter.Emit(ctx, notify.Notification{
		Name:     notify.Update,
		Target:   e.target,
		CycleID:  out.ID,
		Snapshot: snap,
	})
	e.logger.Debug("cycle complete", "cycle_id", out.ID, "records", len(snap.Records), "matches", len(matches))
	return out, nil
}

// runHandler isolates the cycle from a panicking handler.
func (e *Engine) runHandler(ctx context.Context, m rules.Match) {
	defer func() {
		if r := recover(); r != nil {
			handlerType := m.Rule.HandlerType
			if handlerType == "" {
				handlerType = "func"
			}
			metrics.HandlerRuns.WithLabelValues(handlerType, "panic").Inc()
			e.logger.Error("rule handler panicked", "rule_id", m.Rule.ID, "handler_type", handlerType, "panic", r)
		}
	}()
	m.Rule.Handler(ctx, m.Record)
}

func (e *Engine) fail(ctx context.Context, out *Outcome, kind OutcomeKind, err error) (*Outcome, error) {
	out.Kind = kind
	out.Err = err
	out.Error = err.Error()
	e.logger.Warn("cycle failed", "cycle_id", out.ID, "kind", kind, "err", err)
	e.emitter.Emit(ctx, notify.Notification{
		Name:    notify.Error,
		Target:  e.target,
		CycleID: out.ID,
		Err:     err,
	})
	return out, err
}

// Run cycles until ctx is cancelled. The next cycle starts Interval after
// the previous one finished. Cancellation stops scheduling; a cycle that
// has already started runs to completion.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("engine started", "interval", e.interval, "rules", e.rules.Len())
	defer e.logger.Info("engine stopped")

	cycleCtx := context.WithoutCancel(ctx)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if _, err := e.RunCycle(cycleCtx); errors.Is(err, ErrCycleInProgress) {
			e.logger.Debug("scheduled cycle skipped, manual cycle in progress")
		}
		timer.Reset(e.interval)
	}
}
