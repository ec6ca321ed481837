package engine

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/hawatch/internal/action"
	"github.com/gyaneshwarpardhi/hawatch/internal/config"
	"github.com/gyaneshwarpardhi/hawatch/internal/fetch"
	"github.com/gyaneshwarpardhi/hawatch/internal/notify"
	"github.com/gyaneshwarpardhi/hawatch/internal/rules"
)

// Group owns one Engine per target. Engines share nothing but the
// notification emitter.
type Group struct {
	mu      sync.RWMutex
	engines map[string]*Engine
	order   []string
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewGroup creates an empty group.
func NewGroup(logger *slog.Logger) *Group {
	if logger == nil {
		logger = slog.Default()
	}
	return &Group{engines: make(map[string]*Engine), logger: logger}
}

// FromConfig builds an engine for every configured target.
func FromConfig(cfg *config.Config, reg *action.Registry, emitter notify.Emitter, logger *slog.Logger) (*Group, error) {
	g := NewGroup(logger)
	for _, t := range cfg.Targets {
		rs, err := rules.ForTarget(cfg, t, reg)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", t.Name, err)
		}
		set, err := rules.NewSet(rs...)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", t.Name, err)
		}
		f := fetch.NewHTTP(t.URL, t.Username, t.Password, time.Duration(t.TimeoutMs)*time.Millisecond)
		e := New(f, set, emitter, Options{
			Target:    t.Name,
			Interval:  time.Duration(t.IntervalMs) * time.Millisecond,
			Aggregate: t.Restart.Aggregate,
			Member:    t.Restart.Member,
			Counter:   t.Restart.Counter,
			Logger:    g.logger,
		})
		if err := g.Add(e); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Add registers e under its target name.
func (g *Group) Add(e *Engine) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.engines[e.Target()]; ok {
		return fmt.Errorf("duplicate target %q", e.Target())
	}
	g.engines[e.Target()] = e
	g.order = append(g.order, e.Target())
	return nil
}

// Get returns the engine for target.
func (g *Group) Get(target string) (*Engine, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.engines[target]
	return e, ok
}

// Engines returns all engines in configuration order.
func (g *Group) Engines() []*Engine {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Engine, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.engines[name])
	}
	return out
}

// Start runs every engine's loop in its own goroutine.
func (g *Group) Start(ctx context.Context) {
	for _, e := range g.Engines() {
		g.wg.Add(1)
		go func(e *Engine) {
			defer g.wg.Done()
			e.Run(ctx)
		}(e)
	}
}

// Wait blocks until every loop started by Start has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}

// ReloadReport describes what a reload changed.
type ReloadReport struct {
	Added   map[string][]string `json:"added"`             // target -> rule IDs
	Ignored []string            `json:"ignored,omitempty"` // human-readable reasons
}

// Reload merges the rules of cfg into the running engines. Rule sets are
// append-only: rules with new IDs are added, while changed or removed
// rules and added or removed targets are reported and otherwise ignored.
func (g *Group) Reload(cfg *config.Config, reg *action.Registry) (ReloadReport, error) {
	report := ReloadReport{Added: make(map[string][]string)}

	configured := make(map[string]config.Target, len(cfg.Targets))
	for _, t := range cfg.Targets {
		configured[t.Name] = t
		if _, ok := g.Get(t.Name); !ok {
			report.Ignored = append(report.Ignored, fmt.Sprintf("target %s: new targets need a restart", t.Name))
		}
	}

	// Build everything first so a bad config changes nothing.
	built := make(map[*Engine][]*rules.Rule)
	for _, e := range g.Engines() {
		if _, ok := configured[e.Target()]; !ok {
			report.Ignored = append(report.Ignored, fmt.Sprintf("target %s: removed targets keep running until restart", e.Target()))
			continue
		}
		rs, err := rules.Build(cfg.Rules, reg, e.Target())
		if err != nil {
			return ReloadReport{}, fmt.Errorf("target %s: %w", e.Target(), err)
		}
		built[e] = rs
	}

	for _, e := range g.Engines() {
		rs, ok := built[e]
		if !ok {
			continue
		}
		current := make(map[string]*rules.Rule)
		for _, r := range e.Rules().Rules() {
			current[r.ID] = r
		}
		seen := make(map[string]bool)
		for _, r := range rs {
			seen[r.ID] = true
			if old, ok := current[r.ID]; ok {
				if !reflect.DeepEqual(old.Summary(), r.Summary()) {
					report.Ignored = append(report.Ignored, fmt.Sprintf("target %s: rule %s changed; rules cannot be replaced", e.Target(), r.ID))
				}
				continue
			}
			if err := e.AddRule(r); err != nil {
				return report, fmt.Errorf("target %s: %w", e.Target(), err)
			}
			report.Added[e.Target()] = append(report.Added[e.Target()], r.ID)
		}
		for id := range current {
			if !seen[id] && !isDefault(id) {
				report.Ignored = append(report.Ignored, fmt.Sprintf("target %s: rule %s removed; rules cannot be removed", e.Target(), id))
			}
		}
	}

	sort.Strings(report.Ignored)
	for _, msg := range report.Ignored {
		g.logger.Warn("reload: "+msg)
	}
	for target, ids := range report.Added {
		g.logger.Info("reload: rules added", "target", target, "rule_ids", ids)
	}
	return report, nil
}

func isDefault(id string) bool {
	switch id {
	case rules.ServerOK, rules.ServerDown, rules.ProxyRestart:
		return true
	}
	return false
}
