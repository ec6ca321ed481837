package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/hawatch/internal/condition"
	"github.com/gyaneshwarpardhi/hawatch/internal/notify"
	"github.com/gyaneshwarpardhi/hawatch/internal/stats"
)

var (
	// ErrDuplicateRule is returned by Set.Add for an ID already in the set.
	ErrDuplicateRule = errors.New("duplicate rule id")
	// ErrReservedEvent is returned for a rule whose event is one of the
	// engine's own notification names.
	ErrReservedEvent = errors.New("reserved event name")
)

// ReservedEvent reports whether name is emitted by the engine itself and so
// cannot be used as a rule event.
func ReservedEvent(name string) bool {
	return name == notify.Update || name == notify.Error
}

// HandlerFunc is invoked once per matched record.
type HandlerFunc func(ctx context.Context, rec stats.Record)

// Rule is a conjunction of criteria with an optional event name and
// handler. A rule with zero criteria matches every record; a rule with
// neither Event nor Handler is inert but legal.
type Rule struct {
	ID          string
	Criteria    []condition.Criterion
	Event       string
	Handler     HandlerFunc
	HandlerType string // informational, set by Build
}

// Inert reports whether a match would produce nothing.
func (r *Rule) Inert() bool {
	return r.Event == "" && r.Handler == nil
}

// Summary is the read-only view of a rule served by the API.
type Summary struct {
	ID       string   `json:"id"`
	Criteria []string `json:"criteria"`
	Event    string   `json:"event,omitempty"`
	Handler  string   `json:"handler,omitempty"`
}

func (r *Rule) Summary() Summary {
	s := Summary{ID: r.ID, Event: r.Event, Handler: r.HandlerType, Criteria: make([]string, len(r.Criteria))}
	for i, c := range r.Criteria {
		s.Criteria[i] = c.String()
	}
	if s.Handler == "" && r.Handler != nil {
		s.Handler = "func"
	}
	return s
}

// Set is an append-only, ordered collection of rules. Rules are never
// removed or replaced once added.
type Set struct {
	mu    sync.RWMutex
	rules []*Rule
	ids   map[string]struct{}
}

// NewSet creates a set holding rs in order.
func NewSet(rs ...*Rule) (*Set, error) {
	s := &Set{ids: make(map[string]struct{})}
	for _, r := range rs {
		if err := s.Add(r); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add appends r. An empty ID is replaced by a generated one. The set keeps
// its own copy of the rule and criteria.
func (s *Set) Add(r *Rule) error {
	if r == nil {
		return fmt.Errorf("add rule: nil rule")
	}
	if ReservedEvent(r.Event) {
		return fmt.Errorf("add rule %q: %w %q", r.ID, ErrReservedEvent, r.Event)
	}
	cp := *r
	cp.Criteria = append([]condition.Criterion(nil), r.Criteria...)
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids == nil {
		s.ids = make(map[string]struct{})
	}
	if _, ok := s.ids[cp.ID]; ok {
		return fmt.Errorf("add rule %q: %w", cp.ID, ErrDuplicateRule)
	}
	s.ids[cp.ID] = struct{}{}
	s.rules = append(s.rules, &cp)
	return nil
}

// Has reports whether a rule with id is in the set.
func (s *Set) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Rules returns the current rules in insertion order. The slice is a copy;
// the rules themselves must not be modified.
func (s *Set) Rules() []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Len returns the number of rules.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}
