package engine

import (
	"github.com/gyaneshwarpardhi/hawatch/internal/condition"
	"github.com/gyaneshwarpardhi/hawatch/internal/stats"
)

// State is the only data an engine carries from one cycle to the next.
type State struct {
	LastTotalSessions int64  `json:"last_total_sessions"`
	TrackedAggregate  string `json:"tracked_aggregate,omitempty"`
}

// Context exposes s read-only to rule providers.
func (s State) Context() condition.Context { return stateView{s} }

type stateView struct{ s State }

func (v stateView) LastTotalSessions() int64 { return v.s.LastTotalSessions }
func (v stateView) TrackedAggregate() string { return v.s.TrackedAggregate }

// CheckRestart reads the counter of the tracked aggregate's member row and
// reports whether it went backwards. The returned state holds the new
// counter value whether or not a restart happened. When the aggregate is
// not configured, the row is missing or the counter is not an integer,
// state is returned unchanged.
func CheckRestart(snap *stats.Snapshot, state State, member, counter string) (State, bool) {
	if state.TrackedAggregate == "" {
		return state, false
	}
	if member == "" {
		member = stats.MemberFrontend
	}
	if counter == "" {
		counter = stats.HeaderTotal
	}
	rec, ok := snap.Lookup(state.TrackedAggregate, member)
	if !ok {
		return state, false
	}
	n, ok := rec.Get(counter).Int64()
	if !ok {
		return state, false
	}
	restarted := n < state.LastTotalSessions
	state.LastTotalSessions = n
	return state, restarted
}
