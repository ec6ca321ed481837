package condition

import (
	"sort"

	"github.com/gyaneshwarpardhi/hawatch/internal/stats"
)

// Names of the built-in providers usable from configuration.
const (
	ProviderLastTotalSessions = "last_total_sessions"
	ProviderTrackedAggregate  = "tracked_aggregate"
)

var named = map[string]Provider{
	ProviderLastTotalSessions: LastTotalSessions,
	ProviderTrackedAggregate:  TrackedAggregate,
}

// LastTotalSessions yields the session total seen on the previous cycle.
func LastTotalSessions(_ stats.Record, ctx Context) (stats.Scalar, bool) {
	if ctx == nil {
		return stats.Empty, false
	}
	return stats.Int(ctx.LastTotalSessions()), true
}

// TrackedAggregate yields the aggregate used for restart detection.
func TrackedAggregate(_ stats.Record, ctx Context) (stats.Scalar, bool) {
	if ctx == nil || ctx.TrackedAggregate() == "" {
		return stats.Empty, false
	}
	return stats.Text(ctx.TrackedAggregate()), true
}

// NamedProvider looks up a built-in provider.
func NamedProvider(name string) (Value, bool) {
	fn, ok := named[name]
	if !ok {
		return Value{}, false
	}
	return Dynamic(name, fn), true
}

// ProviderNames returns the built-in provider names, sorted.
func ProviderNames() []string {
	out := make([]string, 0, len(named))
	for k := range named {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
