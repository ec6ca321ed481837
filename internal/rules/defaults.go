package rules

import (
	"github.com/gyaneshwarpardhi/hawatch/internal/condition"
	"github.com/gyaneshwarpardhi/hawatch/internal/stats"
)

// Built-in rule IDs, also used as their event names.
const (
	ServerOK     = "server_ok"
	ServerDown   = "server_down"
	ProxyRestart = "proxy_restart"
)

// Defaults returns the built-in rules:
//
//	server_ok     a server row whose check_status is L4OK
//	server_down   a server row whose check_status is anything else
//	proxy_restart the tracked frontend's stot fell below the previous value
func Defaults() []*Rule {
	return DefaultsFor(stats.MemberFrontend, stats.HeaderTotal)
}

// DefaultsFor is Defaults with proxy_restart watching the given member row
// and counter of the tracked aggregate, so the event follows the same row
// the engine's restart detection reads. Empty arguments fall back to
// FRONTEND and stot.
func DefaultsFor(member, counter string) []*Rule {
	if member == "" {
		member = stats.MemberFrontend
	}
	if counter == "" {
		counter = stats.HeaderTotal
	}
	notAggregate := []condition.Criterion{
		{Header: stats.HeaderMember, Op: condition.OpNe, Value: condition.Literal(stats.Text(stats.MemberFrontend))},
		{Header: stats.HeaderMember, Op: condition.OpNe, Value: condition.Literal(stats.Text(stats.MemberBackend))},
	}
	healthy := condition.List(stats.Text("L4OK"))

	lastTotal, _ := condition.NamedProvider(condition.ProviderLastTotalSessions)
	tracked, _ := condition.NamedProvider(condition.ProviderTrackedAggregate)

	return []*Rule{
		{
			ID:       ServerOK,
			Criteria: append(append([]condition.Criterion(nil), notAggregate...), condition.Criterion{Header: "check_status", Op: condition.OpIn, Value: healthy}),
			Event:    ServerOK,
		},
		{
			ID:       ServerDown,
			Criteria: append(append([]condition.Criterion(nil), notAggregate...), condition.Criterion{Header: "check_status", Op: condition.OpNin, Value: healthy}),
			Event:    ServerDown,
		},
		{
			ID: ProxyRestart,
			Criteria: []condition.Criterion{
				{Header: stats.HeaderMember, Op: condition.OpEq, Value: condition.Literal(stats.Text(member))},
				{Header: stats.HeaderAggregate, Op: condition.OpEq, Value: tracked},
				{Header: counter, Op: condition.OpLt, Value: lastTotal},
			},
			Event: ProxyRestart,
		},
	}
}
