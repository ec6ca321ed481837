package rules

import (
	"log/slog"

	"github.com/gyaneshwarpardhi/hawatch/internal/condition"
	"github.com/gyaneshwarpardhi/hawatch/internal/stats"
)

// Match pairs a rule with the record it matched.
type Match struct {
	Rule   *Rule
	Record stats.Record
}

// ApplyRule reports whether every criterion of r holds for rec. Criteria
// run in declaration order and evaluation stops at the first failure, so
// providers of later criteria are not called.
func ApplyRule(r *Rule, rec stats.Record, ctx condition.Context) bool {
	for _, c := range r.Criteria {
		ok, err := condition.Check(c, rec, ctx)
		if err != nil {
			slog.Debug("criterion failed closed", "rule_id", r.ID, "err", err)
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// ApplyRules returns every rule in set that matches rec, in set order.
func ApplyRules(set *Set, rec stats.Record, ctx condition.Context) []*Rule {
	var out []*Rule
	for _, r := range set.Rules() {
		if ApplyRule(r, rec, ctx) {
			out = append(out, r)
		}
	}
	return out
}

// EvaluateSnapshot applies the set to every record of snap. Matches are
// ordered by record (source order) and then by rule (set order). The
// rule list is read once, so rules added concurrently apply from the next
// call on.
func EvaluateSnapshot(set *Set, snap *stats.Snapshot, ctx condition.Context) []Match {
	if snap == nil {
		return nil
	}
	rs := set.Rules()
	var out []Match
	for _, rec := range snap.Records {
		for _, r := range rs {
			if ApplyRule(r, rec, ctx) {
				out = append(out, Match{Rule: r, Record: rec})
			}
		}
	}
	return out
}
