package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gyaneshwarpardhi/hawatch/internal/action"
	"github.com/gyaneshwarpardhi/hawatch/internal/condition"
	"github.com/gyaneshwarpardhi/hawatch/internal/config"
	"github.com/gyaneshwarpardhi/hawatch/internal/metrics"
	"github.com/gyaneshwarpardhi/hawatch/internal/stats"
)

// Build constructs rules for target from validated definitions. Values,
// providers and formulas are compiled here; nothing is parsed at
// evaluation time. Handlers are resolved through reg.
func Build(defs []config.RuleDef, reg *action.Registry, target string) ([]*Rule, error) {
	out := make([]*Rule, 0, len(defs))
	for _, d := range defs {
		r, err := buildRule(d, reg, target)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", d.ID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func buildRule(d config.RuleDef, reg *action.Registry, target string) (*Rule, error) {
	if ReservedEvent(d.Event) {
		return nil, fmt.Errorf("%w %q", ErrReservedEvent, d.Event)
	}
	r := &Rule{ID: d.ID, Event: d.Event, Criteria: make([]condition.Criterion, 0, len(d.Criteria))}
	for i, cd := range d.Criteria {
		c, err := BuildCriterion(cd)
		if err != nil {
			return nil, fmt.Errorf("criteria[%d]: %w", i, err)
		}
		r.Criteria = append(r.Criteria, c)
	}
	if d.Handler != nil {
		if reg == nil {
			return nil, fmt.Errorf("handler %q: no handler registry", d.Handler.Type)
		}
		h, err := reg.Get(d.Handler.Type)
		if err != nil {
			return nil, err
		}
		if err := h.Validate(d.Handler.Params); err != nil {
			return nil, fmt.Errorf("handler %q: %w", d.Handler.Type, err)
		}
		r.Handler = bindHandler(h, d.Handler.Params, target, d.ID, d.Event)
		r.HandlerType = h.Type()
	}
	return r, nil
}

func bindHandler(h action.Handler, params map[string]interface{}, target, ruleID, event string) HandlerFunc {
	return func(ctx context.Context, rec stats.Record) {
		err := h.Handle(ctx, action.Invocation{
			Target: target,
			RuleID: ruleID,
			Event:  event,
			Record: rec,
			Params: params,
			At:     time.Now(),
		})
		if errors.Is(err, action.ErrQueueFull) {
			metrics.HandlerRuns.WithLabelValues(h.Type(), "dropped").Inc()
			slog.Warn("rule handler dropped", "target", target, "rule_id", ruleID, "handler_type", h.Type())
			return
		}
		if err != nil {
			metrics.HandlerRuns.WithLabelValues(h.Type(), "error").Inc()
			slog.Warn("rule handler failed", "target", target, "rule_id", ruleID, "handler_type", h.Type(), "err", err)
			return
		}
		metrics.HandlerRuns.WithLabelValues(h.Type(), "accepted").Inc()
	}
}

// BuildCriterion compiles one configured criterion.
func BuildCriterion(cd config.CriterionDef) (condition.Criterion, error) {
	c := condition.Criterion{Header: cd.Header, Op: condition.Operator(cd.Op)}
	if !c.Op.Valid() {
		return c, fmt.Errorf("%w %q", condition.ErrUnknownOperator, cd.Op)
	}
	switch {
	case cd.Values != nil:
		items := make([]stats.Scalar, 0, len(cd.Values))
		for _, v := range cd.Values {
			s, err := stats.FromAny(v)
			if err != nil {
				return c, err
			}
			items = append(items, s)
		}
		c.Value = condition.List(items...)
	case cd.Provider != "":
		v, ok := condition.NamedProvider(cd.Provider)
		if !ok {
			return c, fmt.Errorf("unknown provider %q", cd.Provider)
		}
		c.Value = v
	case cd.Formula != "":
		fn, err := condition.ParseFormula(cd.Formula)
		if err != nil {
			return c, fmt.Errorf("formula %q: %w", cd.Formula, err)
		}
		c.Value = condition.Dynamic("formula:"+cd.Formula, fn)
	case cd.Value != nil:
		s, err := stats.FromAny(cd.Value)
		if err != nil {
			return c, err
		}
		c.Value = condition.Literal(s)
	default:
		return c, condition.ErrMissingValue
	}
	return c, nil
}

// ForTarget returns the full rule list for a target: the built-in rules
// when enabled, followed by the configured ones.
func ForTarget(cfg *config.Config, t config.Target, reg *action.Registry) ([]*Rule, error) {
	var out []*Rule
	if t.UseDefaultRules() {
		out = append(out, DefaultsFor(t.Restart.Member, t.Restart.Counter)...)
	}
	built, err := Build(cfg.Rules, reg, t.Name)
	if err != nil {
		return nil, err
	}
	return append(out, built...), nil
}
