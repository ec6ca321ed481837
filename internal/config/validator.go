package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gyaneshwarpardhi/hawatch/internal/condition"
	"github.com/gyaneshwarpardhi/hawatch/internal/notify"
	"github.com/gyaneshwarpardhi/hawatch/internal/stats"
)

// Validate checks the config for:
//   - Required fields and a supported log setup
//   - Duplicate target names and rule IDs
//   - Criteria with an unknown operator or a malformed right-hand side
//
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q: must be one of debug, info, warn, error", cfg.Log.Level))
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q: must be text or json", cfg.Log.Format))
	}

	if len(cfg.Targets) == 0 {
		errs = append(errs, "targets: at least one target is required")
	}
	names := make(map[string]int)
	for i, t := range cfg.Targets {
		if t.Name == "" {
			errs = append(errs, fmt.Sprintf("targets[%d]: name is required", i))
			continue
		}
		if prev, ok := names[t.Name]; ok {
			errs = append(errs, fmt.Sprintf("duplicate target %q (targets[%d] and targets[%d])", t.Name, prev, i))
		} else {
			names[t.Name] = i
		}
		validateTarget(t, &errs)
	}

	ids := make(map[string]int)
	for i, r := range cfg.Rules {
		if r.ID == "" {
			errs = append(errs, fmt.Sprintf("rules[%d]: id is required", i))
			continue
		}
		if prev, ok := ids[r.ID]; ok {
			errs = append(errs, fmt.Sprintf("duplicate rule id %q (rules[%d] and rules[%d])", r.ID, prev, i))
		} else {
			ids[r.ID] = i
		}
		if r.Event == notify.Update || r.Event == notify.Error {
			errs = append(errs, fmt.Sprintf("rule %s: event %q is reserved", r.ID, r.Event))
		}
		if r.Handler != nil && r.Handler.Type == "" {
			errs = append(errs, fmt.Sprintf("rule %s: handler type is required", r.ID))
		}
		for j, c := range r.Criteria {
			validateCriterion(c, fmt.Sprintf("rule %s.criteria[%d]", r.ID, j), &errs)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateTarget(t Target, errs *[]string) {
	if t.URL == "" {
		*errs = append(*errs, fmt.Sprintf("target %s: url is required", t.Name))
	} else if u, err := url.Parse(t.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		*errs = append(*errs, fmt.Sprintf("target %s: url %q must be an absolute http(s) URL", t.Name, t.URL))
	}
	if t.IntervalMs < 0 {
		*errs = append(*errs, fmt.Sprintf("target %s: interval_ms must be positive", t.Name))
	}
	if t.TimeoutMs < 0 {
		*errs = append(*errs, fmt.Sprintf("target %s: timeout_ms must be positive", t.Name))
	}
}

func validateCriterion(c CriterionDef, loc string, errs *[]string) {
	if c.Header == "" {
		*errs = append(*errs, fmt.Sprintf("%s: header is required", loc))
	}
	op := condition.Operator(c.Op)
	if !op.Valid() {
		*errs = append(*errs, fmt.Sprintf("%s: unknown operator %q (known: %s)", loc, c.Op, operatorNames()))
		return
	}

	set := 0
	if c.Value != nil {
		set++
	}
	if c.Values != nil {
		set++
	}
	if c.Provider != "" {
		set++
	}
	if c.Formula != "" {
		set++
	}
	if set != 1 {
		*errs = append(*errs, fmt.Sprintf("%s: exactly one of value, values, provider, formula must be set", loc))
		return
	}

	if op.WantsList() != (c.Values != nil) {
		*errs = append(*errs, fmt.Sprintf("%s: operator %s requires %s", loc, op, shapeName(op)))
		return
	}
	switch {
	case c.Value != nil:
		if _, err := stats.FromAny(c.Value); err != nil {
			*errs = append(*errs, fmt.Sprintf("%s: %v", loc, err))
		}
	case c.Values != nil:
		for k, v := range c.Values {
			if _, err := stats.FromAny(v); err != nil {
				*errs = append(*errs, fmt.Sprintf("%s.values[%d]: %v", loc, k, err))
			}
		}
	case c.Provider != "":
		if _, ok := condition.NamedProvider(c.Provider); !ok {
			*errs = append(*errs, fmt.Sprintf("%s: unknown provider %q (known: %s)",
				loc, c.Provider, strings.Join(condition.ProviderNames(), ", ")))
		}
	case c.Formula != "":
		if _, err := condition.ParseFormula(c.Formula); err != nil {
			*errs = append(*errs, fmt.Sprintf("%s: formula: %v", loc, err))
		}
	}
}

func shapeName(op condition.Operator) string {
	if op.WantsList() {
		return "values"
	}
	return "a single value, provider or formula"
}

func operatorNames() string {
	names := make([]string, len(condition.Operators))
	for i, op := range condition.Operators {
		names[i] = string(op)
	}
	return strings.Join(names, ", ")
}
