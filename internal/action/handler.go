package action

import (
	"context"
	"errors"
	"time"

	"github.com/gyaneshwarpardhi/hawatch/internal/stats"
)

// ErrQueueFull is returned when an asynchronous handler cannot accept more work.
var ErrQueueFull = errors.New("handler queue full")

// Invocation is everything a handler learns about a single rule match.
type Invocation struct {
	Target string                 `json:"target"`
	RuleID string                 `json:"rule_id"`
	Event  string                 `json:"event,omitempty"`
	Record stats.Record           `json:"record"`
	Params map[string]interface{} `json:"-"`
	At     time.Time              `json:"at"`
}

// Handler is the interface all rule handler implementations must satisfy.
type Handler interface {
	// Type returns the string key this handler is registered under.
	Type() string
	// Validate checks params when rules are built from config.
	Validate(params map[string]interface{}) error
	// Handle runs the handler for one matched record.
	Handle(ctx context.Context, inv Invocation) error
}

func stringParam(params map[string]interface{}, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

func stringsParam(params map[string]interface{}, key string) ([]string, bool) {
	raw, ok := params[key]
	if !ok {
		return nil, true
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
