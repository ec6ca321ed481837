package action

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gyaneshwarpardhi/hawatch/internal/stats"
)

// LogType is the registry key of the log handler.
const LogType = "log"

var defaultLogFields = []string{stats.HeaderAggregate, stats.HeaderMember}

// Log writes one structured line per match.
//
// Params:
//
//	message: log message (default "rule matched")
//	level:   debug | info | warn | error (default info)
//	fields:  record headers to attach (default pxname, svname)
type Log struct {
	logger *slog.Logger
}

// NewLog creates a log handler. A nil logger uses slog.Default().
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Type() string { return LogType }

func (l *Log) Validate(params map[string]interface{}) error {
	if _, err := parseLevel(stringParam(params, "level", "info")); err != nil {
		return err
	}
	if _, ok := stringsParam(params, "fields"); !ok {
		return fmt.Errorf("log: fields must be a list of header names")
	}
	return nil
}

func (l *Log) Handle(ctx context.Context, inv Invocation) error {
	level, err := parseLevel(stringParam(inv.Params, "level", "info"))
	if err != nil {
		return err
	}
	fields, _ := stringsParam(inv.Params, "fields")
	if len(fields) == 0 {
		fields = defaultLogFields
	}

	attrs := make([]slog.Attr, 0, len(fields)+3)
	attrs = append(attrs, slog.String("target", inv.Target), slog.String("rule_id", inv.RuleID))
	if inv.Event != "" {
		attrs = append(attrs, slog.String("event", inv.Event))
	}
	for _, f := range fields {
		attrs = append(attrs, slog.String(f, inv.Record.Get(f).String()))
	}
	l.logger.LogAttrs(ctx, level, stringParam(inv.Params, "message", "rule matched"), attrs...)
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log: unknown level %q", s)
}
