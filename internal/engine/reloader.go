package engine

import (
	"sync"

	"github.com/gyaneshwarpardhi/hawatch/internal/action"
	"github.com/gyaneshwarpardhi/hawatch/internal/config"
)

// Reloader applies configuration changes to a Group. Apply has the
// signature of a config.Loader OnChange callback.
type Reloader struct {
	group *Group
	reg   *action.Registry

	mu     sync.Mutex
	report ReloadReport
	err    error
}

func NewReloader(g *Group, reg *action.Registry) *Reloader {
	return &Reloader{group: g, reg: reg}
}

// Apply validates cfg and merges its rules. Invalid configs change nothing.
func (r *Reloader) Apply(cfg *config.Config) {
	var (
		report ReloadReport
		err    error
	)
	if err = config.Validate(cfg); err != nil {
		r.group.logger.Warn("hot-reload skipped: config invalid", "err", err)
	} else if report, err = r.group.Reload(cfg, r.reg); err != nil {
		r.group.logger.Warn("hot-reload skipped: rule build failed", "err", err)
	}
	r.mu.Lock()
	r.report, r.err = report, err
	r.mu.Unlock()
}

// Last returns the result of the most recent Apply.
func (r *Reloader) Last() (ReloadReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report, r.err
}
