package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/hawatch/internal/stats"
)

// Reserved notification names.
const (
	Update = "update"
	Error  = "error"
)

// Notification is one message emitted by an engine. Rule events carry the
// matched Record; Update carries the Snapshot; Error carries Err.
type Notification struct {
	Name     string
	Target   string
	CycleID  string
	RuleID   string
	Record   stats.Record
	Snapshot *stats.Snapshot
	Err      error
	At       time.Time
}

func (n Notification) MarshalJSON() ([]byte, error) {
	type wire struct {
		Name     string          `json:"name"`
		Target   string          `json:"target"`
		CycleID  string          `json:"cycle_id,omitempty"`
		RuleID   string          `json:"rule_id,omitempty"`
		Record   stats.Record    `json:"record,omitempty"`
		Snapshot *stats.Snapshot `json:"snapshot,omitempty"`
		Error    string          `json:"error,omitempty"`
		At       time.Time       `json:"at"`
	}
	w := wire{
		Name:     n.Name,
		Target:   n.Target,
		CycleID:  n.CycleID,
		RuleID:   n.RuleID,
		Record:   n.Record,
		Snapshot: n.Snapshot,
		At:       n.At,
	}
	if n.Err != nil {
		w.Error = n.Err.Error()
	}
	return json.Marshal(w)
}

// Emitter decouples engines from whoever consumes their notifications.
type Emitter interface {
	Emit(ctx context.Context, n Notification)
}

// Subscriber receives a notification. It runs on the emitting goroutine.
type Subscriber func(ctx context.Context, n Notification)

type subscription struct {
	id   uint64
	name string // empty = every notification
	fn   Subscriber
}

// Bus delivers notifications synchronously to subscribers in registration
// order. It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
	logger *slog.Logger
}

// NewBus creates an empty Bus. A nil logger uses slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// On subscribes fn to notifications called name and returns a function
// that removes the subscription.
func (b *Bus) On(name string, fn Subscriber) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, name: name, fn: fn})
	return func() { b.remove(id) }
}

// OnAny subscribes fn to every notification.
func (b *Bus) OnAny(fn Subscriber) (cancel func()) {
	return b.On("", fn)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Emit calls every matching subscriber in registration order. A panicking
// subscriber is logged and skipped.
func (b *Bus) Emit(ctx context.Context, n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	b.mu.RLock()
	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.name == "" || s.name == n.Name {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range subs {
		b.call(ctx, s, n)
	}
}

func (b *Bus) call(ctx context.Context, s subscription, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("notification subscriber panicked", "name", n.Name, "target", n.Target, "panic", r)
		}
	}()
	s.fn(ctx, n)
}

// Recorder is an Emitter that keeps every notification, for tests.
type Recorder struct {
	mu     sync.Mutex
	Events []Notification
}

func (r *Recorder) Emit(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, n)
}

// Names returns the recorded notification names in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Events))
	for i, n := range r.Events {
		out[i] = n.Name
	}
	return out
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = nil
}
