package action

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownHandler is returned by Registry.Get for a type nobody registered.
var ErrUnknownHandler = errors.New("no handler registered")

// Registry resolves the handler types named in rule definitions. Handlers
// are registered while the process starts and looked up whenever rules are
// built or reloaded.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{byType: make(map[string]Handler)}
}

// Register makes h available under h.Type(). Two handlers claiming the same
// type is a wiring bug, so it panics.
func (r *Registry) Register(h Handler) {
	typ := h.Type()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byType[typ]; taken {
		panic(fmt.Sprintf("action: handler type %q registered twice", typ))
	}
	r.byType[typ] = h
}

// Get returns the handler for typ, or an error wrapping ErrUnknownHandler.
func (r *Registry) Get(typ string) (Handler, error) {
	r.mu.RLock()
	h, ok := r.byType[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w for type %q", ErrUnknownHandler, typ)
	}
	return h, nil
}

// Types lists the registered handler types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.byType))
	for typ := range r.byType {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}
