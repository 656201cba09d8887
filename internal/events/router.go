package events

import (
	"fmt"
	"sync"

	"github.com/solatis/aadnode/internal/types"
)

// Poster accepts events for one module.
type Poster interface {
	Post(ev Event) error
}

// Router delivers envelopes to the module registered for their destination.
type Router struct {
	mu      sync.RWMutex
	modules [ModuleCount]Poster
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{}
}

// Register binds a module id to its mailbox. Panics on an invalid id.
func (r *Router) Register(id ModuleID, p Poster) {
	if !id.Valid() {
		panic(fmt.Sprintf("events: cannot register %s", id))
	}
	r.mu.Lock()
	r.modules[id] = p
	r.mu.Unlock()
}

// Registered reports whether id has a mailbox.
func (r *Router) Registered(id ModuleID) bool {
	if !id.Valid() {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modules[id] != nil
}

// Post routes ev to its destination. Returns ErrUnknownModule when nothing is
// registered there and ErrMailboxFull when the destination cannot take it.
func (r *Router) Post(ev Event) error {
	if !ev.Dst.Valid() {
		return fmt.Errorf("%w: %s", types.ErrUnknownModule, ev.Dst)
	}
	r.mu.RLock()
	p := r.modules[ev.Dst]
	r.mu.RUnlock()
	if p == nil {
		return fmt.Errorf("%w: %s", types.ErrUnknownModule, ev.Dst)
	}
	return p.Post(ev)
}

// Send builds and routes a payload-less event.
func (r *Router) Send(id MsgID, src, dst ModuleID) error {
	return r.Post(PrepareNoData(id, src, dst))
}

// SendValue builds and routes an event carrying a fixed-size value.
func (r *Router) SendValue(id MsgID, src, dst ModuleID, v any) error {
	return r.Post(PrepareWithValue(id, src, dst, v))
}
