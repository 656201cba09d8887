// Package timers provides per-module one-shot timers keyed by a small integer
// id. Callbacks run on their own goroutine and must only post events.
package timers

import (
	"fmt"
	"sync"
	"time"
)

// Timer describes one one-shot timer of a module.
type Timer struct {
	ID       int
	Name     string
	Period   time.Duration
	Callback func()
}

type entry struct {
	def    Timer
	t      *time.Timer
	active bool
	gen    uint64
}

// Set holds the timers of one module. Ids must be 0..n-1 in declaration order.
type Set struct {
	mu      sync.Mutex
	entries []*entry
}

// New builds a timer set. Panics if ids are not contiguous from zero or a
// callback is missing.
func New(defs []Timer) *Set {
	s := &Set{entries: make([]*entry, len(defs))}
	for i, d := range defs {
		if d.ID != i {
			panic(fmt.Sprintf("timers: %s has id %d at position %d", d.Name, d.ID, i))
		}
		if d.Callback == nil {
			panic(fmt.Sprintf("timers: %s has no callback", d.Name))
		}
		s.entries[i] = &entry{def: d}
	}
	return s
}

func (s *Set) get(id int) *entry {
	if id < 0 || id >= len(s.entries) {
		panic(fmt.Sprintf("timers: unknown timer id %d", id))
	}
	return s.entries[id]
}

// Start arms the timer for one period, restarting it if it is already running.
func (s *Set) Start(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(id)
	if e.t != nil {
		e.t.Stop()
	}
	e.gen++
	gen := e.gen
	e.active = true
	e.t = time.AfterFunc(e.def.Period, func() {
		s.mu.Lock()
		// A Stop or restart after this callback was scheduled wins.
		if e.gen != gen || !e.active {
			s.mu.Unlock()
			return
		}
		e.active = false
		cb := e.def.Callback
		s.mu.Unlock()
		cb()
	})
}

// Stop disarms the timer. Stopping an idle timer is a no-op.
func (s *Set) Stop(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(id)
	if e.t != nil {
		e.t.Stop()
	}
	e.active = false
	e.gen++
}

// SetPeriod changes the period used by the next Start.
func (s *Set) SetPeriod(id int, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(id).def.Period = d
}

// Period returns the configured period.
func (s *Set) Period(id int) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id).def.Period
}

// Active reports whether the timer is armed.
func (s *Set) Active(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id).active
}

// StopAll disarms every timer in the set.
func (s *Set) StopAll() {
	for id := range s.entries {
		s.Stop(id)
	}
}
