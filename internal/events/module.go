package events

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/solatis/aadnode/internal/types"
)

// Mailbox capacities used by the modules.
const (
	SmallMailbox = 8
	LargeMailbox = 16
)

// State is one row of a module state table.
type State struct {
	Name     string
	Handlers []Handler
}

// Module is the task pattern every aadnode component follows: a bounded
// mailbox drained by a single goroutine that dispatches each event through the
// handler table of the current state. Handlers run to completion, one at a time,
// and are the only code allowed to change the state.
type Module struct {
	id      ModuleID
	mailbox chan Event
	states  []State
	state   int
	router  *Router
	log     zerolog.Logger
}

// NewModule creates a module with the given mailbox capacity and registers it
// with the router.
func NewModule(id ModuleID, capacity int, router *Router) *Module {
	m := &Module{
		id:      id,
		mailbox: make(chan Event, capacity),
		router:  router,
		log:     log.With().Str("module", id.String()).Logger(),
	}
	router.Register(id, m)
	return m
}

// SetStates installs the state table. Handlers usually close over the owning
// component, so the table is attached after construction. State 0 is initial.
func (m *Module) SetStates(states []State) {
	m.states = states
	m.state = 0
}

// ID returns the module id.
func (m *Module) ID() ModuleID {
	return m.id
}

// Log returns the module logger.
func (m *Module) Log() *zerolog.Logger {
	return &m.log
}

// Post enqueues ev without blocking.
func (m *Module) Post(ev Event) error {
	select {
	case m.mailbox <- ev:
		return nil
	default:
		return fmt.Errorf("%w: %s (capacity %d) dropping %s", types.ErrMailboxFull, m.id, cap(m.mailbox), ev.ID)
	}
}

// Pending returns the number of queued events.
func (m *Module) Pending() int {
	return len(m.mailbox)
}

// State returns the current state index.
func (m *Module) State() int {
	return m.state
}

// StateName returns the name of the current state.
func (m *Module) StateName() string {
	return m.stateName(m.state)
}

func (m *Module) stateName(s int) string {
	if s >= 0 && s < len(m.states) {
		return m.states[s].Name
	}
	return fmt.Sprintf("STATE(%d)", s)
}

// ChangeState switches the handler table used for the next event.
func (m *Module) ChangeState(s int) {
	if s < 0 || s >= len(m.states) {
		panic(fmt.Sprintf("events: %s has no state %d", m.id, s))
	}
	m.log.Info().Msgf("State: %s -> %s", m.stateName(m.state), m.stateName(s))
	m.state = s
}

// Self posts a payload-less event to this module.
func (m *Module) Self(id MsgID) {
	m.send(PrepareNoData(id, m.id, m.id))
}

// Send posts a payload-less event to another module.
func (m *Module) Send(dst ModuleID, id MsgID) {
	m.send(PrepareNoData(id, m.id, dst))
}

// SendValue posts an event carrying a fixed-size value to another module.
func (m *Module) SendValue(dst ModuleID, id MsgID, v any) {
	m.send(PrepareWithValue(id, m.id, dst, v))
}

// SendData posts an event carrying a copy of data to another module.
func (m *Module) SendData(dst ModuleID, id MsgID, data []byte) {
	m.send(PrepareWithData(id, m.id, dst, data))
}

func (m *Module) send(ev Event) {
	if err := m.router.Post(ev); err != nil {
		m.log.Error().Err(err).
			Str("dst", ev.Dst.String()).
			Str("msg", ev.ID.String()).
			Msg("Post failed")
	}
}

// Dispatch runs ev through the current state's handlers and releases its payload.
func (m *Module) Dispatch(ev *Event) bool {
	if len(m.states) == 0 {
		panic(fmt.Sprintf("events: %s has no state table", m.id))
	}
	handled := SearchAndExecute(ev, m.states[m.state].Handlers)
	Delete(ev)
	return handled
}

// ProcessPending dispatches queued events until the mailbox is empty or limit
// events have run. Returns the number dispatched.
func (m *Module) ProcessPending(limit int) int {
	n := 0
	for n < limit {
		select {
		case ev := <-m.mailbox:
			m.Dispatch(&ev)
			n++
		default:
			return n
		}
	}
	return n
}

// Run dispatches events until ctx is cancelled.
func (m *Module) Run(ctx context.Context) {
	m.log.Debug().Msg("Task started")
	for {
		select {
		case <-ctx.Done():
			m.log.Debug().Msg("Task stopped")
			return
		case ev := <-m.mailbox:
			m.Dispatch(&ev)
		}
	}
}
