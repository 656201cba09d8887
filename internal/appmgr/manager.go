// Package appmgr is the APP_MANAGER module. It initialises the other modules
// at start-up, tracks their replies and publishes the outcome on the health
// reporter.
package appmgr

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/solatis/aadnode/internal/events"
	"github.com/solatis/aadnode/internal/timers"
)

const (
	stateDisabled = iota
	stateInit
	stateIdle
)

const timerInit = 0

const initTimeout = 1500 * time.Millisecond

const (
	initOK uint8 = iota
	initFailed
)

// Health receives readiness per module; the empty service name is the agent.
type Health interface {
	SetServing(service string, serving bool)
}

// Entry is one module started by the app manager.
type Entry struct {
	ID      events.ModuleID
	InitMsg events.MsgID
}

type result struct {
	done bool
	ok   bool
}

// Manager is the APP_MANAGER module.
type Manager struct {
	mod     *events.Module
	timers  *timers.Set
	entries []Entry
	results []result
	health  Health
	sensors atomic.Int32
}

// New registers the app manager. health may be nil.
func New(router *events.Router, entries []Entry, health Health) *Manager {
	m := &Manager{
		mod:     events.NewModule(events.AppManager, events.LargeMailbox, router),
		entries: entries,
		results: make([]result, len(entries)),
		health:  health,
	}
	m.timers = timers.New([]timers.Timer{
		{ID: timerInit, Name: "app_init", Period: initTimeout, Callback: func() {
			m.mod.Self(events.AppManagerTimeoutInit)
		}},
	})
	m.mod.SetStates([]events.State{
		stateDisabled: {Name: "DISABLED", Handlers: []events.Handler{
			events.On(events.AppManagerInitReq, m.onInitReq),
		}},
		stateInit: {Name: "INIT", Handlers: []events.Handler{
			events.On(events.InitRes, m.onInitRes),
			events.On(events.AppManagerInitRes, m.onAllInitialised),
			events.On(events.AppManagerTimeoutInit, m.onInitTimeout),
		}},
		stateIdle: {Name: "IDLE", Handlers: []events.Handler{
			events.On(events.AppManagerTempSensorsScanRes, m.onSensorsScanned),
			events.On(events.AppManagerInitReq, m.onInitReq),
		}},
	})
	return m
}

// Module exposes the underlying module for the runner.
func (m *Manager) Module() *events.Module {
	return m.mod
}

// Start posts the request that begins module initialisation.
func (m *Manager) Start() error {
	return m.mod.Post(events.PrepareNoData(events.AppManagerInitReq, events.AppManager, events.AppManager))
}

// Sensors is the count from the last temperature scan.
func (m *Manager) Sensors() int {
	return int(m.sensors.Load())
}

func (m *Manager) onInitReq(*events.Event) {
	m.mod.ChangeState(stateInit)
	for i, e := range m.entries {
		m.results[i] = result{}
		m.mod.Send(e.ID, e.InitMsg)
	}
	if len(m.entries) == 0 {
		m.mod.SendValue(events.AppManager, events.AppManagerInitRes, initOK)
		return
	}
	m.timers.Start(timerInit)
}

func (m *Manager) onInitRes(ev *events.Event) {
	var ok bool
	ev.Value(&ok)

	i := m.index(ev.Src)
	if i < 0 {
		m.mod.Log().Debug().Str("src", ev.Src.String()).Msg("INIT_RES from unmanaged module")
		return
	}
	if m.results[i].done {
		return
	}
	m.results[i] = result{done: true, ok: ok}
	m.mod.Log().Info().Str("src", ev.Src.String()).Bool("ok", ok).Msg("Module initialised")

	for _, r := range m.results {
		if !r.done {
			return
		}
	}
	m.timers.Stop(timerInit)
	res := initOK
	for _, r := range m.results {
		if !r.ok {
			res = initFailed
		}
	}
	m.mod.SendValue(events.AppManager, events.AppManagerInitRes, res)
}

func (m *Manager) index(id events.ModuleID) int {
	for i, e := range m.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) onAllInitialised(ev *events.Event) {
	var res uint8
	ev.Value(&res)
	m.finish(res == initOK)
}

func (m *Manager) onInitTimeout(*events.Event) {
	m.finish(false)
}

func (m *Manager) finish(ok bool) {
	m.mod.ChangeState(stateIdle)
	m.report()

	if !ok {
		m.mod.Log().Error().
			Str("missing", m.names(func(r result) bool { return !r.done })).
			Str("failed", m.names(func(r result) bool { return r.done && !r.ok })).
			Msg("Init failed")
		m.setServing("", false)
		return
	}

	m.mod.Log().Info().Msg("All modules initialised")
	m.setServing("", true)
	if m.index(events.TempDrv) >= 0 {
		m.mod.Send(events.TempDrv, events.TempScanDevicesReq)
	}
}

func (m *Manager) report() {
	for i, e := range m.entries {
		m.setServing(e.ID.String(), m.results[i].ok)
	}
}

func (m *Manager) names(match func(result) bool) string {
	var out []string
	for i, e := range m.entries {
		if match(m.results[i]) {
			out = append(out, e.ID.String())
		}
	}
	return strings.Join(out, ",")
}

func (m *Manager) setServing(service string, serving bool) {
	if m.health != nil {
		m.health.SetServing(service, serving)
	}
}

func (m *Manager) onSensorsScanned(ev *events.Event) {
	var n uint8
	ev.Value(&n)
	m.sensors.Store(int32(n))
	m.mod.Log().Info().Uint8("sensors", n).Msg("Temperature sensors found")
}
