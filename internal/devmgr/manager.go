// Package devmgr is the DEV_MANAGER module. It samples the device inputs on a
// measure timer and publishes them as one telemetry document on a post timer.
package devmgr

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/solatis/aadnode/internal/events"
	"github.com/solatis/aadnode/internal/timers"
	"github.com/solatis/aadnode/internal/types"
)

const (
	stateDisabled = iota
	stateIdle
)

const (
	timerMeasure = iota
	timerPost
)

// TelemetryTopic is the data sub-topic telemetry is posted to.
const TelemetryTopic = "telemetry"

// Result codes of the "e" field.
const (
	measureOK     = 0
	measureFailed = 1
)

// Input is one named value sampled on every measure tick. Read returns a
// bool, an integer, a float or a string.
type Input struct {
	Name string
	Read func() (any, error)
}

// Publisher delivers telemetry; the MQTT app in production.
type Publisher interface {
	PostData(topic string, msg []byte) error
}

// Options holds the timer periods.
type Options struct {
	MeasureInterval time.Duration
	PostInterval    time.Duration
}

// DefaultOptions measures every second and posts every 10 seconds.
func DefaultOptions() Options {
	return Options{MeasureInterval: time.Second, PostInterval: 10 * time.Second}
}

// Manager is the DEV_MANAGER module.
type Manager struct {
	mod    *events.Module
	timers *timers.Set
	inputs []Input
	pub    Publisher

	values  []any
	result  int
	seq     uint32
	started time.Time
	now     func() time.Time
}

// New registers the device manager.
func New(router *events.Router, inputs []Input, pub Publisher, opts Options) *Manager {
	m := &Manager{
		mod:    events.NewModule(events.DevManager, events.SmallMailbox, router),
		inputs: inputs,
		pub:    pub,
		values: make([]any, len(inputs)),
		now:    time.Now,
	}
	m.timers = timers.New([]timers.Timer{
		{ID: timerMeasure, Name: "dm_meas", Period: opts.MeasureInterval, Callback: func() {
			m.mod.Self(events.DevManagerMeasure)
		}},
		{ID: timerPost, Name: "dm_post", Period: opts.PostInterval, Callback: func() {
			m.mod.Self(events.DevManagerPost)
		}},
	})
	m.mod.SetStates([]events.State{
		stateDisabled: {Name: "DISABLED", Handlers: []events.Handler{
			events.On(events.InitReq, m.onInit),
		}},
		stateIdle: {Name: "IDLE", Handlers: []events.Handler{
			events.On(events.DevManagerMeasure, m.onMeasure),
			events.On(events.DevManagerPost, m.onPost),
			events.On(events.DeinitReq, m.onDeinit),
		}},
	})
	return m
}

// Module exposes the underlying module for the runner.
func (m *Manager) Module() *events.Module {
	return m.mod
}

func (m *Manager) onInit(ev *events.Event) {
	m.started = m.now()
	m.mod.ChangeState(stateIdle)
	m.mod.SendValue(ev.Src, events.InitRes, true)
	m.mod.Self(events.DevManagerMeasure)
	m.timers.Start(timerPost)
}

func (m *Manager) onMeasure(*events.Event) {
	m.result = measureOK
	for i, in := range m.inputs {
		v, err := in.Read()
		if err != nil {
			m.mod.Log().Debug().Err(err).Str("input", in.Name).Msg("Read failed")
			m.result = measureFailed
			continue
		}
		m.values[i] = v
	}
	m.timers.Start(timerMeasure)
}

func (m *Manager) onPost(*events.Event) {
	defer m.timers.Start(timerPost)

	doc := m.Telemetry()
	m.seq++
	if err := m.pub.PostData(TelemetryTopic, doc); err != nil {
		if errors.Is(err, types.ErrNotConnected) {
			m.mod.Log().Debug().Msg("Broker not connected, telemetry skipped")
			return
		}
		m.mod.Log().Error().Err(err).Msg("Unable to post telemetry")
	}
}

// Telemetry renders {"s":seq,"t":uptime_ms,"e":result,<input>:<value>...}
// with inputs in registration order.
func (m *Manager) Telemetry() []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"s":`)
	buf.WriteString(strconv.FormatUint(uint64(m.seq), 10))
	buf.WriteString(`,"t":`)
	buf.WriteString(strconv.FormatInt(m.now().Sub(m.started).Milliseconds(), 10))
	buf.WriteString(`,"e":`)
	buf.WriteString(strconv.Itoa(m.result))
	for i, in := range m.inputs {
		name, _ := json.Marshal(in.Name)
		value, err := json.Marshal(m.values[i])
		if err != nil {
			value = []byte("null")
		}
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

func (m *Manager) onDeinit(*events.Event) {
	m.timers.StopAll()
	m.mod.ChangeState(stateDisabled)
}
