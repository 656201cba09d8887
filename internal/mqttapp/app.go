// Package mqttapp is the MQTT_APP module. It keeps one broker session while
// the network link is up, routes command topics below the configured prefix
// and publishes telemetry below the data topic.
package mqttapp

import (
	"bytes"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/solatis/aadnode/internal/command"
	"github.com/solatis/aadnode/internal/events"
	"github.com/solatis/aadnode/internal/timers"
	"github.com/solatis/aadnode/internal/types"
)

const (
	stateDisabled = iota
	stateIdle
	stateConnect
	stateWork
)

const (
	timerReconnect = iota
	timerConnectTimeout
)

const (
	reconnectPeriod      = 30 * time.Second
	connectTimeoutPeriod = 10 * time.Second
)

// OnlineStatus is published to the data topic after subscribing.
const OnlineStatus = `{"status":"online"}`

// App is the MQTT_APP module.
type App struct {
	mod      *events.Module
	timers   *timers.Set
	cfg      *Config
	topics   *Topics
	dial     Dialer
	clientID string

	session    Session
	ethernetUp bool
	working    atomic.Bool
}

// New registers the MQTT module. A nil dial uses PahoDialer.
func New(router *events.Router, cfg *Config, topics *Topics, serial uint32, dial Dialer) *App {
	if dial == nil {
		dial = PahoDialer
	}
	a := &App{
		mod:      events.NewModule(events.MQTTApp, events.SmallMailbox, router),
		cfg:      cfg,
		topics:   topics,
		dial:     dial,
		clientID: types.NewClientID(serial),
	}
	a.timers = timers.New([]timers.Timer{
		{ID: timerReconnect, Name: "mqtt_reconnect", Period: reconnectPeriod, Callback: func() {
			a.mod.Self(events.MQTTConnect)
		}},
		{ID: timerConnectTimeout, Name: "mqtt_connect_timeout", Period: connectTimeoutPeriod, Callback: func() {
			a.mod.Self(events.MQTTTimeoutConnect)
		}},
	})
	cfg.OnApply(func() { a.mod.Self(events.MQTTUpdateConfig) })

	ethDown := events.On(events.MQTTEthDisconnected, a.onEthDisconnected)
	lost := events.On(events.MQTTDisconnect, a.onDisconnect)
	a.mod.SetStates([]events.State{
		stateDisabled: {Name: "DISABLED", Handlers: []events.Handler{
			events.On(events.InitReq, a.onInit),
			events.On(events.MQTTEthConnected, a.onEthConnected),
			ethDown,
		}},
		stateIdle: {Name: "IDLE", Handlers: []events.Handler{
			events.On(events.MQTTEthConnected, a.onEthConnected),
			ethDown,
			events.On(events.MQTTConnect, a.onIdleConnect),
			lost,
		}},
		stateConnect: {Name: "CONNECT", Handlers: []events.Handler{
			events.On(events.MQTTConnect, a.onDial),
			events.On(events.MQTTConnected, a.onConnected),
			events.On(events.MQTTTimeoutConnect, a.onConnectTimeout),
			events.On(events.MQTTUpdateConfig, a.onUpdateConfig),
			ethDown,
			lost,
		}},
		stateWork: {Name: "WORK", Handlers: []events.Handler{
			events.On(events.MQTTPostData, a.onPostData),
			events.On(events.MQTTMessage, a.onMessage),
			events.On(events.MQTTUpdateConfig, a.onUpdateConfig),
			ethDown,
			lost,
		}},
	})
	return a
}

// Module exposes the underlying module for the runner.
func (a *App) Module() *events.Module {
	return a.mod
}

// Stop closes the session and timers; used at shutdown.
func (a *App) Stop() {
	a.timers.StopAll()
	if a.session != nil {
		a.session.Close()
		a.session = nil
	}
	a.working.Store(false)
}

// Connected reports whether the module is subscribed and publishing.
func (a *App) Connected() bool {
	return a.working.Load()
}

// PostData publishes msg to "<data>/<topic>". Safe from any goroutine; the
// publish itself happens on the module goroutine.
func (a *App) PostData(topic string, msg []byte) error {
	if !a.working.Load() {
		return types.ErrNotConnected
	}
	if topic == "" || strings.ContainsRune(topic, 0) || len(msg) == 0 {
		return fmt.Errorf("invalid post: topic %q, %d bytes", topic, len(msg))
	}
	return a.mod.Post(events.PrepareWithData(events.MQTTPostData, events.MQTTApp, events.MQTTApp, packTopic(topic, msg)))
}

// packTopic joins a topic and payload for an event; topics never hold NUL.
func packTopic(topic string, payload []byte) []byte {
	out := make([]byte, 0, len(topic)+1+len(payload))
	out = append(out, topic...)
	out = append(out, 0)
	return append(out, payload...)
}

func unpackTopic(b []byte) (string, []byte, bool) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", nil, false
	}
	return string(b[:i]), b[i+1:], true
}

func (a *App) onInit(ev *events.Event) {
	a.mod.ChangeState(stateIdle)
	a.mod.SendValue(ev.Src, events.InitRes, true)
	if a.ethernetUp {
		a.mod.Self(events.MQTTConnect)
	}
}

func (a *App) onEthConnected(*events.Event) {
	a.ethernetUp = true
	if a.mod.State() == stateIdle {
		a.mod.Self(events.MQTTConnect)
	}
}

func (a *App) onEthDisconnected(*events.Event) {
	a.ethernetUp = false
	if a.mod.State() != stateDisabled {
		a.mod.Self(events.MQTTDisconnect)
	}
}

func (a *App) onIdleConnect(*events.Event) {
	a.timers.Stop(timerReconnect)
	a.mod.ChangeState(stateConnect)
	a.mod.Self(events.MQTTConnect)
}

func (a *App) onDial(*events.Event) {
	if a.session != nil {
		return
	}
	s := a.cfg.Settings()
	session, err := a.dial(DialOptions{
		Settings:  s,
		Cert:      a.cfg.Cert(),
		ClientID:  a.clientID,
		OnConnect: func() { a.mod.Self(events.MQTTConnected) },
		OnLost:    func(error) { a.mod.Self(events.MQTTDisconnect) },
		OnMessage: func(topic string, payload []byte) {
			if topic == "" || strings.ContainsRune(topic, 0) {
				return
			}
			a.mod.SendData(events.MQTTApp, events.MQTTMessage, packTopic(topic, payload))
		},
	})
	if err != nil {
		a.mod.Log().Error().Err(err).Str("address", s.Address).Msg("Unable to create MQTT client")
		a.mod.Self(events.MQTTDisconnect)
		return
	}
	a.session = session
	a.timers.Start(timerConnectTimeout)
	a.mod.Log().Info().Str("address", s.Address).Str("client_id", a.clientID).Msg("Connecting")
}

func (a *App) onConnected(*events.Event) {
	if a.session == nil {
		return
	}
	topic := a.cfg.Settings().Prefix + "/#"
	if err := a.session.Subscribe(topic); err != nil {
		a.mod.Log().Error().Err(err).Msg("Failed subscribe")
		a.mod.Self(events.MQTTDisconnect)
		return
	}
	a.timers.Stop(timerConnectTimeout)
	a.mod.ChangeState(stateWork)
	a.working.Store(true)
	a.mod.Log().Info().Str("topic", topic).Msg("Subscribed")
	a.mod.SendData(events.MQTTApp, events.MQTTPostData, packTopic("", []byte(OnlineStatus)))
}

func (a *App) onConnectTimeout(*events.Event) {
	a.mod.Log().Warn().Dur("timeout", connectTimeoutPeriod).Msg("Connect timed out")
	a.onDisconnect(nil)
}

func (a *App) onUpdateConfig(*events.Event) {
	a.mod.Self(events.MQTTDisconnect)
}

func (a *App) onDisconnect(*events.Event) {
	a.working.Store(false)
	a.timers.Stop(timerConnectTimeout)
	if a.session != nil {
		a.session.Close()
		a.session = nil
	}
	if a.ethernetUp {
		a.timers.Start(timerReconnect)
	}
	if a.mod.State() != stateIdle {
		a.mod.ChangeState(stateIdle)
	}
}

func (a *App) dataTopic(sub string) string {
	data := a.cfg.Settings().Data
	if sub == "" {
		return data
	}
	return data + "/" + sub
}

func (a *App) onPostData(ev *events.Event) {
	topic, payload, ok := unpackTopic(ev.Data())
	if !ok {
		a.mod.Log().Error().Int("len", ev.DataSize()).Msg("Malformed post")
		return
	}
	dst := a.dataTopic(topic)
	if err := a.session.Publish(dst, payload); err != nil {
		a.mod.Log().Warn().Err(err).Str("topic", dst).Msg("Publish data fail")
	}
}

func (a *App) onMessage(ev *events.Event) {
	topic, payload, ok := unpackTopic(ev.Data())
	if !ok {
		return
	}
	settings := a.cfg.Settings()
	prefix := settings.Prefix + "/"
	if !strings.HasPrefix(topic, prefix) || topic == settings.Data || strings.HasPrefix(topic, settings.Data+"/") {
		return
	}
	typ, name, resp := a.topics.Handle(strings.TrimPrefix(topic, prefix), payload)
	log := a.mod.Log().Info()
	if resp.Error != command.OK && resp.Error != command.OKNoAck {
		log = a.mod.Log().Warn()
	}
	log.Str("topic", topic).Str("error", resp.ErrorStr).Msg("Command topic handled")

	if typ != TopicCfg || name == "" {
		return
	}
	dst := a.dataTopic("cfg/" + name)
	if err := a.session.Publish(dst, resp.Marshal()); err != nil {
		a.mod.Log().Warn().Err(err).Str("topic", dst).Msg("Publish config fail")
	}
}
