package netmgr

import (
	"slices"
	"testing"

	"github.com/solatis/aadnode/internal/events"
	"github.com/solatis/aadnode/internal/wifi"
)

// recorder is a module that keeps the ids of everything posted to it.
type recorder struct {
	mod *events.Module
	got []events.MsgID
	res []bool
}

func newRecorder(router *events.Router, id events.ModuleID) *recorder {
	r := &recorder{mod: events.NewModule(id, events.LargeMailbox, router)}
	r.mod.SetStates([]events.State{{Name: "IDLE", Handlers: r.handlers()}})
	return r
}

// drain empties the mailbox, recording ids and any boolean INIT_RES.
func (r *recorder) drain() {
	r.mod.ProcessPending(r.mod.Pending())
}

func (r *recorder) handlers() []events.Handler {
	var hs []events.Handler
	for id := events.MsgNone + 1; id <= events.DevManagerPost; id++ {
		hs = append(hs, events.On(id, func(ev *events.Event) {
			r.got = append(r.got, ev.ID)
			if ev.ID == events.InitRes {
				var ok bool
				ev.Value(&ok)
				r.res = append(r.res, ok)
			}
		}))
	}
	return hs
}

type env struct {
	router *events.Router
	m      *Manager
	app    *recorder
	wifi   *recorder
	tcp    *recorder
	mqtt   *recorder
	ota    *recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	router := events.NewRouter()
	e := &env{
		router: router,
		app:    newRecorder(router, events.AppManager),
		wifi:   newRecorder(router, events.WifiDrv),
		tcp:    newRecorder(router, events.TCPServer),
		mqtt:   newRecorder(router, events.MQTTApp),
		ota:    newRecorder(router, events.OTA),
	}
	e.m = New(router)
	t.Cleanup(e.m.timers.StopAll)
	return e
}

func (e *env) run() {
	e.m.Module().ProcessPending(32)
	for _, r := range []*recorder{e.app, e.wifi, e.tcp, e.mqtt, e.ota} {
		r.drain()
	}
}

func (e *env) init(wifiRes wifi.Err, tcpOK bool) {
	e.router.Send(events.InitReq, events.AppManager, events.NetworkManager)
	e.run()
	e.router.SendValue(events.NetworkManagerWifiInitRes, events.WifiDrv, events.NetworkManager, wifiRes)
	e.router.SendValue(events.InitRes, events.TCPServer, events.NetworkManager, tcpOK)
	e.run()
}

func TestManager_InitFansOut(t *testing.T) {
	e := newEnv(t)
	e.init(wifi.ErrOK, true)

	if !slices.Contains(e.wifi.got, events.InitReq) || !slices.Contains(e.tcp.got, events.InitReq) {
		t.Fatalf("init requests: wifi %v, tcp %v", e.wifi.got, e.tcp.got)
	}
	if e.m.Module().StateName() != "IDLE" {
		t.Fatalf("state = %s, want IDLE", e.m.Module().StateName())
	}
	if len(e.app.res) != 1 || !e.app.res[0] {
		t.Errorf("INIT_RES to requester = %v, want [true]", e.app.res)
	}
	if !slices.Contains(e.wifi.got, events.WifiConnectReq) {
		t.Errorf("no WIFI_CONNECT_REQ after init: %v", e.wifi.got)
	}
	if e.m.timers.Active(timerInit) {
		t.Error("init timer still running")
	}
}

func TestManager_InitWithoutCredentials(t *testing.T) {
	e := newEnv(t)
	e.init(wifi.ErrMemoryEmpty, true)

	if e.m.Module().StateName() != "IDLE" {
		t.Errorf("state = %s, want IDLE", e.m.Module().StateName())
	}
	if slices.Contains(e.wifi.got, events.WifiConnectReq) {
		t.Error("connect requested without credentials")
	}
}

func TestManager_WifiInitFailure(t *testing.T) {
	e := newEnv(t)
	e.init(wifi.ErrFail, true)

	if e.m.Module().StateName() != "DISABLED" {
		t.Errorf("state = %s, want DISABLED", e.m.Module().StateName())
	}
	if !slices.Contains(e.wifi.got, events.DeinitReq) {
		t.Errorf("WiFi not deinitialised: %v", e.wifi.got)
	}
	if len(e.app.res) != 1 || e.app.res[0] {
		t.Errorf("INIT_RES = %v, want [false]", e.app.res)
	}
}

func TestManager_InitTimeout(t *testing.T) {
	e := newEnv(t)
	e.router.Send(events.InitReq, events.AppManager, events.NetworkManager)
	e.run()
	e.router.SendValue(events.NetworkManagerWifiInitRes, events.WifiDrv, events.NetworkManager, wifi.ErrOK)
	e.m.timers.Stop(timerInit)
	e.router.Send(events.NetworkManagerTimeoutInit, events.NetworkManager, events.NetworkManager)
	e.run()

	if e.m.Module().StateName() != "IDLE" {
		t.Errorf("state = %s, want IDLE", e.m.Module().StateName())
	}
	if len(e.app.res) != 1 || e.app.res[0] {
		t.Errorf("INIT_RES = %v, want [false] without TCP server", e.app.res)
	}
}

func TestManager_LinkBridging(t *testing.T) {
	e := newEnv(t)
	e.init(wifi.ErrOK, true)

	e.router.SendValue(events.NetworkManagerWifiConnectRes, events.WifiDrv, events.NetworkManager, wifi.ErrOK)
	e.run()
	if !slices.Contains(e.tcp.got, events.TCPServerEthernetConnected) {
		t.Errorf("tcp server not told: %v", e.tcp.got)
	}
	if !slices.Contains(e.mqtt.got, events.MQTTEthConnected) {
		t.Errorf("mqtt not told: %v", e.mqtt.got)
	}
	if !slices.Contains(e.ota.got, events.OTAPollServer) {
		t.Errorf("ota not told: %v", e.ota.got)
	}

	e.router.Send(events.NetworkManagerWifiDisconnected, events.WifiDrv, events.NetworkManager)
	e.run()
	if !slices.Contains(e.tcp.got, events.TCPServerEthernetDisconnected) || !slices.Contains(e.mqtt.got, events.MQTTEthDisconnected) {
		t.Errorf("disconnect not fanned out: tcp %v, mqtt %v", e.tcp.got, e.mqtt.got)
	}
	if !e.m.timers.Active(timerReconnect) {
		t.Fatal("reconnect timer not armed")
	}

	e.m.timers.Stop(timerReconnect)
	before := len(e.wifi.got)
	e.router.Send(events.NetworkManagerReconnect, events.NetworkManager, events.NetworkManager)
	e.run()
	if !slices.Contains(e.wifi.got[before:], events.WifiConnectReq) {
		t.Errorf("reconnect did not request WiFi: %v", e.wifi.got[before:])
	}
}

func TestManager_ConnectFailureRetries(t *testing.T) {
	e := newEnv(t)
	e.init(wifi.ErrOK, true)

	e.router.SendValue(events.NetworkManagerWifiConnectRes, events.WifiDrv, events.NetworkManager, wifi.ErrFail)
	e.run()
	if !e.m.timers.Active(timerReconnect) {
		t.Error("reconnect timer not armed after failure")
	}
	if slices.Contains(e.tcp.got, events.TCPServerEthernetDisconnected) {
		t.Error("disconnect sent for a link that never came up")
	}
}
