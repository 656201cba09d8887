// Package netmgr is the NETWORK_MANAGER module. It brings up the WiFi driver
// and the TCP command server, and fans link changes out to the modules that
// need connectivity.
package netmgr

import (
	"time"

	"github.com/solatis/aadnode/internal/events"
	"github.com/solatis/aadnode/internal/timers"
	"github.com/solatis/aadnode/internal/wifi"
)

const (
	stateDisabled = iota
	stateInit
	stateIdle
)

const (
	timerInit = iota
	timerReconnect
)

const (
	initTimeout     = 1000 * time.Millisecond
	reconnectPeriod = 5 * time.Second
)

// Manager is the NETWORK_MANAGER module.
type Manager struct {
	mod    *events.Module
	timers *timers.Set

	requester events.ModuleID
	wifiRes   *wifi.Err
	tcpRes    *bool
	linkUp    bool
}

// New registers the network manager module.
func New(router *events.Router) *Manager {
	m := &Manager{mod: events.NewModule(events.NetworkManager, events.LargeMailbox, router)}
	m.timers = timers.New([]timers.Timer{
		{ID: timerInit, Name: "netmgr_init", Period: initTimeout, Callback: func() {
			m.mod.Self(events.NetworkManagerTimeoutInit)
		}},
		{ID: timerReconnect, Name: "netmgr_reconnect", Period: reconnectPeriod, Callback: func() {
			m.mod.Self(events.NetworkManagerReconnect)
		}},
	})
	m.mod.SetStates([]events.State{
		stateDisabled: {Name: "DISABLED", Handlers: []events.Handler{
			events.On(events.InitReq, m.onInit),
		}},
		stateInit: {Name: "INIT", Handlers: []events.Handler{
			events.On(events.NetworkManagerWifiInitRes, m.onWifiInitRes),
			events.On(events.InitRes, m.onTCPInitRes),
			events.On(events.NetworkManagerTimeoutInit, m.onInitTimeout),
		}},
		stateIdle: {Name: "IDLE", Handlers: []events.Handler{
			events.On(events.NetworkManagerWifiConnectRes, m.onWifiConnectRes),
			events.On(events.NetworkManagerWifiDisconnected, m.onWifiDisconnected),
			events.On(events.NetworkManagerReconnect, m.onReconnect),
			events.On(events.NetworkManagerTCPServerClientStatus, m.onClientStatus),
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
	m.requester = ev.Src
	m.wifiRes = nil
	m.tcpRes = nil
	m.mod.ChangeState(stateInit)
	m.mod.Send(events.WifiDrv, events.InitReq)
	m.mod.Send(events.TCPServer, events.InitReq)
	m.timers.Start(timerInit)
}

func (m *Manager) onWifiInitRes(ev *events.Event) {
	var res wifi.Err
	if !ev.Value(&res) {
		res = wifi.ErrFail
	}
	m.mod.Log().Info().Str("result", res.String()).Msg("WiFi initialised")
	m.wifiRes = &res
	m.checkInit()
}

func (m *Manager) onTCPInitRes(ev *events.Event) {
	if ev.Src != events.TCPServer {
		m.mod.Log().Debug().Str("src", ev.Src.String()).Msg("Unexpected INIT_RES")
		return
	}
	var ok bool
	ev.Value(&ok)
	m.tcpRes = &ok
	m.checkInit()
}

func (m *Manager) checkInit() {
	if m.wifiRes == nil || m.tcpRes == nil {
		return
	}
	m.timers.Stop(timerInit)
	m.finishInit()
}

func (m *Manager) onInitTimeout(*events.Event) {
	m.mod.Log().Warn().
		Bool("wifi", m.wifiRes != nil).
		Bool("tcp_server", m.tcpRes != nil).
		Msg("Init timed out")
	m.finishInit()
}

func (m *Manager) finishInit() {
	wifiRes := wifi.ErrFail
	if m.wifiRes != nil {
		wifiRes = *m.wifiRes
	}
	tcpOK := m.tcpRes != nil && *m.tcpRes

	if wifiRes == wifi.ErrFail {
		m.mod.ChangeState(stateDisabled)
		m.mod.Send(events.WifiDrv, events.DeinitReq)
		m.mod.SendValue(m.requester, events.InitRes, false)
		return
	}

	m.mod.ChangeState(stateIdle)
	m.mod.SendValue(m.requester, events.InitRes, tcpOK)
	if wifiRes == wifi.ErrOK {
		m.mod.Send(events.WifiDrv, events.WifiConnectReq)
	} else {
		m.mod.Log().Warn().Msg("No WiFi credentials stored")
	}
}

func (m *Manager) onWifiConnectRes(ev *events.Event) {
	var res wifi.Err
	if !ev.Value(&res) {
		res = wifi.ErrFail
	}
	if res != wifi.ErrOK {
		m.mod.Log().Warn().Str("result", res.String()).Msg("WiFi connect failed")
		m.linkDown()
		return
	}
	m.timers.Stop(timerReconnect)
	m.linkUp = true
	m.mod.Log().Info().Msg("Network connected")
	m.mod.Send(events.TCPServer, events.TCPServerEthernetConnected)
	m.mod.Send(events.MQTTApp, events.MQTTEthConnected)
	m.mod.Send(events.OTA, events.OTAPollServer)
}

func (m *Manager) onWifiDisconnected(*events.Event) {
	m.mod.Log().Warn().Msg("Network disconnected")
	m.linkDown()
}

func (m *Manager) linkDown() {
	if m.linkUp {
		m.linkUp = false
		m.mod.Send(events.TCPServer, events.TCPServerEthernetDisconnected)
		m.mod.Send(events.MQTTApp, events.MQTTEthDisconnected)
	}
	m.timers.Start(timerReconnect)
}

func (m *Manager) onReconnect(*events.Event) {
	m.mod.Send(events.WifiDrv, events.WifiConnectReq)
}

func (m *Manager) onClientStatus(ev *events.Event) {
	var connected bool
	ev.Value(&connected)
	m.mod.Log().Info().Bool("connected", connected).Msg("Command client status")
}

func (m *Manager) onDeinit(*events.Event) {
	m.timers.StopAll()
	m.mod.Send(events.TCPServer, events.DeinitReq)
	m.mod.Send(events.WifiDrv, events.DeinitReq)
	m.linkUp = false
	m.mod.ChangeState(stateDisabled)
}
