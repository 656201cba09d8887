// Package wifi is the WIFI_DRV module: it owns the station radio, connects
// with stored credentials and reports link changes to the network manager.
package wifi

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/solatis/aadnode/internal/events"
	"github.com/solatis/aadnode/internal/timers"
	"github.com/solatis/aadnode/internal/types"
)

// Err is the driver result carried in init and connect replies.
type Err uint8

const (
	ErrOK Err = iota
	ErrMemoryEmpty
	ErrFail
)

func (e Err) String() string {
	switch e {
	case ErrOK:
		return "OK"
	case ErrMemoryEmpty:
		return "MEMORY_EMPTY"
	default:
		return "FAIL"
	}
}

const (
	stateDisabled = iota
	stateIdle
	stateScanning
	stateWPS
	stateConnecting
	stateWorking
)

const (
	timerConnect = iota
	timerInfo
)

const (
	connectTimeout = 1500 * time.Millisecond
	infoPeriod     = time.Second
	wpsTimeout     = 2 * time.Minute

	// MaxConnectAttempts bounds connection retries per WIFI_CONNECT_REQ.
	MaxConnectAttempts = 3
)

// Driver is the WIFI_DRV module.
type Driver struct {
	mod    *events.Module
	timers *timers.Set
	radio  Radio

	attempts int
	rssi     atomic.Int32
	linked   atomic.Bool
}

// New registers the WiFi driver module.
func New(router *events.Router, radio Radio) *Driver {
	d := &Driver{
		mod:   events.NewModule(events.WifiDrv, events.SmallMailbox, router),
		radio: radio,
	}
	d.timers = timers.New([]timers.Timer{
		{ID: timerConnect, Name: "wifi_connect", Period: connectTimeout, Callback: func() {
			d.mod.Self(events.WifiTimeoutConnect)
		}},
		{ID: timerInfo, Name: "wifi_info", Period: infoPeriod, Callback: func() {
			d.mod.Self(events.WifiUpdateInfo)
		}},
	})

	deinit := events.On(events.DeinitReq, d.onDeinit)
	d.mod.SetStates([]events.State{
		stateDisabled: {Name: "DISABLED", Handlers: []events.Handler{
			events.On(events.InitReq, d.onInit),
		}},
		stateIdle: {Name: "IDLE", Handlers: []events.Handler{
			events.On(events.WifiConnectReq, d.onConnectReq),
			events.On(events.WifiWPSReq, d.onWPSReq),
			events.On(events.WifiScanReq, d.onScanReq),
			deinit,
		}},
		stateScanning: {Name: "SCANNING", Handlers: []events.Handler{
			events.On(events.WifiScanRes, d.onScanRes),
			deinit,
		}},
		stateWPS: {Name: "WPS", Handlers: []events.Handler{
			events.On(events.WifiWPSRes, d.onWPSRes),
			deinit,
		}},
		stateConnecting: {Name: "CONNECTING", Handlers: []events.Handler{
			events.On(events.WifiConnectReq, d.onConnect),
			events.On(events.WifiTimeoutConnect, d.onConnectTimeout),
			events.On(events.WifiConnectRes, d.onConnectRes),
			deinit,
		}},
		stateWorking: {Name: "WORKING", Handlers: []events.Handler{
			events.On(events.WifiUpdateInfo, d.onUpdateInfo),
			events.On(events.WifiDisconnectReq, d.onDisconnectReq),
			events.On(events.WifiDisconnectRes, d.onDisconnectRes),
			deinit,
		}},
	})
	return d
}

// Module exposes the underlying module for the runner.
func (d *Driver) Module() *events.Module {
	return d.mod
}

// RSSI returns the last signal level read while connected.
func (d *Driver) RSSI() (int, bool) {
	return int(d.rssi.Load()), d.linked.Load()
}

func (d *Driver) onInit(ev *events.Event) {
	res := ErrOK
	if err := d.radio.Init(); err != nil {
		d.mod.Log().Error().Err(err).Msg("Radio init failed")
		res = ErrFail
	} else if _, _, err := d.radio.Credentials(); err != nil {
		if !errors.Is(err, types.ErrNoCredentials) {
			d.mod.Log().Error().Err(err).Msg("Unable to read credentials")
		}
		res = ErrMemoryEmpty
	}
	if res != ErrFail {
		d.mod.ChangeState(stateIdle)
	}
	d.mod.SendValue(ev.Src, events.NetworkManagerWifiInitRes, res)
}

func (d *Driver) onConnectReq(*events.Event) {
	d.attempts = 0
	d.mod.ChangeState(stateConnecting)
	d.mod.Self(events.WifiConnectReq)
}

func (d *Driver) onConnect(*events.Event) {
	ssid, pass, err := d.radio.Credentials()
	if err != nil {
		d.mod.Log().Warn().Err(err).Msg("No credentials to connect with")
		d.mod.SendValue(d.mod.ID(), events.WifiConnectRes, false)
		return
	}

	d.attempts++
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	err = d.radio.Connect(ctx, ssid, pass)
	cancel()
	if err == nil {
		d.mod.Log().Info().Str("ssid", ssid).Msg("Connected")
		d.mod.SendValue(d.mod.ID(), events.WifiConnectRes, true)
		return
	}

	d.mod.Log().Warn().Err(err).Str("ssid", ssid).Int("attempt", d.attempts).Msg("Connect failed")
	if d.attempts >= MaxConnectAttempts {
		d.mod.SendValue(d.mod.ID(), events.WifiConnectRes, false)
		return
	}
	d.timers.Start(timerConnect)
}

func (d *Driver) onConnectTimeout(*events.Event) {
	d.mod.Self(events.WifiConnectReq)
}

func (d *Driver) onConnectRes(ev *events.Event) {
	var ok bool
	ev.Value(&ok)
	d.timers.Stop(timerConnect)
	if ok {
		d.linked.Store(true)
		d.mod.ChangeState(stateWorking)
		d.timers.Start(timerInfo)
		d.mod.SendValue(events.NetworkManager, events.NetworkManagerWifiConnectRes, ErrOK)
		return
	}
	d.mod.ChangeState(stateIdle)
	d.mod.SendValue(events.NetworkManager, events.NetworkManagerWifiConnectRes, ErrFail)
}

func (d *Driver) onUpdateInfo(*events.Event) {
	rssi, err := d.radio.RSSI()
	if err != nil {
		d.mod.Log().Warn().Err(err).Msg("Link lost")
		d.dropLink()
		return
	}
	d.rssi.Store(int32(rssi))
	d.mod.Log().Debug().Int("rssi", rssi).Msg("Link info")
	d.timers.Start(timerInfo)
}

func (d *Driver) onDisconnectReq(*events.Event) {
	if err := d.radio.Disconnect(); err != nil {
		d.mod.Log().Error().Err(err).Msg("Disconnect failed")
	}
	d.mod.Self(events.WifiDisconnectRes)
}

func (d *Driver) onDisconnectRes(*events.Event) {
	d.dropLink()
}

func (d *Driver) dropLink() {
	d.timers.Stop(timerInfo)
	d.linked.Store(false)
	d.mod.ChangeState(stateIdle)
	d.mod.Send(events.NetworkManager, events.NetworkManagerWifiDisconnected)
}

func (d *Driver) onWPSReq(*events.Event) {
	d.mod.ChangeState(stateWPS)
	ctx, cancel := context.WithTimeout(context.Background(), wpsTimeout)
	err := d.radio.StartWPS(ctx)
	cancel()
	if err != nil {
		d.mod.Log().Warn().Err(err).Msg("WPS failed")
	}
	d.mod.SendValue(d.mod.ID(), events.WifiWPSRes, err == nil)
}

func (d *Driver) onWPSRes(ev *events.Event) {
	var ok bool
	ev.Value(&ok)
	d.mod.ChangeState(stateIdle)
	if ok {
		d.mod.Self(events.WifiConnectReq)
	}
}

func (d *Driver) onScanReq(*events.Event) {
	d.mod.ChangeState(stateScanning)
	aps, err := d.radio.Scan()
	if err != nil {
		d.mod.Log().Error().Err(err).Msg("Scan failed")
	}
	for _, ap := range aps {
		d.mod.Log().Info().Str("ssid", ap.SSID).Int("rssi", ap.RSSI).Msg("Network found")
	}
	d.mod.SendValue(d.mod.ID(), events.WifiScanRes, uint8(min(len(aps), 255)))
}

func (d *Driver) onScanRes(ev *events.Event) {
	var n uint8
	ev.Value(&n)
	d.mod.Log().Info().Uint8("count", n).Msg("Scan finished")
	d.mod.ChangeState(stateIdle)
}

func (d *Driver) onDeinit(*events.Event) {
	d.timers.StopAll()
	if d.linked.Swap(false) {
		d.mod.Send(events.NetworkManager, events.NetworkManagerWifiDisconnected)
	}
	if err := d.radio.Deinit(); err != nil {
		d.mod.Log().Error().Err(err).Msg("Radio deinit failed")
	}
	d.mod.ChangeState(stateDisabled)
}
