// Package temperature is the TEMP_DRV module: it scans the 1-Wire bus for
// DS18B20 sensors and keeps their latest readings.
package temperature

import (
	"fmt"
	"sync"
	"time"

	"github.com/solatis/aadnode/internal/events"
	"github.com/solatis/aadnode/internal/temperature/onewire"
	"github.com/solatis/aadnode/internal/timers"
)

const (
	stateDisabled = iota
	stateInit
	stateIdle
	stateScanning
	stateWorking
)

const timerMeasure = 0

const measurePeriod = 1000 * time.Millisecond

// Bus is the sensor network the driver reads.
type Bus interface {
	Search() ([]onewire.ROM, error)
	ConvertAll() error
	ReadTemperature(rom onewire.ROM) (float64, error)
}

// Opener connects to the bus; the returned closer releases it.
type Opener func() (Bus, func() error, error)

// UARTOpener opens a UART 1-Wire adapter on the named serial device.
func UARTOpener(port string) Opener {
	return func() (Bus, func() error, error) {
		u, err := onewire.OpenUART(port)
		if err != nil {
			return nil, nil, err
		}
		return onewire.NewNetwork(u), u.Close, nil
	}
}

// Reading is the last measurement of one sensor.
type Reading struct {
	ID      string
	Celsius float64
	Valid   bool
	At      time.Time
}

// Driver is the TEMP_DRV module.
type Driver struct {
	mod    *events.Module
	timers *timers.Set
	open   Opener

	bus       Bus
	close     func() error
	requester events.ModuleID
	roms      []onewire.ROM
	converted bool

	mu       sync.Mutex
	readings []Reading
	selected int
}

// New registers the temperature module.
func New(router *events.Router, open Opener) *Driver {
	d := &Driver{
		mod:  events.NewModule(events.TempDrv, events.SmallMailbox, router),
		open: open,
	}
	d.timers = timers.New([]timers.Timer{
		{ID: timerMeasure, Name: "temp_measure", Period: measurePeriod, Callback: func() {
			d.mod.Self(events.TempMeasureReq)
		}},
	})
	deinit := events.On(events.DeinitReq, d.onDeinit)
	d.mod.SetStates([]events.State{
		stateDisabled: {Name: "DISABLED", Handlers: []events.Handler{
			events.On(events.InitReq, d.onInitReq),
		}},
		stateInit: {Name: "INIT", Handlers: []events.Handler{
			events.On(events.InitReq, d.onOpen),
		}},
		stateIdle: {Name: "IDLE", Handlers: []events.Handler{
			events.On(events.TempScanDevicesReq, d.onScanReq),
			events.On(events.TempStartMeasure, d.onStartMeasure),
			deinit,
		}},
		stateScanning: {Name: "SCANNING", Handlers: []events.Handler{
			events.On(events.TempScanDevicesRes, d.onScanRes),
			deinit,
		}},
		stateWorking: {Name: "WORKING", Handlers: []events.Handler{
			events.On(events.TempMeasureReq, d.onMeasure),
			events.On(events.TempStopMeasure, d.onStopMeasure),
			events.On(events.TempScanDevicesReq, d.onScanReq),
			deinit,
		}},
	})
	return d
}

// Module exposes the underlying module for the runner.
func (d *Driver) Module() *events.Module {
	return d.mod
}

// Readings returns a copy of the latest readings in scan order.
func (d *Driver) Readings() []Reading {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Reading(nil), d.readings...)
}

// SelectSensor picks the sensor reported by Selected.
func (d *Driver) SelectSensor(index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.readings) {
		return fmt.Errorf("sensor %d out of range, %d found", index, len(d.readings))
	}
	d.selected = index
	return nil
}

// Selected returns the reading of the selected sensor.
func (d *Driver) Selected() (Reading, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.selected >= len(d.readings) || !d.readings[d.selected].Valid {
		return Reading{}, false
	}
	return d.readings[d.selected], true
}

func (d *Driver) onInitReq(ev *events.Event) {
	d.requester = ev.Src
	d.mod.ChangeState(stateInit)
	d.mod.Self(events.InitReq)
}

func (d *Driver) onOpen(*events.Event) {
	bus, closer, err := d.open()
	if err != nil {
		d.mod.Log().Error().Err(err).Msg("Unable to open 1-Wire bus")
		d.mod.ChangeState(stateDisabled)
		d.mod.SendValue(d.requester, events.InitRes, false)
		return
	}
	d.bus, d.close = bus, closer
	d.mod.ChangeState(stateIdle)
	d.mod.SendValue(d.requester, events.InitRes, true)
}

func (d *Driver) onScanReq(*events.Event) {
	d.timers.Stop(timerMeasure)
	d.mod.ChangeState(stateScanning)

	roms, err := d.bus.Search()
	if err != nil {
		d.mod.Log().Error().Err(err).Int("found", len(roms)).Msg("Bus search failed")
	}
	var sensors []onewire.ROM
	for _, rom := range roms {
		if rom.Family() != onewire.FamilyDS18B20 {
			d.mod.Log().Debug().Str("rom", rom.String()).Msg("Skipping non-DS18B20 device")
			continue
		}
		d.mod.Log().Info().Str("rom", rom.String()).Msg("Sensor found")
		sensors = append(sensors, rom)
	}
	d.roms = sensors
	d.converted = false

	readings := make([]Reading, len(sensors))
	for i, rom := range sensors {
		readings[i] = Reading{ID: rom.String()}
	}
	d.mu.Lock()
	d.readings = readings
	if d.selected >= len(readings) {
		d.selected = 0
	}
	d.mu.Unlock()

	d.mod.SendValue(d.mod.ID(), events.TempScanDevicesRes, uint8(len(sensors)))
}

func (d *Driver) onScanRes(ev *events.Event) {
	var n uint8
	ev.Value(&n)
	d.mod.SendValue(events.AppManager, events.AppManagerTempSensorsScanRes, n)
	if n == 0 {
		d.mod.ChangeState(stateIdle)
		return
	}
	d.startMeasuring()
}

func (d *Driver) onStartMeasure(*events.Event) {
	if len(d.roms) == 0 {
		d.mod.Log().Warn().Msg("No sensors to measure")
		return
	}
	d.startMeasuring()
}

func (d *Driver) startMeasuring() {
	d.mod.ChangeState(stateWorking)
	d.convert()
	d.timers.Start(timerMeasure)
}

func (d *Driver) convert() {
	if err := d.bus.ConvertAll(); err != nil {
		d.mod.Log().Error().Err(err).Msg("Conversion failed")
		d.converted = false
		return
	}
	d.converted = true
}

// onMeasure reads the conversion started on the previous tick and starts the
// next one.
func (d *Driver) onMeasure(*events.Event) {
	if d.converted {
		now := time.Now()
		readings := make([]Reading, len(d.roms))
		for i, rom := range d.roms {
			readings[i] = Reading{ID: rom.String(), At: now}
			c, err := d.bus.ReadTemperature(rom)
			if err != nil {
				d.mod.Log().Warn().Err(err).Str("rom", rom.String()).Msg("Read failed")
				continue
			}
			readings[i].Celsius, readings[i].Valid = c, true
			d.mod.Log().Debug().Str("rom", rom.String()).Float64("celsius", c).Msg("Measured")
		}
		d.mu.Lock()
		d.readings = readings
		d.mu.Unlock()
	}
	d.convert()
	d.timers.Start(timerMeasure)
}

func (d *Driver) onStopMeasure(*events.Event) {
	d.timers.Stop(timerMeasure)
	d.mod.ChangeState(stateIdle)
}

func (d *Driver) onDeinit(*events.Event) {
	d.timers.StopAll()
	if d.close != nil {
		if err := d.close(); err != nil {
			d.mod.Log().Error().Err(err).Msg("Unable to close 1-Wire bus")
		}
	}
	d.bus, d.close = nil, nil
	d.mod.ChangeState(stateDisabled)
}
