// Package api binds the device's configuration and control surface to JSON
// command methods. The same methods serve the TCP command server and the MQTT
// command topics.
package api

import (
	"encoding/json"
	"fmt"

	"github.com/solatis/aadnode/internal/command"
	"github.com/solatis/aadnode/internal/mqttapp"
	"github.com/solatis/aadnode/internal/ota"
)

// DeviceInfo is reported by getDeviceConfig.
type DeviceInfo struct {
	Version string
	Project string
	Serial  uint32
}

// SensorSelector picks the temperature sensor reported in telemetry.
type SensorSelector interface {
	SelectSensor(index int) error
}

// Service holds the state the command methods act on.
type Service struct {
	ota     *ota.Config
	mqtt    *mqttapp.Config
	device  DeviceInfo
	sensors SensorSelector
}

// NewService creates the method set. sensors may be nil when no temperature
// bus is configured.
func NewService(otaCfg *ota.Config, mqttCfg *mqttapp.Config, device DeviceInfo, sensors SensorSelector) (*Service, error) {
	if otaCfg == nil {
		return nil, fmt.Errorf("otaCfg cannot be nil")
	}
	if mqttCfg == nil {
		return nil, fmt.Errorf("mqttCfg cannot be nil")
	}
	return &Service{
		ota:     otaCfg,
		mqtt:    mqttCfg,
		device:  device,
		sensors: sensors,
	}, nil
}

// Methods returns every command method in registration order.
func (s *Service) Methods() []command.Method {
	return []command.Method{
		s.setOTA(),
		s.getOTA(),
		s.saveOTA(),
		s.setMQTT(),
		s.getMQTT(),
		s.setMQTTCert(),
		s.getMQTTCert(),
		s.saveMQTT(),
		s.getDeviceConfig(),
		s.setTemperatureSensor(),
	}
}

// Register adds all methods to r.
func (s *Service) Register(r *command.Registry) error {
	for _, m := range s.Methods() {
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// RegisterTopics binds the MQTT command topics.
func (s *Service) RegisterTopics(t *mqttapp.Topics) error {
	bindings := []struct {
		typ    mqttapp.TopicType
		name   string
		method command.Method
	}{
		{mqttapp.TopicSet, "ota", s.setOTA()},
		{mqttapp.TopicCfg, "ota", s.getOTA()},
		{mqttapp.TopicCtl, "ota_save", s.saveOTA()},
		{mqttapp.TopicSet, "mqtt", s.setMQTT()},
		{mqttapp.TopicCfg, "mqtt", s.getMQTT()},
		{mqttapp.TopicCtl, "mqtt_save", s.saveMQTT()},
		{mqttapp.TopicCfg, "device", s.getDeviceConfig()},
		{mqttapp.TopicCtl, "temperature", s.setTemperatureSensor()},
	}
	for _, b := range bindings {
		if err := t.Register(b.typ, b.name, b.method); err != nil {
			return err
		}
	}
	return nil
}

// reply is the Response of setter methods: the first failure message, or OK
// without a body.
func reply(c *command.Call) (command.ErrorCode, json.RawMessage) {
	if c.Failed() {
		return command.Fail, command.Quote(c.Message)
	}
	return command.OK, nil
}

// failOnce keeps the first failure of a call.
func failOnce(c *command.Call, msg string) {
	if !c.Failed() {
		c.Fail(msg)
	}
}
