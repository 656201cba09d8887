// Package config provides configuration management for the aadnode agent.
package config

import (
	"net"
	"os"
	"strconv"
	"time"
)

// DefaultDBURL is used when neither --db-url nor AAD_DB_URL is set.
const DefaultDBURL = "sqlite://./data/aadnode.db"

// DeviceConfig describes the factory image and where slot images live.
type DeviceConfig struct {
	DataDir       string
	SWVersion     string
	Project       string
	SecureVersion uint32
}

// ListenConfig is a host and port pair.
type ListenConfig struct {
	Host string
	Port int
}

// Addr joins host and port.
func (l ListenConfig) Addr() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// OTAConfig tunes the deployment client.
type OTAConfig struct {
	HTTPTimeout       time.Duration
	RejectSameVersion bool
}

// TelemetryConfig holds the device manager timer periods.
type TelemetryConfig struct {
	MeasureInterval time.Duration
	PostInterval    time.Duration
}

// AgentConfig holds configuration for the agent command.
type AgentConfig struct {
	Device        DeviceConfig
	TCP           ListenConfig
	Health        ListenConfig
	WiFiInterface string
	OneWirePort   string
	OTA           OTAConfig
	Telemetry     TelemetryConfig
}

// DefaultAgentConfig returns configuration with default values.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		Device: DeviceConfig{
			DataDir:   "./data",
			SWVersion: "1.0.0",
			Project:   "AAD",
		},
		TCP:    ListenConfig{Host: "0.0.0.0", Port: 1234},
		Health: ListenConfig{Host: "127.0.0.1", Port: 50052},
		OTA: OTAConfig{
			HTTPTimeout: 3 * time.Second,
		},
		Telemetry: TelemetryConfig{
			MeasureInterval: time.Second,
			PostInterval:    10 * time.Second,
		},
	}
}

// DatabaseURL picks the flag value, then AAD_DB_URL, then DefaultDBURL.
func DatabaseURL(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv("AAD_DB_URL"); v != "" {
		return v
	}
	return DefaultDBURL
}
