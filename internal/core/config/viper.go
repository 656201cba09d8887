package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence; flags are
// applied by the caller.
func LoadConfig(configPath string) (*AgentConfig, error) {
	v := viper.New()
	d := DefaultAgentConfig()

	v.SetDefault("device.data_dir", d.Device.DataDir)
	v.SetDefault("device.sw_version", d.Device.SWVersion)
	v.SetDefault("device.project", d.Device.Project)
	v.SetDefault("device.secure_version", d.Device.SecureVersion)
	v.SetDefault("tcp.host", d.TCP.Host)
	v.SetDefault("tcp.port", d.TCP.Port)
	v.SetDefault("health.host", d.Health.Host)
	v.SetDefault("health.port", d.Health.Port)
	v.SetDefault("wifi.interface", d.WiFiInterface)
	v.SetDefault("onewire.port", d.OneWirePort)
	v.SetDefault("ota.http_timeout", d.OTA.HTTPTimeout.String())
	v.SetDefault("ota.reject_same_version", d.OTA.RejectSameVersion)
	v.SetDefault("telemetry.measure_interval", d.Telemetry.MeasureInterval.String())
	v.SetDefault("telemetry.post_interval", d.Telemetry.PostInterval.String())

	// Bind environment variables with AAD_ prefix
	v.SetEnvPrefix("AAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &AgentConfig{
		Device: DeviceConfig{
			DataDir:       v.GetString("device.data_dir"),
			SWVersion:     v.GetString("device.sw_version"),
			Project:       v.GetString("device.project"),
			SecureVersion: v.GetUint32("device.secure_version"),
		},
		TCP:           ListenConfig{Host: v.GetString("tcp.host"), Port: v.GetInt("tcp.port")},
		Health:        ListenConfig{Host: v.GetString("health.host"), Port: v.GetInt("health.port")},
		WiFiInterface: v.GetString("wifi.interface"),
		OneWirePort:   v.GetString("onewire.port"),
		OTA: OTAConfig{
			HTTPTimeout:       v.GetDuration("ota.http_timeout"),
			RejectSameVersion: v.GetBool("ota.reject_same_version"),
		},
		Telemetry: TelemetryConfig{
			MeasureInterval: v.GetDuration("telemetry.measure_interval"),
			PostInterval:    v.GetDuration("telemetry.post_interval"),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks port ranges, non-empty identity fields and positive periods.
func validateConfig(cfg *AgentConfig) error {
	for name, port := range map[string]int{"tcp.port": cfg.TCP.Port, "health.port": cfg.Health.Port} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
		}
	}
	if cfg.Device.DataDir == "" {
		return fmt.Errorf("device.data_dir must not be empty")
	}
	if cfg.Device.SWVersion == "" {
		return fmt.Errorf("device.sw_version must not be empty")
	}
	if len(cfg.Device.SWVersion) >= 32 || len(cfg.Device.Project) >= 32 {
		return fmt.Errorf("device.sw_version and device.project must be shorter than 32 bytes")
	}
	if cfg.OTA.HTTPTimeout <= 0 {
		return fmt.Errorf("ota.http_timeout must be positive, got %v", cfg.OTA.HTTPTimeout)
	}
	if cfg.Telemetry.MeasureInterval <= 0 {
		return fmt.Errorf("telemetry.measure_interval must be positive, got %v", cfg.Telemetry.MeasureInterval)
	}
	if cfg.Telemetry.PostInterval <= 0 {
		return fmt.Errorf("telemetry.post_interval must be positive, got %v", cfg.Telemetry.PostInterval)
	}
	return nil
}

// validateNoSecretsInConfig keeps device credentials in the store, where
// provisioning writes them.
func validateNoSecretsInConfig(v *viper.Viper) error {
	for _, key := range []string{"ota.token", "mqtt.pass", "mqtt.password", "wifi.password"} {
		if v.InConfig(key) {
			return fmt.Errorf("%s not allowed in config files (use aadnode provision)", key)
		}
	}
	return nil
}
