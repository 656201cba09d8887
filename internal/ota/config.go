package ota

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/solatis/aadnode/internal/core/nvs"
	"github.com/solatis/aadnode/internal/types"
)

// SettingsStore is the persistence the OTA configuration needs.
type SettingsStore interface {
	GetString(namespace, key string) (string, error)
	SetString(namespace, key, value string) error
	GetU32(namespace, key string) (uint32, error)
	SetU32(namespace, key string, v uint32) error
	GetBool(namespace, key string) (bool, error)
	SetBool(namespace, key string, v bool) error
}

// Settings is the deployment server configuration. Field order matches the
// getOTA reply.
type Settings struct {
	Address  string `json:"address"`
	Tenant   string `json:"tenant"`
	TLS      bool   `json:"tls"`
	PollTime uint32 `json:"poll_time"`
	Token    string `json:"token"`
}

// DefaultSettings is used for keys never saved.
func DefaultSettings() Settings {
	return Settings{
		Address:  "192.168.1.136:8000",
		Tenant:   "DEFAULT",
		TLS:      false,
		PollTime: 300,
		Token:    "not configured",
	}
}

// PollInterval converts PollTime seconds to a duration.
func (s Settings) PollInterval() time.Duration {
	return time.Duration(s.PollTime) * time.Second
}

// Scheme returns http or https.
func (s Settings) Scheme() string {
	if s.TLS {
		return "https"
	}
	return "http"
}

// PollURL is the controller base resource of the device.
func (s Settings) PollURL(serial uint32) string {
	return fmt.Sprintf("%s://%s/%s/controller/v1/%06d", s.Scheme(), s.Address, s.Tenant, serial)
}

// Config holds the live OTA settings. Setters change memory only; Save
// persists and notifies the apply callback.
type Config struct {
	mu    sync.RWMutex
	store SettingsStore
	cur   Settings
	apply func()
}

// NewConfig returns a config with default settings; call Load to read the store.
func NewConfig(store SettingsStore) *Config {
	return &Config{store: store, cur: DefaultSettings()}
}

// Load reads persisted values, keeping defaults for missing keys.
func (c *Config) Load() error {
	s := DefaultSettings()
	var err error
	if s.Address, err = loadString(c.store, "address", s.Address); err != nil {
		return err
	}
	if s.Tenant, err = loadString(c.store, "tenant", s.Tenant); err != nil {
		return err
	}
	if s.Token, err = loadString(c.store, "token", s.Token); err != nil {
		return err
	}
	if v, err := c.store.GetBool(nvs.NamespaceOTA, "tls"); err == nil {
		s.TLS = v
	} else if !errors.Is(err, types.ErrNotFound) {
		return err
	}
	if v, err := c.store.GetU32(nvs.NamespaceOTA, "poll_time"); err == nil && v > 0 {
		s.PollTime = v
	} else if err != nil && !errors.Is(err, types.ErrNotFound) {
		return err
	}

	c.mu.Lock()
	c.cur = s
	c.mu.Unlock()
	return nil
}

func loadString(store SettingsStore, key, def string) (string, error) {
	v, err := store.GetString(nvs.NamespaceOTA, key)
	if errors.Is(err, types.ErrNotFound) {
		return def, nil
	}
	return v, err
}

// OnApply registers the callback run after a successful Save.
func (c *Config) OnApply(fn func()) {
	c.mu.Lock()
	c.apply = fn
	c.mu.Unlock()
}

// Settings returns a snapshot.
func (c *Config) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur
}

// JSON renders the getOTA reply.
func (c *Config) JSON() json.RawMessage {
	out, _ := json.Marshal(c.Settings())
	return out
}

func checkSize(field, v string) error {
	if len(v) >= types.MaxConfigStrSize {
		return fmt.Errorf("%w: %s has %d bytes, limit %d", types.ErrValueTooLong, field, len(v), types.MaxConfigStrSize-1)
	}
	return nil
}

// SetAddress sets host[:port] of the deployment server.
func (c *Config) SetAddress(v string) error {
	if err := checkSize("address", v); err != nil {
		return err
	}
	c.mu.Lock()
	c.cur.Address = v
	c.mu.Unlock()
	return nil
}

// SetTenant sets the tenant path segment.
func (c *Config) SetTenant(v string) error {
	if err := checkSize("tenant", v); err != nil {
		return err
	}
	c.mu.Lock()
	c.cur.Tenant = v
	c.mu.Unlock()
	return nil
}

// SetToken sets the target security token.
func (c *Config) SetToken(v string) error {
	if err := checkSize("token", v); err != nil {
		return err
	}
	c.mu.Lock()
	c.cur.Token = v
	c.mu.Unlock()
	return nil
}

// SetTLS selects https.
func (c *Config) SetTLS(v bool) {
	c.mu.Lock()
	c.cur.TLS = v
	c.mu.Unlock()
}

// SetPollTime sets the poll period in seconds.
func (c *Config) SetPollTime(v uint32) error {
	if v == 0 {
		return fmt.Errorf("poll_time must be positive")
	}
	c.mu.Lock()
	c.cur.PollTime = v
	c.mu.Unlock()
	return nil
}

// Save persists the current settings and runs the apply callback.
func (c *Config) Save() error {
	c.mu.RLock()
	s := c.cur
	apply := c.apply
	c.mu.RUnlock()

	for key, v := range map[string]string{"address": s.Address, "tenant": s.Tenant, "token": s.Token} {
		if err := c.store.SetString(nvs.NamespaceOTA, key, v); err != nil {
			return fmt.Errorf("failed to save OTA %s: %w", key, err)
		}
	}
	if err := c.store.SetBool(nvs.NamespaceOTA, "tls", s.TLS); err != nil {
		return fmt.Errorf("failed to save OTA tls: %w", err)
	}
	if err := c.store.SetU32(nvs.NamespaceOTA, "poll_time", s.PollTime); err != nil {
		return fmt.Errorf("failed to save OTA poll_time: %w", err)
	}

	if apply != nil {
		apply()
	}
	return nil
}
