package mqttapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/solatis/aadnode/internal/core/nvs"
	"github.com/solatis/aadnode/internal/types"
)

// SettingsStore is the persistence the MQTT configuration needs.
type SettingsStore interface {
	GetString(namespace, key string) (string, error)
	SetString(namespace, key, value string) error
	GetBool(namespace, key string) (bool, error)
	SetBool(namespace, key string, v bool) error
}

// Settings is the broker configuration. Field order matches the getMQTT reply.
type Settings struct {
	Address  string `json:"address"`
	SSL      bool   `json:"ssl"`
	Prefix   string `json:"prefix"`
	Data     string `json:"data"`
	User     string `json:"user"`
	Password string `json:"pass"`
}

// DefaultSettings is used for keys never saved.
func DefaultSettings() Settings {
	return Settings{
		Address: "tcp://127.0.0.1:1883",
		Prefix:  "aad",
		Data:    "aad/data",
	}
}

// Config holds the live broker settings and the CA certificate.
type Config struct {
	mu    sync.RWMutex
	store SettingsStore
	cur   Settings
	cert  []byte
	apply func()
}

// NewConfig returns a config with default settings.
func NewConfig(store SettingsStore) *Config {
	return &Config{store: store, cur: DefaultSettings()}
}

var stringKeys = []string{"address", "prefix", "data", "user", "pass"}

func (s *Settings) field(key string) *string {
	switch key {
	case "address":
		return &s.Address
	case "prefix":
		return &s.Prefix
	case "data":
		return &s.Data
	case "user":
		return &s.User
	case "pass":
		return &s.Password
	}
	panic("mqttapp: unknown setting " + key)
}

// Load reads persisted values, keeping defaults for missing keys.
func (c *Config) Load() error {
	s := DefaultSettings()
	for _, key := range stringKeys {
		v, err := c.store.GetString(nvs.NamespaceMQTT, key)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		*s.field(key) = v
	}
	if v, err := c.store.GetBool(nvs.NamespaceMQTT, "ssl"); err == nil {
		s.SSL = v
	} else if !errors.Is(err, types.ErrNotFound) {
		return err
	}
	cert, err := c.store.GetString(nvs.NamespaceMQTT, "cert")
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return err
	}

	c.mu.Lock()
	c.cur = s
	c.cert = []byte(cert)
	c.mu.Unlock()
	return nil
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

// JSON renders the getMQTT reply.
func (c *Config) JSON() json.RawMessage {
	out, _ := json.Marshal(c.Settings())
	return out
}

// Set changes one string setting by its wire name.
func (c *Config) Set(key, v string) error {
	if len(v) >= types.MaxConfigStrSize {
		return fmt.Errorf("%w: %s has %d bytes, limit %d", types.ErrValueTooLong, key, len(v), types.MaxConfigStrSize-1)
	}
	c.mu.Lock()
	*c.cur.field(key) = v
	c.mu.Unlock()
	return nil
}

// SetSSL selects a TLS broker connection.
func (c *Config) SetSSL(v bool) {
	c.mu.Lock()
	c.cur.SSL = v
	c.mu.Unlock()
}

// Cert returns the CA certificate, empty when none is set.
func (c *Config) Cert() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]byte(nil), c.cert...)
}

// SetCertBlock writes block at offset and truncates whatever followed, so a
// certificate is uploaded as consecutive blocks starting at offset 0.
func (c *Config) SetCertBlock(block []byte, offset int) error {
	if len(block) > types.MaxCertBlock {
		return fmt.Errorf("%w: block of %d bytes, limit %d", types.ErrValueTooLong, len(block), types.MaxCertBlock)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if offset < 0 || offset > len(c.cert) {
		return fmt.Errorf("offset %d outside certificate of %d bytes", offset, len(c.cert))
	}
	if offset+len(block) > types.MaxCertSize {
		return fmt.Errorf("%w: certificate would be %d bytes, limit %d", types.ErrValueTooLong, offset+len(block), types.MaxCertSize)
	}
	c.cert = append(c.cert[:offset], block...)
	return nil
}

// CertBlock returns up to n bytes of the certificate from offset.
func (c *Config) CertBlock(offset, n int) ([]byte, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := len(c.cert)
	if offset < 0 || offset > total {
		return nil, total, fmt.Errorf("offset %d larger than certificate of %d bytes", offset, total)
	}
	end := min(offset+n, total)
	return append([]byte(nil), c.cert[offset:end]...), total, nil
}

// Save persists the settings and certificate and runs the apply callback.
func (c *Config) Save() error {
	c.mu.RLock()
	s := c.cur
	cert := string(c.cert)
	apply := c.apply
	c.mu.RUnlock()

	for _, key := range stringKeys {
		if err := c.store.SetString(nvs.NamespaceMQTT, key, *s.field(key)); err != nil {
			return fmt.Errorf("failed to save MQTT %s: %w", key, err)
		}
	}
	if err := c.store.SetBool(nvs.NamespaceMQTT, "ssl", s.SSL); err != nil {
		return fmt.Errorf("failed to save MQTT ssl: %w", err)
	}
	if err := c.store.SetString(nvs.NamespaceMQTT, "cert", cert); err != nil {
		return fmt.Errorf("failed to save MQTT cert: %w", err)
	}

	if apply != nil {
		apply()
	}
	return nil
}
