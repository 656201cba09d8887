// Package nvs is the agent's non-volatile key/value store: small typed
// settings grouped by namespace and persisted through the named queries of
// internal/core/db.
package nvs

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/solatis/aadnode/internal/types"
)

// Queries is the subset of *db.Queries the store needs.
type Queries interface {
	Get(name string, dest interface{}, args ...interface{}) error
	Select(name string, dest interface{}, args ...interface{}) error
	Exec(name string, args ...interface{}) (sql.Result, error)
}

// Namespaces used by the agent.
const (
	NamespaceDevice = "config"
	NamespaceOTA    = "ota_config"
	NamespaceMQTT   = "mqtt_config"
	NamespaceWiFi   = "wifi"
	NamespaceBoot   = "otadata"
)

// KeySerialNumber holds the device serial number in NamespaceDevice.
const KeySerialNumber = "SN"

const maxNameLen = 15

// Store reads and writes namespaced values.
type Store struct {
	queries Queries
	now     func() time.Time
}

// New wraps loaded queries.
func New(q Queries) *Store {
	return &Store{queries: q, now: time.Now}
}

// Entry is one stored key and its raw value.
type Entry struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}

func checkName(namespace, key string) error {
	if namespace == "" || len(namespace) > maxNameLen {
		return fmt.Errorf("invalid namespace %q", namespace)
	}
	if key == "" || len(key) > maxNameLen {
		return fmt.Errorf("invalid key %q", key)
	}
	return nil
}

func (s *Store) get(namespace, key string) (string, error) {
	if err := checkName(namespace, key); err != nil {
		return "", err
	}
	var value string
	err := s.queries.Get("get-nvs-entry", &value, namespace, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s/%s: %w", namespace, key, types.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

func (s *Store) set(namespace, key, value string) error {
	if err := checkName(namespace, key); err != nil {
		return err
	}
	if _, err := s.queries.Exec("upsert-nvs-entry", namespace, key, value, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", namespace, key, err)
	}
	return nil
}

// GetString returns a string value or an error wrapping types.ErrNotFound.
func (s *Store) GetString(namespace, key string) (string, error) {
	return s.get(namespace, key)
}

// SetString stores a string value.
func (s *Store) SetString(namespace, key, value string) error {
	return s.set(namespace, key, value)
}

// GetU32 returns an unsigned 32-bit value.
func (s *Store) GetU32(namespace, key string) (uint32, error) {
	raw, err := s.get(namespace, key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s/%s is not a u32: %w", namespace, key, err)
	}
	return uint32(v), nil
}

// SetU32 stores an unsigned 32-bit value.
func (s *Store) SetU32(namespace, key string, v uint32) error {
	return s.set(namespace, key, strconv.FormatUint(uint64(v), 10))
}

// GetI32 returns a signed 32-bit value.
func (s *Store) GetI32(namespace, key string) (int32, error) {
	raw, err := s.get(namespace, key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s/%s is not an i32: %w", namespace, key, err)
	}
	return int32(v), nil
}

// SetI32 stores a signed 32-bit value.
func (s *Store) SetI32(namespace, key string, v int32) error {
	return s.set(namespace, key, strconv.FormatInt(int64(v), 10))
}

// GetBool returns a boolean value.
func (s *Store) GetBool(namespace, key string) (bool, error) {
	raw, err := s.get(namespace, key)
	if err != nil {
		return false, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s/%s is not a bool: %w", namespace, key, err)
	}
	return v, nil
}

// SetBool stores a boolean value.
func (s *Store) SetBool(namespace, key string, v bool) error {
	return s.set(namespace, key, strconv.FormatBool(v))
}

// Delete removes one key. Deleting a missing key is not an error.
func (s *Store) Delete(namespace, key string) error {
	if err := checkName(namespace, key); err != nil {
		return err
	}
	if _, err := s.queries.Exec("delete-nvs-entry", namespace, key); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Erase removes every key of a namespace.
func (s *Store) Erase(namespace string) error {
	if _, err := s.queries.Exec("erase-nvs-namespace", namespace); err != nil {
		return fmt.Errorf("failed to erase %s: %w", namespace, err)
	}
	return nil
}

// List returns the entries of a namespace ordered by key.
func (s *Store) List(namespace string) ([]Entry, error) {
	var entries []Entry
	if err := s.queries.Select("list-nvs-namespace", &entries, namespace); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", namespace, err)
	}
	return entries, nil
}

// SerialNumber returns the provisioned device serial number, or 0 when the
// device was never provisioned.
func (s *Store) SerialNumber() (uint32, error) {
	sn, err := s.GetU32(NamespaceDevice, KeySerialNumber)
	if errors.Is(err, types.ErrNotFound) {
		return 0, nil
	}
	return sn, err
}
