package ota

import (
	"errors"
	"strings"
	"testing"

	"github.com/solatis/aadnode/internal/types"
)

func TestConfig_Defaults(t *testing.T) {
	c := NewConfig(newMemStore())
	if err := c.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := `{"address":"192.168.1.136:8000","tenant":"DEFAULT","tls":false,"poll_time":300,"token":"not configured"}`
	if got := string(c.JSON()); got != want {
		t.Errorf("JSON() = %s, want %s", got, want)
	}
	if got := c.Settings().PollURL(42); got != "http://192.168.1.136:8000/DEFAULT/controller/v1/000042" {
		t.Errorf("PollURL() = %s", got)
	}
}

func TestConfig_SaveAndLoad(t *testing.T) {
	store := newMemStore()
	c := NewConfig(store)
	applied := 0
	c.OnApply(func() { applied++ })

	if err := c.SetAddress("10.0.0.1:8080"); err != nil {
		t.Fatalf("SetAddress() error = %v", err)
	}
	c.SetTLS(true)
	if err := c.SetPollTime(60); err != nil {
		t.Fatalf("SetPollTime() error = %v", err)
	}

	// Unsaved changes are visible but not persisted.
	reloaded := NewConfig(store)
	reloaded.Load()
	if reloaded.Settings().Address != DefaultSettings().Address {
		t.Errorf("unsaved address persisted: %s", reloaded.Settings().Address)
	}

	if err := c.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if applied != 1 {
		t.Errorf("apply callback ran %d times, want 1", applied)
	}

	reloaded = NewConfig(store)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	s := reloaded.Settings()
	if s.Address != "10.0.0.1:8080" || !s.TLS || s.PollTime != 60 || s.Tenant != "DEFAULT" {
		t.Errorf("reloaded settings = %+v", s)
	}
	if got := s.PollURL(7); got != "https://10.0.0.1:8080/DEFAULT/controller/v1/000007" {
		t.Errorf("PollURL() = %s", got)
	}
}

func TestConfig_Limits(t *testing.T) {
	c := NewConfig(newMemStore())
	long := strings.Repeat("a", types.MaxConfigStrSize)
	for name, set := range map[string]func(string) error{
		"address": c.SetAddress,
		"tenant":  c.SetTenant,
		"token":   c.SetToken,
	} {
		if err := set(long); !errors.Is(err, types.ErrValueTooLong) {
			t.Errorf("%s: error = %v, want ErrValueTooLong", name, err)
		}
		if err := set(long[1:]); err != nil {
			t.Errorf("%s: %d chars rejected: %v", name, len(long)-1, err)
		}
	}
	if err := c.SetPollTime(0); err == nil {
		t.Error("SetPollTime(0) accepted")
	}
}
