package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/solatis/aadnode/internal/core/auth"
	"github.com/solatis/aadnode/internal/ota"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "provision.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadProvisionFile(t *testing.T) {
	path := writeFile(t, `
sn: 42
ota:
  address: updates.local:8080
  poll_time: 60
mqtt:
  address: broker.local:1883
  ssl: true
wifi:
  ssid: lab
  password: secret
`)
	f, err := loadProvisionFile(path)
	if err != nil {
		t.Fatalf("loadProvisionFile: %v", err)
	}
	if f.SN != 42 {
		t.Errorf("SN = %d, want 42", f.SN)
	}
	if f.OTA == nil || *f.OTA.Address != "updates.local:8080" || *f.OTA.PollTime != 60 {
		t.Errorf("OTA = %+v", f.OTA)
	}
	if f.OTA.Tenant != nil {
		t.Error("tenant should stay unset")
	}
	if f.MQTT == nil || !*f.MQTT.SSL || *f.MQTT.Address != "broker.local:1883" {
		t.Errorf("MQTT = %+v", f.MQTT)
	}
	if f.WiFi == nil || f.WiFi.SSID != "lab" {
		t.Errorf("WiFi = %+v", f.WiFi)
	}
}

func TestLoadProvisionFile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing sn", "ota:\n  tenant: x\n", "sn must be"},
		{"sn too large", "sn: 1000000\n", "sn must be"},
		{"unknown key", "sn: 1\ncolour: red\n", "colour"},
		{"unknown mqtt key", "sn: 1\nmqtt:\n  port: 1\n", "port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadProvisionFile(writeFile(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestRegisterTarget(t *testing.T) {
	var got []target
	var creds auth.Credentials
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rest/v1/targets" {
			http.NotFound(w, r)
			return
		}
		var err error
		if creds, err = auth.FromRequest(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode([]target{{ControllerID: got[0].ControllerID, SecurityToken: "server-token"}})
	}))
	defer srv.Close()

	s := ota.DefaultSettings()
	s.Address = strings.TrimPrefix(srv.URL, "http://")

	token, err := registerTarget(context.Background(), s, 42, "local-token", auth.Basic("admin", "pw"))
	if err != nil {
		t.Fatalf("registerTarget: %v", err)
	}
	if token != "server-token" {
		t.Errorf("token = %q, want server-token", token)
	}
	if len(got) != 1 || got[0].ControllerID != "000042" || got[0].SecurityToken != "local-token" {
		t.Errorf("request = %+v", got)
	}
	if !creds.Equal(auth.Basic("admin", "pw")) {
		t.Errorf("credentials = %+v", creds)
	}
}

func TestRegisterTarget_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "conflict", http.StatusConflict)
	}))
	defer srv.Close()

	s := ota.DefaultSettings()
	s.Address = strings.TrimPrefix(srv.URL, "http://")
	if _, err := registerTarget(context.Background(), s, 7, "tok", auth.Basic("a", "b")); err == nil {
		t.Fatal("expected error for 409")
	}
}
