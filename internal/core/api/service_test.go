package api

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/solatis/aadnode/internal/command"
	"github.com/solatis/aadnode/internal/core/db"
	"github.com/solatis/aadnode/internal/core/nvs"
	"github.com/solatis/aadnode/internal/mqttapp"
	"github.com/solatis/aadnode/internal/ota"
)

type fakeSensors struct {
	selected []int
	err      error
}

func (f *fakeSensors) SelectSensor(index int) error {
	if f.err != nil {
		return f.err
	}
	f.selected = append(f.selected, index)
	return nil
}

type env struct {
	store    *nvs.Store
	ota      *ota.Config
	mqtt     *mqttapp.Config
	sensors  *fakeSensors
	registry *command.Registry
	topics   *mqttapp.Topics
}

func newEnv(t *testing.T) *env {
	t.Helper()
	database, err := db.Open("sqlite://" + filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.MigrateUp(database); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	q, err := db.LoadQueries(database)
	if err != nil {
		t.Fatalf("LoadQueries() error = %v", err)
	}

	e := &env{store: nvs.New(q), sensors: &fakeSensors{}}
	e.ota = ota.NewConfig(e.store)
	e.mqtt = mqttapp.NewConfig(e.store)

	svc, err := NewService(e.ota, e.mqtt, DeviceInfo{Version: "1.2.3", Project: "AAD", Serial: 42}, e.sensors)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	e.registry = command.NewRegistry()
	if err := svc.Register(e.registry); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	e.topics = mqttapp.NewTopics()
	if err := svc.RegisterTopics(e.topics); err != nil {
		t.Fatalf("RegisterTopics() error = %v", err)
	}
	return e
}

func (e *env) call(t *testing.T, doc string) command.Response {
	t.Helper()
	return e.registry.Parse([]byte(doc))
}

func msgString(t *testing.T, r command.Response) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(r.Msg, &s); err != nil {
		t.Fatalf("msg %s is not a string: %v", r.Msg, err)
	}
	return s
}

func TestNewService_Validation(t *testing.T) {
	if _, err := NewService(nil, mqttapp.NewConfig(nil), DeviceInfo{}, nil); err == nil {
		t.Error("NewService(nil ota) error = nil")
	}
	if _, err := NewService(ota.NewConfig(nil), nil, DeviceInfo{}, nil); err == nil {
		t.Error("NewService(nil mqtt) error = nil")
	}
}

func TestSetThenGetOTA(t *testing.T) {
	e := newEnv(t)

	resp := e.call(t, `{"method":"setOTA","i":1,"data":{"address":"10.0.0.1:8080"}}`)
	if resp.Error != command.OK {
		t.Fatalf("setOTA error = %v, msg %s", resp.Error, resp.Msg)
	}
	if resp.Msg != nil {
		t.Errorf("setOTA msg = %s, want none", resp.Msg)
	}

	resp = e.call(t, `{"method":"getOTA","i":2}`)
	if resp.Error != command.OK || resp.I != 2 {
		t.Fatalf("getOTA = %+v", resp)
	}
	var got ota.Settings
	if err := json.Unmarshal(resp.Msg, &got); err != nil {
		t.Fatalf("getOTA msg %s: %v", resp.Msg, err)
	}
	want := ota.DefaultSettings()
	want.Address = "10.0.0.1:8080"
	if got != want {
		t.Errorf("getOTA = %+v, want %+v", got, want)
	}

	// Not persisted before saveOTA.
	if _, err := e.store.GetString(nvs.NamespaceOTA, "address"); err == nil {
		t.Error("address persisted before save")
	}
	if resp := e.call(t, `{"method":"saveOTA"}`); resp.Error != command.OK {
		t.Fatalf("saveOTA error = %v", resp.Error)
	}
	if v, err := e.store.GetString(nvs.NamespaceOTA, "address"); err != nil || v != "10.0.0.1:8080" {
		t.Errorf("stored address = %q, %v", v, err)
	}
}

func TestSetOTA_Failures(t *testing.T) {
	long := strings.Repeat("a", 64)
	tests := []struct {
		name string
		data string
		msg  string
	}{
		{"address too long", `{"address":"` + long + `"}`, msgAddressSize},
		{"tenant too long", `{"tenant":"` + long + `"}`, msgTenantSize},
		{"token too long", `{"token":"` + long + `"}`, msgTokenSize},
		{"zero poll time", `{"poll_time":0}`, msgPollTime},
		{"negative poll time", `{"poll_time":-5}`, msgPollTime},
		{"first failure wins", `{"tenant":"` + long + `","token":"` + long + `"}`, msgTenantSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			resp := e.call(t, `{"method":"setOTA","data":`+tt.data+`}`)
			if resp.Error != command.Fail {
				t.Fatalf("error = %v, want FAIL", resp.Error)
			}
			if got := msgString(t, resp); got != tt.msg {
				t.Errorf("msg = %q, want %q", got, tt.msg)
			}
		})
	}
}

func TestSetOTA_AcceptsValidFields(t *testing.T) {
	e := newEnv(t)
	resp := e.call(t, `{"method":"setOTA","data":{"tenant":"ACME","tls":true,"poll_time":60,"token":"abc"}}`)
	if resp.Error != command.OK {
		t.Fatalf("error = %v, msg %s", resp.Error, resp.Msg)
	}
	s := e.ota.Settings()
	if s.Tenant != "ACME" || !s.TLS || s.PollTime != 60 || s.Token != "abc" {
		t.Errorf("settings = %+v", s)
	}
}

func TestSetMQTT(t *testing.T) {
	e := newEnv(t)
	resp := e.call(t, `{"method":"setMQTT","data":{"address":"tcp://broker:1883","ssl":true,"prefix":"dev","data":"dev/data","user":"u","pass":"p"}}`)
	if resp.Error != command.OK {
		t.Fatalf("setMQTT error = %v, msg %s", resp.Error, resp.Msg)
	}

	resp = e.call(t, `{"method":"getMQTT"}`)
	var got mqttapp.Settings
	if err := json.Unmarshal(resp.Msg, &got); err != nil {
		t.Fatalf("getMQTT msg %s: %v", resp.Msg, err)
	}
	want := mqttapp.Settings{Address: "tcp://broker:1883", SSL: true, Prefix: "dev", Data: "dev/data", User: "u", Password: "p"}
	if got != want {
		t.Errorf("getMQTT = %+v, want %+v", got, want)
	}

	resp = e.call(t, `{"method":"setMQTT","data":{"user":"`+strings.Repeat("u", 64)+`"}}`)
	if resp.Error != command.Fail || msgString(t, resp) != msgValueSize {
		t.Errorf("long user = %v %s", resp.Error, resp.Msg)
	}

	applied := 0
	e.mqtt.OnApply(func() { applied++ })
	if resp := e.call(t, `{"method":"saveMQTT"}`); resp.Error != command.OK {
		t.Fatalf("saveMQTT error = %v", resp.Error)
	}
	if applied != 1 {
		t.Errorf("apply called %d times, want 1", applied)
	}
	if v, err := e.store.GetString(nvs.NamespaceMQTT, "prefix"); err != nil || v != "dev" {
		t.Errorf("stored prefix = %q, %v", v, err)
	}
}

func TestMQTTCertBlocks(t *testing.T) {
	e := newEnv(t)
	first := strings.Repeat("A", 512)
	second := strings.Repeat("B", 100)

	for _, doc := range []string{
		`{"method":"setMQTTCert","data":{"cert":"` + first + `","offset":0}}`,
		`{"method":"setMQTTCert","data":{"offset":512,"cert":"` + second + `"}}`,
	} {
		if resp := e.call(t, doc); resp.Error != command.OK {
			t.Fatalf("setMQTTCert error = %v, msg %s", resp.Error, resp.Msg)
		}
	}

	resp := e.call(t, `{"method":"getMQTTCert","data":{"offset":500,"len":20}}`)
	if resp.Error != command.OK {
		t.Fatalf("getMQTTCert error = %v, msg %s", resp.Error, resp.Msg)
	}
	var got certReply
	if err := json.Unmarshal(resp.Msg, &got); err != nil {
		t.Fatalf("getMQTTCert msg %s: %v", resp.Msg, err)
	}
	want := certReply{Offset: 500, Len: 20, CertLen: 612, Cert: strings.Repeat("A", 12) + strings.Repeat("B", 8)}
	if got != want {
		t.Errorf("getMQTTCert = %+v, want %+v", got, want)
	}

	// len defaults to a full block and stops at the end.
	resp = e.call(t, `{"method":"getMQTTCert","data":{"offset":600}}`)
	_ = json.Unmarshal(resp.Msg, &got)
	if got.Len != 12 || got.Cert != strings.Repeat("B", 12) {
		t.Errorf("tail = %+v", got)
	}
}

func TestMQTTCertFailures(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		msg  string
	}{
		{"block too large", `{"method":"setMQTTCert","data":{"cert":"` + strings.Repeat("x", 513) + `","offset":0}}`, msgCertBlockSize},
		{"missing offset", `{"method":"setMQTTCert","data":{"cert":"abc"}}`, msgCertNoOffset},
		{"offset past end", `{"method":"setMQTTCert","data":{"cert":"abc","offset":10}}`, msgCertSet},
		{"get without offset", `{"method":"getMQTTCert","data":{"len":10}}`, msgCertGetOffset},
		{"get past end", `{"method":"getMQTTCert","data":{"offset":1}}`, msgCertOffset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			resp := e.call(t, tt.doc)
			if resp.Error != command.Fail {
				t.Fatalf("error = %v, want FAIL", resp.Error)
			}
			if got := msgString(t, resp); got != tt.msg {
				t.Errorf("msg = %q, want %q", got, tt.msg)
			}
		})
	}
}

func TestGetDeviceConfig(t *testing.T) {
	e := newEnv(t)
	resp := e.call(t, `{"method":"getDeviceConfig","i":9}`)
	if resp.Error != command.OK {
		t.Fatalf("error = %v", resp.Error)
	}
	if want := `{"sw":"1.2.3","project":"AAD","sn":"000042"}`; string(resp.Msg) != want {
		t.Errorf("msg = %s, want %s", resp.Msg, want)
	}
}

func TestSetTemperatureSensor(t *testing.T) {
	e := newEnv(t)
	resp := e.call(t, `{"method":"setTemperatureSensor","data":{"sensor":2}}`)
	if resp.Error != command.OKNoAck {
		t.Fatalf("error = %v, want OK_NO_ACK", resp.Error)
	}
	if len(e.sensors.selected) != 1 || e.sensors.selected[0] != 2 {
		t.Errorf("selected = %v", e.sensors.selected)
	}

	e.sensors.err = errors.New("no such sensor")
	resp = e.call(t, `{"method":"setTemperatureSensor","data":{"sensor":7}}`)
	if resp.Error != command.Fail || msgString(t, resp) != msgSensor {
		t.Errorf("bad sensor = %v %s", resp.Error, resp.Msg)
	}
}

func TestRegisterTopics(t *testing.T) {
	e := newEnv(t)

	typ, name, resp := e.topics.Handle("set/ota", []byte(`{"tenant":"MQTT"}`))
	if typ != mqttapp.TopicSet || name != "ota" || resp.Error != command.OK {
		t.Fatalf("set/ota = %v %q %+v", typ, name, resp)
	}
	if e.ota.Settings().Tenant != "MQTT" {
		t.Errorf("tenant = %q", e.ota.Settings().Tenant)
	}

	_, _, resp = e.topics.Handle("cfg/device", nil)
	if resp.Error != command.OK || !strings.Contains(string(resp.Msg), `"sn":"000042"`) {
		t.Errorf("cfg/device = %+v", resp)
	}

	_, _, resp = e.topics.Handle("cfg/unknown", nil)
	if resp.Error != command.ErrorParsing {
		t.Errorf("cfg/unknown error = %v", resp.Error)
	}
	_, _, resp = e.topics.Handle("get/ota", nil)
	if resp.Error != command.UnknownMQTTTopicType {
		t.Errorf("get/ota error = %v", resp.Error)
	}
}

func TestSetOTA_FullDocument(t *testing.T) {
	e := newEnv(t)
	resp := e.call(t, `{"method":"setOTA","data":{"address":"1.2.3.4:8080","tenant":"t1","tls":false,"poll_time":60,"token":"abc"},"i":5}`)
	out := string(resp.Marshal())
	if !strings.Contains(out, `"error":0`) || !strings.Contains(out, `"i":5`) {
		t.Fatalf("setOTA reply = %s", out)
	}

	resp = e.call(t, `{"method":"getOTA"}`)
	want := `{"address":"1.2.3.4:8080","tenant":"t1","tls":false,"poll_time":60,"token":"abc"}`
	if string(resp.Msg) != want {
		t.Errorf("getOTA msg = %s, want %s", resp.Msg, want)
	}
}
