package ota

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/solatis/aadnode/internal/core/auth"
	"github.com/solatis/aadnode/internal/types"
)

const (
	testSerial = 123
	testToken  = "s3cr3t"
)

// memStore is an in-memory SettingsStore.
type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: map[string]string{}}
}

func (s *memStore) get(ns, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[ns+"/"+key]
	if !ok {
		return "", types.ErrNotFound
	}
	return v, nil
}

func (s *memStore) set(ns, key, v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[ns+"/"+key] = v
	return nil
}

func (s *memStore) GetString(ns, key string) (string, error) { return s.get(ns, key) }
func (s *memStore) SetString(ns, key, v string) error        { return s.set(ns, key, v) }
func (s *memStore) SetBool(ns, key string, v bool) error     { return s.set(ns, key, strconv.FormatBool(v)) }
func (s *memStore) SetU32(ns, key string, v uint32) error {
	return s.set(ns, key, strconv.FormatUint(uint64(v), 10))
}

func (s *memStore) GetBool(ns, key string) (bool, error) {
	v, err := s.get(ns, key)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(v)
}

func (s *memStore) GetU32(ns, key string) (uint32, error) {
	v, err := s.get(ns, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(v, 10, 32)
	return uint32(n), err
}

// fakePartitions keeps one image in memory.
type fakePartitions struct {
	running   Slot
	state     ImageState
	minSecure uint32
	markErr   error

	begun     int
	installed []byte
	aborted   int
}

func (p *fakePartitions) Running() Slot                     { return p.running }
func (p *fakePartitions) RunningState() (ImageState, error) { return p.state, nil }
func (p *fakePartitions) SecureVersionMin() uint32          { return p.minSecure }

func (p *fakePartitions) MarkRunningValid() error {
	if p.markErr != nil {
		return p.markErr
	}
	p.state = StateValid
	return nil
}

func (p *fakePartitions) BeginUpdate() (Update, error) {
	p.begun++
	return &memUpdate{parts: p}, nil
}

type memUpdate struct {
	parts *fakePartitions
	buf   bytes.Buffer
}

func (u *memUpdate) Write(b []byte) (int, error) { return u.buf.Write(b) }

func (u *memUpdate) Abort() error {
	u.parts.aborted++
	return nil
}

func (u *memUpdate) Finish() (AppDescriptor, error) {
	desc, err := ValidateImage(bytes.NewReader(u.buf.Bytes()), int64(u.buf.Len()))
	if err != nil {
		return desc, err
	}
	u.parts.installed = u.buf.Bytes()
	return desc, nil
}

// fakeServer is a deployment server for one device.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu             sync.Mutex
	actionID       string
	offerConfig    bool
	image          []byte
	truncateImage  bool
	feedbackStatus int
	polls          int
	configPuts     []string
	feedback       []string
	feedbackPaths  []string
}

func newFakeServer(t *testing.T) *fakeServer {
	f := &fakeServer{t: t, feedbackStatus: http.StatusOK}
	base := fmt.Sprintf("/DEFAULT/controller/v1/%06d", testSerial)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+base, f.authorized(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/hal+json" {
			t.Errorf("poll Accept = %q", r.Header.Get("Accept"))
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.polls++
		links := map[string]string{}
		if f.offerConfig {
			links["configData"] = f.srv.URL + base + "/configData"
		}
		if f.actionID != "" {
			links["deploymentBase"] = f.srv.URL + base + "/deploymentBase/" + f.actionID + "?c=-2129030598"
		}
		var parts []string
		for k, v := range links {
			parts = append(parts, fmt.Sprintf(`%q:{"href":%q}`, k, v))
		}
		fmt.Fprintf(w, `{"config":{"polling":{"sleep":"00:05:00"}},"_links":{%s}}`, strings.Join(parts, ","))
	}))
	mux.HandleFunc("PUT "+base+"/configData", f.authorized(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.configPuts = append(f.configPuts, string(body))
		f.mu.Unlock()
	}))
	mux.HandleFunc("GET "+base+"/deploymentBase/{id}", f.authorized(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		size := len(f.image)
		f.mu.Unlock()
		fmt.Fprintf(w, `{"id":%q,"deployment":{"download":"forced","update":"forced","chunks":[
			{"part":"bApp","version":"1.1.0","name":"aad","artifacts":[
				{"filename":"readme.txt","size":5,"_links":{"download-http":{"href":"%s/artifacts/readme.txt"}}},
				{"filename":"main.bin","size":%d,"_links":{"download-http":{"href":"%s/artifacts/main.bin"}}}]}]}}`,
			r.PathValue("id"), f.srv.URL, size, f.srv.URL)
	}))
	mux.HandleFunc("POST "+base+"/deploymentBase/{id}/feedback", f.authorized(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.feedback = append(f.feedback, string(body))
		f.feedbackPaths = append(f.feedbackPaths, r.URL.Path)
		w.WriteHeader(f.feedbackStatus)
	}))
	mux.HandleFunc("GET /artifacts/main.bin", f.authorized(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		img, truncate := f.image, f.truncateImage
		f.mu.Unlock()
		if truncate {
			// Advertise the full length, then hang up early.
			w.Header().Set("Content-Length", strconv.Itoa(len(img)))
			w.Write(img[:len(img)/2])
			return
		}
		w.Write(img)
	}))
	mux.HandleFunc("GET /artifacts/readme.txt", func(w http.ResponseWriter, r *http.Request) {
		t.Error("non main.bin artifact downloaded")
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) authorized(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds, err := auth.FromRequest(r)
		if err != nil || !creds.Equal(auth.TargetToken(testToken)) {
			f.t.Errorf("%s %s: Authorization = %q", r.Method, r.URL.Path, r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func (f *fakeServer) address() string {
	return strings.TrimPrefix(f.srv.URL, "http://")
}

// configure mutates server state under its lock.
func (f *fakeServer) configure(fn func(f *fakeServer)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeServer) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *fakeServer) configBodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.configPuts...)
}

func (f *fakeServer) feedbackURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.feedbackPaths...)
}

func (f *fakeServer) setFeedbackStatus(code int) {
	f.mu.Lock()
	f.feedbackStatus = code
	f.mu.Unlock()
}

func (f *fakeServer) feedbackBodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.feedback...)
}
