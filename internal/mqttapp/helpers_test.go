package mqttapp

import (
	"errors"
	"strconv"
	"sync"

	"github.com/solatis/aadnode/internal/types"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: map[string]string{}}
}

func (s *memStore) GetString(ns, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[ns+"/"+key]
	if !ok {
		return "", types.ErrNotFound
	}
	return v, nil
}

func (s *memStore) SetString(ns, key, v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[ns+"/"+key] = v
	return nil
}

func (s *memStore) GetBool(ns, key string) (bool, error) {
	v, err := s.GetString(ns, key)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(v)
}

func (s *memStore) SetBool(ns, key string, v bool) error {
	return s.SetString(ns, key, strconv.FormatBool(v))
}

type published struct {
	topic   string
	payload string
}

type fakeSession struct {
	mu           sync.Mutex
	subscribed   []string
	published    []published
	closed       bool
	subscribeErr error
}

func (s *fakeSession) Subscribe(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribeErr != nil {
		return s.subscribeErr
	}
	s.subscribed = append(s.subscribed, topic)
	return nil
}

func (s *fakeSession) Publish(topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("closed")
	}
	s.published = append(s.published, published{topic, string(payload)})
	return nil
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSession) last() published {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.published) == 0 {
		return published{}
	}
	return s.published[len(s.published)-1]
}

type fakeDialer struct {
	opts     []DialOptions
	sessions []*fakeSession
	next     *fakeSession
}

func (d *fakeDialer) dial(o DialOptions) (Session, error) {
	s := d.next
	if s == nil {
		s = &fakeSession{}
	}
	d.next = nil
	d.opts = append(d.opts, o)
	d.sessions = append(d.sessions, s)
	return s, nil
}
