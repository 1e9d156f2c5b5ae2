package relay

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"
)

type fakeSocket struct {
	mu        sync.Mutex
	events    []Event
	pings     int
	pingErr   error
	closed    bool
	closeCode int
}

func (s *fakeSocket) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrConnectionClosed
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSocket) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return s.pingErr
}

func (s *fakeSocket) Close(code int, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeCode = code
}

func (s *fakeSocket) ofType(typ string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeVerifier map[string]domain.Identity

func (v fakeVerifier) Verify(token string) (domain.Identity, error) {
	id, ok := v[token]
	if !ok {
		return domain.Identity{}, errors.New("bad token")
	}
	return id, nil
}

type fakeTimer struct {
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) after(_ time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{f: f}
	s.timers = append(s.timers, t)
	return t
}

// fireAll запускает все не остановленные таймеры.
func (s *fakeScheduler) fireAll() {
	s.mu.Lock()
	timers := append([]*fakeTimer(nil), s.timers...)
	s.timers = nil
	s.mu.Unlock()
	for _, t := range timers {
		if !t.stopped {
			t.f()
		}
	}
}

type fakeRecorder struct {
	mu       sync.Mutex
	messages []domain.ChatMessage
	presence []domain.PresenceChange
}

func (r *fakeRecorder) RecordMessage(m domain.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

func (r *fakeRecorder) RecordPresence(p domain.PresenceChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presence = append(r.presence, p)
}

var testTokens = fakeVerifier{
	"tok-a":  {ID: "A", Role: domain.RoleClient},
	"tok-a2": {ID: "A", Role: domain.RoleClient},
	"tok-b":  {ID: "B", Role: domain.RoleConsultant},
	"tok-c":  {ID: "C", Role: domain.RoleClient},
	"tok-x":  {ID: "X", Role: domain.Role("admin")},
	"tok-ac": {ID: "A", Role: domain.RoleConsultant},
}

type testEnv struct {
	hub   *Hub
	sched *fakeScheduler
	rec   *fakeRecorder
	clock time.Time
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	env := &testEnv{
		sched: &fakeScheduler{},
		rec:   &fakeRecorder{},
		clock: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.hub = NewHub(cfg, testTokens,
		WithRecorder(env.rec),
		WithAfterFunc(env.sched.after),
		WithClock(func() time.Time { return env.clock }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return env
}

// connect: attach + authenticate (+ join, если room не пуст).
func (e *testEnv) connect(t *testing.T, token, room string) (*Connection, *fakeSocket) {
	t.Helper()
	s := &fakeSocket{}
	c := e.hub.Attach(s)
	if err := e.hub.Authenticate(c, token); err != nil {
		t.Fatalf("authenticate %s: %v", token, err)
	}
	if room != "" {
		if err := e.hub.Join(c, room); err != nil {
			t.Fatalf("join %s: %v", room, err)
		}
	}
	return c, s
}
