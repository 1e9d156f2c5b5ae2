package relay

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"
)

func TestHub_AttachRequiresAuth(t *testing.T) {
	env := newTestEnv(t, Config{})
	s := &fakeSocket{}
	c := env.hub.Attach(s)

	if len(s.ofType(EventAuthRequired)) != 1 {
		t.Fatalf("expected auth_required on attach")
	}
	if c.Authenticated() {
		t.Fatalf("fresh connection must not be authenticated")
	}
	if err := env.hub.Join(c, "R1"); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if err := env.hub.Relay(c, "hi"); !errors.Is(err, domain.ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}
}

func TestHub_AuthenticateFailureKeepsSocketOpen(t *testing.T) {
	env := newTestEnv(t, Config{})
	s := &fakeSocket{}
	c := env.hub.Attach(s)

	err := env.hub.Authenticate(c, "garbage")
	if !errors.Is(err, domain.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	errs := s.ofType(EventError)
	if len(errs) != 1 || errs[0].Code != "authentication_failed" {
		t.Fatalf("expected authentication_failed error event, got %+v", errs)
	}
	if s.isClosed() {
		t.Fatalf("socket must stay open after failed auth")
	}

	// вторая попытка с верным токеном проходит
	if err := env.hub.Authenticate(c, "tok-a"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	ok := s.ofType(EventAuthSuccess)
	if len(ok) != 1 || ok[0].Identity != "A" || ok[0].Role != domain.RoleClient {
		t.Fatalf("unexpected auth_success: %+v", ok)
	}
}

func TestHub_RelayToPeer(t *testing.T) {
	env := newTestEnv(t, Config{})
	a, sa := env.connect(t, "tok-a", "R1")
	_, sb := env.connect(t, "tok-b", "R1")

	if len(sa.ofType(EventParticipantJoined)) != 1 {
		t.Fatalf("client must be told the consultant joined")
	}
	if len(sb.ofType(EventParticipantJoined)) != 1 {
		t.Fatalf("consultant must be told the client is present")
	}

	if err := env.hub.Relay(a, "Olá"); err != nil {
		t.Fatalf("relay: %v", err)
	}

	got := sb.ofType(EventMessage)
	if len(got) != 1 {
		t.Fatalf("consultant received %d messages, want 1", len(got))
	}
	m := got[0]
	if m.Sender != domain.RoleClient || m.Content != "Olá" || m.ConsultationID != "R1" {
		t.Fatalf("unexpected message: %+v", m)
	}
	if m.Timestamp == nil || !m.Timestamp.Equal(env.clock) {
		t.Fatalf("unexpected timestamp: %v", m.Timestamp)
	}
	if m.ID == "" {
		t.Fatalf("message must carry an id")
	}
	if len(sa.ofType(EventMessage)) != 0 {
		t.Fatalf("sender must not receive its own message")
	}

	if len(env.rec.messages) != 1 || env.rec.messages[0].ID != m.ID {
		t.Fatalf("message not recorded: %+v", env.rec.messages)
	}
}

func TestHub_RelayPeerAbsentDropsSilently(t *testing.T) {
	env := newTestEnv(t, Config{})
	a, sa := env.connect(t, "tok-a", "R1")

	if err := env.hub.Relay(a, "anyone?"); err != nil {
		t.Fatalf("relay with absent peer must not fail: %v", err)
	}
	if len(sa.ofType(EventError)) != 0 || len(sa.ofType(EventMessage)) != 0 {
		t.Fatalf("sender must not be notified about a dropped message")
	}
}

func TestHub_RelayValidation(t *testing.T) {
	env := newTestEnv(t, Config{MaxMessageLength: 5})
	a, _ := env.connect(t, "tok-a", "R1")

	cases := []struct {
		name    string
		content string
		want    error
	}{
		{"empty", "   ", domain.ErrEmptyMessage},
		{"too long", "abcdef", domain.ErrMessageTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := env.hub.Relay(a, tc.content); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	// длина считается в рунах, не в байтах
	if err := env.hub.Relay(a, "ééééé"); err != nil {
		t.Fatalf("five runes must fit: %v", err)
	}
}

func TestHub_RelayRateLimited(t *testing.T) {
	env := newTestEnv(t, Config{RatePerSecond: 1, RateBurst: 2})
	a, _ := env.connect(t, "tok-a", "R1")

	for i := 0; i < 2; i++ {
		if err := env.hub.Relay(a, "m"); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
	}
	if err := env.hub.Relay(a, "m"); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	env.clock = env.clock.Add(time.Second)
	if err := env.hub.Relay(a, "m"); err != nil {
		t.Fatalf("limiter must refill with time: %v", err)
	}
}

func TestHub_DuplicateIdentityReplacesConnection(t *testing.T) {
	env := newTestEnv(t, Config{})
	a1, s1 := env.connect(t, "tok-a", "R1")
	_, sb := env.connect(t, "tok-b", "R1")

	a2, s2 := env.connect(t, "tok-a2", "")

	if !s1.isClosed() || s1.closeCode != CloseSessionReplaced {
		t.Fatalf("old socket must be closed with %d, got closed=%v code=%d",
			CloseSessionReplaced, s1.isClosed(), s1.closeCode)
	}
	errs := s1.ofType(EventError)
	if len(errs) != 1 || errs[0].Code != "duplicate_connection" {
		t.Fatalf("old socket must be told why: %+v", errs)
	}
	if a1.State() != StateTerminated || a1.ConsultationID() != "" {
		t.Fatalf("old connection must be terminated and out of the room")
	}

	room, ok := env.hub.Room("R1")
	if !ok || room.Client != "" || room.Consultant != "B" {
		t.Fatalf("client slot must be cleared: %+v", room)
	}
	if len(sb.ofType(EventParticipantLeft)) != 1 {
		t.Fatalf("consultant must be told the client left")
	}
	if len(s2.ofType(EventAuthSuccess)) != 1 {
		t.Fatalf("new connection must authenticate")
	}

	if err := env.hub.Join(a2, "R1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if st := env.hub.Stats(); st.Authenticated != 2 || st.Connections != 2 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestHub_SlotReplacedBySameRole(t *testing.T) {
	env := newTestEnv(t, Config{})
	a, sa := env.connect(t, "tok-a", "R1")
	_, _ = env.connect(t, "tok-c", "R1")

	if a.ConsultationID() != "" {
		t.Fatalf("evicted connection must lose its room")
	}
	errs := sa.ofType(EventError)
	if len(errs) != 1 || errs[0].Code != "replaced" {
		t.Fatalf("evicted connection must be told it was replaced: %+v", errs)
	}
	if sa.isClosed() {
		t.Fatalf("slot eviction must not close the socket")
	}
	room, _ := env.hub.Room("R1")
	if room.Client != "C" {
		t.Fatalf("client slot must hold C, got %+v", room)
	}
	if err := env.hub.Relay(a, "still here"); !errors.Is(err, domain.ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}
}

func TestHub_JoinInvalidRole(t *testing.T) {
	env := newTestEnv(t, Config{})
	x, _ := env.connect(t, "tok-x", "")

	if err := env.hub.Join(x, "R1"); !errors.Is(err, domain.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if _, ok := env.hub.Room("R1"); ok {
		t.Fatalf("room must not be created")
	}
	if err := env.hub.Join(x, " "); !errors.Is(err, domain.ErrMissingConsultation) {
		t.Fatalf("expected ErrMissingConsultation, got %v", err)
	}
}

func TestHub_JoinAnotherRoomLeavesPrevious(t *testing.T) {
	env := newTestEnv(t, Config{})
	a, _ := env.connect(t, "tok-a", "R1")
	_, sb := env.connect(t, "tok-b", "R1")

	if err := env.hub.Join(a, "R2"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if a.ConsultationID() != "R2" {
		t.Fatalf("connection must be in R2")
	}
	room, _ := env.hub.Room("R1")
	if room.Client != "" {
		t.Fatalf("client slot in R1 must be cleared")
	}
	if len(sb.ofType(EventParticipantLeft)) != 1 {
		t.Fatalf("peer in R1 must be told the client left")
	}
}

func TestHub_LeaveIsIdempotent(t *testing.T) {
	env := newTestEnv(t, Config{})
	a, sa := env.connect(t, "tok-a", "R1")
	_, sb := env.connect(t, "tok-b", "R1")

	env.hub.Leave(a)
	env.hub.Leave(a)

	if len(sa.ofType(EventLeft)) != 1 {
		t.Fatalf("left must be sent once")
	}
	if len(sb.ofType(EventParticipantLeft)) != 1 {
		t.Fatalf("participant_left must be sent once")
	}

	var left int
	for _, p := range env.rec.presence {
		if p.Kind == domain.PresenceLeft {
			left++
		}
	}
	if left != 1 {
		t.Fatalf("expected one left presence change, got %d", left)
	}
}

func TestHub_DisconnectCleansUp(t *testing.T) {
	env := newTestEnv(t, Config{})
	a, _ := env.connect(t, "tok-a", "R1")
	b, sb := env.connect(t, "tok-b", "R1")

	env.hub.Disconnect(a)
	env.hub.Disconnect(a)

	if _, ok := env.hub.Room("R1"); !ok {
		t.Fatalf("room with consultant must remain")
	}
	if len(sb.ofType(EventParticipantLeft)) != 1 {
		t.Fatalf("consultant must be told once")
	}

	env.hub.Disconnect(b)
	if _, ok := env.hub.Room("R1"); ok {
		t.Fatalf("empty room must be removed")
	}
	if st := env.hub.Stats(); st != (Stats{}) {
		t.Fatalf("hub must be empty, got %+v", st)
	}
}

func TestHub_Typing(t *testing.T) {
	env := newTestEnv(t, Config{})
	a, _ := env.connect(t, "tok-a", "R1")
	_, sb := env.connect(t, "tok-b", "R1")

	if err := env.hub.Typing(a, true); err != nil {
		t.Fatalf("typing: %v", err)
	}
	got := sb.ofType(EventTyping)
	if len(got) != 1 || got[0].IsTyping == nil || !*got[0].IsTyping || got[0].Identity != "A" {
		t.Fatalf("unexpected typing events: %+v", got)
	}

	lone, _ := env.connect(t, "tok-c", "")
	if err := env.hub.Typing(lone, true); !errors.Is(err, domain.ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}
}

func TestHub_NotifyAndBroadcast(t *testing.T) {
	env := newTestEnv(t, Config{})
	_, sa := env.connect(t, "tok-a", "")
	_, sb := env.connect(t, "tok-b", "")
	anon := &fakeSocket{}
	env.hub.Attach(anon)

	payload := json.RawMessage(`{"title":"hi"}`)
	if !env.hub.NotifyUser("A", payload) {
		t.Fatalf("notify A must succeed")
	}
	if env.hub.NotifyUser("nobody", payload) {
		t.Fatalf("notify of unknown identity must fail")
	}
	got := sa.ofType(EventNotification)
	if len(got) != 1 || string(got[0].Payload) != string(payload) {
		t.Fatalf("unexpected notification: %+v", got)
	}

	if n := env.hub.Broadcast(payload); n != 2 {
		t.Fatalf("broadcast delivered to %d, want 2", n)
	}
	if len(sb.ofType(EventNotification)) != 1 {
		t.Fatalf("consultant must receive the broadcast")
	}
	if len(anon.ofType(EventNotification)) != 0 {
		t.Fatalf("unauthenticated sockets must not receive broadcasts")
	}
}

func TestHub_CloseTerminatesEveryone(t *testing.T) {
	env := newTestEnv(t, Config{})
	_, sa := env.connect(t, "tok-a", "R1")
	_, sb := env.connect(t, "tok-b", "R1")

	env.hub.Close()

	for _, s := range []*fakeSocket{sa, sb} {
		if !s.isClosed() || s.closeCode != CloseGoingAway {
			t.Fatalf("socket must be closed with going away")
		}
	}
	late := &fakeSocket{}
	c := env.hub.Attach(late)
	if !late.isClosed() || c.State() != StateTerminated {
		t.Fatalf("attach after close must be rejected")
	}
	if st := env.hub.Stats(); st != (Stats{}) {
		t.Fatalf("hub must be empty, got %+v", st)
	}
}

func TestHub_ReauthenticateAsAnotherIdentity(t *testing.T) {
	env := newTestEnv(t, Config{})
	c, _ := env.connect(t, "tok-a", "R1")

	if err := env.hub.Authenticate(c, "tok-b"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if c.Identity() != "B" || c.Role() != domain.RoleConsultant || c.ConsultationID() != "" {
		t.Fatalf("unexpected connection after re-auth: id=%s role=%s room=%s",
			c.Identity(), c.Role(), c.ConsultationID())
	}
	if _, ok := env.hub.Room("R1"); ok {
		t.Fatalf("previous room must be released")
	}
	if st := env.hub.Stats(); st.Authenticated != 1 {
		t.Fatalf("old identity must be unregistered: %+v", st)
	}
}

func TestHub_RelayRecordsPresence(t *testing.T) {
	env := newTestEnv(t, Config{})
	_, _ = env.connect(t, "tok-a", "R1")

	if len(env.rec.presence) != 1 {
		t.Fatalf("expected one presence change, got %d", len(env.rec.presence))
	}
	p := env.rec.presence[0]
	if p.Kind != domain.PresenceJoined || p.Identity != "A" || p.ConsultationID != "R1" {
		t.Fatalf("unexpected presence: %+v", p)
	}
	if p.Role != domain.RoleClient {
		t.Fatalf("unexpected role: %s", p.Role)
	}
}

func TestHub_ReauthenticateWithAnotherRoleReleasesSlot(t *testing.T) {
	env := newTestEnv(t, Config{})
	c, _ := env.connect(t, "tok-a", "R1")

	if err := env.hub.Authenticate(c, "tok-ac"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if c.Role() != domain.RoleConsultant || c.ConsultationID() != "" {
		t.Fatalf("unexpected connection after re-auth: role=%s room=%s", c.Role(), c.ConsultationID())
	}
	if _, ok := env.hub.Room("R1"); ok {
		t.Fatalf("client slot must be released")
	}
	if st := env.hub.Stats(); st.Authenticated != 1 || st.Connections != 1 {
		t.Fatalf("same identity must stay registered once: %+v", st)
	}
}

func TestHub_RejoinSameRoomOnlyConfirms(t *testing.T) {
	env := newTestEnv(t, Config{})
	a, sa := env.connect(t, "tok-a", "R1")
	_, sb := env.connect(t, "tok-b", "R1")

	if err := env.hub.Join(a, "R1"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if got := len(sa.ofType(EventJoined)); got != 2 {
		t.Fatalf("rejoin must be confirmed, got %d joined events", got)
	}
	if got := len(sb.ofType(EventParticipantJoined)); got != 1 {
		t.Fatalf("peer must be notified once, got %d", got)
	}
	if got := len(sa.ofType(EventParticipantJoined)); got != 1 {
		t.Fatalf("rejoiner must not get the peer again, got %d", got)
	}
	joined := 0
	for _, p := range env.rec.presence {
		if p.Identity == "A" && p.Kind == domain.PresenceJoined {
			joined++
		}
	}
	if joined != 1 {
		t.Fatalf("rejoin must not record presence again, got %d joined", joined)
	}
}
