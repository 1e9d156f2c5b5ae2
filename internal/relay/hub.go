package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Verifier проверяет bearer-токен и возвращает identity + роль.
type Verifier interface {
	Verify(token string) (domain.Identity, error)
}

// Recorder: внешний журнал сообщений/присутствия. Реализация обязана
// не блокироваться: hub вызывает её под своим локом.
type Recorder interface {
	RecordMessage(m domain.ChatMessage)
	RecordPresence(p domain.PresenceChange)
}

type Timer interface {
	Stop() bool
}

// AfterFunc планирует f через d. В проде: time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

type Config struct {
	PingInterval     time.Duration
	PongTimeout      time.Duration
	MaxMessageLength int
	RatePerSecond    float64
	RateBurst        int
	RoomIdleTTL      time.Duration
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 5 * time.Second
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = 4000
	}
	return c
}

type Option func(*Hub)

func WithRecorder(r Recorder) Option {
	return func(h *Hub) { h.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

func WithAfterFunc(f AfterFunc) Option {
	return func(h *Hub) { h.after = f }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.log = l }
}

type Stats struct {
	Connections   int `json:"connections"`
	Authenticated int `json:"authenticated"`
	Rooms         int `json:"rooms"`
	AwaitingPong  int `json:"awaitingPong"`
}

// Hub: единственный владелец Registry и Directory. Каждая операция
// выполняется целиком под mu: событие от сокета, тик таймера или
// истечение pong-таймаута никогда не пересекаются друг с другом.
type Hub struct {
	mu sync.Mutex

	cfg      Config
	verifier Verifier
	recorder Recorder

	registry *Registry
	rooms    *Directory
	conns    map[*Connection]struct{}

	now   func() time.Time
	after AfterFunc
	log   *slog.Logger

	closed bool
}

func NewHub(cfg Config, verifier Verifier, opts ...Option) *Hub {
	h := &Hub{
		cfg:      cfg.withDefaults(),
		verifier: verifier,
		conns:    make(map[*Connection]struct{}),
		now:      time.Now,
		after: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.registry = NewRegistry()
	h.rooms = NewDirectory(h.now)

	return h
}

func (h *Hub) Config() Config { return h.cfg }

// Attach регистрирует новый, ещё не аутентифицированный сокет.
func (h *Hub) Attach(s Socket) *Connection {
	c := &Connection{
		id:     uuid.NewString(),
		socket: s,
		state:  StateAlive,
	}
	if h.cfg.RatePerSecond > 0 {
		burst := h.cfg.RateBurst
		if burst <= 0 {
			burst = int(h.cfg.RatePerSecond) + 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(h.cfg.RatePerSecond), burst)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		c.state = StateTerminated
		s.Close(CloseGoingAway, "server shutdown")
		return c
	}
	h.conns[c] = struct{}{}
	_ = c.send(Event{Type: EventAuthRequired})

	return c
}

// Authenticate проверяет токен; роль берётся только из проверенного токена.
// При ошибке сокет остаётся открытым, но незарегистрированным.
func (h *Hub) Authenticate(c *Connection, token string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !c.alive() {
		return domain.ErrConnectionClosed
	}

	id, err := h.verifier.Verify(strings.TrimSpace(token))
	if err != nil {
		h.log.Info("relay auth failed", "conn", c.id, "err", err)
		err = fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
		return h.reject(c, err)
	}

	// повторная аутентификация тем же сокетом под другой identity или ролью:
	// слот комнаты принадлежит старой роли
	if c.Authenticated() && (c.identity != id.ID || c.role != id.Role) {
		h.leaveLocked(c)
		if c.identity != id.ID {
			h.registry.Unregister(c)
		}
	}

	c.identity = id.ID
	c.role = id.Role

	if prev := h.registry.Register(c); prev != nil {
		h.log.Info("relay connection replaced",
			"identity", id.ID, "old_conn", prev.id, "new_conn", c.id)
		_ = prev.send(ErrorEvent(domain.ErrDuplicateConnection))
		h.terminateLocked(prev, CloseSessionReplaced, "session replaced")
	}

	_ = c.send(Event{Type: EventAuthSuccess, Identity: c.identity, Role: c.role})
	h.log.Debug("relay authenticated", "conn", c.id, "identity", c.identity, "role", c.role)

	return nil
}

// Join подключает соединение к комнате консультации.
func (h *Hub) Join(c *Connection, consultationID string) error {
	consultationID = strings.TrimSpace(consultationID)

	h.mu.Lock()
	defer h.mu.Unlock()

	if !c.alive() {
		return domain.ErrConnectionClosed
	}
	if !c.Authenticated() {
		return h.reject(c, domain.ErrNotAuthenticated)
	}
	if consultationID == "" {
		return h.reject(c, domain.ErrMissingConsultation)
	}
	if !c.role.Valid() {
		return h.reject(c, fmt.Errorf("%w: %q", domain.ErrInvalidRole, c.role))
	}

	// повторный join в свою же комнату: только подтверждение
	if c.consultationID == consultationID && h.rooms.Holds(consultationID, c) {
		_ = c.send(Event{Type: EventJoined, ConsultationID: consultationID})
		return nil
	}
	if c.consultationID != "" && c.consultationID != consultationID {
		h.leaveLocked(c)
	}

	evicted, err := h.rooms.Join(consultationID, c)
	if err != nil {
		return h.reject(c, err)
	}
	if evicted != nil {
		h.log.Info("relay slot replaced",
			"consultation", consultationID, "role", c.role,
			"old_conn", evicted.id, "new_conn", c.id)
		evicted.consultationID = ""
		_ = evicted.send(ErrorEvent(domain.ErrSlotReplaced))
	}
	c.consultationID = consultationID

	h.record(domain.PresenceChange{
		ConsultationID: consultationID,
		Role:           c.role,
		Identity:       c.identity,
		Kind:           domain.PresenceJoined,
		At:             h.now(),
	})

	_ = c.send(Event{Type: EventJoined, ConsultationID: consultationID})

	if peer := h.rooms.PeerOf(consultationID, c.role); peer != nil && peer.alive() {
		_ = peer.send(participantEvent(EventParticipantJoined, consultationID, c))
		_ = c.send(participantEvent(EventParticipantJoined, consultationID, peer))
	}

	return nil
}

// Leave выводит соединение из комнаты. Без комнаты: no-op.
func (h *Hub) Leave(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := c.consultationID
	if id == "" {
		return
	}
	h.leaveLocked(c)
	if c.alive() {
		_ = c.send(Event{Type: EventLeft, ConsultationID: id})
	}
}

// Relay пересылает сообщение пиру. Отсутствие пира не ошибка, сообщение
// молча отбрасывается (в журнал оно всё равно попадает).
func (h *Hub) Relay(c *Connection, content string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !c.alive() {
		return domain.ErrConnectionClosed
	}
	if c.consultationID == "" {
		return h.reject(c, domain.ErrNotJoined)
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return h.reject(c, domain.ErrEmptyMessage)
	}
	if utf8.RuneCountInString(content) > h.cfg.MaxMessageLength {
		return h.reject(c, domain.ErrMessageTooLong)
	}
	if c.limiter != nil && !c.limiter.AllowN(h.now(), 1) {
		return h.reject(c, domain.ErrRateLimited)
	}

	msg := domain.ChatMessage{
		ID:             uuid.NewString(),
		ConsultationID: c.consultationID,
		SenderID:       c.identity,
		SenderRole:     c.role,
		Content:        content,
		CreatedAt:      h.now().UTC(),
	}
	h.rooms.Touch(c.consultationID)
	if h.recorder != nil {
		h.recorder.RecordMessage(msg)
	}

	peer := h.rooms.PeerOf(c.consultationID, c.role)
	if peer == nil || !peer.alive() {
		h.log.Debug("relay peer absent, message dropped",
			"consultation", c.consultationID, "sender", c.role, "msg_id", msg.ID)
		return nil
	}
	if err := peer.send(messageEvent(msg)); err != nil {
		h.log.Warn("relay delivery failed",
			"consultation", c.consultationID, "peer_conn", peer.id, "msg_id", msg.ID, "err", err)
	}

	return nil
}

// Typing пересылает индикатор набора текста пиру.
func (h *Hub) Typing(c *Connection, isTyping bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !c.alive() {
		return domain.ErrConnectionClosed
	}
	if c.consultationID == "" {
		return h.reject(c, domain.ErrNotJoined)
	}
	if peer := h.rooms.PeerOf(c.consultationID, c.role); peer != nil && peer.alive() {
		v := isTyping
		_ = peer.send(Event{
			Type:           EventTyping,
			ConsultationID: c.consultationID,
			Identity:       c.identity,
			Role:           c.role,
			IsTyping:       &v,
		})
	}
	return nil
}

// Disconnect: сокет закрылся сам (или транспорт закрыл его). Идемпотентно.
func (h *Hub) Disconnect(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !c.alive() {
		return
	}
	c.state = StateTerminated
	h.detachLocked(c)
}

// NotifyUser доставляет notification текущему соединению identity.
func (h *Hub) NotifyUser(identity string, payload json.RawMessage) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.registry.Find(identity)
	if !ok || !c.alive() {
		return false
	}
	return c.send(Event{Type: EventNotification, Payload: payload}) == nil
}

// Broadcast рассылает notification всем аутентифицированным соединениям.
func (h *Hub) Broadcast(payload json.RawMessage) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	h.registry.Each(func(c *Connection) {
		if c.alive() && c.send(Event{Type: EventNotification, Payload: payload}) == nil {
			delivered++
		}
	})
	return delivered
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Stats{
		Connections:   len(h.conns),
		Authenticated: h.registry.Len(),
		Rooms:         h.rooms.Len(),
	}
	for c := range h.conns {
		if c.state == StateAwaitingPong {
			st.AwaitingPong++
		}
	}
	return st
}

// RoomView: снимок комнаты для HTTP/gRPC.
type RoomView struct {
	ConsultationID string    `json:"consultationId"`
	Client         string    `json:"client,omitempty"`
	Consultant     string    `json:"consultant,omitempty"`
	LastActivity   time.Time `json:"lastActivity"`
}

func (h *Hub) Room(consultationID string) (RoomView, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms.Get(consultationID)
	if !ok {
		return RoomView{}, false
	}
	v := RoomView{ConsultationID: r.ID, LastActivity: r.LastActivity}
	if r.Client != nil {
		v.Client = r.Client.identity
	}
	if r.Consultant != nil {
		v.Consultant = r.Consultant.identity
	}
	return v, true
}

// Close закрывает все сокеты. Новые Attach после Close сразу закрываются.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.conns {
		h.terminateLocked(c, CloseGoingAway, "server shutdown")
	}
}

// --- locked helpers ---

// reject сообщает клиенту причину отказа событием error и возвращает err.
func (h *Hub) reject(c *Connection, err error) error {
	if c.alive() {
		_ = c.send(ErrorEvent(err))
	}
	return err
}

func (h *Hub) leaveLocked(c *Connection) {
	id := c.consultationID
	if id == "" {
		return
	}
	c.consultationID = ""

	if !h.rooms.Leave(id, c) {
		return
	}
	h.record(domain.PresenceChange{
		ConsultationID: id,
		Role:           c.role,
		Identity:       c.identity,
		Kind:           domain.PresenceLeft,
		At:             h.now(),
	})
	if peer := h.rooms.PeerOf(id, c.role); peer != nil && peer.alive() {
		_ = peer.send(participantEvent(EventParticipantLeft, id, c))
	}
}

// detachLocked: полная очистка (комната, реестр, таймер).
func (h *Hub) detachLocked(c *Connection) {
	c.stopPongTimer()
	h.leaveLocked(c)
	h.registry.Unregister(c)
	delete(h.conns, c)
}

func (h *Hub) terminateLocked(c *Connection, code int, reason string) {
	if !c.alive() {
		return
	}
	c.state = StateTerminated
	c.close(code, reason)
	h.detachLocked(c)
}

func (h *Hub) record(p domain.PresenceChange) {
	if h.recorder != nil {
		h.recorder.RecordPresence(p)
	}
}
