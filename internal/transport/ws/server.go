package ws

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"
	"github.com/developeragencia/conselhoscursor-sub003/internal/relay"

	"github.com/gorilla/websocket"
)

type Options struct {
	SendBuffer     int
	ReadLimit      int64
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 << 10
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

type Server struct {
	upgrader websocket.Upgrader
	hub      *relay.Hub
	opts     Options
	log      *slog.Logger
}

func NewServer(hub *relay.Hub, opts Options, log *slog.Logger) *Server {
	opts = opts.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		hub:  hub,
		opts: opts,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}
}

// пустой список или "*": любой origin
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[o] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// WS endpoint: GET /ws[?access_token=...]
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade сам пишет ответ с ошибкой
		s.log.Warn("ws upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	sock := newSocket(conn, s.opts)
	go sock.writeLoop()

	c := s.hub.Attach(sock)
	s.log.Debug("ws attached", "conn", c.ID(), "remote", r.RemoteAddr)

	if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
		_ = s.hub.Authenticate(c, token)
	}

	s.readLoop(c, sock)

	s.hub.Disconnect(c)
	sock.Close(relay.CloseNormal, "")
	s.log.Debug("ws detached", "conn", c.ID(), "identity", c.Identity())
}

func (s *Server) readLoop(c *relay.Connection, sock *socket) {
	sock.conn.SetReadLimit(s.opts.ReadLimit)
	sock.conn.SetPongHandler(func(string) error {
		s.hub.Pong(c)
		return nil
	})

	for {
		_, data, err := sock.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("ws read failed", "conn", c.ID(), "err", err)
			}
			return
		}
		s.dispatch(c, sock, data)
	}
}

func (s *Server) dispatch(c *relay.Connection, sock *socket, data []byte) {
	cmd, err := Decode(data)
	if err != nil {
		_ = sock.Send(relay.ErrorEvent(err))
		return
	}

	switch m := cmd.(type) {
	case AuthenticateCmd:
		err = s.hub.Authenticate(c, m.Token)
	case JoinCmd:
		err = s.hub.Join(c, string(m.ConsultationID))
	case MessageCmd:
		err = s.hub.Relay(c, m.Content)
	case LeaveCmd:
		s.hub.Leave(c)
	case TypingCmd:
		err = s.hub.Typing(c, m.IsTyping)
	case PingCmd:
		now := time.Now().UTC()
		err = sock.Send(relay.Event{Type: relay.EventPong, Timestamp: &now})
	}
	if err != nil {
		s.log.Debug("ws command rejected",
			"conn", c.ID(), "identity", c.Identity(), "code", domain.Code(err), "err", err)
	}
}

// socket: relay.Socket поверх gorilla-соединения. Все записи идут через
// writeLoop: Send/Ping/Close только ставят задачу и не блокируются.
type socket struct {
	conn    *websocket.Conn
	timeout time.Duration

	send chan relay.Event
	ping chan struct{}
	done chan struct{}

	once        sync.Once
	closeCode   int
	closeReason string
}

func newSocket(conn *websocket.Conn, opts Options) *socket {
	return &socket{
		conn:    conn,
		timeout: opts.WriteTimeout,
		send:    make(chan relay.Event, opts.SendBuffer),
		ping:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Send ставит событие в очередь. Переполненная очередь означает, что клиент
// не читает: соединение закрывается.
func (s *socket) Send(ev relay.Event) error {
	select {
	case <-s.done:
		return domain.ErrConnectionClosed
	default:
	}
	select {
	case s.send <- ev:
		return nil
	default:
		s.Close(websocket.ClosePolicyViolation, "send queue overflow")
		return domain.ErrConnectionClosed
	}
}

func (s *socket) Ping() error {
	select {
	case <-s.done:
		return domain.ErrConnectionClosed
	default:
	}
	select {
	case s.ping <- struct{}{}:
	default:
	}
	return nil
}

func (s *socket) Close(code int, reason string) {
	s.once.Do(func() {
		s.closeCode = code
		s.closeReason = reason
		close(s.done)
	})
}

func (s *socket) writeLoop() {
	defer s.conn.Close()

	for {
		select {
		case ev := <-s.send:
			if err := s.write(ev); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-s.ping:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.timeout)); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-s.done:
			s.flush()
			if s.closeCode != websocket.CloseAbnormalClosure {
				msg := websocket.FormatCloseMessage(s.closeCode, s.closeReason)
				_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.timeout))
			}
			return
		}
	}
}

// flush дописывает то, что уже стоит в очереди: причина отключения
// должна дойти раньше close-кадра.
func (s *socket) flush() {
	for {
		select {
		case ev := <-s.send:
			if err := s.write(ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *socket) write(ev relay.Event) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	return s.conn.WriteJSON(ev)
}
