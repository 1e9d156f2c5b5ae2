package relay

import (
	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"

	"golang.org/x/time/rate"
)

// Socket: транспортная сторона соединения (websocket в проде, фейк в тестах).
// Send не должен блокироваться: hub вызывает его под своим локом.
type Socket interface {
	Send(ev Event) error
	Ping() error
	Close(code int, reason string)
}

type State int

const (
	StateAlive State = iota
	StateAwaitingPong
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAlive:
		return "ALIVE"
	case StateAwaitingPong:
		return "AWAITING_PONG"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Connection: один живой сокет. Все поля меняются только под локом hub-а.
type Connection struct {
	id     string
	socket Socket

	identity       string
	role           domain.Role
	consultationID string

	state     State
	pingSeq   uint64
	pongTimer Timer

	limiter *rate.Limiter
}

func (c *Connection) ID() string { return c.id }
func (c *Connection) Identity() string { return c.identity }
func (c *Connection) Role() domain.Role { return c.role }
func (c *Connection) ConsultationID() string { return c.consultationID }
func (c *Connection) State() State { return c.state }
func (c *Connection) Authenticated() bool { return c.identity != "" }
func (c *Connection) alive() bool { return c.state != StateTerminated }
func (c *Connection) send(ev Event) error { return c.socket.Send(ev) }
func (c *Connection) close(code int, r string) { c.socket.Close(code, r) }

func (c *Connection) stopPongTimer() {
	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}
}
