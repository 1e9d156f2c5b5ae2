package relay

import (
	"context"
	"time"

	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"
)

// Monitor: ping/pong контроль живости.
//
//	ALIVE --ping--> AWAITING_PONG --pong--> ALIVE
//	AWAITING_PONG --timeout--> TERMINATED
//
// Терминация окончательна: сокет закрывается, соединение уходит из комнаты
// и из реестра. Возобновление: только новым authenticate/join.
type Monitor struct {
	hub *Hub
}

func NewMonitor(h *Hub) *Monitor {
	return &Monitor{hub: h}
}

// Run пингует соединения каждые PingInterval до отмены ctx.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.hub.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick отправляет ping каждому ALIVE соединению и взводит pong-таймаут.
// Возвращает число отправленных ping.
func (m *Monitor) Tick() int {
	h := m.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for c := range h.conns {
		if c.state != StateAlive {
			continue
		}
		if err := c.socket.Ping(); err != nil {
			h.log.Debug("relay ping failed", "conn", c.id, "identity", c.identity, "err", err)
			h.terminateLocked(c, CloseLivenessTimeout, "ping failed")
			continue
		}
		c.state = StateAwaitingPong
		c.pingSeq++
		seq, conn := c.pingSeq, c
		c.pongTimer = h.after(h.cfg.PongTimeout, func() { m.expire(conn, seq) })
		sent++
	}
	return sent
}

// Pong: ответ на ping. Вне AWAITING_PONG игнорируется.
func (h *Hub) Pong(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.state != StateAwaitingPong {
		return
	}
	c.stopPongTimer()
	c.state = StateAlive
}

func (m *Monitor) expire(c *Connection, seq uint64) {
	h := m.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	// таймер мог сработать одновременно с pong или следующим ping
	if c.state != StateAwaitingPong || c.pingSeq != seq {
		return
	}
	c.pongTimer = nil
	h.log.Info("relay connection terminated",
		"conn", c.id, "identity", c.identity, "consultation", c.consultationID,
		"reason", domain.ErrLivenessTimeout.Error())
	h.terminateLocked(c, CloseLivenessTimeout, domain.ErrLivenessTimeout.Error())
}
