package relay

import (
	"context"
	"time"

	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"
)

// RunJanitor периодически закрывает комнаты без активности дольше RoomIdleTTL.
// При RoomIdleTTL == 0 сразу возвращается: комнаты живут до выхода участников.
func (h *Hub) RunJanitor(ctx context.Context) {
	ttl := h.cfg.RoomIdleTTL
	if ttl <= 0 {
		return
	}
	every := ttl
	if every > time.Minute {
		every = time.Minute
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.ExpireIdleRooms(); n > 0 {
				h.log.Info("relay idle rooms expired", "count", n)
			}
		}
	}
}

// ExpireIdleRooms выводит участников из простаивающих комнат. Соединения
// остаются зарегистрированными и могут снова сделать join.
func (h *Hub) ExpireIdleRooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cfg.RoomIdleTTL <= 0 {
		return 0
	}
	idle := h.rooms.Idle(h.now().Add(-h.cfg.RoomIdleTTL))
	for _, r := range idle {
		for _, c := range r.Occupants() {
			h.leaveLocked(c)
			if c.alive() {
				_ = c.send(Event{
					Type:           EventError,
					ConsultationID: r.ID,
					Code:           domain.Code(domain.ErrRoomExpired),
					Error:          domain.ErrRoomExpired.Error(),
				})
			}
		}
	}
	return len(idle)
}
