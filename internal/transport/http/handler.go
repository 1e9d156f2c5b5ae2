package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/developeragencia/conselhoscursor-sub003/internal/archive"
	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"
	"github.com/developeragencia/conselhoscursor-sub003/internal/redis"
	"github.com/developeragencia/conselhoscursor-sub003/internal/relay"
	httpmw "github.com/developeragencia/conselhoscursor-sub003/internal/transport/http/middleware"
	"github.com/developeragencia/conselhoscursor-sub003/pkg/logger"

	"github.com/go-chi/chi/v5"
)

// Hub: то, что HTTP API использует от relay.Hub.
type Hub interface {
	Stats() relay.Stats
	Room(consultationID string) (relay.RoomView, bool)
	NotifyUser(identity string, payload json.RawMessage) bool
	Broadcast(payload json.RawMessage) int
}

type HistoryReader interface {
	History(ctx context.Context, consultationID, after string, limit int) ([]domain.ChatMessage, string, error)
	Participates(ctx context.Context, consultationID, identity string) (bool, error)
}

type PresenceReader interface {
	Get(ctx context.Context, consultationID string) (redis.Slots, error)
}

type ArchiveStats interface {
	Stats() archive.Stats
}

type Handler struct {
	hub      Hub
	history  HistoryReader
	presence PresenceReader
	archive  ArchiveStats
}

// NewHandler: history, presence и archive могут быть nil.
func NewHandler(hub Hub, history HistoryReader, presence PresenceReader, arch ArchiveStats) *Handler {
	return &Handler{hub: hub, history: history, presence: presence, archive: arch}
}

type HistoryResponse struct {
	Items      []domain.ChatMessage `json:"items"`
	NextCursor string               `json:"nextCursor,omitempty"`
}

// GET /consultations/{id}/messages?after=&limit=
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, fmt.Errorf("%w: message log is disabled", ErrUnavailable))
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, domain.ErrMissingConsultation)
		return
	}
	if err := h.authorize(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, fmt.Errorf("%w: limit must be a number", ErrInvalidInput))
			return
		}
		limit = n
	}

	items, next, err := h.history.History(r.Context(), id, r.URL.Query().Get("after"), limit)
	if err != nil {
		if toHTTP(err) >= http.StatusInternalServerError {
			logger.FromCtx(r.Context()).Error("history query failed", "consultation", id, "err", err)
		}
		writeError(w, err)
		return
	}
	if items == nil {
		items = []domain.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Items: items, NextCursor: next})
}

type PresenceResponse struct {
	ConsultationID string `json:"consultationId"`
	Client         string `json:"client,omitempty"`
	Consultant     string `json:"consultant,omitempty"`
	Source         string `json:"source"`
}

// GET /consultations/{id}/presence
// Redis видит все инстансы; без него отвечаем по локальному каталогу комнат.
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, domain.ErrMissingConsultation)
		return
	}
	if err := h.authorize(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	if h.presence != nil {
		slots, err := h.presence.Get(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, PresenceResponse{
				ConsultationID: id,
				Client:         slots.Client,
				Consultant:     slots.Consultant,
				Source:         "redis",
			})
			return
		}
		logger.FromCtx(r.Context()).Warn("presence lookup failed, using live view", "consultation", id, "err", err)
	}

	resp := PresenceResponse{ConsultationID: id, Source: "live"}
	if room, ok := h.hub.Room(id); ok {
		resp.Client = room.Client
		resp.Consultant = room.Consultant
	}
	writeJSON(w, http.StatusOK, resp)
}

// authorize пускает к консультации только её участника: он занимает слот
// (в этом инстансе или по redis) либо уже писал в неё сообщения.
func (h *Handler) authorize(ctx context.Context, consultationID string) error {
	who, ok := httpmw.IdentityFromCtx(ctx)
	if !ok {
		return ErrForbidden
	}
	if room, ok := h.hub.Room(consultationID); ok && (room.Client == who.ID || room.Consultant == who.ID) {
		return nil
	}
	if h.presence != nil {
		slots, err := h.presence.Get(ctx, consultationID)
		if err == nil && (slots.Client == who.ID || slots.Consultant == who.ID) {
			return nil
		}
	}
	if h.history != nil {
		ok, err := h.history.Participates(ctx, consultationID, who.ID)
		if err != nil {
			logger.FromCtx(ctx).Error("participation check failed", "consultation", consultationID, "err", err)
			return err
		}
		if ok {
			return nil
		}
	}
	return ErrForbidden
}

type StatsResponse struct {
	relay.Stats
	Archive *archive.Stats `json:"archive,omitempty"`
}

// GET /relay/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Stats: h.hub.Stats()}
	if h.archive != nil {
		st := h.archive.Stats()
		resp.Archive = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

type NotifyRequest struct {
	Identity string          `json:"identity"`
	Payload  json.RawMessage `json:"payload"`
}

// POST /internal/notify
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid json", ErrInvalidInput))
		return
	}
	req.Identity = strings.TrimSpace(req.Identity)
	if req.Identity == "" {
		writeError(w, fmt.Errorf("%w: identity is required", ErrInvalidInput))
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, fmt.Errorf("%w: payload is required", ErrInvalidInput))
		return
	}

	writeJSON(w, http.StatusOK, envelope{"delivered": h.hub.NotifyUser(req.Identity, req.Payload)})
}

type BroadcastRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// POST /internal/broadcast
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid json", ErrInvalidInput))
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, fmt.Errorf("%w: payload is required", ErrInvalidInput))
		return
	}

	writeJSON(w, http.StatusOK, envelope{"delivered": h.hub.Broadcast(req.Payload)})
}
