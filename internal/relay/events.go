package relay

import (
	"encoding/json"
	"time"

	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"
)

// Типы исходящих событий
const (
	EventAuthRequired      = "auth_required"
	EventAuthSuccess       = "auth_success"
	EventJoined            = "joined"
	EventLeft              = "left"
	EventMessage           = "message"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventTyping            = "typing"
	EventPong              = "pong"
	EventNotification      = "notification"
	EventError             = "error"
)

// Коды закрытия сокета. 4xxx: прикладные.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseSessionReplaced = 4001
	CloseLivenessTimeout = 4002
)

// Event: исходящее событие. Поля опциональны и зависят от Type.
type Event struct {
	Type           string          `json:"type"`
	ID             string          `json:"id,omitempty"`
	ConsultationID string          `json:"consultationId,omitempty"`
	Identity       string          `json:"identity,omitempty"`
	Role           domain.Role     `json:"role,omitempty"`
	Sender         domain.Role     `json:"sender,omitempty"`
	Content        string          `json:"content,omitempty"`
	Timestamp      *time.Time      `json:"timestamp,omitempty"`
	IsTyping       *bool           `json:"isTyping,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Code           string          `json:"code,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// ErrorEvent: событие error со стабильным кодом и текстом причины.
func ErrorEvent(err error) Event {
	return Event{Type: EventError, Code: domain.Code(err), Error: err.Error()}
}

func messageEvent(m domain.ChatMessage) Event {
	ts := m.CreatedAt
	return Event{
		Type:           EventMessage,
		ID:             m.ID,
		ConsultationID: m.ConsultationID,
		Sender:         m.SenderRole,
		Content:        m.Content,
		Timestamp:      &ts,
	}
}

func participantEvent(typ, consultationID string, c *Connection) Event {
	return Event{
		Type:           typ,
		ConsultationID: consultationID,
		Identity:       c.identity,
		Role:           c.role,
	}
}
