package domain

import "time"

// Identity: проверенные данные участника из bearer-токена.
type Identity struct {
	ID   string
	Role Role
}

type ChatMessage struct {
	ID             string    `json:"id" bson:"_id"`
	ConsultationID string    `json:"consultationId" bson:"consultation_id"`
	SenderID       string    `json:"senderId" bson:"sender_id"`
	SenderRole     Role      `json:"sender" bson:"sender_role"`
	Content        string    `json:"content" bson:"content"`
	CreatedAt      time.Time `json:"timestamp" bson:"created_at"`
}

type PresenceKind string

const (
	PresenceJoined PresenceKind = "joined"
	PresenceLeft   PresenceKind = "left"
)

type PresenceChange struct {
	ConsultationID string
	Role           Role
	Identity       string
	Kind           PresenceKind
	At             time.Time
}
