package domain

import "errors"

var (
	ErrAuthentication      = errors.New("authentication failed")
	ErrNotAuthenticated    = errors.New("connection is not authenticated")
	ErrInvalidRole         = errors.New("invalid role")
	ErrNotJoined           = errors.New("connection has not joined a consultation")
	ErrPeerAbsent          = errors.New("peer is not attached")
	ErrLivenessTimeout     = errors.New("pong timeout")
	ErrDuplicateConnection = errors.New("identity connected from another socket")
	ErrSlotReplaced        = errors.New("replaced by another participant with the same role")
	ErrUnknownEvent        = errors.New("unknown event type")
	ErrBadRequest          = errors.New("malformed event")
	ErrMissingConsultation = errors.New("consultation id is required")
	ErrEmptyMessage        = errors.New("empty message")
	ErrMessageTooLong      = errors.New("message too long")
	ErrRateLimited         = errors.New("too many messages")
	ErrRoomExpired         = errors.New("consultation room expired")
	ErrConnectionClosed    = errors.New("connection closed")
)

// Code: стабильный код ошибки для клиента (поле "code" в событии error).
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAuthentication):
		return "authentication_failed"
	case errors.Is(err, ErrNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, ErrInvalidRole):
		return "invalid_role"
	case errors.Is(err, ErrNotJoined):
		return "not_joined"
	case errors.Is(err, ErrPeerAbsent):
		return "peer_absent"
	case errors.Is(err, ErrLivenessTimeout):
		return "liveness_timeout"
	case errors.Is(err, ErrDuplicateConnection):
		return "duplicate_connection"
	case errors.Is(err, ErrSlotReplaced):
		return "replaced"
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrMissingConsultation):
		return "missing_consultation"
	case errors.Is(err, ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, ErrMessageTooLong):
		return "message_too_long"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrRoomExpired):
		return "room_expired"
	default:
		return "internal"
	}
}
