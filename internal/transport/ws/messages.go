package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"
)

// Типы входящих событий
const (
	TypeAuthenticate = "authenticate"
	TypeJoin         = "join"
	TypeMessage      = "message"
	TypeLeave        = "leave"
	TypeTyping       = "typing"
	TypePing         = "ping"
)

// старые имена событий веб-клиента
var aliases = map[string]string{
	"auth":               TypeAuthenticate,
	"join_consultation":  TypeJoin,
	"chat_message":       TypeMessage,
	"leave_consultation": TypeLeave,
}

// Command: одно входящее событие, уже разобранное в конкретную структуру.
type Command interface {
	command()
}

type AuthenticateCmd struct {
	Token string `json:"token"`
}

type JoinCmd struct {
	ConsultationID ID `json:"consultationId"`
}

type MessageCmd struct {
	Content string `json:"content"`
}

type LeaveCmd struct{}

type TypingCmd struct {
	IsTyping bool `json:"isTyping"`
}

type PingCmd struct{}

func (AuthenticateCmd) command() {}
func (JoinCmd) command() {}
func (MessageCmd) command() {}
func (LeaveCmd) command() {}
func (TypingCmd) command() {}
func (PingCmd) command() {}

// ID принимает и строку, и число: веб-клиент шлёт id консультации как есть из БД.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or a number")
	}
	*id = ID(n.String())
	return nil
}

type envelope struct {
	Type string `json:"type"`
}

// Decode разбирает кадр: сначала тег type, затем тело в структуру команды.
// Неизвестный тег даёт domain.ErrUnknownEvent, битый JSON даёт domain.ErrBadRequest.
func Decode(data []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
	}

	typ := strings.TrimSpace(env.Type)
	if canonical, ok := aliases[typ]; ok {
		typ = canonical
	}

	var cmd Command
	switch typ {
	case TypeAuthenticate:
		var c AuthenticateCmd
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
		}
		cmd = c
	case TypeJoin:
		var c JoinCmd
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
		}
		cmd = c
	case TypeMessage:
		var c MessageCmd
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
		}
		cmd = c
	case TypeTyping:
		var c TypingCmd
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
		}
		cmd = c
	case TypeLeave:
		cmd = LeaveCmd{}
	case TypePing:
		cmd = PingCmd{}
	case "":
		return nil, fmt.Errorf("%w: missing type", domain.ErrBadRequest)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEvent, env.Type)
	}
	return cmd, nil
}
