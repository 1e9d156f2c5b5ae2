package domain

import "strings"

type Role string

const (
	RoleClient     Role = "client"
	RoleConsultant Role = "consultant"
)

// ParseRole нормализует роль из токена. Старые токены маркетплейса
// выпускались с ролями "cliente"/"consultor": принимаем их как синонимы.
// Неизвестная роль возвращается как есть: отказ произойдёт при join.
func ParseRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "client", "cliente", "user":
		return RoleClient
	case "consultant", "consultor":
		return RoleConsultant
	default:
		return Role(strings.TrimSpace(raw))
	}
}

func (r Role) Valid() bool {
	return r == RoleClient || r == RoleConsultant
}

// Peer: роль противоположной стороны консультации.
func (r Role) Peer() Role {
	switch r {
	case RoleClient:
		return RoleConsultant
	case RoleConsultant:
		return RoleClient
	default:
		return ""
	}
}
