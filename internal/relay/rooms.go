package relay

import (
	"time"

	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"
)

// Room: пара (client, consultant) одной консультации.
type Room struct {
	ID           string
	Client       *Connection
	Consultant   *Connection
	LastActivity time.Time
}

func (r *Room) IsEmpty() bool {
	return r.Client == nil && r.Consultant == nil
}

func (r *Room) slot(role domain.Role) **Connection {
	switch role {
	case domain.RoleClient:
		return &r.Client
	case domain.RoleConsultant:
		return &r.Consultant
	default:
		return nil
	}
}

// Occupants: занятые слоты, client первым.
func (r *Room) Occupants() []*Connection {
	out := make([]*Connection, 0, 2)
	if r.Client != nil {
		out = append(out, r.Client)
	}
	if r.Consultant != nil {
		out = append(out, r.Consultant)
	}
	return out
}

// Directory: consultationID -> Room. Как и Registry, живёт под локом Hub.
type Directory struct {
	rooms map[string]*Room
	now   func() time.Time
}

func NewDirectory(now func() time.Time) *Directory {
	if now == nil {
		now = time.Now
	}
	return &Directory{rooms: make(map[string]*Room), now: now}
}

// Join кладёт c в слот его роли. Комната создаётся лениво. Если слот занят
// другим соединением, оно вытесняется и возвращается как evicted.
func (d *Directory) Join(consultationID string, c *Connection) (evicted *Connection, err error) {
	if !c.role.Valid() {
		return nil, domain.ErrInvalidRole
	}

	room, ok := d.rooms[consultationID]
	if !ok {
		room = &Room{ID: consultationID}
		d.rooms[consultationID] = room
	}

	s := room.slot(c.role)
	if *s != nil && *s != c {
		evicted = *s
	}
	*s = c
	room.LastActivity = d.now()

	return evicted, nil
}

// Leave освобождает слот, только если в нём именно c. Пустая комната удаляется.
func (d *Directory) Leave(consultationID string, c *Connection) bool {
	room, ok := d.rooms[consultationID]
	if !ok {
		return false
	}
	s := room.slot(c.role)
	if s == nil || *s != c {
		return false
	}
	*s = nil

	if room.IsEmpty() {
		delete(d.rooms, consultationID)
	}
	return true
}

// PeerOf возвращает соединение из слота противоположной роли.
func (d *Directory) PeerOf(consultationID string, role domain.Role) *Connection {
	room, ok := d.rooms[consultationID]
	if !ok {
		return nil
	}
	s := room.slot(role.Peer())
	if s == nil {
		return nil
	}
	return *s
}

// Holds: занимает ли c слот своей роли в комнате.
func (d *Directory) Holds(consultationID string, c *Connection) bool {
	room, ok := d.rooms[consultationID]
	if !ok {
		return false
	}
	s := room.slot(c.role)
	return s != nil && *s == c
}

func (d *Directory) Get(consultationID string) (*Room, bool) {
	r, ok := d.rooms[consultationID]
	return r, ok
}

func (d *Directory) Touch(consultationID string) {
	if r, ok := d.rooms[consultationID]; ok {
		r.LastActivity = d.now()
	}
}

// Idle: комнаты без активности с момента cutoff.
func (d *Directory) Idle(cutoff time.Time) []*Room {
	var out []*Room
	for _, r := range d.rooms {
		if r.LastActivity.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

func (d *Directory) Len() int { return len(d.rooms) }
