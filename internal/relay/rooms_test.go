package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"
)

func TestDirectory_JoinPairsRoles(t *testing.T) {
	d := NewDirectory(nil)
	a := conn("A", domain.RoleClient)
	b := conn("B", domain.RoleConsultant)

	if _, err := d.Join("R1", a); err != nil {
		t.Fatalf("join client: %v", err)
	}
	if _, err := d.Join("R1", b); err != nil {
		t.Fatalf("join consultant: %v", err)
	}
	if d.PeerOf("R1", domain.RoleClient) != b {
		t.Fatalf("client's peer must be the consultant")
	}
	if d.PeerOf("R1", domain.RoleConsultant) != a {
		t.Fatalf("consultant's peer must be the client")
	}
	if d.PeerOf("R2", domain.RoleClient) != nil {
		t.Fatalf("unknown room must have no peer")
	}
	if !d.Holds("R1", a) || d.Holds("R2", a) || d.Holds("R1", conn("C", domain.RoleClient)) {
		t.Fatalf("Holds must match only the slot occupant")
	}
}

func TestDirectory_OneConnectionPerRole(t *testing.T) {
	d := NewDirectory(nil)
	a := conn("A", domain.RoleClient)
	c := conn("C", domain.RoleClient)

	_, _ = d.Join("R1", a)
	evicted, err := d.Join("R1", c)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if evicted != a {
		t.Fatalf("expected previous client to be evicted")
	}
	room, _ := d.Get("R1")
	if room.Client != c || room.Consultant != nil {
		t.Fatalf("room holds unexpected occupants: %+v", room)
	}

	// повторный join тем же соединением ничего не вытесняет
	if evicted, _ := d.Join("R1", c); evicted != nil {
		t.Fatalf("rejoin must not evict itself")
	}
}

func TestDirectory_InvalidRole(t *testing.T) {
	d := NewDirectory(nil)
	_, err := d.Join("R1", conn("X", domain.Role("admin")))
	if !errors.Is(err, domain.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if d.Len() != 0 {
		t.Fatalf("room must not be created for an invalid role")
	}
}

func TestDirectory_LeaveIdempotentAndGC(t *testing.T) {
	d := NewDirectory(nil)
	a := conn("A", domain.RoleClient)
	b := conn("B", domain.RoleConsultant)
	_, _ = d.Join("R1", a)
	_, _ = d.Join("R1", b)

	if !d.Leave("R1", a) {
		t.Fatalf("first leave must clear the slot")
	}
	if d.Leave("R1", a) {
		t.Fatalf("second leave must be a no-op")
	}
	if d.Len() != 1 {
		t.Fatalf("room with one occupant must remain")
	}

	// чужое соединение не освобождает слот
	if d.Leave("R1", conn("Z", domain.RoleConsultant)) {
		t.Fatalf("leave by a non-occupant must be a no-op")
	}

	d.Leave("R1", b)
	if _, ok := d.Get("R1"); ok {
		t.Fatalf("empty room must be garbage collected")
	}
}

func TestDirectory_Idle(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewDirectory(func() time.Time { return now })
	_, _ = d.Join("old", conn("A", domain.RoleClient))
	now = now.Add(time.Hour)
	_, _ = d.Join("fresh", conn("B", domain.RoleClient))

	idle := d.Idle(now.Add(-30 * time.Minute))
	if len(idle) != 1 || idle[0].ID != "old" {
		t.Fatalf("expected only the old room to be idle, got %v", idle)
	}
}
