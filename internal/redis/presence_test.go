package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"

	redis "github.com/redis/go-redis/v9"
)

func TestKey(t *testing.T) {
	if got := Key("R1", domain.RoleConsultant); got != "consultation:R1:consultant" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestApply_RejectsBadInput(t *testing.T) {
	// клиент без сервера: до сети дело не доходит
	p := NewPresence(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), 0)

	err := p.Apply(context.Background(), domain.PresenceChange{ConsultationID: "R1", Role: "admin", Kind: domain.PresenceJoined})
	if !errors.Is(err, domain.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	err = p.Apply(context.Background(), domain.PresenceChange{ConsultationID: "R1", Role: domain.RoleClient, Kind: "moved"})
	if err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

// Против живого redis: RELAY_TEST_REDIS_ADDR=localhost:6379 go test ./internal/redis
func TestPresence_StaleLeaveKeepsNewOccupant(t *testing.T) {
	addr := os.Getenv("RELAY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RELAY_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := NewClient(ctx, Config{Addr: addr})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	room := "test-" + t.Name()
	defer client.Del(ctx, Key(room, domain.RoleClient), Key(room, domain.RoleConsultant))

	p := NewPresence(client, time.Minute)
	apply := func(identity string, kind domain.PresenceKind) {
		t.Helper()
		err := p.Apply(ctx, domain.PresenceChange{ConsultationID: room, Role: domain.RoleClient, Identity: identity, Kind: kind})
		if err != nil {
			t.Fatalf("apply %s %s: %v", identity, kind, err)
		}
	}

	apply("A", domain.PresenceJoined)
	apply("C", domain.PresenceJoined)
	apply("A", domain.PresenceLeft)

	slots, err := p.Get(ctx, room)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if slots.Client != "C" || slots.Consultant != "" {
		t.Fatalf("stale leave must not clear the new occupant: %+v", slots)
	}

	apply("C", domain.PresenceLeft)
	if slots, _ = p.Get(ctx, room); slots.Client != "" {
		t.Fatalf("slot must be free after leave: %+v", slots)
	}
}
