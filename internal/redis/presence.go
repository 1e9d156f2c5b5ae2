package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"

	redis "github.com/redis/go-redis/v9"
)

type Config struct {
	Addr        string
	Password    string
	DB          int
	PresenceTTL time.Duration
}

// NewClient создаёт клиента и проверяет соединение.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return c, nil
}

// releaseScript удаляет ключ, только если в нём всё ещё наш identity:
// запоздавший leave не стирает нового участника слота.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Presence: слоты консультации в redis: consultation:{id}:{role} -> identity.
type Presence struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewPresence(client redis.Cmdable, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Presence{client: client, ttl: ttl}
}

func Key(consultationID string, role domain.Role) string {
	return "consultation:" + consultationID + ":" + string(role)
}

// Apply реализует archive.PresenceStore.
func (p *Presence) Apply(ctx context.Context, c domain.PresenceChange) error {
	if !c.Role.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidRole, c.Role)
	}
	key := Key(c.ConsultationID, c.Role)

	switch c.Kind {
	case domain.PresenceJoined:
		return p.client.Set(ctx, key, c.Identity, p.ttl).Err()
	case domain.PresenceLeft:
		return releaseScript.Run(ctx, p.client, []string{key}, c.Identity).Err()
	default:
		return fmt.Errorf("unknown presence kind %q", c.Kind)
	}
}

// Slots: кто сейчас занимает слоты консультации. Пустая строка означает свободный слот.
type Slots struct {
	ConsultationID string `json:"consultationId"`
	Client         string `json:"client,omitempty"`
	Consultant     string `json:"consultant,omitempty"`
}

func (p *Presence) Get(ctx context.Context, consultationID string) (Slots, error) {
	vals, err := p.client.MGet(ctx,
		Key(consultationID, domain.RoleClient),
		Key(consultationID, domain.RoleConsultant),
	).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Slots{}, err
	}

	s := Slots{ConsultationID: consultationID}
	if len(vals) == 2 {
		s.Client, _ = vals[0].(string)
		s.Consultant, _ = vals[1].(string)
	}
	return s, nil
}
