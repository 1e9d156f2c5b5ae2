package archive

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"
)

// MessageStore: журнал сообщений консультаций (postgres или mongo).
type MessageStore interface {
	Save(ctx context.Context, m domain.ChatMessage) error
	History(ctx context.Context, consultationID, after string, limit int) ([]domain.ChatMessage, string, error)
	// Participates: писал ли identity в консультацию.
	Participates(ctx context.Context, consultationID, identity string) (bool, error)
}

// PresenceStore: внешнее представление присутствия (redis).
type PresenceStore interface {
	Apply(ctx context.Context, p domain.PresenceChange) error
}

type Config struct {
	Buffer  int
	Workers int
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

type record struct {
	msg      *domain.ChatMessage
	presence *domain.PresenceChange
}

// Writer: асинхронная запись в хранилища. RecordMessage/RecordPresence
// никогда не блокируются: при полной очереди запись отбрасывается.
// У каждого воркера своя очередь; записи одной консультации всегда идут
// в одну и ту же, поэтому joined/left одного слота применяются по порядку.
type Writer struct {
	cfg      Config
	messages MessageStore
	presence PresenceStore
	log      *slog.Logger

	mu     sync.RWMutex
	closed bool
	queues []chan record
	wg     sync.WaitGroup

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewWriter запускает воркеры. messages и presence могут быть nil.
func NewWriter(cfg Config, messages MessageStore, presence PresenceStore, log *slog.Logger) *Writer {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	w := &Writer{
		cfg:      cfg,
		messages: messages,
		presence: presence,
		log:      log,
		queues:   make([]chan record, cfg.Workers),
	}
	size := (cfg.Buffer + cfg.Workers - 1) / cfg.Workers
	for i := range w.queues {
		w.queues[i] = make(chan record, size)
		w.wg.Add(1)
		go w.run(w.queues[i])
	}
	return w
}

func (w *Writer) RecordMessage(m domain.ChatMessage) {
	if w.messages == nil {
		return
	}
	w.enqueue(m.ConsultationID, record{msg: &m}, "consultation", m.ConsultationID, "msg_id", m.ID)
}

func (w *Writer) RecordPresence(p domain.PresenceChange) {
	if w.presence == nil {
		return
	}
	w.enqueue(p.ConsultationID, record{presence: &p}, "consultation", p.ConsultationID, "kind", p.Kind)
}

func (w *Writer) shard(key string) chan record {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return w.queues[h.Sum32()%uint32(len(w.queues))]
}

func (w *Writer) enqueue(key string, r record, attrs ...any) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.dropped.Add(1)
		return
	}
	select {
	case w.shard(key) <- r:
	default:
		w.dropped.Add(1)
		w.log.Warn("archive queue full, record dropped", attrs...)
	}
}

func (w *Writer) run(queue <-chan record) {
	defer w.wg.Done()
	for r := range queue {
		w.write(r)
	}
}

func (w *Writer) write(r record) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()

	var err error
	switch {
	case r.msg != nil:
		err = w.messages.Save(ctx, *r.msg)
		if err != nil {
			w.log.Error("archive message save failed",
				"consultation", r.msg.ConsultationID, "msg_id", r.msg.ID, "err", err)
		}
	case r.presence != nil:
		err = w.presence.Apply(ctx, *r.presence)
		if err != nil {
			w.log.Error("archive presence apply failed",
				"consultation", r.presence.ConsultationID, "role", r.presence.Role, "err", err)
		}
	}
	if err != nil {
		w.failed.Add(1)
		return
	}
	w.written.Add(1)
}

// Close перестаёт принимать записи и дожидается опустошения очереди
// или отмены ctx.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		for _, q := range w.queues {
			close(q)
		}
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		w.log.Warn("archive close interrupted", "pending", w.pending())
		return ctx.Err()
	}
}

type Stats struct {
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
	Pending int   `json:"pending"`
}

func (w *Writer) Stats() Stats {
	return Stats{
		Written: w.written.Load(),
		Dropped: w.dropped.Load(),
		Failed:  w.failed.Load(),
		Pending: w.pending(),
	}
}

func (w *Writer) pending() int {
	n := 0
	for _, q := range w.queues {
		n += len(q)
	}
	return n
}
