package postgres

import (
	"context"
	"fmt"

	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"
	"github.com/developeragencia/conselhoscursor-sub003/internal/pagination"

	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// Save идемпотентен по id: повторная запись того же сообщения игнорируется.
func (r *MessageRepository) Save(ctx context.Context, m domain.ChatMessage) error {
	_, err := r.db.Exec(ctx, insertMessageQuery,
		m.ID, m.ConsultationID, m.SenderID, string(m.SenderRole), m.Content, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message %s: %w", m.ID, err)
	}
	return nil
}

// History возвращает историю консультации с курсорной пагинацией (created_at,id DESC).
func (r *MessageRepository) History(ctx context.Context, consultationID, after string, limit int) ([]domain.ChatMessage, string, error) {
	limit = pagination.ClampLimit(limit)
	cur, err := pagination.DecodeCursor(after)
	if err != nil {
		return nil, "", err
	}

	var createdAt, id any
	if cur != nil {
		createdAt = cur.CreatedAt
		id = cur.ID
	}

	rows, err := r.db.Query(ctx, historyQuery, consultationID, createdAt, id, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var out []domain.ChatMessage
	for rows.Next() {
		var (
			m    domain.ChatMessage
			role string
		)
		if err := rows.Scan(&m.ID, &m.ConsultationID, &m.SenderID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, "", err
		}
		m.SenderRole = domain.Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var next string
	if len(out) > 0 {
		last := out[len(out)-1]
		next = pagination.Next(len(out), limit, pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return out, next, nil
}

func (r *MessageRepository) Participates(ctx context.Context, consultationID, identity string) (bool, error) {
	var ok bool
	if err := r.db.QueryRow(ctx, participatesQuery, consultationID, identity).Scan(&ok); err != nil {
		return false, fmt.Errorf("participates %s: %w", consultationID, err)
	}
	return ok, nil
}
