package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"
	"github.com/developeragencia/conselhoscursor-sub003/internal/pagination"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const messageCollection = "consultation_messages"

type MessageRepository struct {
	coll *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{coll: db.Collection(messageCollection)}
}

// EnsureIndexes создаёт индекс под выборку истории.
func (r *MessageRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "consultation_id", Value: 1},
			{Key: "created_at", Value: -1},
			{Key: "_id", Value: -1},
		},
		Options: options.Index().SetName("consultation_history"),
	})
	return err
}

// Save идемпотентен по _id.
func (r *MessageRepository) Save(ctx context.Context, m domain.ChatMessage) error {
	_, err := r.coll.InsertOne(ctx, m)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert message %s: %w", m.ID, err)
	}
	return nil
}

func (r *MessageRepository) History(ctx context.Context, consultationID, after string, limit int) ([]domain.ChatMessage, string, error) {
	limit = pagination.ClampLimit(limit)
	cur, err := pagination.DecodeCursor(after)
	if err != nil {
		return nil, "", err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	rows, err := r.coll.Find(ctx, historyFilter(consultationID, cur), opts)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close(ctx)

	var out []domain.ChatMessage
	if err := rows.All(ctx, &out); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, "", nil
		}
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
	n, err := r.coll.CountDocuments(ctx,
		bson.M{"consultation_id": consultationID, "sender_id": identity},
		options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("participates %s: %w", consultationID, err)
	}
	return n > 0, nil
}

// historyFilter: (created_at, _id) < курсора в порядке DESC.
func historyFilter(consultationID string, cur *pagination.Cursor) bson.M {
	f := bson.M{"consultation_id": consultationID}
	if cur == nil {
		return f
	}
	f["$or"] = bson.A{
		bson.M{"created_at": bson.M{"$lt": cur.CreatedAt}},
		bson.M{"created_at": cur.CreatedAt, "_id": bson.M{"$lt": cur.ID}},
	}
	return f
}
