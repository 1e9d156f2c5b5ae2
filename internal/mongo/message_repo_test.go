package mongo

import (
	"testing"
	"time"

	"github.com/developeragencia/conselhoscursor-sub003/internal/domain"
	"github.com/developeragencia/conselhoscursor-sub003/internal/pagination"

	"go.mongodb.org/mongo-driver/bson"
)

func TestHistoryFilter_FirstPage(t *testing.T) {
	f := historyFilter("R1", nil)
	if f["consultation_id"] != "R1" {
		t.Fatalf("filter must select the consultation: %v", f)
	}
	if _, ok := f["$or"]; ok {
		t.Fatalf("first page must not carry a cursor condition")
	}
}

func TestHistoryFilter_AfterCursor(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f := historyFilter("R1", &pagination.Cursor{CreatedAt: at, ID: "m-5"})

	or, ok := f["$or"].(bson.A)
	if !ok || len(or) != 2 {
		t.Fatalf("expected two-branch $or, got %v", f["$or"])
	}
	tie, ok := or[1].(bson.M)
	if !ok || tie["created_at"] != at {
		t.Fatalf("tie branch must match created_at exactly: %v", or[1])
	}
	if id, _ := tie["_id"].(bson.M); id["$lt"] != "m-5" {
		t.Fatalf("tie branch must compare ids: %v", tie)
	}
}

func TestChatMessageBSONLayout(t *testing.T) {
	m := domain.ChatMessage{
		ID:             "m-1",
		ConsultationID: "R1",
		SenderID:       "A",
		SenderRole:     domain.RoleClient,
		Content:        "Olá",
		CreatedAt:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	raw, err := bson.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"_id", "consultation_id", "sender_id", "sender_role", "content", "created_at"} {
		if _, ok := doc[key]; !ok {
			t.Fatalf("document is missing %q: %v", key, doc)
		}
	}
}
