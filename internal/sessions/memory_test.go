package sessions

import (
	"context"
	"testing"

	"github.com/haasonsaas/agentrun/pkg/models"
)

func TestMemoryStore_SeqIsGaplessAndMonotonic(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	s, err := store.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	for i := 1; i <= 3; i++ {
		seq, err := store.Append(ctx, s.ID, models.Event{Type: models.EventUserPrompt, UserPrompt: &models.UserPromptPayload{Text: "hi"}})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if seq != int64(i) {
			t.Fatalf("expected seq %d, got %d", i, seq)
		}
	}
}

func TestMemoryStore_ReadEventsReturnsAppendOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s, _ := store.CreateSession(ctx)

	store.Append(ctx, s.ID, models.Event{Type: models.EventUserPrompt, UserPrompt: &models.UserPromptPayload{Text: "one"}})
	store.Append(ctx, s.ID, models.Event{Type: models.EventAssistantText, AssistantText: &models.AssistantTextPayload{Text: "two"}})

	events, err := store.ReadEvents(ctx, s.ID, 0, 0)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 2 || events[0].Seq != 1 || events[1].Seq != 2 {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestMemoryStore_AppendUnknownSession(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Append(context.Background(), "missing", models.Event{Type: models.EventUserPrompt})
	if err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMemoryStore_DeleteSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s, _ := store.CreateSession(ctx)
	store.Append(ctx, s.ID, models.Event{Type: models.EventUserPrompt})

	if err := store.DeleteSession(ctx, s.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := store.Append(ctx, s.ID, models.Event{Type: models.EventUserPrompt}); err != ErrSessionNotFound {
		t.Fatalf("expected session gone, got %v", err)
	}
}

func TestMemoryStore_ListSessionsMostRecentFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	a, _ := store.CreateSession(ctx)
	b, _ := store.CreateSession(ctx)

	list, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 2 || list[0].ID != b.ID || list[1].ID != a.ID {
		t.Fatalf("expected most recent first, got %+v", list)
	}
}
