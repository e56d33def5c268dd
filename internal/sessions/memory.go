package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentrun/pkg/models"
)

// MemoryStore is an in-memory Store, used in tests and for short-lived,
// single-process deployments that don't need durability across restarts.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]models.Session
	events   map[string][]models.Event
	order    []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]models.Session),
		events:   make(map[string][]models.Event),
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := models.Session{ID: uuid.NewString(), CreatedAt: time.Now().UTC()}
	m.sessions[s.ID] = s
	m.order = append(m.order, s.ID)
	return s, nil
}

func (m *MemoryStore) Append(ctx context.Context, sessionID string, event models.Event) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return 0, ErrSessionNotFound
	}

	seq := int64(len(m.events[sessionID])) + 1
	event.SessionID = sessionID
	event.Seq = seq
	m.events[sessionID] = append(m.events[sessionID], event)
	return seq, nil
}

func (m *MemoryStore) ReadEvents(ctx context.Context, sessionID string, fromSeq int64, limit int) ([]models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.events[sessionID]
	var out []models.Event
	for _, e := range all {
		if e.Seq < fromSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Session, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, m.sessions[m.order[i]])
	}
	return out, nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, sessionID)
	delete(m.events, sessionID)
	for i, id := range m.order {
		if id == sessionID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}
