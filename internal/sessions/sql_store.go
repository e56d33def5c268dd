package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/agentrun/internal/observability"
	"github.com/haasonsaas/agentrun/pkg/models"
)

// SQLStore is the durable Store backed by database/sql, normally driven by
// modernc.org/sqlite (pure Go, no cgo). Callers open the *sql.DB and run a
// Migrator over it before constructing a SQLStore.
type SQLStore struct {
	db     *sql.DB
	tracer *observability.Tracer
}

// NewSQLStore wraps an already-migrated *sql.DB.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// SetTracer attaches a tracer so every query below gets its own db.<op>
// span. Nil (the default from NewSQLStore/Open) leaves tracing off.
func (s *SQLStore) SetTracer(t *observability.Tracer) { s.tracer = t }

func (s *SQLStore) traceQuery(ctx context.Context, op, table string) (context.Context, func()) {
	if s.tracer == nil {
		return ctx, func() {}
	}
	ctx, span := s.tracer.TraceDatabaseQuery(ctx, op, table)
	return ctx, span.End
}

// Open opens a modernc.org/sqlite database at dsn, runs every pending
// migration, and returns a ready SQLStore. Use "file::memory:?cache=shared"
// for an ephemeral in-process database.
func Open(ctx context.Context, dsn string) (*SQLStore, *sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY under concurrent access

	migrator, err := NewMigrator(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("build migrator: %w", err)
	}
	if _, err := migrator.Up(ctx, 0); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	return NewSQLStore(db), db, nil
}

func (s *SQLStore) CreateSession(ctx context.Context) (models.Session, error) {
	ctx, end := s.traceQuery(ctx, "insert", "sessions")
	defer end()
	session := models.Session{ID: uuid.NewString(), CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at) VALUES (?, ?)`,
		session.ID, session.CreatedAt,
	)
	if err != nil {
		return models.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// Append assigns the next seq for sessionID and inserts the event in one
// transaction, so two concurrent appends can never be handed the same seq
// and a failed insert never leaves a gap.
func (s *SQLStore) Append(ctx context.Context, sessionID string, event models.Event) (int64, error) {
	ctx, end := s.traceQuery(ctx, "insert", "events")
	defer end()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return 0, ErrSessionNotFound
	}

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM events WHERE session_id = ?`, sessionID).Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("compute next seq: %w", err)
	}
	seq := maxSeq.Int64 + 1

	event.SessionID = sessionID
	event.Seq = seq
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (session_id, seq, type, created_at, payload) VALUES (?, ?, ?, ?, ?)`,
		sessionID, seq, string(event.Type), event.CreatedAt, payload,
	); err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return seq, nil
}

func (s *SQLStore) ReadEvents(ctx context.Context, sessionID string, fromSeq int64, limit int) ([]models.Event, error) {
	ctx, end := s.traceQuery(ctx, "select", "events")
	defer end()
	query := `SELECT payload FROM events WHERE session_id = ? AND seq >= ? ORDER BY seq ASC`
	args := []any{sessionID, fromSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var e models.Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

func (s *SQLStore) ListSessions(ctx context.Context) ([]models.Session, error) {
	ctx, end := s.traceQuery(ctx, "select", "sessions")
	defer end()
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var sess models.Session
		if err := rows.Scan(&sess.ID, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLStore) DeleteSession(ctx context.Context, sessionID string) error {
	ctx, end := s.traceQuery(ctx, "delete", "sessions")
	defer end()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	return tx.Commit()
}
