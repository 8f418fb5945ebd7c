package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// DB is the subset of pgx operations the store needs.
// Both *pgxpool.Pool and pgx.Tx satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists conversations and turns.
// Store performs no authorization itself; ownership checks belong to the
// turn controller before any mutation.
//
// Safe for concurrent use.
type Store struct {
	db     DB
	logger *slog.Logger
}

// NewStore creates a conversation store.
func NewStore(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Create inserts a conversation row. A duplicate id surfaces as the
// database's unique violation; callers decide whether that is benign.
func (s *Store) Create(ctx context.Context, id, ownerID uuid.UUID, title string) (*Conversation, error) {
	var c Conversation
	err := s.db.QueryRow(ctx,
		`INSERT INTO conversations (id, owner_id, title)
		 VALUES ($1, $2, $3)
		 RETURNING id, owner_id, title, created_at`,
		id, ownerID, title,
	).Scan(&c.ID, &c.OwnerID, &c.Title, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating conversation %s: %w", id, err)
	}

	s.logger.Debug("created conversation", "id", c.ID, "owner", c.OwnerID)
	return &c, nil
}

// Get retrieves a conversation by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	var c Conversation
	err := s.db.QueryRow(ctx,
		`SELECT id, owner_id, title, created_at FROM conversations WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.OwnerID, &c.Title, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation %s: %w", id, err)
	}
	return &c, nil
}

// ListByOwner returns the owner's conversations, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Conversation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, owner_id, title, created_at
		 FROM conversations
		 WHERE owner_id = $1
		 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Title, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return out, nil
}

// Delete removes a conversation and its turns (cascade).
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// AppendTurn encodes and inserts one turn with a fresh id.
func (s *Store) AppendTurn(ctx context.Context, t *Turn) error {
	content, err := Encode(t)
	if err != nil {
		return err
	}

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO turns (id, conversation_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.ConversationID, string(t.Role), content, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending %s turn to %s: %w", t.Role, t.ConversationID, err)
	}

	s.logger.Debug("appended turn", "conversation_id", t.ConversationID, "role", t.Role)
	return nil
}

// AppendTurns inserts turns in order. Timestamps are spaced by insertion
// order so that Turns() returns them in the order they were produced.
func (s *Store) AppendTurns(ctx context.Context, conversationID uuid.UUID, turns []Turn) error {
	base := time.Now().UTC()
	for i := range turns {
		turns[i].ConversationID = conversationID
		turns[i].ID = uuid.New()
		turns[i].CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		if err := s.AppendTurn(ctx, &turns[i]); err != nil {
			return err
		}
	}
	return nil
}

// Turns returns the decoded turn history, oldest first.
func (s *Store) Turns(ctx context.Context, conversationID uuid.UUID) ([]Turn, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM turns
		 WHERE conversation_id = $1
		 ORDER BY created_at, id`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading turns for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var (
			id, convID uuid.UUID
			role       string
			content    string
			createdAt  time.Time
		)
		if err := rows.Scan(&id, &convID, &role, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t := Decode(Role(role), content)
		t.ID = id
		t.ConversationID = convID
		t.CreatedAt = createdAt
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}
	return out, nil
}
