// Package document persists documents and suggestion batches produced by the
// generative tools.
package document

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

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is created by the createDocument tool and edited in place by
// updateDocument. Ownership is fixed at creation.
type Document struct {
	ID        uuid.UUID
	Title     string
	Content   string
	OwnerID   uuid.UUID
	CreatedAt time.Time
}

// Suggestion is one proposed edit, always created in batches tied to a
// single requestSuggestions invocation.
type Suggestion struct {
	ID                uuid.UUID
	DocumentID        uuid.UUID
	DocumentCreatedAt time.Time
	OriginalText      string
	SuggestedText     string
	Description       string
	OwnerID           uuid.UUID
	Resolved          bool
}

// DB is the subset of pgx operations the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists documents and suggestions. Safe for concurrent use.
type Store struct {
	db     DB
	logger *slog.Logger
}

// NewStore creates a document store.
func NewStore(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Create inserts a document.
func (s *Store) Create(ctx context.Context, id uuid.UUID, title, content string, ownerID uuid.UUID) (*Document, error) {
	var d Document
	err := s.db.QueryRow(ctx,
		`INSERT INTO documents (id, title, content, owner_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, title, content, owner_id, created_at`,
		id, title, content, ownerID,
	).Scan(&d.ID, &d.Title, &d.Content, &d.OwnerID, &d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating document %s: %w", id, err)
	}

	s.logger.Debug("created document", "id", d.ID, "title", d.Title)
	return &d, nil
}

// Get retrieves a document by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	var d Document
	err := s.db.QueryRow(ctx,
		`SELECT id, title, content, owner_id, created_at FROM documents WHERE id = $1`,
		id,
	).Scan(&d.ID, &d.Title, &d.Content, &d.OwnerID, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting document %s: %w", id, err)
	}
	return &d, nil
}

// UpdateContent replaces a document's content in place.
func (s *Store) UpdateContent(ctx context.Context, id uuid.UUID, content string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE documents SET content = $2 WHERE id = $1`,
		id, content,
	)
	if err != nil {
		return fmt.Errorf("updating document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSuggestions inserts a suggestion batch. Individual suggestions are
// never mutated afterwards within the generation flow.
func (s *Store) CreateSuggestions(ctx context.Context, suggestions []Suggestion) error {
	for i := range suggestions {
		sg := &suggestions[i]
		if sg.ID == uuid.Nil {
			sg.ID = uuid.New()
		}
		_, err := s.db.Exec(ctx,
			`INSERT INTO suggestions
			   (id, document_id, document_created_at, original_text, suggested_text, description, owner_id, resolved)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			sg.ID, sg.DocumentID, sg.DocumentCreatedAt, sg.OriginalText, sg.SuggestedText, sg.Description, sg.OwnerID, sg.Resolved,
		)
		if err != nil {
			return fmt.Errorf("inserting suggestion %d of %d: %w", i+1, len(suggestions), err)
		}
	}

	s.logger.Debug("created suggestion batch", "count", len(suggestions))
	return nil
}

// SuggestionsByDocument lists a document's suggestions, oldest first.
func (s *Store) SuggestionsByDocument(ctx context.Context, documentID uuid.UUID) ([]Suggestion, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, document_id, document_created_at, original_text, suggested_text, description, owner_id, resolved
		 FROM suggestions
		 WHERE document_id = $1
		 ORDER BY created_at, id`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing suggestions for %s: %w", documentID, err)
	}
	defer rows.Close()

	var out []Suggestion
	for rows.Next() {
		var sg Suggestion
		if err := rows.Scan(&sg.ID, &sg.DocumentID, &sg.DocumentCreatedAt, &sg.OriginalText,
			&sg.SuggestedText, &sg.Description, &sg.OwnerID, &sg.Resolved); err != nil {
			return nil, fmt.Errorf("scanning suggestion: %w", err)
		}
		out = append(out, sg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating suggestions: %w", err)
	}
	return out, nil
}
