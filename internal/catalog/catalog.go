// Package catalog provides read-only search over the island's structured
// domain data (events, markets, activities and services). The search tools
// query it with the arguments the model supplies and return stable public
// shapes the model can narrate.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when an activity does not exist.
var ErrNotFound = errors.New("activity not found")

// Event is a dated happening (concert, festival, exhibition).
type Event struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Category    string     `json:"category,omitempty"`
	Location    string     `json:"location,omitempty"`
	Description string     `json:"description,omitempty"`
	StartsAt    time.Time  `json:"startsAt"`
	EndsAt      *time.Time `json:"endsAt,omitempty"`
}

// Market is a recurring market with opening hours.
type Market struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	OpenDays    string `json:"openDays,omitempty"`
	OpensAt     string `json:"opensAt,omitempty"`
	ClosesAt    string `json:"closesAt,omitempty"`
}

// Activity is a bookable activity or service.
type Activity struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"` // "activity" | "service"
	Category    string `json:"category,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	PriceCents  int64  `json:"priceCents,omitempty"`
}

// EventFilter narrows an event search. Zero values mean "no constraint".
type EventFilter struct {
	From     time.Time
	To       time.Time
	Category string
	Location string
}

// ActivityFilter narrows an activity search.
type ActivityFilter struct {
	Kind     string // "activity" | "service" | "" (both)
	Category string
	Location string
}

// resultCap bounds tool query results; the tools have no pagination.
const resultCap = 25

// DB is the subset of pgx operations the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store queries the catalog tables. Safe for concurrent use.
type Store struct {
	db     DB
	logger *slog.Logger
}

// NewStore creates a catalog store.
func NewStore(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// SearchEvents returns events matching the filter, soonest first.
func (s *Store) SearchEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	query := `SELECT id, title, category, location, description, starts_at, ends_at
	          FROM events WHERE TRUE`
	args := []any{}

	if !f.From.IsZero() {
		args = append(args, f.From)
		query += fmt.Sprintf(" AND starts_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += fmt.Sprintf(" AND starts_at <= $%d", len(args))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		query += fmt.Sprintf(" AND category ILIKE $%d", len(args))
	}
	if f.Location != "" {
		args = append(args, "%"+f.Location+"%")
		query += fmt.Sprintf(" AND location ILIKE $%d", len(args))
	}
	query += fmt.Sprintf(" ORDER BY starts_at LIMIT %d", resultCap)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Title, &e.Category, &e.Location, &e.Description, &e.StartsAt, &e.EndsAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return out, nil
}

// SearchMarkets returns markets, optionally filtered by location.
func (s *Store) SearchMarkets(ctx context.Context, location string) ([]Market, error) {
	query := `SELECT id, name, location, description, open_days, opens_at, closes_at FROM markets`
	args := []any{}
	if location != "" {
		args = append(args, "%"+location+"%")
		query += " WHERE location ILIKE $1"
	}
	query += fmt.Sprintf(" ORDER BY name LIMIT %d", resultCap)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching markets: %w", err)
	}
	defer rows.Close()

	var out []Market
	for rows.Next() {
		var m Market
		if err := rows.Scan(&m.ID, &m.Name, &m.Location, &m.Description, &m.OpenDays, &m.OpensAt, &m.ClosesAt); err != nil {
			return nil, fmt.Errorf("scanning market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating markets: %w", err)
	}
	return out, nil
}

// SearchActivities returns activities and services matching the filter.
func (s *Store) SearchActivities(ctx context.Context, f ActivityFilter) ([]Activity, error) {
	query := `SELECT id, name, kind, category, location, description, price_cents
	          FROM activities WHERE TRUE`
	args := []any{}

	if f.Kind != "" {
		args = append(args, f.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		query += fmt.Sprintf(" AND category ILIKE $%d", len(args))
	}
	if f.Location != "" {
		args = append(args, "%"+f.Location+"%")
		query += fmt.Sprintf(" AND location ILIKE $%d", len(args))
	}
	query += fmt.Sprintf(" ORDER BY name LIMIT %d", resultCap)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching activities: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.Name, &a.Kind, &a.Category, &a.Location, &a.Description, &a.PriceCents); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activities: %w", err)
	}
	return out, nil
}

// GetActivity retrieves one activity by id.
func (s *Store) GetActivity(ctx context.Context, id int64) (*Activity, error) {
	var a Activity
	err := s.db.QueryRow(ctx,
		`SELECT id, name, kind, category, location, description, price_cents
		 FROM activities WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.Name, &a.Kind, &a.Category, &a.Location, &a.Description, &a.PriceCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting activity %d: %w", id, err)
	}
	return &a, nil
}
