// Package handoff escalates a caller to clinic staff: it records the request
// and fans it out to the configured notifiers.
package handoff

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	// registers the "pgx" database/sql driver
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Event is one recorded escalation.
type Event struct {
	ID           string    `json:"event_id"`
	TenantID     string    `json:"tenant_id"`
	Reason       string    `json:"reason"`
	ContactEmail string    `json:"contact_email,omitempty"`
	ContactPhone string    `json:"contact_phone,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// EventStore persists handoff events for later review.
type EventStore interface {
	Record(ctx context.Context, event Event) error
	// List returns the newest events first.
	List(ctx context.Context, tenantID string, limit int) ([]Event, error)
}

// MemoryEventStore keeps events in process memory.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events []Event
}

var _ EventStore = (*MemoryEventStore)(nil)

// NewMemoryEventStore creates an empty store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

// Record implements EventStore.
func (s *MemoryEventStore) Record(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// List implements EventStore.
func (s *MemoryEventStore) List(_ context.Context, tenantID string, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SQLEventStore writes events to the handoff_events table.
type SQLEventStore struct {
	db *sql.DB
}

var _ EventStore = (*SQLEventStore)(nil)

// NewSQLEventStore wraps an open database handle.
func NewSQLEventStore(db *sql.DB) *SQLEventStore {
	if db == nil {
		panic("handoff: sql db required")
	}
	return &SQLEventStore{db: db}
}

// OpenSQLEventStore opens a Postgres connection through the pgx stdlib driver.
func OpenSQLEventStore(dsn string) (*SQLEventStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("handoff: open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &SQLEventStore{db: db}, nil
}

// Close releases the underlying handle.
func (s *SQLEventStore) Close() error {
	return s.db.Close()
}

// Record implements EventStore.
func (s *SQLEventStore) Record(ctx context.Context, event Event) error {
	query := `
		INSERT INTO handoff_events (id, tenant_id, reason, contact_email, contact_phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.TenantID,
		event.Reason,
		nullString(event.ContactEmail),
		nullString(event.ContactPhone),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("handoff: record event: %w", err)
	}
	return nil
}

// List implements EventStore.
func (s *SQLEventStore) List(ctx context.Context, tenantID string, limit int) ([]Event, error) {
	query := `
		SELECT id, tenant_id, reason, contact_email, contact_phone, created_at
		FROM handoff_events
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`
	args := []any{tenantID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("handoff: query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e            Event
			email, phone sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Reason, &email, &phone, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("handoff: scan event: %w", err)
		}
		e.ContactEmail = email.String
		e.ContactPhone = phone.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("handoff: iterate events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
