package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists slots in appointment_slots. Hold transitions are
// conditional UPDATEs so the row lock serialises concurrent callers.
type PostgresStore struct {
	db   pgQuerier
	opts options
}

var (
	_ Store  = (*PostgresStore)(nil)
	_ Reaper = (*PostgresStore)(nil)
)

// NewPostgresStore creates a store over a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool, opts ...Option) *PostgresStore {
	if pool == nil {
		panic("inventory: pgx pool required")
	}
	return &PostgresStore{db: pool, opts: buildOptions(opts)}
}

func newPostgresStoreWithQuerier(db pgQuerier, opts ...Option) *PostgresStore {
	if db == nil {
		panic("inventory: querier required")
	}
	return &PostgresStore{db: db, opts: buildOptions(opts)}
}

const slotColumns = `slot_id, tenant_id, doctor_name, start_time, end_time, status, hold_id, hold_expires_at`

func scanSlot(row pgx.Row) (Slot, error) {
	var (
		slot    Slot
		status  string
		holdID  *string
		expires *time.Time
	)
	if err := row.Scan(&slot.ID, &slot.TenantID, &slot.DoctorName, &slot.StartTime, &slot.EndTime, &status, &holdID, &expires); err != nil {
		return Slot{}, err
	}
	slot.Status = Status(status)
	if holdID != nil {
		slot.HoldID = *holdID
	}
	slot.HoldExpiresAt = expires
	return slot, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, tenantID string, window Window) ([]Slot, error) {
	now := s.opts.now()
	query := `
		SELECT ` + slotColumns + `
		FROM appointment_slots
		WHERE tenant_id = $1
		  AND start_time >= $2 AND start_time < $3
		  AND (status = 'OPEN' OR (status = 'HELD' AND hold_expires_at <= $4))
		ORDER BY start_time, slot_id
	`
	rows, err := s.db.Query(ctx, query, tenantID, window.Start, window.End, now)
	if err != nil {
		return nil, fmt.Errorf("inventory: list slots: %w", err)
	}
	defer rows.Close()

	var out []Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("inventory: scan slot: %w", err)
		}
		out = append(out, slot.Observed(now))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("inventory: list slots: %w", err)
	}
	return out, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, tenantID, slotID string) (Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM appointment_slots WHERE tenant_id = $1 AND slot_id = $2`
	slot, err := scanSlot(s.db.QueryRow(ctx, query, tenantID, slotID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Slot{}, ErrNotFound
	}
	if err != nil {
		return Slot{}, fmt.Errorf("inventory: get slot: %w", err)
	}
	return slot.Observed(s.opts.now()), nil
}

// TryReserve implements Store.
func (s *PostgresStore) TryReserve(ctx context.Context, tenantID, slotID string) (Slot, error) {
	now := s.opts.now()
	query := `
		UPDATE appointment_slots
		SET status = 'HELD', hold_id = $3, hold_expires_at = $4, updated_at = $5
		WHERE tenant_id = $1 AND slot_id = $2
		  AND (status = 'OPEN' OR (status = 'HELD' AND hold_expires_at <= $5))
		RETURNING ` + slotColumns
	slot, err := scanSlot(s.db.QueryRow(ctx, query, tenantID, slotID, s.opts.newID(), now.Add(s.opts.holdTTL), now))
	if errors.Is(err, pgx.ErrNoRows) {
		return Slot{}, s.missOrConflict(ctx, tenantID, slotID)
	}
	if err != nil {
		return Slot{}, fmt.Errorf("inventory: reserve slot: %w", err)
	}
	return slot, nil
}

// Finalize implements Store.
func (s *PostgresStore) Finalize(ctx context.Context, tenantID, slotID, holdID string) (Slot, error) {
	query := `
		UPDATE appointment_slots
		SET status = 'BOOKED', hold_expires_at = NULL, updated_at = $4
		WHERE tenant_id = $1 AND slot_id = $2 AND status IN ('HELD', 'BOOKED') AND hold_id = $3
		RETURNING ` + slotColumns
	slot, err := scanSlot(s.db.QueryRow(ctx, query, tenantID, slotID, holdID, s.opts.now()))
	if errors.Is(err, pgx.ErrNoRows) {
		return Slot{}, s.missOrConflict(ctx, tenantID, slotID)
	}
	if err != nil {
		return Slot{}, fmt.Errorf("inventory: finalize slot: %w", err)
	}
	return slot, nil
}

// Release implements Store.
func (s *PostgresStore) Release(ctx context.Context, tenantID, slotID, holdID string) (bool, error) {
	query := `
		UPDATE appointment_slots
		SET status = 'OPEN', hold_id = NULL, hold_expires_at = NULL, updated_at = $4
		WHERE tenant_id = $1 AND slot_id = $2 AND status = 'HELD' AND ($3 = '' OR hold_id = $3)
	`
	ct, err := s.db.Exec(ctx, query, tenantID, slotID, holdID, s.opts.now())
	if err != nil {
		return false, fmt.Errorf("inventory: release slot: %w", err)
	}
	if ct.RowsAffected() == 0 {
		if err := s.missOrConflict(ctx, tenantID, slotID); errors.Is(err, ErrNotFound) {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Put implements Store.
func (s *PostgresStore) Put(ctx context.Context, slot Slot) error {
	if err := validateSlot(slot); err != nil {
		return err
	}
	if slot.Status == "" {
		slot.Status = StatusOpen
	}
	query := `
		INSERT INTO appointment_slots (tenant_id, slot_id, doctor_name, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, slot_id) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query, slot.TenantID, slot.ID, slot.DoctorName, slot.StartTime.UTC(), slot.EndTime.UTC(), string(slot.Status)); err != nil {
		return fmt.Errorf("inventory: put slot: %w", err)
	}
	return nil
}

// ReleaseExpired implements Reaper.
func (s *PostgresStore) ReleaseExpired(ctx context.Context) (int, error) {
	now := s.opts.now()
	query := `
		UPDATE appointment_slots
		SET status = 'OPEN', hold_id = NULL, hold_expires_at = NULL, updated_at = $1
		WHERE status = 'HELD' AND hold_expires_at <= $1
	`
	ct, err := s.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("inventory: release expired: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

func (s *PostgresStore) missOrConflict(ctx context.Context, tenantID, slotID string) error {
	var exists int
	err := s.db.QueryRow(ctx, `SELECT 1 FROM appointment_slots WHERE tenant_id = $1 AND slot_id = $2`, tenantID, slotID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("inventory: check slot: %w", err)
	}
	return ErrConflict
}
