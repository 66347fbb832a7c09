package bookings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type bookingQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores bookings in appointment_bookings.
type PostgresRepository struct {
	db bookingQuerier
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repository over a pgx pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithQuerier(db bookingQuerier) *PostgresRepository {
	if db == nil {
		panic("bookings: querier required")
	}
	return &PostgresRepository{db: db}
}

// Get implements Repository.
func (r *PostgresRepository) Get(ctx context.Context, tenantID, ref string) (Booking, error) {
	query := `
		SELECT confirmation_ref, tenant_id, slot_id, patient_name, patient_email, created_at
		FROM appointment_bookings
		WHERE tenant_id = $1 AND confirmation_ref = $2
	`
	var b Booking
	err := r.db.QueryRow(ctx, query, tenantID, ref).Scan(
		&b.ConfirmationRef, &b.TenantID, &b.SlotID, &b.PatientName, &b.PatientEmail, &b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Booking{}, ErrNotFound
		}
		return Booking{}, fmt.Errorf("bookings: get booking: %w", err)
	}
	return b, nil
}

// Create implements Repository.
func (r *PostgresRepository) Create(ctx context.Context, booking Booking) error {
	query := `
		INSERT INTO appointment_bookings (confirmation_ref, tenant_id, slot_id, patient_name, patient_email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, confirmation_ref) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		booking.ConfirmationRef, booking.TenantID, booking.SlotID,
		booking.PatientName, booking.PatientEmail, booking.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("bookings: insert booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

// Replace implements Repository.
func (r *PostgresRepository) Replace(ctx context.Context, stale, fresh Booking) error {
	query := `
		INSERT INTO appointment_bookings (confirmation_ref, tenant_id, slot_id, patient_name, patient_email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, confirmation_ref) DO UPDATE
		SET slot_id = EXCLUDED.slot_id,
		    patient_name = EXCLUDED.patient_name,
		    patient_email = EXCLUDED.patient_email,
		    created_at = EXCLUDED.created_at
		WHERE appointment_bookings.patient_name = $7 AND appointment_bookings.patient_email = $8
	`
	tag, err := r.db.Exec(ctx, query,
		fresh.ConfirmationRef, fresh.TenantID, fresh.SlotID,
		fresh.PatientName, fresh.PatientEmail, fresh.CreatedAt,
		stale.PatientName, stale.PatientEmail,
	)
	if err != nil {
		return fmt.Errorf("bookings: replace booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

// Delete implements Repository.
func (r *PostgresRepository) Delete(ctx context.Context, booking Booking) error {
	query := `
		DELETE FROM appointment_bookings
		WHERE tenant_id = $1 AND confirmation_ref = $2 AND patient_name = $3 AND patient_email = $4
	`
	_, err := r.db.Exec(ctx, query, booking.TenantID, booking.ConfirmationRef, booking.PatientName, booking.PatientEmail)
	if err != nil {
		return fmt.Errorf("bookings: delete booking: %w", err)
	}
	return nil
}
