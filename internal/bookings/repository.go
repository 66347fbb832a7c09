package bookings

import (
	"context"
	"sync"
)

// Repository persists bookings keyed by (tenant, confirmation ref).
type Repository interface {
	Get(ctx context.Context, tenantID, ref string) (Booking, error)
	// Create inserts the booking or returns ErrDuplicate if the ref exists.
	Create(ctx context.Context, booking Booking) error
	// Replace overwrites stale, a record left behind by a confirm that never
	// finalized, with fresh. It returns ErrDuplicate when the stored record no
	// longer belongs to stale's patient. A missing record is simply created.
	Replace(ctx context.Context, stale, fresh Booking) error
	// Delete removes a booking whose slot could not be finalized. It only
	// removes the record while it still belongs to booking's patient.
	Delete(ctx context.Context, booking Booking) error
}

// MemoryRepository keeps bookings in process memory.
type MemoryRepository struct {
	mu       sync.RWMutex
	bookings map[string]Booking
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{bookings: make(map[string]Booking)}
}

func memoryKey(tenantID, ref string) string {
	return tenantID + "\x00" + ref
}

// Get implements Repository.
func (r *MemoryRepository) Get(_ context.Context, tenantID, ref string) (Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bookings[memoryKey(tenantID, ref)]
	if !ok {
		return Booking{}, ErrNotFound
	}
	return b, nil
}

// Create implements Repository.
func (r *MemoryRepository) Create(_ context.Context, booking Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memoryKey(booking.TenantID, booking.ConfirmationRef)
	if _, exists := r.bookings[key]; exists {
		return ErrDuplicate
	}
	r.bookings[key] = booking
	return nil
}

// Replace implements Repository.
func (r *MemoryRepository) Replace(_ context.Context, stale, fresh Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memoryKey(fresh.TenantID, fresh.ConfirmationRef)
	if cur, ok := r.bookings[key]; ok && !cur.sameOwner(stale) {
		return ErrDuplicate
	}
	r.bookings[key] = fresh
	return nil
}

// Delete implements Repository.
func (r *MemoryRepository) Delete(_ context.Context, booking Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := memoryKey(booking.TenantID, booking.ConfirmationRef)
	if cur, ok := r.bookings[key]; ok && cur.sameOwner(booking) {
		delete(r.bookings, key)
	}
	return nil
}

// Len reports how many bookings are stored.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bookings)
}
