// Package inventory owns appointment slots and the OPEN -> HELD -> BOOKED
// state machine. Every backend performs the hold transition as a single
// compare-and-set in its storage layer.
package inventory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means the slot id does not exist for the tenant.
	ErrNotFound = errors.New("inventory: slot not found")
	// ErrConflict means the slot is not in a state that allows the transition.
	ErrConflict = errors.New("inventory: slot state conflict")
	// ErrUnavailable means the backing store could not answer in time.
	ErrUnavailable = errors.New("inventory: store unavailable")
	// ErrInvalidSlot rejects malformed slots on Put.
	ErrInvalidSlot = errors.New("inventory: invalid slot")
)

// Status is the lifecycle state of a slot.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusHeld   Status = "HELD"
	StatusBooked Status = "BOOKED"
)

// Slot is one bookable appointment window for a single doctor.
type Slot struct {
	ID            string     `json:"slot_id"`
	TenantID      string     `json:"tenant_id"`
	DoctorName    string     `json:"doctor_name"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	Status        Status     `json:"status"`
	HoldID        string     `json:"-"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
}

// Observed applies hold expiry: a HELD slot whose hold lapsed reads as OPEN.
func (s Slot) Observed(now time.Time) Slot {
	if s.Status == StatusHeld && s.HoldExpiresAt != nil && !now.Before(*s.HoldExpiresAt) {
		s.Status = StatusOpen
		s.HoldID = ""
		s.HoldExpiresAt = nil
	}
	return s
}

// Reservable reports whether TryReserve would succeed at now.
func (s Slot) Reservable(now time.Time) bool {
	return s.Observed(now).Status == StatusOpen
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls within the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Empty reports whether the window covers no time at all.
func (w Window) Empty() bool {
	return !w.End.After(w.Start)
}

// Store is the slot inventory contract shared by all backends.
type Store interface {
	// List returns OPEN slots (expired holds included) starting inside the
	// window, ordered by start time then slot id.
	List(ctx context.Context, tenantID string, window Window) ([]Slot, error)
	// Get returns a single slot with hold expiry applied.
	Get(ctx context.Context, tenantID, slotID string) (Slot, error)
	// TryReserve moves an OPEN slot to HELD and returns it with a fresh HoldID.
	TryReserve(ctx context.Context, tenantID, slotID string) (Slot, error)
	// Finalize moves a slot held under holdID to BOOKED. The hold id stays on
	// the booked slot, so finalizing again under the same hold succeeds.
	Finalize(ctx context.Context, tenantID, slotID, holdID string) (Slot, error)
	// Release returns a slot held under holdID to OPEN and reports whether it
	// did. It never touches a BOOKED slot and is a no-op when the hold is
	// already gone. An empty holdID releases whatever hold is present.
	Release(ctx context.Context, tenantID, slotID, holdID string) (bool, error)
	// Put adds a slot if it does not exist yet; existing slots are untouched.
	Put(ctx context.Context, slot Slot) error
}

// Reaper is implemented by stores that can sweep expired holds eagerly.
type Reaper interface {
	ReleaseExpired(ctx context.Context) (int, error)
}

// Option configures a store.
type Option func(*options)

type options struct {
	holdTTL time.Duration
	now     func() time.Time
	newID   func() string
}

// DefaultHoldTTL is how long a hold survives without being finalized.
const DefaultHoldTTL = 30 * time.Second

// WithHoldTTL overrides the hold expiry duration.
func WithHoldTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.holdTTL = ttl
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		holdTTL: DefaultHoldTTL,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func sortSlots(slots []Slot) {
	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].StartTime.Equal(slots[j].StartTime) {
			return slots[i].StartTime.Before(slots[j].StartTime)
		}
		return slots[i].ID < slots[j].ID
	})
}
