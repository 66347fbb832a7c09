package inventory

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type cell struct {
	mu   sync.Mutex
	slot Slot
}

// MemoryStore keeps slots in process. Each slot has its own lock so
// contention on one slot never blocks the rest of a tenant's calendar.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]map[string]*cell
	opts    options
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Reaper = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory inventory.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		tenants: make(map[string]map[string]*cell),
		opts:    buildOptions(opts),
	}
}

func (s *MemoryStore) lookup(tenantID, slotID string) *cell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tenants[tenantID][slotID]
}

func (s *MemoryStore) cells(tenantID string) []*cell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slots := s.tenants[tenantID]
	out := make([]*cell, 0, len(slots))
	for _, c := range slots {
		out = append(out, c)
	}
	return out
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, tenantID string, window Window) ([]Slot, error) {
	now := s.opts.now()
	var out []Slot
	for _, c := range s.cells(tenantID) {
		c.mu.Lock()
		slot := c.slot.Observed(now)
		c.mu.Unlock()
		if slot.Status == StatusOpen && window.Contains(slot.StartTime) {
			out = append(out, slot)
		}
	}
	sortSlots(out)
	return out, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, tenantID, slotID string) (Slot, error) {
	c := s.lookup(tenantID, slotID)
	if c == nil {
		return Slot{}, ErrNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot.Observed(s.opts.now()), nil
}

// TryReserve implements Store.
func (s *MemoryStore) TryReserve(_ context.Context, tenantID, slotID string) (Slot, error) {
	c := s.lookup(tenantID, slotID)
	if c == nil {
		return Slot{}, ErrNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := s.opts.now()
	if !c.slot.Reservable(now) {
		return Slot{}, ErrConflict
	}
	expires := now.Add(s.opts.holdTTL)
	c.slot.Status = StatusHeld
	c.slot.HoldID = s.opts.newID()
	c.slot.HoldExpiresAt = &expires
	return c.slot, nil
}

// Finalize implements Store.
func (s *MemoryStore) Finalize(_ context.Context, tenantID, slotID, holdID string) (Slot, error) {
	c := s.lookup(tenantID, slotID)
	if c == nil {
		return Slot{}, ErrNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if holdID == "" || c.slot.HoldID != holdID {
		return Slot{}, ErrConflict
	}
	switch c.slot.Status {
	case StatusBooked:
		return c.slot, nil
	case StatusHeld:
		c.slot.Status = StatusBooked
		c.slot.HoldExpiresAt = nil
		return c.slot, nil
	default:
		return Slot{}, ErrConflict
	}
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, tenantID, slotID, holdID string) (bool, error) {
	c := s.lookup(tenantID, slotID)
	if c == nil {
		return false, ErrNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.slot.Status != StatusHeld || (holdID != "" && c.slot.HoldID != holdID) {
		return false, nil
	}
	c.slot.Status = StatusOpen
	c.slot.HoldID = ""
	c.slot.HoldExpiresAt = nil
	return true, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, slot Slot) error {
	if err := validateSlot(slot); err != nil {
		return err
	}
	if slot.Status == "" {
		slot.Status = StatusOpen
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	slots, ok := s.tenants[slot.TenantID]
	if !ok {
		slots = make(map[string]*cell)
		s.tenants[slot.TenantID] = slots
	}
	if _, exists := slots[slot.ID]; !exists {
		slots[slot.ID] = &cell{slot: slot}
	}
	return nil
}

// ReleaseExpired implements Reaper.
func (s *MemoryStore) ReleaseExpired(_ context.Context) (int, error) {
	s.mu.RLock()
	var all []*cell
	for _, slots := range s.tenants {
		for _, c := range slots {
			all = append(all, c)
		}
	}
	s.mu.RUnlock()

	now := s.opts.now()
	released := 0
	for _, c := range all {
		c.mu.Lock()
		if c.slot.Status == StatusHeld && c.slot.Reservable(now) {
			c.slot = c.slot.Observed(now)
			released++
		}
		c.mu.Unlock()
	}
	return released, nil
}

func validateSlot(slot Slot) error {
	switch {
	case strings.TrimSpace(slot.TenantID) == "":
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidSlot)
	case strings.TrimSpace(slot.ID) == "":
		return fmt.Errorf("%w: slot_id is required", ErrInvalidSlot)
	case slot.StartTime.IsZero() || !slot.EndTime.After(slot.StartTime):
		return fmt.Errorf("%w: slot %s has an invalid time range", ErrInvalidSlot, slot.ID)
	}
	switch slot.Status {
	case "", StatusOpen, StatusHeld, StatusBooked:
		return nil
	default:
		return fmt.Errorf("%w: slot %s has unknown status %q", ErrInvalidSlot, slot.ID, slot.Status)
	}
}
