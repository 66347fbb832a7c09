package tenant

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Snapshot is an immutable view of every tenant, indexed by id and by DID.
type Snapshot struct {
	byID     map[string]Tenant
	byDID    map[string]string
	ids      []string
	loadedAt time.Time
}

// NewSnapshot validates tenants and builds the lookup indexes.
func NewSnapshot(tenants []Tenant) (*Snapshot, error) {
	snap := &Snapshot{
		byID:     make(map[string]Tenant, len(tenants)),
		byDID:    make(map[string]string, len(tenants)),
		loadedAt: time.Now().UTC(),
	}
	for _, t := range tenants {
		if err := t.validate(); err != nil {
			return nil, err
		}
		if _, dup := snap.byID[t.ID]; dup {
			return nil, fmt.Errorf("tenant: duplicate tenant_id %q", t.ID)
		}
		if t.DID != "" {
			if other, dup := snap.byDID[t.DID]; dup {
				return nil, fmt.Errorf("tenant: did %s assigned to both %s and %s", t.DID, other, t.ID)
			}
			snap.byDID[t.DID] = t.ID
		}
		snap.byID[t.ID] = t
		snap.ids = append(snap.ids, t.ID)
	}
	sort.Strings(snap.ids)
	return snap, nil
}

// Resolve finds a tenant by id or, failing that, by DID.
func (s *Snapshot) Resolve(identifier string) (Tenant, error) {
	if s == nil {
		return Tenant{}, ErrTenantNotFound
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Tenant{}, ErrTenantNotFound
	}
	if t, ok := s.byID[identifier]; ok {
		return t, nil
	}
	if !looksLikePhone(identifier) {
		return Tenant{}, ErrTenantNotFound
	}
	if id, ok := s.byDID[NormalizeDID(identifier)]; ok {
		return s.byID[id], nil
	}
	return Tenant{}, ErrTenantNotFound
}

// looksLikePhone reports whether identifier is a dialed number, allowing the
// usual formatting characters. Slugs such as "clinic-15550102000" are not.
func looksLikePhone(identifier string) bool {
	digits := 0
	for _, r := range identifier {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case strings.ContainsRune("+ -().", r):
		default:
			return false
		}
	}
	return digits > 0
}

// All returns every tenant ordered by id.
func (s *Snapshot) All() []Tenant {
	if s == nil {
		return nil
	}
	out := make([]Tenant, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.byID[id])
	}
	return out
}

// Len is the number of tenants in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// LoadedAt is when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}
