package tenant

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wolfman30/appointment-orchestrator/pkg/logging"
)

// Directory serves tenant lookups from the current Snapshot and swaps in a
// new one on reload. Readers never block on a reload.
type Directory struct {
	source  Source
	logger  *logging.Logger
	current atomic.Pointer[Snapshot]
}

// NewDirectory creates a directory backed by source. Call Reload before use.
func NewDirectory(source Source, logger *logging.Logger) *Directory {
	if source == nil {
		panic("tenant: source cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Directory{source: source, logger: logger}
}

// NewStaticDirectory builds a loaded directory over a fixed tenant list.
func NewStaticDirectory(tenants ...Tenant) (*Directory, error) {
	d := NewDirectory(StaticSource(tenants), logging.Discard())
	if err := d.Reload(context.Background()); err != nil {
		return nil, err
	}
	return d, nil
}

// Resolve looks up a tenant by id or dialed number.
func (d *Directory) Resolve(identifier string) (Tenant, error) {
	return d.current.Load().Resolve(identifier)
}

// Snapshot returns the snapshot currently being served.
func (d *Directory) Snapshot() *Snapshot {
	return d.current.Load()
}

// Source exposes the backing source so admin handlers can write through it.
func (d *Directory) Source() Source {
	return d.source
}

// Reload fetches the tenant set and swaps it in. On failure the previous
// snapshot keeps serving.
func (d *Directory) Reload(ctx context.Context) error {
	tenants, err := d.source.Load(ctx)
	if err != nil {
		d.logger.Error("tenant reload failed", "error", err)
		return fmt.Errorf("tenant: reload: %w", err)
	}
	snap, err := NewSnapshot(tenants)
	if err != nil {
		d.logger.Error("tenant snapshot rejected", "error", err)
		return fmt.Errorf("tenant: reload: %w", err)
	}
	prev := d.current.Swap(snap)
	d.logger.Info("tenant directory loaded", "tenants", snap.Len(), "previous", prev.Len())
	return nil
}

// Run reloads on every tick until ctx is cancelled.
func (d *Directory) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = d.Reload(ctx)
		}
	}
}
