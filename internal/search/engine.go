// Package search answers "what can I book" questions against a tenant's
// slot inventory.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/appointment-orchestrator/internal/inventory"
	"github.com/wolfman30/appointment-orchestrator/internal/tenant"
	"github.com/wolfman30/appointment-orchestrator/pkg/logging"
)

// DefaultLimit is how many slots a search returns.
const DefaultLimit = 3

const noSlotsMessage = "No available slots found for the requested time. Please try a different date or time."

// Result is the outcome of one search.
type Result struct {
	Slots      []inventory.Slot
	Date       time.Time
	Preference TimePreference
	Message    string
}

// Engine resolves date expressions in the tenant's zone and lists OPEN slots.
type Engine struct {
	store  inventory.Store
	limit  int
	now    func() time.Time
	logger *logging.Logger
}

// NewEngine creates a search engine. A non-positive limit means DefaultLimit.
func NewEngine(store inventory.Store, limit int, logger *logging.Logger) *Engine {
	if store == nil {
		panic("search: inventory store cannot be nil")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		store:  store,
		limit:  limit,
		now:    time.Now,
		logger: logger,
	}
}

// Search returns up to the configured number of OPEN slots for the tenant on
// the day named by dateExpr, inside the preferred part of the day, earliest
// first. Slots that already started are never returned.
func (e *Engine) Search(ctx context.Context, t tenant.Tenant, dateExpr, timePref string) (Result, error) {
	pref, err := ParsePreference(timePref)
	if err != nil {
		return Result{}, err
	}
	now := e.now()
	loc := t.Location()
	day, err := ResolveDate(dateExpr, now, loc)
	if err != nil {
		return Result{}, err
	}

	window := DayWindow(day, pref)
	if window.Start.Before(now) {
		window.Start = now
	}
	result := Result{Date: day, Preference: pref}
	if window.Empty() {
		result.Message = noSlotsMessage
		return result, nil
	}

	slots, err := e.store.List(ctx, t.ID, window)
	if err != nil {
		return Result{}, fmt.Errorf("search: list slots: %w", err)
	}
	if len(slots) > e.limit {
		slots = slots[:e.limit]
	}
	result.Slots = slots
	result.Message = summarize(slots, loc)

	e.logger.Debug("slot search",
		"tenant_id", t.ID,
		"date", day.Format("2006-01-02"),
		"time_preference", string(pref),
		"results", len(slots),
	)
	return result, nil
}

// summarize renders the templated line read back to callers.
func summarize(slots []inventory.Slot, loc *time.Location) string {
	if len(slots) == 0 {
		return noSlotsMessage
	}
	times := make([]string, 0, len(slots))
	for _, s := range slots {
		times = append(times, s.StartTime.In(loc).Format("3:04 PM"))
	}
	noun := "slots"
	if len(slots) == 1 {
		noun = "slot"
	}
	return fmt.Sprintf("Found %d available %s: %s", len(slots), noun, strings.Join(times, ", "))
}
