package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/appointment-orchestrator/internal/tenant"
)

// DefaultSlotLength is the duration of generated demo appointments.
const DefaultSlotLength = 30 * time.Minute

// DemoSlots generates OPEN slots for every doctor of t, covering the tenant's
// daily hours on each open day from the local date of from for the given
// number of days. Slot ids look like clinic_a-dr-sharma-20241225-0900.
func DemoSlots(t tenant.Tenant, from time.Time, days int, length time.Duration) []Slot {
	if length <= 0 {
		length = DefaultSlotLength
	}
	loc := t.Location()
	opens, closes := t.DailyWindow()
	doctors := t.Doctors
	if len(doctors) == 0 {
		doctors = []tenant.Doctor{{ID: "staff", Name: "Clinic staff"}}
	}

	local := from.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	var out []Slot
	for i := 0; i < days; i++ {
		date := day.AddDate(0, 0, i)
		if !t.OpenOn(date.Weekday()) {
			continue
		}
		for _, doc := range doctors {
			for offset := opens; offset+length <= closes; offset += length {
				start := time.Date(date.Year(), date.Month(), date.Day(), int(offset/time.Hour), int(offset%time.Hour/time.Minute), 0, 0, loc)
				out = append(out, Slot{
					ID:         fmt.Sprintf("%s-%s-%s", t.ID, doc.ID, start.Format("20060102-1504")),
					TenantID:   t.ID,
					DoctorName: doc.Name,
					StartTime:  start.UTC(),
					EndTime:    start.Add(length).UTC(),
					Status:     StatusOpen,
				})
			}
		}
	}
	return out
}

// Seed puts every slot into store, skipping ones that already exist.
func Seed(ctx context.Context, store Store, slots []Slot) (int, error) {
	for i, slot := range slots {
		if err := store.Put(ctx, slot); err != nil {
			return i, fmt.Errorf("inventory: seed %s: %w", slot.ID, err)
		}
	}
	return len(slots), nil
}
