// Package tenant holds the clinic directory: who the tenants are, which phone
// numbers reach them and which zone their calendars live in.
package tenant

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrTenantNotFound is returned when an identifier matches no configured tenant.
var ErrTenantNotFound = errors.New("tenant: not found")

// Doctor is a bookable provider at a clinic.
type Doctor struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	Specialty string `yaml:"specialty" json:"specialty"`
}

// Contact is the clinic's public contact information.
type Contact struct {
	Phone   string `yaml:"phone" json:"phone"`
	Email   string `yaml:"email" json:"email"`
	Address string `yaml:"address" json:"address"`
}

// OpenHours is the daily window used when generating demo inventory.
// Open and Close are "15:04" strings in the tenant's zone.
type OpenHours struct {
	Open  string   `yaml:"open" json:"open"`
	Close string   `yaml:"close" json:"close"`
	Days  []string `yaml:"days,omitempty" json:"days,omitempty"`
}

// Tenant is one clinic. Values are immutable once loaded into a Snapshot.
type Tenant struct {
	ID              string    `yaml:"tenant_id,omitempty" json:"tenant_id"`
	DID             string    `yaml:"did" json:"did"`
	Name            string    `yaml:"name" json:"name"`
	DisplayName     string    `yaml:"display_name" json:"display_name"`
	Greeting        string    `yaml:"greeting" json:"greeting,omitempty"`
	VoiceID         string    `yaml:"polly_voice_id" json:"polly_voice_id,omitempty"`
	VoiceEngine     string    `yaml:"polly_engine" json:"polly_engine,omitempty"`
	BusinessHours   string    `yaml:"business_hours" json:"business_hours,omitempty"`
	Hours           OpenHours `yaml:"hours" json:"hours"`
	TimeZone        string    `yaml:"timezone" json:"time_zone"`
	InventorySource string    `yaml:"inventory_source" json:"inventory_source_ref,omitempty"`
	HandoffContact  string    `yaml:"handoff_contact" json:"handoff_contact,omitempty"`
	Specialties     []string  `yaml:"specialties" json:"specialties,omitempty"`
	Doctors         []Doctor  `yaml:"doctors" json:"doctors,omitempty"`
	Contact         Contact   `yaml:"contact" json:"contact"`

	loc *time.Location
}

// Location returns the tenant's zone. Tenants that were never validated fall
// back to UTC.
func (t Tenant) Location() *time.Location {
	if t.loc != nil {
		return t.loc
	}
	if loc, err := time.LoadLocation(t.TimeZone); err == nil && t.TimeZone != "" {
		return loc
	}
	return time.UTC
}

// Label is the name callers hear.
func (t Tenant) Label() string {
	switch {
	case strings.TrimSpace(t.DisplayName) != "":
		return t.DisplayName
	case strings.TrimSpace(t.Name) != "":
		return t.Name
	default:
		return t.ID
	}
}

// HandoffEmail is where escalations are mailed: the explicit handoff contact
// when it looks like an address, otherwise the clinic's contact email.
func (t Tenant) HandoffEmail() string {
	if strings.Contains(t.HandoffContact, "@") {
		return strings.TrimSpace(t.HandoffContact)
	}
	return strings.TrimSpace(t.Contact.Email)
}

// HandoffPhone is the number staff can be reached on during a transfer.
func (t Tenant) HandoffPhone() string {
	if c := strings.TrimSpace(t.HandoffContact); c != "" && !strings.Contains(c, "@") {
		return c
	}
	return strings.TrimSpace(t.Contact.Phone)
}

// DailyWindow returns the open and close clock times, defaulting to 09:00-17:00.
func (t Tenant) DailyWindow() (opens, closes time.Duration) {
	opens, err := clock(t.Hours.Open)
	if err != nil {
		opens = 9 * time.Hour
	}
	closes, err = clock(t.Hours.Close)
	if err != nil || closes <= opens {
		closes = 17 * time.Hour
	}
	return opens, closes
}

// OpenOn reports whether the tenant takes appointments on the given weekday.
// An empty day list means Monday through Friday.
func (t Tenant) OpenOn(day time.Weekday) bool {
	if len(t.Hours.Days) == 0 {
		return day != time.Saturday && day != time.Sunday
	}
	for _, d := range t.Hours.Days {
		if strings.EqualFold(strings.TrimSpace(d), day.String()) || strings.EqualFold(strings.TrimSpace(d), day.String()[:3]) {
			return true
		}
	}
	return false
}

func clock(value string) (time.Duration, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	return time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute, nil
}

// validate checks the tenant and caches its location.
func (t *Tenant) validate() error {
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		return errors.New("tenant: tenant_id is required")
	}
	tz := strings.TrimSpace(t.TimeZone)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("tenant: %s: invalid timezone %q: %w", t.ID, t.TimeZone, err)
	}
	t.TimeZone = tz
	t.loc = loc
	t.DID = NormalizeDID(t.DID)
	return nil
}

// NormalizeDID strips formatting from a dialed number so "+1 (555) 010-2000"
// and "+15550102000" compare equal.
func NormalizeDID(did string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(did) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
