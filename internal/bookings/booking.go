// Package bookings turns a held slot into a confirmed appointment. The
// confirmation reference is derived from (tenant, slot) so retries of the
// same confirm can never mint a second booking.
package bookings

import (
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

var (
	// ErrInvalidInput rejects malformed patient details.
	ErrInvalidInput = errors.New("bookings: invalid input")
	// ErrSlotUnavailable means someone else holds or booked the slot.
	ErrSlotUnavailable = errors.New("bookings: slot unavailable")
	// ErrUnknownSlot means the slot id does not exist for the tenant.
	ErrUnknownSlot = errors.New("bookings: unknown slot")
	// ErrBookingFailed is a persistence failure after validation passed.
	ErrBookingFailed = errors.New("bookings: booking failed")
	// ErrNotFound is returned by repositories for a missing reference.
	ErrNotFound = errors.New("bookings: booking not found")
	// ErrDuplicate is returned by Create when the reference already exists.
	ErrDuplicate = errors.New("bookings: booking already exists")
)

// Booking is the durable record of a confirmed appointment.
type Booking struct {
	ConfirmationRef string    `json:"confirmation_ref"`
	TenantID        string    `json:"tenant_id"`
	SlotID          string    `json:"slot_id"`
	PatientName     string    `json:"patient_name"`
	PatientEmail    string    `json:"patient_email"`
	CreatedAt       time.Time `json:"created_at"`
}

// samePatient compares identity loosely: email case and name spacing do not
// make a retry look like a different caller.
func (b Booking) samePatient(name, email string) bool {
	return strings.EqualFold(strings.TrimSpace(b.PatientEmail), strings.TrimSpace(email)) &&
		strings.EqualFold(collapseSpaces(b.PatientName), collapseSpaces(name))
}

// sameOwner reports whether b and other carry the exact same patient. It
// guards conditional deletes and replacements of a stored record.
func (b Booking) sameOwner(other Booking) bool {
	return b.PatientName == other.PatientName && b.PatientEmail == other.PatientEmail
}

const (
	refTailLen     = 10
	refPrefixLen   = 4
	defaultRefHead = "APPT"
	maxNameLen     = 200
)

var refEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ConfirmationRef derives the caller-facing reference for a booking of slotID
// at tenantID, e.g. "CLIN-7GQ3M2XK4A".
func ConfirmationRef(tenantID, slotID string) string {
	sum := sha256.Sum256([]byte(tenantID + "\x00" + slotID))
	return refPrefix(tenantID) + "-" + refEncoding.EncodeToString(sum[:])[:refTailLen]
}

func refPrefix(tenantID string) string {
	var b strings.Builder
	for _, r := range tenantID {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		if b.Len() == refPrefixLen {
			break
		}
	}
	if b.Len() == 0 {
		return defaultRefHead
	}
	return b.String()
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func validatePatient(name, email string) (string, string, error) {
	name = collapseSpaces(name)
	email = strings.TrimSpace(email)
	switch {
	case name == "":
		return "", "", errorf("patient name is required")
	case len(name) > maxNameLen:
		return "", "", errorf("patient name is too long")
	case email == "":
		return "", "", errorf("patient email is required")
	case !emailPattern.MatchString(email):
		return "", "", errorf("patient email %q is not a valid address", email)
	}
	return name, email, nil
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
