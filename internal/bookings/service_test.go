package bookings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appointment-orchestrator/internal/inventory"
	"github.com/wolfman30/appointment-orchestrator/internal/notify"
	"github.com/wolfman30/appointment-orchestrator/internal/tenant"
	"github.com/wolfman30/appointment-orchestrator/pkg/logging"
)

var clinicA = tenant.Tenant{ID: "clinic_a", DisplayName: "Lakeside Family Clinic", TimeZone: "America/Chicago"}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notify.BookingNotice
	err     error
}

func (r *recordingNotifier) NotifyBookingConfirmed(_ context.Context, n notify.BookingNotice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notices)
}

type failingFinalize struct {
	inventory.Store
}

func (failingFinalize) Finalize(context.Context, string, string, string) (inventory.Slot, error) {
	return inventory.Slot{}, inventory.ErrUnavailable
}

// lostAckFinalize commits every finalize but reports a transport error for the
// first lost calls.
type lostAckFinalize struct {
	inventory.Store
	mu    sync.Mutex
	lost  int
	calls int
}

func (l *lostAckFinalize) Finalize(ctx context.Context, tenantID, slotID, holdID string) (inventory.Slot, error) {
	slot, err := l.Store.Finalize(ctx, tenantID, slotID, holdID)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if err == nil && l.calls <= l.lost {
		return inventory.Slot{}, errors.New("read tcp: connection reset by peer")
	}
	return slot, err
}

type failingCreate struct {
	*MemoryRepository
}

func (failingCreate) Create(context.Context, Booking) error {
	return errors.New("disk full")
}

func newFixture(t *testing.T) (*inventory.MemoryStore, *MemoryRepository) {
	t.Helper()
	store := inventory.NewMemoryStore()
	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Hour)
	require.NoError(t, store.Put(context.Background(), inventory.Slot{
		ID:         "slot-1",
		TenantID:   clinicA.ID,
		DoctorName: "Dr. Patel",
		StartTime:  start,
		EndTime:    start.Add(30 * time.Minute),
		Status:     inventory.StatusOpen,
	}))
	return store, NewMemoryRepository()
}

func confirmReq(name, email string) ConfirmRequest {
	return ConfirmRequest{Tenant: clinicA, SlotID: "slot-1", PatientName: name, PatientEmail: email}
}

func slotStatus(t *testing.T, store inventory.Store) inventory.Status {
	t.Helper()
	slot, err := store.Get(context.Background(), clinicA.ID, "slot-1")
	require.NoError(t, err)
	return slot.Status
}

func TestConfirmBooksSlotAndNotifies(t *testing.T) {
	store, repo := newFixture(t)
	notifier := &recordingNotifier{}
	svc := NewService(store, repo, notifier, logging.Discard())

	res, err := svc.Confirm(context.Background(), confirmReq("Jane Doe", "jane@example.com"))
	require.NoError(t, err)
	svc.Wait()

	assert.Equal(t, inventory.StatusBooked, res.Status)
	assert.Equal(t, ConfirmationRef(clinicA.ID, "slot-1"), res.ConfirmationRef)
	assert.False(t, res.Replayed)
	assert.Equal(t, inventory.StatusBooked, slotStatus(t, store))
	assert.Equal(t, 1, repo.Len())

	require.Equal(t, 1, notifier.count())
	notice := notifier.notices[0]
	assert.Equal(t, "jane@example.com", notice.PatientEmail)
	assert.Equal(t, "Lakeside Family Clinic", notice.ClinicName)
	assert.Equal(t, "Dr. Patel", notice.DoctorName)
	assert.Equal(t, res.ConfirmationRef, notice.ConfirmationRef)
}

func TestConfirmRetryReturnsSameRef(t *testing.T) {
	store, repo := newFixture(t)
	notifier := &recordingNotifier{}
	svc := NewService(store, repo, notifier, logging.Discard())
	ctx := context.Background()

	first, err := svc.Confirm(ctx, confirmReq("Jane Doe", "jane@example.com"))
	require.NoError(t, err)
	second, err := svc.Confirm(ctx, confirmReq(" jane doe ", "JANE@example.com"))
	require.NoError(t, err)
	svc.Wait()

	assert.Equal(t, first.ConfirmationRef, second.ConfirmationRef)
	assert.True(t, second.Replayed)
	assert.Equal(t, 1, repo.Len())
	assert.Equal(t, 1, notifier.count(), "a replay must not resend the email")
}

func TestConfirmDifferentPatientGetsSlotUnavailable(t *testing.T) {
	store, repo := newFixture(t)
	svc := NewService(store, repo, nil, logging.Discard())
	ctx := context.Background()

	_, err := svc.Confirm(ctx, confirmReq("Jane Doe", "jane@example.com"))
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, confirmReq("John Roe", "john@example.com"))
	require.ErrorIs(t, err, ErrSlotUnavailable)
	assert.Equal(t, 1, repo.Len())
}

func TestConfirmConcurrentCallersOneWinner(t *testing.T) {
	store, repo := newFixture(t)
	svc := NewService(store, repo, nil, logging.Discard())

	const callers = 25
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		booked      int
		unavailable int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Confirm(context.Background(), confirmReq(
				fmt.Sprintf("Patient %d", i),
				fmt.Sprintf("patient%d@example.com", i),
			))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked++
			case errors.Is(err, ErrSlotUnavailable):
				unavailable++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, booked)
	assert.Equal(t, callers-1, unavailable)
	assert.Equal(t, 1, repo.Len())
	assert.Equal(t, inventory.StatusBooked, slotStatus(t, store))
}

func TestConfirmUnknownSlot(t *testing.T) {
	store, repo := newFixture(t)
	svc := NewService(store, repo, nil, logging.Discard())

	req := confirmReq("Jane Doe", "jane@example.com")
	req.SlotID = "slot-404"
	_, err := svc.Confirm(context.Background(), req)
	require.ErrorIs(t, err, ErrUnknownSlot)
	assert.Equal(t, 0, repo.Len())
}

func TestConfirmInvalidInput(t *testing.T) {
	store, repo := newFixture(t)
	svc := NewService(store, repo, nil, logging.Discard())

	tests := []struct {
		name string
		req  ConfirmRequest
	}{
		{"blank name", confirmReq("  ", "jane@example.com")},
		{"bad email", confirmReq("Jane", "not-an-email")},
		{"missing slot", ConfirmRequest{Tenant: clinicA, PatientName: "Jane", PatientEmail: "jane@example.com"}},
		{"missing tenant", ConfirmRequest{SlotID: "slot-1", PatientName: "Jane", PatientEmail: "jane@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Confirm(context.Background(), tt.req)
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assert.Equal(t, inventory.StatusOpen, slotStatus(t, store), "validation must not touch inventory")
}

func TestConfirmFinalizeFailureReleasesHold(t *testing.T) {
	store, repo := newFixture(t)
	svc := NewService(failingFinalize{Store: store}, repo, nil, logging.Discard())

	_, err := svc.Confirm(context.Background(), confirmReq("Jane Doe", "jane@example.com"))
	require.ErrorIs(t, err, ErrBookingFailed)

	assert.Equal(t, inventory.StatusOpen, slotStatus(t, store))
	assert.Equal(t, 0, repo.Len(), "unfinalized booking should be removed")
}

func TestConfirmPersistFailureReleasesHold(t *testing.T) {
	store, _ := newFixture(t)
	svc := NewService(store, failingCreate{NewMemoryRepository()}, nil, logging.Discard())

	_, err := svc.Confirm(context.Background(), confirmReq("Jane Doe", "jane@example.com"))
	require.ErrorIs(t, err, ErrBookingFailed)
	assert.Equal(t, inventory.StatusOpen, slotStatus(t, store))
}

func TestConfirmCompletesStaleBookingRecord(t *testing.T) {
	store, repo := newFixture(t)
	ref := ConfirmationRef(clinicA.ID, "slot-1")
	require.NoError(t, repo.Create(context.Background(), Booking{
		ConfirmationRef: ref,
		TenantID:        clinicA.ID,
		SlotID:          "slot-1",
		PatientName:     "Jane Doe",
		PatientEmail:    "jane@example.com",
		CreatedAt:       time.Now().UTC(),
	}))
	svc := NewService(store, repo, nil, logging.Discard())

	res, err := svc.Confirm(context.Background(), confirmReq("Jane Doe", "jane@example.com"))
	require.NoError(t, err)
	assert.Equal(t, ref, res.ConfirmationRef)
	assert.Equal(t, inventory.StatusBooked, slotStatus(t, store))
	assert.Equal(t, 1, repo.Len())
}

func TestConfirmReplacesAnotherPatientsUnfinalizedRecord(t *testing.T) {
	store, repo := newFixture(t)
	ref := ConfirmationRef(clinicA.ID, "slot-1")
	require.NoError(t, repo.Create(context.Background(), Booking{
		ConfirmationRef: ref,
		TenantID:        clinicA.ID,
		SlotID:          "slot-1",
		PatientName:     "Jane Doe",
		PatientEmail:    "jane@example.com",
		CreatedAt:       time.Now().UTC().Add(-time.Hour),
	}))
	notifier := &recordingNotifier{}
	svc := NewService(store, repo, notifier, logging.Discard())
	ctx := context.Background()

	res, err := svc.Confirm(ctx, confirmReq("Bob Smith", "bob@example.com"))
	require.NoError(t, err)
	svc.Wait()
	assert.Equal(t, ref, res.ConfirmationRef)
	assert.False(t, res.Replayed)
	assert.Equal(t, inventory.StatusBooked, slotStatus(t, store))

	stored, err := repo.Get(ctx, clinicA.ID, ref)
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", stored.PatientEmail)
	assert.Equal(t, 1, repo.Len())
	require.Equal(t, 1, notifier.count())
	assert.Equal(t, "bob@example.com", notifier.notices[0].PatientEmail)

	_, err = svc.Confirm(ctx, confirmReq("Jane Doe", "jane@example.com"))
	require.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestConfirmKeepsAnotherPatientsRecordWhenSlotIsHeld(t *testing.T) {
	store, repo := newFixture(t)
	ctx := context.Background()
	_, err := store.TryReserve(ctx, clinicA.ID, "slot-1")
	require.NoError(t, err)
	ref := ConfirmationRef(clinicA.ID, "slot-1")
	jane := Booking{
		ConfirmationRef: ref,
		TenantID:        clinicA.ID,
		SlotID:          "slot-1",
		PatientName:     "Jane Doe",
		PatientEmail:    "jane@example.com",
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, repo.Create(ctx, jane))
	svc := NewService(store, repo, nil, logging.Discard())

	_, err = svc.Confirm(ctx, confirmReq("Bob Smith", "bob@example.com"))
	require.ErrorIs(t, err, ErrSlotUnavailable)

	stored, err := repo.Get(ctx, clinicA.ID, ref)
	require.NoError(t, err)
	assert.Equal(t, jane, stored, "an in-flight confirm keeps its record")
	assert.Equal(t, inventory.StatusHeld, slotStatus(t, store))
}

func TestConfirmSurvivesFinalizeRetryAfterLostAck(t *testing.T) {
	store, repo := newFixture(t)
	flaky := &lostAckFinalize{Store: store, lost: 1}
	guarded := inventory.NewGuarded(flaky, time.Second, logging.Discard(), nil)
	svc := NewService(guarded, repo, nil, logging.Discard())
	ctx := context.Background()

	first, err := svc.Confirm(ctx, confirmReq("Jane Doe", "jane@example.com"))
	require.NoError(t, err)
	assert.Equal(t, 2, flaky.calls, "the lost reply is retried")
	assert.Equal(t, inventory.StatusBooked, slotStatus(t, store))
	assert.Equal(t, 1, repo.Len())

	again, err := svc.Confirm(ctx, confirmReq("Jane Doe", "jane@example.com"))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.ConfirmationRef, again.ConfirmationRef)
}

func TestConfirmSucceedsWhenEveryFinalizeReplyIsLost(t *testing.T) {
	store, repo := newFixture(t)
	flaky := &lostAckFinalize{Store: store, lost: 10}
	guarded := inventory.NewGuarded(flaky, time.Second, logging.Discard(), nil)
	svc := NewService(guarded, repo, nil, logging.Discard())

	res, err := svc.Confirm(context.Background(), confirmReq("Jane Doe", "jane@example.com"))
	require.NoError(t, err)
	assert.Equal(t, inventory.StatusBooked, res.Status)
	assert.Equal(t, inventory.StatusBooked, slotStatus(t, store), "a committed finalize is never rolled back")
	assert.Equal(t, 1, repo.Len())
}

func TestConfirmNotifierErrorDoesNotFailBooking(t *testing.T) {
	store, repo := newFixture(t)
	notifier := &recordingNotifier{err: errors.New("ses throttled")}
	svc := NewService(store, repo, notifier, logging.Discard())

	res, err := svc.Confirm(context.Background(), confirmReq("Jane Doe", "jane@example.com"))
	require.NoError(t, err)
	svc.Wait()
	assert.Equal(t, inventory.StatusBooked, res.Status)
	assert.Equal(t, 1, notifier.count())
}

func TestNewServicePanicsWithoutDependencies(t *testing.T) {
	assert.Panics(t, func() { NewService(nil, NewMemoryRepository(), nil, nil) })
	assert.Panics(t, func() { NewService(inventory.NewMemoryStore(), nil, nil, nil) })
}
