package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_WaitIsBounded(t *testing.T) {
	l := NewLocalLocker(30 * time.Millisecond)
	held := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = l.WithLock(context.Background(), "k", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ran := false
	start := time.Now()
	err := l.WithLock(context.Background(), "k", func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockBusy)
	assert.False(t, ran)
	assert.Less(t, time.Since(start), time.Second)

	// other keys are unaffected
	require.NoError(t, l.WithLock(context.Background(), "other", func(context.Context) error { return nil }))
}

func TestLocalLocker_CallerCancellation(t *testing.T) {
	l := NewLocalLocker(time.Minute)
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), "k", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.WithLock(ctx, "k", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBookAppointment_BusySlotLockIsRetryable(t *testing.T) {
	repo := NewMemoryRepository()
	locker := NewLocalLocker(30 * time.Millisecond)
	svc := NewService(repo, locker, testConfig())
	ctx := context.Background()

	doc, err := svc.RegisterPractitioner(ctx, uuid.New(), "Dr. D", "Dentist")
	require.NoError(t, err)
	patient, err := svc.RegisterPatient(ctx, uuid.New(), "Alice", nil)
	require.NoError(t, err)
	_, err = svc.DeclareAvailability(ctx, doc.ID, testDate, MustTimeOfDay("09:00"), MustTimeOfDay("10:00"), 30)
	require.NoError(t, err)

	key := slotLockKey(SlotKey{PractitionerID: doc.ID, Date: testDate, SlotStart: MustTimeOfDay("09:00")})
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locker.WithLock(ctx, key, func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	_, err = svc.BookAppointment(ctx, BookingRequest{
		PatientID:      patient.ID,
		PractitionerID: doc.ID,
		Date:           testDate,
		SlotStart:      MustTimeOfDay("09:00"),
	})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.True(t, IsRetryable(err))
}
