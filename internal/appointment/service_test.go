package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-engine/internal/config"
	"github.com/hackgods/appointment-engine/internal/observability/metrics"
)

var testDate = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

func testConfig() config.Config {
	return config.Config{
		StoreTimeout:         time.Second,
		DefaultGranularity:   30 * time.Minute,
		PractitionerCacheTTL: time.Minute,
		LockTTL:              5 * time.Second,
		LockWait:             5 * time.Second,
	}
}

type fixture struct {
	svc  *Service
	repo *MemoryRepository
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	repo := NewMemoryRepository()
	return &fixture{
		svc:  NewService(repo, NewLocalLocker(time.Second), testConfig(), opts...),
		repo: repo,
	}
}

func (f *fixture) practitioner(t *testing.T, name, specialty string) uuid.UUID {
	t.Helper()
	p, err := f.svc.RegisterPractitioner(context.Background(), uuid.New(), name, specialty)
	require.NoError(t, err)
	return p.ID
}

func (f *fixture) patient(t *testing.T, name string) uuid.UUID {
	t.Helper()
	p, err := f.svc.RegisterPatient(context.Background(), uuid.New(), name, nil)
	require.NoError(t, err)
	return p.ID
}

func (f *fixture) declare(t *testing.T, practitionerID uuid.UUID, start, end string, granularity int) *AvailabilityWindow {
	t.Helper()
	w, err := f.svc.DeclareAvailability(context.Background(), practitionerID, testDate, MustTimeOfDay(start), MustTimeOfDay(end), granularity)
	require.NoError(t, err)
	return w
}

func (f *fixture) book(practitionerID, patientID uuid.UUID, slot, key string) (*Appointment, error) {
	return f.svc.BookAppointment(context.Background(), BookingRequest{
		PatientID:      patientID,
		PractitionerID: practitionerID,
		Date:           testDate,
		SlotStart:      MustTimeOfDay(slot),
		IdempotencyKey: key,
	})
}

// recordingPublisher keeps every published change.
type recordingPublisher struct {
	mu      sync.Mutex
	changes []Change
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, channels []string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	var c Change
	if err := json.Unmarshal(payload, &c); err != nil {
		return err
	}
	p.changes = append(p.changes, c)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.changes))
	for _, c := range p.changes {
		out = append(out, c.Type)
	}
	return out
}

// slowRepository blocks every appointment lookup until the context expires.
type slowRepository struct {
	*MemoryRepository
}

func (r slowRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestService_PublishesChanges(t *testing.T) {
	pub := &recordingPublisher{}
	f := newFixture(t, WithPublisher(pub))
	doc := f.practitioner(t, "Dr. House", "Neurologist")
	alice := f.patient(t, "Alice")

	f.declare(t, doc, "09:00", "10:00", 30)
	appt, err := f.book(doc, alice, "09:00", "")
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), appt.ID, doc, "")
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), appt.ID, alice, "")
	require.NoError(t, err)

	assert.Equal(t, []string{
		EventWindowDeclared,
		EventAppointmentCreated,
		EventAppointmentConfirmed,
		EventAppointmentCancelled,
	}, pub.types())
}

func TestService_PublishFailureDoesNotFailWrite(t *testing.T) {
	reg := prometheus.NewRegistry()
	pub := &recordingPublisher{err: errors.New("redis down")}
	f := newFixture(t, WithPublisher(pub), WithMetrics(metrics.NewSchedulingMetrics(reg)))
	doc := f.practitioner(t, "Dr. House", "Neurologist")
	alice := f.patient(t, "Alice")
	f.declare(t, doc, "09:00", "10:00", 30)

	appt, err := f.book(doc, alice, "09:00", "")
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, appt.Status)

	expected := `
# HELP scheduling_changes_publish_failures_total Change notifications that could not be published
# TYPE scheduling_changes_publish_failures_total counter
scheduling_changes_publish_failures_total 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "scheduling_changes_publish_failures_total"))
}

func TestService_StoreTimeoutIsRetryable(t *testing.T) {
	repo := NewMemoryRepository()
	cfg := testConfig()
	cfg.StoreTimeout = 20 * time.Millisecond
	svc := NewService(slowRepository{repo}, NewLocalLocker(time.Second), cfg)

	_, err := svc.Confirm(context.Background(), uuid.New(), uuid.New(), "")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.True(t, IsRetryable(err))
}

func TestService_CallerCancellationIsNotRetryable(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(slowRepository{repo}, NewLocalLocker(time.Second), testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Confirm(ctx, uuid.New(), uuid.New(), "")

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRetryable(err))
}

// blockedLocker never grants the lock.
type blockedLocker struct{}

func (blockedLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return errors.New("lock not acquired")
}

func TestService_LockFailureIsRetryable(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, blockedLocker{}, testConfig())
	ctx := context.Background()

	doc, err := svc.RegisterPractitioner(ctx, uuid.New(), "Dr. Who", "Other")
	require.NoError(t, err)

	_, err = svc.DeclareAvailability(ctx, doc.ID, testDate, MustTimeOfDay("09:00"), MustTimeOfDay("10:00"), 30)

	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
