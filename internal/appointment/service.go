package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/hackgods/appointment-engine/internal/config"
	"github.com/hackgods/appointment-engine/internal/observability/metrics"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventWindowDeclared       = "WINDOW_DECLARED"
	EventWindowRevoked        = "WINDOW_REVOKED"
)

const (
	DefaultConfirmedMessage = "Your appointment has been confirmed."
	DefaultCancelledMessage = "Your appointment has been cancelled."

	ReasonWindowRevoked  = "availability window revoked"
	ReasonRequestExpired = "request expired before confirmation"
)

var tracer = otel.Tracer("appointment-engine/appointment")

// Publisher fans change events out to subscribers (the UI watch stream).
type Publisher interface {
	Publish(ctx context.Context, channels []string, payload []byte) error
}

// Change is the payload published after every committed mutation.
type Change struct {
	Type           string     `json:"type"`
	AppointmentID  *uuid.UUID `json:"appointment_id,omitempty"`
	WindowID       *uuid.UUID `json:"window_id,omitempty"`
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	PatientID      *uuid.UUID `json:"patient_id,omitempty"`
	Status         string     `json:"status,omitempty"`
	Date           string     `json:"date"`
	SlotStart      string     `json:"slot_start,omitempty"`
	At             time.Time  `json:"at"`
}

func PractitionerChannel(id uuid.UUID) string { return "changes:practitioner:" + id.String() }
func PatientChannel(id uuid.UUID) string      { return "changes:patient:" + id.String() }

type Service struct {
	repo      Repository
	locker    Locker
	cfg       config.Config
	publisher Publisher
	metrics   *metrics.SchedulingMetrics
	log       zerolog.Logger
	cache     *cache.Cache
	now       func() time.Time
}

type Option func(*Service)

func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }

func WithMetrics(m *metrics.SchedulingMetrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(repo Repository, locker Locker, cfg config.Config, opts ...Option) *Service {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	if cfg.DefaultGranularity < time.Minute {
		cfg.DefaultGranularity = 30 * time.Minute
	}
	if cfg.PractitionerCacheTTL <= 0 {
		cfg.PractitionerCacheTTL = 5 * time.Minute
	}

	s := &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		log:    zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = cache.New(cfg.PractitionerCacheTTL, 2*cfg.PractitionerCacheTTL)
	return s
}

// storeCtx bounds a single store call.
func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

// classify turns a store error into the engine taxonomy and counts outages.
func (s *Service) classify(op string, err error) error {
	err = storeError(op, err)
	if IsRetryable(err) {
		s.metrics.ObserveStoreUnavailable(op)
	}
	return err
}

// withLock runs fn under the named lock. Failure to obtain the lock in time is
// reported as ErrStoreUnavailable; errors from fn pass through untouched.
func (s *Service) withLock(ctx context.Context, scope, key string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ran := false
	err := s.locker.WithLock(ctx, key, func(lockCtx context.Context) error {
		ran = true
		s.metrics.ObserveLockWait(scope, time.Since(start).Seconds())
		return fn(lockCtx)
	})
	if err == nil || ran {
		return err
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return err
	}
	s.metrics.ObserveStoreUnavailable("lock_" + scope)
	return unavailable("acquire "+scope+" lock", err)
}

func slotLockKey(key SlotKey) string { return "slot:" + key.String() }

func windowLockKey(practitionerID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("windows:%s:%s", practitionerID, FormatDate(date))
}

func (s *Service) audit(appointmentID uuid.UUID, actor string, from, to AppointmentStatus, reason string) AuditEntry {
	return AuditEntry{
		AppointmentID: appointmentID,
		At:            s.now().UTC(),
		Actor:         actor,
		From:          from,
		To:            to,
		Reason:        reason,
	}
}

func (s *Service) appointmentChange(eventType string, a Appointment) Change {
	id := a.ID
	patient := a.PatientID
	return Change{
		Type:           eventType,
		AppointmentID:  &id,
		PractitionerID: a.PractitionerID,
		PatientID:      &patient,
		Status:         string(a.Status),
		Date:           FormatDate(a.Date),
		SlotStart:      a.SlotStart.String(),
		At:             s.now().UTC(),
	}
}

// publish is best effort: the mutation is already committed, so a failed
// notification is logged and counted rather than returned.
func (s *Service) publish(ctx context.Context, ch Change) {
	if s.publisher == nil {
		return
	}
	channels := []string{PractitionerChannel(ch.PractitionerID)}
	if ch.PatientID != nil {
		channels = append(channels, PatientChannel(*ch.PatientID))
	}

	data, err := json.Marshal(ch)
	if err != nil {
		s.log.Error().Err(err).Str("event", ch.Type).Msg("marshal change event")
		s.metrics.ObserveNotifyFailure()
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, channels, data); err != nil {
		s.log.Warn().Err(err).Str("event", ch.Type).Msg("publish change event")
		s.metrics.ObserveNotifyFailure()
	}
}
