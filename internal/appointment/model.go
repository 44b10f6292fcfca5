package appointment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusRequested AppointmentStatus = "requested"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Active reports whether an appointment in this status occupies its slot.
func (s AppointmentStatus) Active() bool {
	return s == StatusRequested || s == StatusConfirmed
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusRequested, StatusConfirmed, StatusCancelled:
		return true
	}
	return false
}

// SystemActor is recorded as the actor of transitions the engine performs on its own.
const SystemActor = "system"

// TimeOfDay is a wall-clock time expressed in minutes since midnight.
type TimeOfDay int

const minutesPerDay = 24 * 60

// ParseTimeOfDay parses "HH:MM" (24h clock). "24:00" is accepted as the end of
// the day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidInput, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("%w: hour in %q", ErrInvalidInput, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: minute in %q", ErrInvalidInput, s)
	}
	return TimeOfDay(h*60 + m), nil
}

// MustTimeOfDay is ParseTimeOfDay for literals.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) Valid() bool { return t >= 0 && t <= minutesPerDay }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

const dateLayout = "2006-01-02"

// ParseDate parses a calendar date (YYYY-MM-DD) into UTC midnight.
func ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidInput, s)
	}
	return d, nil
}

// DateOf truncates t to its calendar date in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func FormatDate(t time.Time) string { return t.Format(dateLayout) }

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Practitioner struct {
	ID              uuid.UUID
	Name            string
	Specialty       Specialty
	CustomSpecialty string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SpecialtyLabel is the human-readable specialty, including custom labels.
func (p Practitioner) SpecialtyLabel() string {
	if p.Specialty == SpecialtyOther && p.CustomSpecialty != "" {
		return p.CustomSpecialty
	}
	return p.Specialty.String()
}

type AvailabilityWindow struct {
	ID             uuid.UUID
	PractitionerID uuid.UUID
	Date           time.Time
	Start          TimeOfDay
	End            TimeOfDay
	Granularity    int // minutes
	CreatedAt      time.Time
}

// Overlaps uses half-open intervals, so touching windows do not overlap.
func (w AvailabilityWindow) Overlaps(start, end TimeOfDay) bool {
	return w.Start < end && start < w.End
}

// Contains reports whether a slot starting at slotStart is bookable inside w.
func (w AvailabilityWindow) Contains(slotStart TimeOfDay) bool {
	if w.Granularity <= 0 || slotStart < w.Start {
		return false
	}
	if int(slotStart-w.Start)%w.Granularity != 0 {
		return false
	}
	return int(slotStart)+w.Granularity <= int(w.End)
}

// Slots enumerates every aligned slot start inside w.
func (w AvailabilityWindow) Slots() []TimeOfDay {
	if w.Granularity <= 0 {
		return nil
	}
	var out []TimeOfDay
	for t := int(w.Start); t+w.Granularity <= int(w.End); t += w.Granularity {
		out = append(out, TimeOfDay(t))
	}
	return out
}

type Appointment struct {
	ID                  uuid.UUID
	PractitionerID      uuid.UUID
	PatientID           uuid.UUID
	PatientName         string
	Date                time.Time
	SlotStart           TimeOfDay
	Duration            int // minutes
	Status              AppointmentStatus
	ConfirmationMessage *string
	CancellationMessage *string
	IdempotencyKey      *string
	Seq                 int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (a Appointment) Key() SlotKey {
	return SlotKey{PractitionerID: a.PractitionerID, Date: a.Date, SlotStart: a.SlotStart}
}

// End is the first minute after the appointment.
func (a Appointment) End() TimeOfDay { return a.SlotStart + TimeOfDay(a.Duration) }

// Occupies reports whether an active appointment blocks any part of [start, end).
func (a Appointment) Occupies(start, end TimeOfDay) bool {
	return a.Status.Active() && a.SlotStart < end && start < a.End()
}

// StartsAt is the absolute UTC instant of the slot start.
func (a Appointment) StartsAt() time.Time {
	return a.Date.Add(time.Duration(a.SlotStart) * time.Minute)
}

// SlotKey identifies the single bookable unit guarded against double booking.
type SlotKey struct {
	PractitionerID uuid.UUID
	Date           time.Time
	SlotStart      TimeOfDay
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.PractitionerID, FormatDate(k.Date), k.SlotStart)
}

// Slot is a bookable unit as presented to callers.
type Slot struct {
	Start     TimeOfDay
	End       TimeOfDay
	WindowID  uuid.UUID
	Available bool
}

type AuditEntry struct {
	ID            int64
	AppointmentID uuid.UUID
	At            time.Time
	Actor         string
	From          AppointmentStatus // empty for the creation entry
	To            AppointmentStatus
	Reason        string
}

// Page bounds list queries. A zero Limit means no limit.
type Page struct {
	Limit  int
	Offset int
}

// BookingRequest carries everything needed to book a slot.
type BookingRequest struct {
	PatientID      uuid.UUID
	PractitionerID uuid.UUID
	Date           time.Time
	SlotStart      TimeOfDay
	IdempotencyKey string
}

// RevokeResult reports what happened to appointments that sat inside a revoked window.
type RevokeResult struct {
	Window    AvailabilityWindow
	Cancelled []Appointment
	Retained  []Appointment
}
