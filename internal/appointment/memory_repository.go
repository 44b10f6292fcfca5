package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps everything in process behind one mutex. It backs the
// "memory" store and the engine tests.
type MemoryRepository struct {
	mu            sync.Mutex
	patients      map[uuid.UUID]Patient
	practitioners map[uuid.UUID]Practitioner
	windows       map[uuid.UUID]AvailabilityWindow
	appointments  map[uuid.UUID]Appointment
	audit         map[uuid.UUID][]AuditEntry
	seq           int64
	auditSeq      int64
	now           func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients:      make(map[uuid.UUID]Patient),
		practitioners: make(map[uuid.UUID]Practitioner),
		windows:       make(map[uuid.UUID]AvailabilityWindow),
		appointments:  make(map[uuid.UUID]Appointment),
		audit:         make(map[uuid.UUID][]AuditEntry),
		now:           time.Now,
	}
}

func (r *MemoryRepository) CreatePatient(ctx context.Context, p Patient) (*Patient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	r.patients[p.ID] = p
	return &p, nil
}

func (r *MemoryRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) CreatePractitioner(ctx context.Context, p Practitioner) (*Practitioner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	r.practitioners[p.ID] = p
	return &p, nil
}

func (r *MemoryRepository) UpdatePractitioner(ctx context.Context, p Practitioner) (*Practitioner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.practitioners[p.ID]
	if !ok {
		return nil, ErrPractitionerNotFound
	}
	existing.Name = p.Name
	existing.Specialty = p.Specialty
	existing.CustomSpecialty = p.CustomSpecialty
	existing.UpdatedAt = r.now().UTC()
	r.practitioners[p.ID] = existing
	return &existing, nil
}

func (r *MemoryRepository) GetPractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.practitioners[id]
	if !ok {
		return nil, ErrPractitionerNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) ListPractitioners(ctx context.Context, specialty *Specialty) ([]Practitioner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Practitioner
	for _, p := range r.practitioners {
		if specialty != nil && p.Specialty != *specialty {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *MemoryRepository) InsertWindow(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.windows {
		if existing.PractitionerID == w.PractitionerID && existing.Date.Equal(w.Date) && existing.Overlaps(w.Start, w.End) {
			return nil, ErrOverlap
		}
	}
	w.CreatedAt = r.now().UTC()
	r.windows[w.ID] = w
	return &w, nil
}

func (r *MemoryRepository) GetWindowByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[id]
	if !ok {
		return nil, ErrWindowNotFound
	}
	return &w, nil
}

func (r *MemoryRepository) ListWindows(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]AvailabilityWindow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.windowsFor(practitionerID, date), nil
}

func (r *MemoryRepository) windowsFor(practitionerID uuid.UUID, date time.Time) []AvailabilityWindow {
	var out []AvailabilityWindow
	for _, w := range r.windows {
		if w.PractitionerID == practitionerID && w.Date.Equal(date) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func (r *MemoryRepository) RevokeWindow(ctx context.Context, windowID uuid.UUID, cancel func(a Appointment) Transition) ([]Appointment, []Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[windowID]
	if !ok {
		return nil, nil, ErrWindowNotFound
	}
	delete(r.windows, windowID)

	remaining := r.windowsFor(w.PractitionerID, w.Date)
	var cancelled, retained []Appointment
	for _, a := range r.sortedAppointments(func(a Appointment) bool {
		return a.PractitionerID == w.PractitionerID && a.Date.Equal(w.Date) && a.Status.Active()
	}) {
		if covered(remaining, a) {
			continue
		}
		if a.Status == StatusConfirmed {
			retained = append(retained, a)
			continue
		}
		updated, err := r.applyTransition(cancel(a))
		if err != nil {
			return nil, nil, err
		}
		cancelled = append(cancelled, *updated)
	}
	return cancelled, retained, nil
}

func covered(windows []AvailabilityWindow, a Appointment) bool {
	for _, w := range windows {
		if a.SlotStart >= w.Start && int(a.SlotStart)+a.Duration <= int(w.End) {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) CreateAppointment(ctx context.Context, in NewAppointment) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	a := in.Appointment
	if a.IdempotencyKey != nil {
		if existing, err := r.byIdempotencyKey(a.PatientID, *a.IdempotencyKey); err == nil {
			return existing, ErrIdempotentReplay
		}
	}
	if _, ok := r.windows[in.WindowID]; !ok {
		return nil, ErrSlotNotAvailable
	}
	if _, err := r.activeOverlapping(a.PractitionerID, a.Date, a.SlotStart, a.End()); err == nil {
		return nil, ErrSlotTaken
	}

	r.seq++
	now := r.now().UTC()
	a.Seq = r.seq
	a.CreatedAt, a.UpdatedAt = now, now
	r.appointments[a.ID] = a
	r.appendAudit(in.Audit)
	return &a, nil
}

func (r *MemoryRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) FindByIdempotencyKey(ctx context.Context, patientID uuid.UUID, key string) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.byIdempotencyKey(patientID, key)
}

func (r *MemoryRepository) byIdempotencyKey(patientID uuid.UUID, key string) (*Appointment, error) {
	for _, a := range r.appointments {
		if a.PatientID == patientID && a.IdempotencyKey != nil && *a.IdempotencyKey == key {
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *MemoryRepository) GetActiveAppointmentOverlapping(ctx context.Context, practitionerID uuid.UUID, date time.Time, start, end TimeOfDay) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.activeOverlapping(practitionerID, date, start, end)
}

func (r *MemoryRepository) activeOverlapping(practitionerID uuid.UUID, date time.Time, start, end TimeOfDay) (*Appointment, error) {
	for _, a := range r.appointments {
		if a.PractitionerID == practitionerID && a.Date.Equal(date) && a.Occupies(start, end) {
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *MemoryRepository) TransitionAppointment(ctx context.Context, t Transition) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.applyTransition(t)
}

func (r *MemoryRepository) applyTransition(t Transition) (*Appointment, error) {
	a, ok := r.appointments[t.AppointmentID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != t.From {
		return nil, ErrStatusChanged
	}
	a.Status = t.To
	if t.Message != nil {
		msg := *t.Message
		switch t.To {
		case StatusConfirmed:
			a.ConfirmationMessage = &msg
		case StatusCancelled:
			a.CancellationMessage = &msg
		}
	}
	a.UpdatedAt = r.now().UTC()
	r.appointments[a.ID] = a
	r.appendAudit(t.Audit)
	return &a, nil
}

func (r *MemoryRepository) appendAudit(e AuditEntry) {
	r.auditSeq++
	e.ID = r.auditSeq
	r.audit[e.AppointmentID] = append(r.audit[e.AppointmentID], e)
}

func (r *MemoryRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, page Page) ([]Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	return paginate(r.sortedAppointments(func(a Appointment) bool { return a.PatientID == patientID }), page), nil
}

func (r *MemoryRepository) ListAppointmentsByPractitioner(ctx context.Context, practitionerID uuid.UUID, page Page) ([]Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	return paginate(r.sortedAppointments(func(a Appointment) bool { return a.PractitionerID == practitionerID }), page), nil
}

func (r *MemoryRepository) ListAppointmentsForDate(ctx context.Context, practitionerID uuid.UUID, date time.Time) ([]Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sortedAppointments(func(a Appointment) bool {
		return a.PractitionerID == practitionerID && a.Date.Equal(date)
	}), nil
}

func (r *MemoryRepository) FindStaleRequested(ctx context.Context, before time.Time) ([]Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sortedAppointments(func(a Appointment) bool {
		return a.Status == StatusRequested && a.StartsAt().Before(before)
	}), nil
}

func (r *MemoryRepository) ListAudit(ctx context.Context, appointmentID uuid.UUID) ([]AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.appointments[appointmentID]; !ok {
		return nil, ErrAppointmentNotFound
	}
	entries := r.audit[appointmentID]
	out := make([]AuditEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// sortedAppointments returns matches ordered by (date, slot start, creation order).
func (r *MemoryRepository) sortedAppointments(match func(Appointment) bool) []Appointment {
	var out []Appointment
	for _, a := range r.appointments {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].SlotStart != out[j].SlotStart {
			return out[i].SlotStart < out[j].SlotStart
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

func paginate(in []Appointment, page Page) []Appointment {
	if page.Offset > 0 {
		if page.Offset >= len(in) {
			return nil
		}
		in = in[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(in) {
		in = in[:page.Limit]
	}
	return in
}
