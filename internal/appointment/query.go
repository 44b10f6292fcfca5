package appointment

import (
	"context"

	"github.com/google/uuid"
)

const maxPageLimit = 500

// ListByPatient returns a patient's appointments ordered by date, slot start and
// creation order. Reads go to the authoritative store, so a caller sees its own
// writes immediately.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, page Page) ([]Appointment, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	out, err := s.repo.ListAppointmentsByPatient(storeCtx, patientID, normalizePage(page))
	if err != nil {
		return nil, s.classify("list by patient", err)
	}
	return out, nil
}

// ListByPractitioner is ListByPatient for the practitioner side.
func (s *Service) ListByPractitioner(ctx context.Context, practitionerID uuid.UUID, page Page) ([]Appointment, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	out, err := s.repo.ListAppointmentsByPractitioner(storeCtx, practitionerID, normalizePage(page))
	if err != nil {
		return nil, s.classify("list by practitioner", err)
	}
	return out, nil
}

func normalizePage(p Page) Page {
	if p.Limit < 0 {
		p.Limit = 0
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
