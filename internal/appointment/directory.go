package appointment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// RegisterPractitioner records the practitioner identity issued by the identity
// provider. Unknown specialty labels are kept as a custom Other specialty.
func (s *Service) RegisterPractitioner(ctx context.Context, id uuid.UUID, name, specialty string) (*Practitioner, error) {
	p, err := newPractitioner(id, name, specialty)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	created, err := s.repo.CreatePractitioner(storeCtx, p)
	if err != nil {
		return nil, s.classify("create practitioner", err)
	}
	s.cache.Set(created.ID.String(), *created, cache.DefaultExpiration)
	return created, nil
}

// UpdatePractitioner edits name and specialty; only the practitioner may do so.
func (s *Service) UpdatePractitioner(ctx context.Context, callerID, id uuid.UUID, name, specialty string) (*Practitioner, error) {
	if callerID != id {
		return nil, ErrNotOwner
	}
	p, err := newPractitioner(id, name, specialty)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	updated, err := s.repo.UpdatePractitioner(storeCtx, p)
	if err != nil {
		return nil, s.classify("update practitioner", err)
	}
	s.cache.Set(updated.ID.String(), *updated, cache.DefaultExpiration)
	return updated, nil
}

// GetPractitioner serves from the profile cache when possible. Profiles are only
// display data; ownership checks never depend on them.
func (s *Service) GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	if v, ok := s.cache.Get(id.String()); ok {
		p := v.(Practitioner)
		return &p, nil
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	p, err := s.repo.GetPractitionerByID(storeCtx, id)
	if err != nil {
		return nil, s.classify("get practitioner", err)
	}
	s.cache.Set(id.String(), *p, cache.DefaultExpiration)
	return p, nil
}

// ListPractitioners lists practitioners, optionally restricted to one specialty.
func (s *Service) ListPractitioners(ctx context.Context, specialty *Specialty) ([]Practitioner, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	out, err := s.repo.ListPractitioners(storeCtx, specialty)
	if err != nil {
		return nil, s.classify("list practitioners", err)
	}
	return out, nil
}

func (s *Service) RegisterPatient(ctx context.Context, id uuid.UUID, name string, email *string) (*Patient, error) {
	name = strings.TrimSpace(name)
	if id == uuid.Nil || name == "" {
		return nil, fmt.Errorf("%w: patient id and name are required", ErrInvalidInput)
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	p, err := s.repo.CreatePatient(storeCtx, Patient{ID: id, Name: name, Email: email})
	if err != nil {
		return nil, s.classify("create patient", err)
	}
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	p, err := s.repo.GetPatientByID(storeCtx, id)
	if err != nil {
		return nil, s.classify("get patient", err)
	}
	return p, nil
}

func newPractitioner(id uuid.UUID, name, specialty string) (Practitioner, error) {
	name = strings.TrimSpace(name)
	if id == uuid.Nil || name == "" {
		return Practitioner{}, fmt.Errorf("%w: practitioner id and name are required", ErrInvalidInput)
	}
	spec, custom := ParseSpecialty(specialty)
	return Practitioner{ID: id, Name: name, Specialty: spec, CustomSpecialty: custom}, nil
}
