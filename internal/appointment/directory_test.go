package appointment

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterPractitioner_Specialty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	known, err := f.svc.RegisterPractitioner(ctx, uuid.New(), "Dr. Heart", "cardiologist")
	require.NoError(t, err)
	assert.Equal(t, SpecialtyCardiologist, known.Specialty)
	assert.Equal(t, "Cardiologist", known.SpecialtyLabel())

	custom, err := f.svc.RegisterPractitioner(ctx, uuid.New(), "Dr. Feet", " Podiatrist ")
	require.NoError(t, err)
	assert.Equal(t, SpecialtyOther, custom.Specialty)
	assert.Equal(t, "Podiatrist", custom.SpecialtyLabel())

	_, err = f.svc.RegisterPractitioner(ctx, uuid.New(), "  ", "Dentist")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestListPractitioners_BySpecialty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.practitioner(t, "Zed", "Dentist")
	f.practitioner(t, "Amy", "Dentist")
	f.practitioner(t, "Bob", "Neurologist")

	dentist := SpecialtyDentist
	got, err := f.svc.ListPractitioners(ctx, &dentist)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Amy", got[0].Name)
	assert.Equal(t, "Zed", got[1].Name)

	all, err := f.svc.ListPractitioners(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestUpdatePractitioner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.practitioner(t, "Dr. D", "Dentist")

	_, err := f.svc.UpdatePractitioner(ctx, uuid.New(), doc, "Mallory", "Dentist")
	assert.ErrorIs(t, err, ErrNotOwner)

	updated, err := f.svc.UpdatePractitioner(ctx, doc, doc, "Dr. D. Smith", "Pediatrician")
	require.NoError(t, err)
	assert.Equal(t, SpecialtyPediatrician, updated.Specialty)

	got, err := f.svc.GetPractitioner(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, "Dr. D. Smith", got.Name)

	_, err = f.svc.UpdatePractitioner(ctx, uuid.Nil, uuid.Nil, "x", "Dentist")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetPractitioner_ServedFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.practitioner(t, "Dr. D", "Dentist")

	// a change behind the service's back is not visible until the entry expires
	_, err := f.repo.UpdatePractitioner(ctx, Practitioner{ID: doc, Name: "Renamed", Specialty: SpecialtyDentist})
	require.NoError(t, err)

	got, err := f.svc.GetPractitioner(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, "Dr. D", got.Name)

	_, err = f.svc.GetPractitioner(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrPractitionerNotFound)
}

func TestPatients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	email := "alice@example.com"

	p, err := f.svc.RegisterPatient(ctx, uuid.New(), "Alice", &email)
	require.NoError(t, err)

	got, err := f.svc.GetPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
	require.NotNil(t, got.Email)
	assert.Equal(t, email, *got.Email)

	_, err = f.svc.GetPatient(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrPatientNotFound)

	_, err = f.svc.RegisterPatient(ctx, uuid.New(), "", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
