package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListByPatientAndPractitioner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.practitioner(t, "Dr. D", "Dentist")
	alice := f.patient(t, "Alice")
	bob := f.patient(t, "Bob")

	nextDay := testDate.AddDate(0, 0, 1)
	f.declare(t, doc, "09:00", "12:00", 30)
	_, err := f.svc.DeclareAvailability(ctx, doc, nextDay, MustTimeOfDay("08:00"), MustTimeOfDay("09:00"), 30)
	require.NoError(t, err)

	book := func(patient uuid.UUID, date time.Time, slot string) *Appointment {
		a, err := f.svc.BookAppointment(ctx, BookingRequest{PatientID: patient, PractitionerID: doc, Date: date, SlotStart: MustTimeOfDay(slot)})
		require.NoError(t, err)
		return a
	}

	a1 := book(alice, nextDay, "08:00")
	a2 := book(alice, testDate, "11:00")
	a3 := book(alice, testDate, "09:00")
	b1 := book(bob, testDate, "10:00")

	// cancelled and rebooked: both rows share the slot and order by creation
	_, err = f.svc.Cancel(ctx, a3.ID, alice, "")
	require.NoError(t, err)
	a4 := book(alice, testDate, "09:00")

	got, err := f.svc.ListByPatient(ctx, alice, Page{})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a3.ID, a4.ID, a2.ID, a1.ID}, ids(got))

	got, err = f.svc.ListByPractitioner(ctx, doc, Page{})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a3.ID, a4.ID, b1.ID, a2.ID, a1.ID}, ids(got))

	got, err = f.svc.ListByPractitioner(ctx, doc, Page{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a4.ID, b1.ID}, ids(got))

	got, err = f.svc.ListByPatient(ctx, bob, Page{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.svc.ListByPatient(ctx, uuid.New(), Page{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListByPatient_ReadYourWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.practitioner(t, "Dr. D", "Dentist")
	alice := f.patient(t, "Alice")
	f.declare(t, doc, "09:00", "10:00", 30)

	appt, err := f.book(doc, alice, "09:00", "")
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, appt.ID, doc, "")
	require.NoError(t, err)

	got, err := f.svc.ListByPatient(ctx, alice, Page{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, StatusConfirmed, got[0].Status)
}

func TestNormalizePage(t *testing.T) {
	assert.Equal(t, Page{}, normalizePage(Page{Limit: -1, Offset: -3}))
	assert.Equal(t, Page{Limit: maxPageLimit}, normalizePage(Page{Limit: 10000}))
	assert.Equal(t, Page{Limit: 5, Offset: 2}, normalizePage(Page{Limit: 5, Offset: 2}))
}

func ids(list []Appointment) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(list))
	for _, a := range list {
		out = append(out, a.ID)
	}
	return out
}
