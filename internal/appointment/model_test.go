package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{in: "00:00", want: 0},
		{in: "09:30", want: 570},
		{in: " 23:59 ", want: 1439},
		{in: "24:00", want: 1440},
		{in: "24:01", wantErr: true},
		{in: "9:5", wantErr: true},
		{in: "25:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "noon", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimeOfDay_Text(t *testing.T) {
	var tod TimeOfDay
	require.NoError(t, tod.UnmarshalText([]byte("07:05")))
	b, err := tod.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "07:05", string(b))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-01-10")
	require.NoError(t, err)
	assert.Equal(t, testDate, d)

	_, err = ParseDate("10/01/2024")
	assert.ErrorIs(t, err, ErrInvalidInput)

	local := time.Date(2024, 1, 10, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, testDate, DateOf(local))
}

func TestAvailabilityWindow(t *testing.T) {
	w := AvailabilityWindow{Start: MustTimeOfDay("09:00"), End: MustTimeOfDay("10:00"), Granularity: 25}

	assert.Equal(t, []TimeOfDay{MustTimeOfDay("09:00"), MustTimeOfDay("09:25")}, w.Slots())
	assert.True(t, w.Contains(MustTimeOfDay("09:25")))
	assert.False(t, w.Contains(MustTimeOfDay("09:50")), "slot would end after the window")
	assert.False(t, w.Contains(MustTimeOfDay("09:10")))
	assert.False(t, w.Contains(MustTimeOfDay("08:35")))

	assert.True(t, w.Overlaps(MustTimeOfDay("09:59"), MustTimeOfDay("11:00")))
	assert.False(t, w.Overlaps(MustTimeOfDay("10:00"), MustTimeOfDay("11:00")))
	assert.False(t, w.Overlaps(MustTimeOfDay("08:00"), MustTimeOfDay("09:00")))
}

func TestAppointment_StartsAt(t *testing.T) {
	a := Appointment{Date: testDate, SlotStart: MustTimeOfDay("09:30")}
	assert.Equal(t, time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC), a.StartsAt())
	assert.Equal(t, a.PractitionerID.String()+":2024-01-10:09:30", a.Key().String())
}

func TestParseSpecialty(t *testing.T) {
	tests := []struct {
		in         string
		want       Specialty
		wantCustom string
	}{
		{"Cardiologist", SpecialtyCardiologist, ""},
		{"  dentist", SpecialtyDentist, ""},
		{"OPHTHALMOLOGIST", SpecialtyOphthalmologist, ""},
		{"Other", SpecialtyOther, ""},
		{"Podiatrist", SpecialtyOther, "Podiatrist"},
	}
	for _, tt := range tests {
		got, custom := ParseSpecialty(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.wantCustom, custom, tt.in)
	}

	assert.Len(t, Specialties(), len(specialtyNames))
	assert.Equal(t, "Other", Specialty(99).String())
}
