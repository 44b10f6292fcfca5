package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-engine/internal/api"
	"github.com/hackgods/appointment-engine/internal/appointment"
	"github.com/hackgods/appointment-engine/internal/client"
	"github.com/hackgods/appointment-engine/internal/config"
)

const secret = "schedctl-test"

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	svc := appointment.NewService(appointment.NewMemoryRepository(), appointment.NewLocalLocker(time.Second),
		config.Config{StoreTimeout: time.Second, DefaultGranularity: 30 * time.Minute})
	srv := httptest.NewServer(api.NewRouter(api.RouterConfig{Service: svc, Logger: zerolog.Nop(), IdentitySecret: secret}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func mustToken(t *testing.T, name string) (string, uuid.UUID) {
	t.Helper()
	out, err := run(t, "token", "--secret", secret, "--name", name)
	require.NoError(t, err)
	token := strings.TrimSpace(out)
	me, err := client.TokenIdentity(token)
	require.NoError(t, err)
	assert.Equal(t, name, me.Name)
	return token, me.ID
}

func TestSchedctl_EndToEnd(t *testing.T) {
	srv := newServer(t)
	docToken, docID := mustToken(t, "Dr. D")
	aliceToken, _ := mustToken(t, "Alice")

	as := func(token string, args ...string) string {
		t.Helper()
		out, err := run(t, append([]string{"--server", srv.URL, "--token", token}, args...)...)
		require.NoError(t, err, out)
		return out
	}

	out := as(docToken, "practitioner", "register", "--specialty", "Dentist")
	assert.Contains(t, out, `"name": "Dr. D"`)
	as(aliceToken, "patient", "register")
	as(docToken, "availability", "declare", "--date", "2024-01-10", "--start", "09:00", "--end", "10:00")

	var slots []api.SlotResponse
	require.NoError(t, json.Unmarshal([]byte(as(aliceToken, "slots", "--practitioner", docID.String(), "--date", "2024-01-10")), &slots))
	require.Len(t, slots, 2)

	var appt api.AppointmentResponse
	require.NoError(t, json.Unmarshal([]byte(as(aliceToken, "book", "--practitioner", docID.String(), "--date", "2024-01-10", "--start", "09:30")), &appt))
	assert.Equal(t, "requested", appt.Status)

	out = as(docToken, "confirm", appt.ID.String(), "--message", "See you")
	assert.Contains(t, out, `"status": "confirmed"`)

	var list []api.AppointmentResponse
	require.NoError(t, json.Unmarshal([]byte(as(docToken, "appointments", "--as", "practitioner")), &list))
	require.Len(t, list, 1)

	out = as(aliceToken, "cancel", appt.ID.String(), "--reason", "sick")
	assert.Contains(t, out, `"status": "cancelled"`)

	out = as(aliceToken, "history", appt.ID.String())
	assert.Contains(t, out, "sick")
}

func TestSchedctl_Errors(t *testing.T) {
	srv := newServer(t)
	token, _ := mustToken(t, "Bob")

	_, err := run(t, "--server", srv.URL, "specialties")
	assert.ErrorContains(t, err, "no token")

	_, err = run(t, "--server", srv.URL, "--token", token, "show", "nope")
	assert.ErrorContains(t, err, "appointment id must be a UUID")

	_, err = run(t, "--server", srv.URL, "--token", token, "show", uuid.NewString())
	assert.ErrorContains(t, err, "appointment_not_found")

	_, err = run(t, "--server", srv.URL, "--token", token, "appointments", "--as", "admin")
	assert.ErrorContains(t, err, "--as must be patient or practitioner")

	_, err = run(t, "token", "--secret", "", "--name", "X")
	assert.Error(t, err)
}
