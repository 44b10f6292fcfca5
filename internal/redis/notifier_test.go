package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_PublishSubscribe(t *testing.T) {
	_, client := newTestClient(t)
	n := NewNotifier(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := n.Subscribe(ctx, []string{"changes:practitioner:p1"})
	require.NoError(t, err)

	require.NoError(t, n.Publish(ctx, []string{"changes:practitioner:p1", "changes:patient:x"}, []byte(`{"type":"APPOINTMENT_CREATED"}`)))

	select {
	case got := <-msgs:
		assert.JSONEq(t, `{"type":"APPOINTMENT_CREATED"}`, string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestNotifier_SubscriptionEndsWithContext(t *testing.T) {
	_, client := newTestClient(t)
	n := NewNotifier(client)

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := n.Subscribe(ctx, []string{"changes:patient:x"})
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close")
	}
}

func TestNotifier_PublishFailsWhenRedisDown(t *testing.T) {
	mr, client := newTestClient(t)
	n := NewNotifier(client)
	mr.Close()

	err := n.Publish(context.Background(), []string{"changes:patient:x"}, []byte("{}"))
	assert.Error(t, err)
}
