package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBroadcaster(t *testing.T) {
	b := NewLocalBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())

	msgs, err := b.Subscribe(ctx, []string{"a", "b"})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), []string{"a"}, []byte("one")))
	require.NoError(t, b.Publish(context.Background(), []string{"c"}, []byte("ignored")))
	require.NoError(t, b.Publish(context.Background(), []string{"b"}, []byte("two")))

	assert.Equal(t, "one", string(<-msgs))
	assert.Equal(t, "two", string(<-msgs))

	cancel()
	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}

	// publishing after the subscriber left is harmless
	assert.NoError(t, b.Publish(context.Background(), []string{"a"}, []byte("late")))
}
