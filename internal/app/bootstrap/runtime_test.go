package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/appointment-engine/internal/appointment"
	"github.com/hackgods/appointment-engine/internal/config"
	redisclient "github.com/hackgods/appointment-engine/internal/redis"
)

func memoryConfig() config.Config {
	return config.Config{
		StoreBackend:       config.StoreMemory,
		StoreTimeout:       time.Second,
		DefaultGranularity: 30 * time.Minute,
		LockTTL:            time.Second,
		LockWait:           time.Second,
	}
}

func TestBuildRuntime_MemoryWithoutRedis(t *testing.T) {
	rt, err := BuildRuntime(context.Background(), memoryConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer rt.Close()

	assert.IsType(t, &appointment.LocalBroadcaster{}, rt.Changes)
	assert.Empty(t, rt.Dependencies)
	assert.NoError(t, rt.Ready(context.Background()))

	families, err := rt.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestBuildRuntime_MemoryWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.RedisAddr = mr.Addr()

	rt, err := BuildRuntime(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer rt.Close()

	assert.IsType(t, &redisclient.Notifier{}, rt.Changes)
	require.Len(t, rt.Dependencies, 1)
	assert.Equal(t, "redis", rt.Dependencies[0].Name)
	assert.NoError(t, rt.Ready(context.Background()))

	ctx := context.Background()
	doc := uuid.New()
	_, err = rt.Service.RegisterPractitioner(ctx, doc, "Dr. D", "Dentist")
	require.NoError(t, err)
	_, err = rt.Service.DeclareAvailability(ctx, doc,
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		appointment.TimeOfDay(9*60), appointment.TimeOfDay(10*60), 30)
	require.NoError(t, err)

	mr.Close()
	assert.Error(t, rt.Ready(context.Background()))
}

func TestBuildRuntime_RedisUnreachable(t *testing.T) {
	cfg := memoryConfig()
	cfg.RedisAddr = "127.0.0.1:1"

	_, err := BuildRuntime(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestBuildRuntime_UnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.StoreBackend = "sqlite"

	_, err := BuildRuntime(context.Background(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown store backend")
}
