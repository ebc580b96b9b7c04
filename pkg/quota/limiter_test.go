package quota

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseLimiter(t *testing.T, l Limiter) {
	t.Helper()
	ctx := context.Background()
	key := "client-" + uuid.NewString()
	now := time.Date(2026, 5, 10, 22, 0, 0, 0, time.UTC)

	for i := 1; i <= 2; i++ {
		u, err := l.Consume(ctx, key, 2, now)
		require.NoError(t, err)
		assert.True(t, u.Allowed)
		assert.Equal(t, i, u.Used)
	}

	u, err := l.Consume(ctx, key, 2, now)
	require.NoError(t, err)
	assert.False(t, u.Allowed)
	assert.Equal(t, 2, u.Used)
	assert.Equal(t, time.Date(2026, 5, 11, 0, 0, 0, 0, time.UTC), u.ResetAfter)

	next, err := l.Consume(ctx, key, 2, now.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, next.Allowed, "a new day starts a new window")
	assert.Equal(t, 1, next.Used)
}

func TestMemoryLimiter(t *testing.T) {
	exerciseLimiter(t, NewMemoryLimiter())
}

func TestRedisLimiter(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	exerciseLimiter(t, NewRedisLimiter(rdb))
}
