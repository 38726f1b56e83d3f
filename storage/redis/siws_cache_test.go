package redisstore

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PaulFidika/receiptkit/siws"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// EnvTestRedisAddr points the tests at a disposable Redis.
const EnvTestRedisAddr = "RECEIPTKIT_TEST_REDIS_ADDR"

func newCache(t *testing.T, ttl time.Duration) (*SIWSCache, *redis.Client) {
	t.Helper()
	addr := strings.TrimSpace(os.Getenv(EnvTestRedisAddr))
	if addr == "" {
		t.Skipf("%s not set", EnvTestRedisAddr)
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, rdb.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = rdb.Close() })
	return NewSIWSCache(rdb, "receiptkit:test:siws:"+uuid.NewString()+":", ttl), rdb
}

func TestSIWSCache_ConsumeOnce(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t, time.Minute)
	issued := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, c.Put(ctx, "n1", siws.ChallengeData{Address: "addr", Domain: "receipts.test", IssuedAt: issued, ExpiresAt: issued.Add(time.Minute)}))
	d, ok, err := c.Consume(ctx, "n1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "addr", d.Address)
	assert.Equal(t, "receipts.test", d.Domain)
	assert.True(t, d.IssuedAt.Equal(issued))

	_, ok, err = c.Consume(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.Consume(ctx, "never-issued")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSIWSCache_ConcurrentConsumeSingleWinner(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t, time.Minute)
	require.NoError(t, c.Put(ctx, "n1", siws.ChallengeData{Address: "addr"}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := c.Consume(ctx, "n1")
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestSIWSCache_TTL(t *testing.T) {
	ctx := context.Background()
	c, rdb := newCache(t, 30*time.Second)
	require.NoError(t, c.Put(ctx, "n1", siws.ChallengeData{Address: "addr"}))

	ttl, err := rdb.TTL(ctx, c.key("n1")).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
	assert.LessOrEqual(t, ttl, 30*time.Second)
	_, _, _ = c.Consume(ctx, "n1")
}
