package receipthttp

import (
	"time"

	"github.com/PaulFidika/receiptkit/siws"
	memorystore "github.com/PaulFidika/receiptkit/storage/memory"
	redisstore "github.com/PaulFidika/receiptkit/storage/redis"
	"github.com/redis/go-redis/v9"
)

// NewChallengeCache picks the Redis cache when rdb is set so challenges
// survive across replicas, and the in-memory one otherwise.
func NewChallengeCache(rdb redis.Cmdable, ttl time.Duration) siws.ChallengeCache {
	if rdb != nil {
		return redisstore.NewSIWSCache(rdb, "", ttl)
	}
	return memorystore.NewSIWSCache(ttl)
}
