package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/PaulFidika/receiptkit/siws"
	"github.com/redis/go-redis/v9"
)

const defaultNoncePrefix = "receiptkit:siws:nonce:"

// SIWSCache stores pending SIWS challenges in Redis so that a challenge
// issued by one replica can be redeemed on another.
type SIWSCache struct {
	rdb   redis.Cmdable
	keyNS string
	ttl   time.Duration
}

func NewSIWSCache(rdb redis.Cmdable, keyPrefix string, ttl time.Duration) *SIWSCache {
	if keyPrefix == "" {
		keyPrefix = defaultNoncePrefix
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SIWSCache{rdb: rdb, keyNS: keyPrefix, ttl: ttl}
}

func (c *SIWSCache) key(nonce string) string { return c.keyNS + nonce }

func (c *SIWSCache) Put(ctx context.Context, nonce string, data siws.ChallengeData) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(nonce), b, c.ttl).Err()
}

// Consume uses GETDEL so that two concurrent logins cannot both redeem the
// same nonce.
func (c *SIWSCache) Consume(ctx context.Context, nonce string) (siws.ChallengeData, bool, error) {
	val, err := c.rdb.GetDel(ctx, c.key(nonce)).Bytes()
	if errors.Is(err, redis.Nil) {
		return siws.ChallengeData{}, false, nil
	}
	if err != nil {
		return siws.ChallengeData{}, false, err
	}
	var d siws.ChallengeData
	if err := json.Unmarshal(val, &d); err != nil {
		return siws.ChallengeData{}, false, err
	}
	return d, true, nil
}
