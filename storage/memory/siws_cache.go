package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/PaulFidika/receiptkit/siws"
)

// SIWSCache is an in-memory siws.ChallengeCache with TTL.
type SIWSCache struct {
	mu     sync.Mutex
	ttl    time.Duration
	data   map[string]challengeItem
	closed chan struct{}
	once   sync.Once
}

type challengeItem struct {
	v   siws.ChallengeData
	exp time.Time
}

// NewSIWSCache creates a cache whose entries live for ttl (15 minutes if
// ttl <= 0). A background goroutine drops expired entries every minute
// until Close is called.
func NewSIWSCache(ttl time.Duration) *SIWSCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	c := &SIWSCache{ttl: ttl, data: make(map[string]challengeItem), closed: make(chan struct{})}
	go c.cleanupLoop()
	return c
}

func (c *SIWSCache) Put(_ context.Context, nonce string, v siws.ChallengeData) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[nonce] = challengeItem{v: v, exp: time.Now().Add(c.ttl)}
	return nil
}

// Consume returns and removes the challenge in one step.
func (c *SIWSCache) Consume(_ context.Context, nonce string) (siws.ChallengeData, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.data[nonce]
	if !ok {
		return siws.ChallengeData{}, false, nil
	}
	delete(c.data, nonce)
	if time.Now().After(it.exp) {
		return siws.ChallengeData{}, false, nil
	}
	return it.v, true, nil
}

func (c *SIWSCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.closed:
			return
		}
	}
}

func (c *SIWSCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, v := range c.data {
		if now.After(v.exp) {
			delete(c.data, k)
		}
	}
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (c *SIWSCache) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
