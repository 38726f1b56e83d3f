package memorylimiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PaulFidika/receiptkit/ratelimit"
)

type bucketState struct {
	// timestamps holds request times in Unix ms, newest last.
	timestamps []int64
}

// Limiter is an in-memory sliding-window rate limiter for single-node
// deployments and tests.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]ratelimit.Limit
	buckets map[string]*bucketState
	now     func() time.Time
}

// New constructs a limiter with the provided per-bucket limits. A nil map
// uses ratelimit.DefaultLimits.
func New(limits map[string]ratelimit.Limit) *Limiter {
	if limits == nil {
		limits = ratelimit.DefaultLimits()
	}
	return &Limiter{
		limits:  limits,
		buckets: make(map[string]*bucketState),
		now:     time.Now,
	}
}

// Allow records one request for key in bucket and reports whether it fits
// the window. Denied attempts are not recorded.
func (l *Limiter) Allow(_ context.Context, bucket, key string) (bool, error) {
	if l == nil {
		return true, nil
	}
	if bucket == "" || key == "" {
		return false, fmt.Errorf("bucket and key required")
	}

	lim := ratelimit.Lookup(l.limits, bucket)
	nowMs := l.now().UnixMilli()
	windowStart := nowMs - lim.Window.Milliseconds()
	limitKey := key + ":" + bucket

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[limitKey]
	if !ok {
		b = &bucketState{}
		l.buckets[limitKey] = b
	}

	ts := b.timestamps
	i := 0
	for i < len(ts) && ts[i] <= windowStart {
		i++
	}
	ts = ts[i:]

	if len(ts) >= lim.Limit {
		b.timestamps = ts
		return false, nil
	}
	b.timestamps = append(ts, nowMs)
	return true, nil
}

// Sweep drops buckets whose every entry has left its window.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	nowMs := l.now().UnixMilli()
	for k, b := range l.buckets {
		if len(b.timestamps) == 0 {
			delete(l.buckets, k)
			continue
		}
		// Longest configured window bounds how long any entry matters.
		newest := b.timestamps[len(b.timestamps)-1]
		if nowMs-newest > l.maxWindow().Milliseconds() {
			delete(l.buckets, k)
		}
	}
}

func (l *Limiter) maxWindow() time.Duration {
	var w time.Duration
	for _, lim := range l.limits {
		if lim.Window > w {
			w = lim.Window
		}
	}
	if w == 0 {
		w = time.Minute
	}
	return w
}
