package memorystore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/PaulFidika/receiptkit/core"
	"github.com/PaulFidika/receiptkit/siws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPolicy(id, resource, grantee string, created time.Time) *core.Policy {
	return &core.Policy{
		ID:         id,
		ResourceID: resource,
		OwnerID:    "owner",
		GranteeID:  grantee,
		CapsuleRef: core.CapsuleRef("capsule-" + id),
		CreatedAt:  created,
	}
}

func TestPolicyStore_LatestPrefersNewest(t *testing.T) {
	ctx := context.Background()
	s := NewPolicyStore()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Create(ctx, newPolicy("p1", "R1", "U2", t0)))
	require.NoError(t, s.Create(ctx, newPolicy("p2", "R1", "U2", t0.Add(time.Hour))))
	// Same timestamp as p2: the later insert wins on sequence.
	require.NoError(t, s.Create(ctx, newPolicy("p3", "R1", "U2", t0.Add(time.Hour))))
	require.NoError(t, s.Create(ctx, newPolicy("p4", "R1", "U5", t0.Add(2*time.Hour))))

	got, err := s.Latest(ctx, "R1", "U2")
	require.NoError(t, err)
	assert.Equal(t, "p3", got.ID)

	_, err = s.Latest(ctx, "R1", "U9")
	assert.ErrorIs(t, err, core.ErrPolicyNotFound)
}

func TestPolicyStore_RevokeIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewPolicyStore()
	now := time.Now().UTC()
	require.NoError(t, s.Create(ctx, newPolicy("p1", "R1", "U2", now)))

	changed, err := s.Revoke(ctx, "p1", now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Revoke(ctx, "p1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)

	p, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, p.Revoked)
	require.NotNil(t, p.RevokedAt)
	assert.True(t, p.RevokedAt.Equal(now), "second revoke must not move revoked_at")

	_, err = s.Revoke(ctx, "missing", now)
	assert.ErrorIs(t, err, core.ErrPolicyNotFound)
}

func TestPolicyStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewPolicyStore()
	require.NoError(t, s.Create(ctx, newPolicy("p1", "R1", "U2", time.Now())))

	p, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	p.Revoked = true

	again, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, again.Revoked)
}

func TestPolicyStore_DuplicateID(t *testing.T) {
	ctx := context.Background()
	s := NewPolicyStore()
	require.NoError(t, s.Create(ctx, newPolicy("p1", "R1", "U2", time.Now())))
	assert.ErrorIs(t, s.Create(ctx, newPolicy("p1", "R1", "U3", time.Now())), ErrDuplicatePolicy)
}

func TestPolicyStore_ListAndExpiring(t *testing.T) {
	ctx := context.Background()
	s := NewPolicyStore()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, res := range []string{"R1", "R2", "R1"} {
		p := newPolicy(fmt.Sprintf("p%d", i), res, "U2", t0.Add(time.Duration(i)*time.Hour))
		exp := p.CreatedAt.Add(24 * time.Hour)
		p.ExpiresAt = &exp
		require.NoError(t, s.Create(ctx, p))
	}
	other := newPolicy("x", "R1", "U2", t0)
	other.OwnerID = "someone-else"
	require.NoError(t, s.Create(ctx, other))

	all, err := s.ListByOwner(ctx, "owner", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "p0", all[0].ID)
	assert.Equal(t, "p2", all[2].ID)

	r1, err := s.ListByOwner(ctx, "owner", "R1")
	require.NoError(t, err)
	assert.Len(t, r1, 2)

	// Expiries are t0+24h, t0+25h, t0+26h; window (t0+24h, t0+25h] holds only p1.
	exp, err := s.ExpiringBetween(ctx, t0.Add(24*time.Hour), t0.Add(25*time.Hour))
	require.NoError(t, err)
	require.Len(t, exp, 1)
	assert.Equal(t, "p1", exp[0].ID)
}

func TestPolicyStore_ConcurrentCreateDistinctSeq(t *testing.T) {
	ctx := context.Background()
	s := NewPolicyStore()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Create(ctx, newPolicy(fmt.Sprintf("p%d", i), "R1", "U2", now))
		}(i)
	}
	wg.Wait()

	seen := map[int64]bool{}
	list, err := s.ListByOwner(ctx, "owner", "R1")
	require.NoError(t, err)
	require.Len(t, list, 50)
	for _, p := range list {
		assert.False(t, seen[p.Seq], "duplicate seq %d", p.Seq)
		seen[p.Seq] = true
	}
	latest, err := s.Latest(ctx, "R1", "U2")
	require.NoError(t, err)
	assert.Equal(t, int64(50), latest.Seq)
}

func TestSIWSCache_ConsumeOnce(t *testing.T) {
	ctx := context.Background()
	c := NewSIWSCache(time.Minute)
	defer c.Close()

	require.NoError(t, c.Put(ctx, "n1", siws.ChallengeData{Address: "addr"}))
	d, ok, err := c.Consume(ctx, "n1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "addr", d.Address)

	_, ok, err = c.Consume(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, ok, "nonce must not be consumable twice")
}

func TestSIWSCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewSIWSCache(time.Millisecond)
	defer c.Close()

	require.NoError(t, c.Put(ctx, "n1", siws.ChallengeData{Address: "addr"}))
	time.Sleep(5 * time.Millisecond)
	_, ok, err := c.Consume(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, ok)
}
