package credential

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/PaulFidika/receiptkit/siws"
	memorystore "github.com/PaulFidika/receiptkit/storage/memory"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallengeWindow(t *testing.T) {
	issued, exp, err := challengeWindow(siws.SignInInput{IssuedAt: "2026-05-01T10:00:00Z"}, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC), issued)
	assert.Equal(t, issued.Add(10*time.Minute), exp)

	_, _, err = challengeWindow(siws.SignInInput{IssuedAt: "yesterday"}, time.Minute)
	assert.Error(t, err)
}

func TestChallenge_StoresIssueWindow(t *testing.T) {
	ctx := context.Background()
	cache := memorystore.NewSIWSCache(time.Hour)
	defer cache.Close()

	svc, err := NewSIWSService(SIWSConfig{Domain: "receipts.test", ChallengeTTL: 5 * time.Minute}, cache, nil, nil)
	require.NoError(t, err)
	fixed := time.Now().UTC().Truncate(time.Second)
	svc.now = func() time.Time { return fixed }

	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	addr := base58.Encode(pub)

	ch, err := svc.Challenge(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, fixed.Add(5*time.Minute), ch.ExpiresAt)

	data, ok, err := cache.Consume(ctx, ch.Nonce)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fixed, data.IssuedAt)
	assert.Equal(t, ch.ExpiresAt, data.ExpiresAt)
	assert.False(t, data.IssuedAt.IsZero())
}
