package main

import (
	"context"
	"testing"

	"github.com/PaulFidika/receiptkit/config"
	"github.com/PaulFidika/receiptkit/core"
	prelocal "github.com/PaulFidika/receiptkit/pre/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryReceipts_SealsSeed(t *testing.T) {
	ctx := context.Background()
	n, err := prelocal.NewRandom()
	require.NoError(t, err)

	rs, err := memoryReceipts(ctx, n, []config.SeedReceipt{
		{ID: "R1", Owner: "U1", Plaintext: "coffee 4.50"},
		{ID: "R2", Owner: "U1"},
	})
	require.NoError(t, err)

	owner, err := rs.GetOwner(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, core.Owner{ID: "U1", KeyRef: "U1/R1"}, owner)

	ct, err := rs.GetCiphertext(ctx, "R1")
	require.NoError(t, err)
	assert.NotEmpty(t, ct)
	assert.NotContains(t, string(ct), "coffee")

	_, err = rs.GetCiphertext(ctx, "R2")
	assert.ErrorIs(t, err, core.ErrReceiptNotFound)
}

func TestSealSeed_NeedsLocalNetwork(t *testing.T) {
	_, err := sealSeed(nil, config.SeedReceipt{ID: "R1", Owner: "U1", Plaintext: "x"})
	assert.Error(t, err)
}

func TestNewReEncrypter_Local(t *testing.T) {
	cfg := config.Default()
	pre, sealer, err := newReEncrypter(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotNil(t, pre)
	assert.NotNil(t, sealer)
}
