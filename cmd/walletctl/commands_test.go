package main

import (
	"bytes"
	"testing"

	"healthwallet-service/internal/domain/wallet"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("VOUCHER_CATALOG_PATH", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("MONGO_URI", "")

	var out bytes.Buffer
	a := newApp()
	a.Writer = &out
	err := a.Run(append([]string{"walletctl", "--store", "memory"}, args...))
	return out.String(), err
}

func TestGenDeposits(t *testing.T) {
	inputs := genDeposits(50)
	require.Len(t, inputs, 50)

	refs := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		assert.Equal(t, wallet.TransactionDeposit, in.Type)
		assert.Positive(t, in.AmountMinorUnits)
		assert.GreaterOrEqual(t, in.PointsDelta, int64(0))
		require.NotNil(t, in.ExternalReference)
		refs[*in.ExternalReference] = true
	}
	assert.Len(t, refs, 50, "references must be unique")
}

func TestSeedVouchersCommand(t *testing.T) {
	out, err := run(t, "seed-vouchers")
	require.NoError(t, err)
	assert.Contains(t, out, "seeded")
}

func TestStressCommandKeepsProjectionInSync(t *testing.T) {
	out, err := run(t, "stress", "--threads", "8", "--accounts", "3", "--ops", "200")
	require.NoError(t, err)
	assert.Contains(t, out, "posted 200 deposits over 3 accounts, 0 diverged")
}

func TestSweepAndIntegrityOnEmptyStore(t *testing.T) {
	out, err := run(t, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "expired 0 intents")

	out, err = run(t, "integrity")
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
}

func TestMigrateNeedsPostgres(t *testing.T) {
	_, err := run(t, "migrate")
	assert.Error(t, err)
}
