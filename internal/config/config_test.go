package config

import (
	"strings"
	"testing"
	"time"

	fpmath "PerpFunding/internal/math"
	"PerpFunding/internal/oracle"
	"PerpFunding/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const marketsYAML = `
guard_rails:
  validity:
    slots_before_stale: 25
markets:
  - market_index: 0
    symbol: SOL-PERP
    amm:
      oracle: ${TEST_SOL_ORACLE}
      oracle_source: pyth
      base_asset_reserve: 10000000000000
      quote_asset_reserve: "101000000000"
      peg_multiplier: 1000
      funding_period: 3600
      last_oracle_price_twap: 100000000
      last_mark_price_twap: 101000000
  - market_index: 1
    amm:
      oracle_source: quote_asset
      base_asset_reserve: 1
      quote_asset_reserve: 1
      peg_multiplier: 1
      funding_period: 60
`

func TestParseMarkets(t *testing.T) {
	t.Setenv("TEST_SOL_ORACLE", "sol-pyth-account")

	f, err := ParseMarkets([]byte(marketsYAML))
	require.NoError(t, err)
	require.Len(t, f.Markets, 2)

	sol := f.Markets[0]
	assert.Equal(t, "sol-pyth-account", sol.AMM.Oracle)
	assert.Equal(t, oracle.SourcePyth, sol.AMM.OracleSource)
	assert.Equal(t, fpmath.NewU128(101_000_000_000), sol.AMM.QuoteAssetReserve)
	assert.Equal(t, fpmath.NewI128(100_000_000), sol.AMM.LastOraclePriceTwap)
	assert.True(t, sol.Initialized)

	assert.Equal(t, "MARKET-1", f.Markets[1].Symbol)

	// overridden field kept, the rest defaulted
	assert.Equal(t, int64(25), f.GuardRails.Validity.SlotsBeforeStale)
	assert.Equal(t, state.DefaultGuardRails.PriceDivergence, f.GuardRails.PriceDivergence)
	assert.Equal(t, state.DefaultGuardRails.Validity.TooVolatileRatio, f.GuardRails.Validity.TooVolatileRatio)
}

func TestParseMarkets_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no markets", "markets: []", "no markets"},
		{"missing oracle", `
markets:
  - market_index: 0
    amm: {oracle_source: pyth, base_asset_reserve: 1, quote_asset_reserve: 1, peg_multiplier: 1, funding_period: 1}
`, "oracle account required"},
		{"duplicate index", `
markets:
  - market_index: 3
    amm: {oracle_source: quote_asset, base_asset_reserve: 1, quote_asset_reserve: 1, peg_multiplier: 1, funding_period: 1}
  - market_index: 3
    amm: {oracle_source: quote_asset, base_asset_reserve: 1, quote_asset_reserve: 1, peg_multiplier: 1, funding_period: 1}
`, "duplicate market_index 3"},
		{"unknown source", `
markets:
  - market_index: 0
    amm: {oracle_source: chainlink}
`, "unknown oracle source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMarkets([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "error %q should mention %q", err, tt.want)
		})
	}
}

func TestDefaultConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PERP_PERSIST_BATCH_SIZE", "7")
	t.Setenv("PERP_PERSIST_FLUSH_TIMEOUT", "250ms")
	t.Setenv("PERP_SNAPSHOT_INTERVAL", "not-a-number")

	cfg := DefaultConfig()
	assert.Equal(t, 7, cfg.PersistBatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.PersistFlushTimeout)
	assert.Equal(t, int64(100_000), cfg.SnapshotInterval)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PersistChanSize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.SnapshotInterval = -1
	assert.Error(t, cfg.Validate())
}
