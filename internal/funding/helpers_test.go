package funding_test

import (
	fpmath "PerpFunding/internal/math"
	"PerpFunding/internal/oracle"
	"PerpFunding/internal/state"
)

const testSlot = 100

// newScenarioMarket: hourly funding, mark 101_000_000 on the curve, both
// TWAPs already at their steady values and no open interest.
func newScenarioMarket() *state.Market {
	return &state.Market{
		MarketIndex: 0,
		Symbol:      "SOL-PERP",
		Initialized: true,
		AMM: state.AMM{
			Oracle:              "pyth-sol",
			OracleSource:        oracle.SourcePyth,
			BaseAssetReserve:    fpmath.NewU128(10_000_000_000_000),
			QuoteAssetReserve:   fpmath.NewU128(101_000_000_000),
			PegMultiplier:       fpmath.NewU128(1_000),
			FundingPeriod:       3600,
			LastOraclePriceTwap: fpmath.NewI128(100_000_000),
			LastMarkPriceTwap:   fpmath.NewU128(101_000_000),
		},
	}
}

// healthyOracle reports 100_000_000 at mark precision with zero confidence.
func healthyOracle() []byte {
	return oracle.PythPrice{Expo: -10, Price: 100_000_000, Conf: 0, ValidSlot: testSlot}.Encode()
}

func i128(v int64) fpmath.I128 { return fpmath.NewI128(v) }
