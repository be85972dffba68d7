package oracle_test

import (
	"testing"

	fpmath "PerpFunding/internal/math"
	"PerpFunding/internal/oracle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func switchboardAccount(mantissa int64, scale uint32, stdDev int64, stdScale uint32, numSuccess, minResults uint32) []byte {
	return oracle.SwitchboardAggregator{
		Result:           oracle.SwitchboardDecimal{Mantissa: fpmath.NewI128(mantissa), Scale: scale},
		StdDeviation:     oracle.SwitchboardDecimal{Mantissa: fpmath.NewI128(stdDev), Scale: stdScale},
		RoundOpenSlot:    100,
		NumSuccess:       numSuccess,
		MinOracleResults: minResults,
	}.Encode()
}

// ============================================================================
// Test: Pyth-style feed
// ============================================================================

func TestGetOraclePrice_PythScalesUp(t *testing.T) {
	account := oracle.PythPrice{Expo: -8, Price: 100_000_000, Conf: 50_000, ValidSlot: 100}.Encode()

	data, err := oracle.GetOraclePrice(oracle.SourcePyth, account, 105)
	require.NoError(t, err)
	assert.Equal(t, fpmath.NewI128(10_000_000_000), data.Price)
	assert.Equal(t, fpmath.NewU128(5_000_000), data.Confidence)
	assert.Equal(t, int64(5), data.Delay)
	assert.True(t, data.HasSufficientNumberOfDataPoints)
}

func TestGetOraclePrice_PythScalesDown(t *testing.T) {
	account := oracle.PythPrice{Expo: -12, Price: 1_234_567_891_234, Conf: 999, ValidSlot: 100}.Encode()

	data, err := oracle.GetOraclePrice(oracle.SourcePyth, account, 100)
	require.NoError(t, err)
	assert.Equal(t, fpmath.NewI128(12_345_678_912), data.Price)
	assert.Equal(t, fpmath.NewU128(9), data.Confidence)
	assert.Equal(t, int64(0), data.Delay)
}

func TestGetOraclePrice_PythNativePrecision(t *testing.T) {
	account := oracle.PythPrice{Expo: -10, Price: -42, Conf: 7, ValidSlot: 1}.Encode()

	data, err := oracle.GetOraclePrice(oracle.SourcePyth, account, 1)
	require.NoError(t, err)
	assert.Equal(t, fpmath.NewI128(-42), data.Price)
	assert.Equal(t, fpmath.NewU128(7), data.Confidence)
}

func TestGetOraclePrice_PythNegativeDelay(t *testing.T) {
	account := oracle.PythPrice{Expo: -10, Price: 1, ValidSlot: 100}.Encode()

	data, err := oracle.GetOraclePrice(oracle.SourcePyth, account, 90)
	require.NoError(t, err)
	assert.Equal(t, int64(-10), data.Delay)
}

func TestGetOraclePrice_PythSlotOutOfRange(t *testing.T) {
	account := oracle.PythPrice{Expo: -10, Price: 1, ValidSlot: 1 << 63}.Encode()

	_, err := oracle.GetOraclePrice(oracle.SourcePyth, account, 1)
	assert.ErrorIs(t, err, fpmath.ErrMathError)
}

func TestGetOraclePrice_Undecodable(t *testing.T) {
	tests := []struct {
		name    string
		source  oracle.Source
		account []byte
	}{
		{"pyth empty", oracle.SourcePyth, nil},
		{"pyth short", oracle.SourcePyth, make([]byte, 10)},
		{"pyth bad magic", oracle.SourcePyth, make([]byte, oracle.PythAccountSize)},
		{"pyth given switchboard bytes", oracle.SourcePyth, switchboardAccount(1, 0, 0, 0, 1, 1)},
		{"switchboard given pyth bytes", oracle.SourceSwitchboard, oracle.PythPrice{}.Encode()},
		{"unknown source", oracle.Source(9), oracle.PythPrice{}.Encode()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := oracle.GetOraclePrice(tt.source, tt.account, 1)
			require.ErrorIs(t, err, oracle.ErrUnableToLoadOracle)
			assert.NotErrorIs(t, err, fpmath.ErrMathError)
		})
	}
}

func TestPythPrice_RoundTrip(t *testing.T) {
	p := oracle.PythPrice{Expo: -6, Price: -123, Conf: 456, ValidSlot: 789}
	got, err := oracle.DecodePythPrice(p.Encode())
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

// ============================================================================
// Test: Switchboard-style aggregator
// ============================================================================

func TestGetOraclePrice_SwitchboardConfidenceFloor(t *testing.T) {
	// 2.0 with std dev 0.000001: confidence floors at 10bps of price
	account := switchboardAccount(2_000_000, 6, 1, 6, 3, 2)

	data, err := oracle.GetOraclePrice(oracle.SourceSwitchboard, account, 110)
	require.NoError(t, err)
	assert.Equal(t, fpmath.NewI128(20_000_000_000), data.Price)
	assert.Equal(t, fpmath.NewU128(20_000_000), data.Confidence)
	assert.Equal(t, int64(10), data.Delay)
	assert.True(t, data.HasSufficientNumberOfDataPoints)
}

func TestGetOraclePrice_SwitchboardWideStdDev(t *testing.T) {
	account := switchboardAccount(2_000_000, 6, 100_000, 6, 1, 1)

	data, err := oracle.GetOraclePrice(oracle.SourceSwitchboard, account, 100)
	require.NoError(t, err)
	assert.Equal(t, fpmath.NewU128(1_000_000_000), data.Confidence)
}

func TestGetOraclePrice_SwitchboardNegativeStdDev(t *testing.T) {
	account := switchboardAccount(2_000_000, 6, -5, 6, 1, 1)

	data, err := oracle.GetOraclePrice(oracle.SourceSwitchboard, account, 100)
	require.NoError(t, err)
	assert.Equal(t, fpmath.U128Max, data.Confidence)
}

func TestGetOraclePrice_SwitchboardInsufficientResults(t *testing.T) {
	account := switchboardAccount(2_000_000, 6, 0, 6, 1, 3)

	data, err := oracle.GetOraclePrice(oracle.SourceSwitchboard, account, 100)
	require.NoError(t, err)
	assert.False(t, data.HasSufficientNumberOfDataPoints)
}

func TestGetOraclePrice_SwitchboardHighScale(t *testing.T) {
	account := switchboardAccount(1_500_000_000_000, 12, 0, 0, 1, 1)

	data, err := oracle.GetOraclePrice(oracle.SourceSwitchboard, account, 100)
	require.NoError(t, err)
	assert.Equal(t, fpmath.NewI128(15_000_000_000), data.Price)
}

func TestSwitchboardAggregator_RoundTrip(t *testing.T) {
	agg := oracle.SwitchboardAggregator{
		Result:           oracle.SwitchboardDecimal{Mantissa: fpmath.MustI128("-170141183460469231731687303715884105728"), Scale: 3},
		StdDeviation:     oracle.SwitchboardDecimal{Mantissa: fpmath.NewI128(9), Scale: 28},
		RoundOpenSlot:    77,
		NumSuccess:       4,
		MinOracleResults: 5,
	}
	got, err := oracle.DecodeSwitchboardAggregator(agg.Encode())
	require.NoError(t, err)
	assert.Equal(t, agg, got)
}

// ============================================================================
// Test: quote asset and source names
// ============================================================================

func TestGetOraclePrice_QuoteAsset(t *testing.T) {
	data, err := oracle.GetOraclePrice(oracle.SourceQuoteAsset, nil, 12345)
	require.NoError(t, err)
	assert.Equal(t, oracle.PriceData{
		Price:                           fpmath.NewI128(fpmath.MarkPricePrecision),
		Confidence:                      fpmath.NewU128(1),
		Delay:                           0,
		HasSufficientNumberOfDataPoints: true,
	}, data)
}

func TestSource_TextRoundTrip(t *testing.T) {
	for _, s := range []oracle.Source{oracle.SourcePyth, oracle.SourceSwitchboard, oracle.SourceQuoteAsset} {
		b, err := s.MarshalText()
		require.NoError(t, err)

		var got oracle.Source
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, s, got)
	}

	var bad oracle.Source
	assert.Error(t, bad.UnmarshalText([]byte("chainlink")))
}
