package oracle

import (
	"encoding/binary"
	"fmt"

	fpmath "PerpFunding/internal/math"
)

const (
	SwitchboardMagic       uint32 = 0x53574244 // "SWBD"
	SwitchboardAccountSize        = 60
)

// SwitchboardDecimal is Mantissa / 10^Scale.
type SwitchboardDecimal struct {
	Mantissa fpmath.I128
	Scale    uint32
}

// SwitchboardAggregator holds the latest confirmed round of an aggregator.
type SwitchboardAggregator struct {
	Result           SwitchboardDecimal
	StdDeviation     SwitchboardDecimal
	RoundOpenSlot    uint64
	NumSuccess       uint32
	MinOracleResults uint32
}

// Layout (little-endian):
//
//	0  magic u32
//	4  result.mantissa i128
//	20 result.scale u32
//	24 std_dev.mantissa i128
//	40 std_dev.scale u32
//	44 round_open_slot u64
//	52 num_success u32
//	56 min_oracle_results u32
func DecodeSwitchboardAggregator(b []byte) (SwitchboardAggregator, error) {
	if len(b) != SwitchboardAccountSize {
		return SwitchboardAggregator{}, fmt.Errorf("switchboard account: %d bytes: %w", len(b), ErrUnableToLoadOracle)
	}
	if magic := binary.LittleEndian.Uint32(b[0:4]); magic != SwitchboardMagic {
		return SwitchboardAggregator{}, fmt.Errorf("switchboard account: magic %#x: %w", magic, ErrUnableToLoadOracle)
	}
	return SwitchboardAggregator{
		Result: SwitchboardDecimal{
			Mantissa: fpmath.I128FromLE(b[4:20]),
			Scale:    binary.LittleEndian.Uint32(b[20:24]),
		},
		StdDeviation: SwitchboardDecimal{
			Mantissa: fpmath.I128FromLE(b[24:40]),
			Scale:    binary.LittleEndian.Uint32(b[40:44]),
		},
		RoundOpenSlot:    binary.LittleEndian.Uint64(b[44:52]),
		NumSuccess:       binary.LittleEndian.Uint32(b[52:56]),
		MinOracleResults: binary.LittleEndian.Uint32(b[56:60]),
	}, nil
}

func (a SwitchboardAggregator) Encode() []byte {
	b := make([]byte, SwitchboardAccountSize)
	binary.LittleEndian.PutUint32(b[0:4], SwitchboardMagic)
	a.Result.Mantissa.PutLE(b[4:20])
	binary.LittleEndian.PutUint32(b[20:24], a.Result.Scale)
	a.StdDeviation.Mantissa.PutLE(b[24:40])
	binary.LittleEndian.PutUint32(b[40:44], a.StdDeviation.Scale)
	binary.LittleEndian.PutUint64(b[44:52], a.RoundOpenSlot)
	binary.LittleEndian.PutUint32(b[52:56], a.NumSuccess)
	binary.LittleEndian.PutUint32(b[56:60], a.MinOracleResults)
	return b
}

// ToMarkPrecision rescales the decimal to mark price precision, truncating
// digits beyond it.
func (d SwitchboardDecimal) ToMarkPrecision() (fpmath.I128, error) {
	mult, div, err := scaleFactors(d.Scale)
	if err != nil {
		return fpmath.I128{}, fmt.Errorf("switchboard scale 10^%d: %w", d.Scale, err)
	}
	multI, err := mult.ToI128()
	if err != nil {
		return fpmath.I128{}, err
	}
	divI, err := div.ToI128()
	if err != nil {
		return fpmath.I128{}, err
	}
	v, err := d.Mantissa.Mul(multI)
	if err != nil {
		return fpmath.I128{}, err
	}
	return v.Div(divI)
}

var tenBpsDivisor = fpmath.NewU128(1000)

func getSwitchboardPrice(account []byte, clockSlot uint64) (PriceData, error) {
	agg, err := DecodeSwitchboardAggregator(account)
	if err != nil {
		return PriceData{}, err
	}

	price, err := agg.Result.ToMarkPrecision()
	if err != nil {
		return PriceData{}, fmt.Errorf("switchboard price: %w", err)
	}
	stdDev, err := agg.StdDeviation.ToMarkPrecision()
	if err != nil {
		return PriceData{}, fmt.Errorf("switchboard std deviation: %w", err)
	}

	// a negative std deviation is nonsense; max it out so the guard rejects it
	confidence := fpmath.U128Max
	if !stdDev.IsNegative() {
		price10bps, err := price.UnsignedAbs().Div(tenBpsDivisor)
		if err != nil {
			return PriceData{}, err
		}
		confidence = fpmath.MaxU128(stdDev.UnsignedAbs(), price10bps)
	}

	delay, err := slotDelay(clockSlot, agg.RoundOpenSlot)
	if err != nil {
		return PriceData{}, fmt.Errorf("switchboard delay: %w", err)
	}

	return PriceData{
		Price:                           price,
		Confidence:                      confidence,
		Delay:                           delay,
		HasSufficientNumberOfDataPoints: agg.NumSuccess >= agg.MinOracleResults,
	}, nil
}
