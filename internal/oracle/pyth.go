package oracle

import (
	"encoding/binary"
	"fmt"

	fpmath "PerpFunding/internal/math"
)

const (
	PythMagic       uint32 = 0xa1b2c3d4
	PythVersion     uint32 = 2
	PythAccountSize        = 36
)

// PythPrice is the aggregate price account of a Pyth-style feed:
// a signed mantissa and confidence sharing one base-10 exponent.
type PythPrice struct {
	Expo      int32
	Price     int64
	Conf      uint64
	ValidSlot uint64
}

// Layout (little-endian):
//
//	0  magic u32
//	4  version u32
//	8  expo i32
//	12 price i64
//	20 conf u64
//	28 valid_slot u64
func DecodePythPrice(b []byte) (PythPrice, error) {
	if len(b) != PythAccountSize {
		return PythPrice{}, fmt.Errorf("pyth account: %d bytes: %w", len(b), ErrUnableToLoadOracle)
	}
	if magic := binary.LittleEndian.Uint32(b[0:4]); magic != PythMagic {
		return PythPrice{}, fmt.Errorf("pyth account: magic %#x: %w", magic, ErrUnableToLoadOracle)
	}
	if version := binary.LittleEndian.Uint32(b[4:8]); version != PythVersion {
		return PythPrice{}, fmt.Errorf("pyth account: version %d: %w", version, ErrUnableToLoadOracle)
	}
	return PythPrice{
		Expo:      int32(binary.LittleEndian.Uint32(b[8:12])),
		Price:     int64(binary.LittleEndian.Uint64(b[12:20])),
		Conf:      binary.LittleEndian.Uint64(b[20:28]),
		ValidSlot: binary.LittleEndian.Uint64(b[28:36]),
	}, nil
}

func (p PythPrice) Encode() []byte {
	b := make([]byte, PythAccountSize)
	binary.LittleEndian.PutUint32(b[0:4], PythMagic)
	binary.LittleEndian.PutUint32(b[4:8], PythVersion)
	binary.LittleEndian.PutUint32(b[8:12], uint32(p.Expo))
	binary.LittleEndian.PutUint64(b[12:20], uint64(p.Price))
	binary.LittleEndian.PutUint64(b[20:28], p.Conf)
	binary.LittleEndian.PutUint64(b[28:36], p.ValidSlot)
	return b
}

func getPythPrice(account []byte, clockSlot uint64) (PriceData, error) {
	p, err := DecodePythPrice(account)
	if err != nil {
		return PriceData{}, err
	}

	// the sign of the exponent is ignored; feeds always quote 10^-n
	expo := p.Expo
	if expo < 0 {
		expo = -expo
	}
	mult, div, err := scaleFactors(uint32(expo))
	if err != nil {
		return PriceData{}, fmt.Errorf("pyth scale 10^%d: %w", expo, err)
	}

	multI, err := mult.ToI128()
	if err != nil {
		return PriceData{}, err
	}
	divI, err := div.ToI128()
	if err != nil {
		return PriceData{}, err
	}
	price, err := fpmath.NewI128(p.Price).Mul(multI)
	if err != nil {
		return PriceData{}, fmt.Errorf("pyth price: %w", err)
	}
	if price, err = price.Div(divI); err != nil {
		return PriceData{}, fmt.Errorf("pyth price: %w", err)
	}

	conf, err := fpmath.NewU128(p.Conf).Mul(mult)
	if err != nil {
		return PriceData{}, fmt.Errorf("pyth confidence: %w", err)
	}
	if conf, err = conf.Div(div); err != nil {
		return PriceData{}, fmt.Errorf("pyth confidence: %w", err)
	}

	delay, err := slotDelay(clockSlot, p.ValidSlot)
	if err != nil {
		return PriceData{}, fmt.Errorf("pyth delay: %w", err)
	}

	return PriceData{
		Price:                           price,
		Confidence:                      conf,
		Delay:                           delay,
		HasSufficientNumberOfDataPoints: true,
	}, nil
}
