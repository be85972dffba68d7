package event

import (
	"fmt"

	fpmath "PerpFunding/internal/math"

	"github.com/google/uuid"
)

// RecordType discriminator for audit records
type RecordType int32

const (
	RecordTypeUnknown RecordType = iota
	RecordTypeFundingRate
	RecordTypeFundingPayment
)

func (rt RecordType) String() string {
	switch rt {
	case RecordTypeFundingRate:
		return "funding_rate"
	case RecordTypeFundingPayment:
		return "funding_payment"
	default:
		return "unknown"
	}
}

// Record is an append-only audit record produced by a funding routine.
type Record interface {
	RecordType() RecordType
	IdempotencyKey() string
	Market() uint64
	Timestamp() int64
}

// FundingRateRecord documents one funding rate update. Field order and
// precisions are a published contract.
type FundingRateRecord struct {
	Ts                         int64       `json:"ts"`
	RecordID                   uint64      `json:"record_id"`
	MarketIndex                uint64      `json:"market_index"`
	FundingRate                fpmath.I128 `json:"funding_rate"`                  // 1e14
	CumulativeFundingRateLong  fpmath.I128 `json:"cumulative_funding_rate_long"`  // 1e14
	CumulativeFundingRateShort fpmath.I128 `json:"cumulative_funding_rate_short"` // 1e14
	MarkPriceTwap              fpmath.U128 `json:"mark_price_twap"`               // 1e10
	OraclePriceTwap            fpmath.I128 `json:"oracle_price_twap"`             // 1e10
}

func (r *FundingRateRecord) RecordType() RecordType { return RecordTypeFundingRate }

// IdempotencyKey: "{market}:rate:{record_id}".
func (r *FundingRateRecord) IdempotencyKey() string {
	return fmt.Sprintf("%d:rate:%d", r.MarketIndex, r.RecordID)
}

func (r *FundingRateRecord) Market() uint64   { return r.MarketIndex }
func (r *FundingRateRecord) Timestamp() int64 { return r.Ts }

// FundingPaymentRecord documents one position settlement. Field order and
// precisions are a published contract.
type FundingPaymentRecord struct {
	Ts                        int64       `json:"ts"`
	UserAuthority             uuid.UUID   `json:"user_authority"`
	User                      uuid.UUID   `json:"user"`
	MarketIndex               uint64      `json:"market_index"`
	FundingPayment            fpmath.I128 `json:"funding_payment"`              // 1e6
	UserLastCumulativeFunding fpmath.I128 `json:"user_last_cumulative_funding"` // 1e14
	UserLastFundingRateTs     int64       `json:"user_last_funding_rate_ts"`
	AmmCumulativeFundingLong  fpmath.I128 `json:"amm_cumulative_funding_long"`  // 1e14
	AmmCumulativeFundingShort fpmath.I128 `json:"amm_cumulative_funding_short"` // 1e14
	BaseAssetAmount           fpmath.I128 `json:"base_asset_amount"`            // 1e13
}

func (r *FundingPaymentRecord) RecordType() RecordType { return RecordTypeFundingPayment }

// IdempotencyKey: "{user}:{market}:payment:{user_last_cumulative_funding}".
// A position settles a given counter value at most once.
func (r *FundingPaymentRecord) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d:payment:%s", r.User, r.MarketIndex, r.UserLastCumulativeFunding)
}

func (r *FundingPaymentRecord) Market() uint64   { return r.MarketIndex }
func (r *FundingPaymentRecord) Timestamp() int64 { return r.Ts }

// RecordEnvelope carries a committed record with the core sequence of the
// command that produced it.
type RecordEnvelope struct {
	Sequence int64  `json:"sequence"`
	Type     string `json:"record_type"`
	Record   Record `json:"record"`
}

func NewRecordEnvelope(seq int64, r Record) RecordEnvelope {
	return RecordEnvelope{Sequence: seq, Type: r.RecordType().String(), Record: r}
}
