package event

import (
	"encoding/json"
	"fmt"
	"time"

	fpmath "PerpFunding/internal/math"

	"github.com/google/uuid"
)

// OracleAccountUpdate delivers the latest raw bytes of a market's oracle
// account. Idempotency key: "{market}:oracle:{slot}".
type OracleAccountUpdate struct {
	Market     uint64
	Account    []byte // raw account data in the market's oracle layout
	Slot       uint64 // clock slot at which the account was observed
	ObservedAt time.Time
}

func (o *OracleAccountUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%d:oracle:%d", o.Market, o.Slot)
}

func (o *OracleAccountUpdate) EventType() EventType {
	return EventTypeOracleAccountUpdate
}

func (o *OracleAccountUpdate) MarketIndex() *uint64 {
	m := o.Market
	return &m
}

func (o *OracleAccountUpdate) SourceSequence() int64 {
	return int64(o.Slot)
}

// FundingCrank asks the core to try a funding rate update for one market.
// Idempotency key: "{market}:crank:{now}:{slot}:{paused}:{mark}", mark "-"
// when not precomputed.
type FundingCrank struct {
	Market               uint64
	Now                  int64 // unix seconds
	Slot                 uint64
	FundingPaused        bool
	PrecomputedMarkPrice *fpmath.U128 // optional, mark price precision
}

func (f *FundingCrank) IdempotencyKey() string {
	mark := "-"
	if f.PrecomputedMarkPrice != nil {
		mark = f.PrecomputedMarkPrice.String()
	}
	return fmt.Sprintf("%d:crank:%d:%d:%t:%s", f.Market, f.Now, f.Slot, f.FundingPaused, mark)
}

func (f *FundingCrank) EventType() EventType {
	return EventTypeFundingCrank
}

func (f *FundingCrank) MarketIndex() *uint64 {
	m := f.Market
	return &m
}

func (f *FundingCrank) SourceSequence() int64 {
	return f.Now
}

// SettleFunding settles every position of one user against the current
// market counters. Idempotency key: "settle:{request_id}".
type SettleFunding struct {
	RequestID uuid.UUID
	User      uuid.UUID
	Now       int64
}

func (s *SettleFunding) IdempotencyKey() string {
	return "settle:" + s.RequestID.String()
}

func (s *SettleFunding) EventType() EventType {
	return EventTypeSettleFunding
}

func (s *SettleFunding) MarketIndex() *uint64 {
	return nil
}

func (s *SettleFunding) SourceSequence() int64 {
	return s.Now
}

// PositionUpdate mirrors a position size change made by the trading system.
// Pending funding is settled before the new size is applied.
// Idempotency key: "position:{trade_id}".
type PositionUpdate struct {
	TradeID         uuid.UUID
	User            uuid.UUID
	Authority       uuid.UUID
	Market          uint64
	BaseAssetAmount fpmath.I128 // new signed size, AMM reserve precision
	Timestamp       time.Time
}

func (p *PositionUpdate) IdempotencyKey() string {
	return "position:" + p.TradeID.String()
}

func (p *PositionUpdate) EventType() EventType {
	return EventTypePositionUpdate
}

func (p *PositionUpdate) MarketIndex() *uint64 {
	m := p.Market
	return &m
}

func (p *PositionUpdate) SourceSequence() int64 {
	return p.Timestamp.UnixMicro()
}

// DecodeCommand rebuilds a command from its stored JSON form, keyed by the
// EventType string it was logged under.
func DecodeCommand(eventType string, payload []byte) (Event, error) {
	var evt Event
	switch eventType {
	case EventTypeOracleAccountUpdate.String():
		evt = &OracleAccountUpdate{}
	case EventTypeFundingCrank.String():
		evt = &FundingCrank{}
	case EventTypeSettleFunding.String():
		evt = &SettleFunding{}
	case EventTypePositionUpdate.String():
		evt = &PositionUpdate{}
	default:
		return nil, fmt.Errorf("decode command: unknown event type %q", eventType)
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return evt, nil
}
