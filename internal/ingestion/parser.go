package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"PerpFunding/internal/event"
	fpmath "PerpFunding/internal/math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ParseRawEvent converts a raw message into a typed command.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	switch raw.EventType {
	case "OracleAccountUpdate":
		return parseOracleAccountUpdate(raw.Data)
	case "FundingCrank":
		return parseFundingCrank(raw.Data)
	case "SettleFunding":
		return parseSettleFunding(raw.Data)
	case "PositionUpdate":
		return parsePositionUpdate(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", raw.EventType)
	}
}

// --- JSON wire formats ---
// Field names are snake_case to match upstream producers. Sizes and prices
// are human decimal strings ("-1.25") so producers never deal with the
// fixed-point scales.

type oracleAccountJSON struct {
	MarketIndex  uint64 `json:"market_index"`
	Account      []byte `json:"account"` // base64
	Slot         uint64 `json:"slot"`
	ObservedAtUs int64  `json:"observed_at_us"`
}

func parseOracleAccountUpdate(data []byte) (*event.OracleAccountUpdate, error) {
	var j oracleAccountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OracleAccountUpdate: %w", err)
	}
	if j.Slot == 0 {
		return nil, fmt.Errorf("parse OracleAccountUpdate: slot is required")
	}
	return &event.OracleAccountUpdate{
		Market:     j.MarketIndex,
		Account:    j.Account,
		Slot:       j.Slot,
		ObservedAt: time.UnixMicro(j.ObservedAtUs).UTC(),
	}, nil
}

type fundingCrankJSON struct {
	MarketIndex          uint64  `json:"market_index"`
	Now                  int64   `json:"now"`
	Slot                 uint64  `json:"slot"`
	FundingPaused        bool    `json:"funding_paused"`
	PrecomputedMarkPrice *string `json:"precomputed_mark_price,omitempty"`
}

func parseFundingCrank(data []byte) (*event.FundingCrank, error) {
	var j fundingCrankJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse FundingCrank: %w", err)
	}
	crank := &event.FundingCrank{
		Market:        j.MarketIndex,
		Now:           j.Now,
		Slot:          j.Slot,
		FundingPaused: j.FundingPaused,
	}
	if j.PrecomputedMarkPrice != nil {
		price, err := parseFixed(*j.PrecomputedMarkPrice, fpmath.MarkPriceConfig)
		if err != nil {
			return nil, fmt.Errorf("parse precomputed_mark_price: %w", err)
		}
		mark, err := price.ToU128()
		if err != nil {
			return nil, fmt.Errorf("parse precomputed_mark_price: %w", err)
		}
		crank.PrecomputedMarkPrice = &mark
	}
	return crank, nil
}

type settleFundingJSON struct {
	RequestID string `json:"request_id"`
	User      string `json:"user"`
	Now       int64  `json:"now"`
}

func parseSettleFunding(data []byte) (*event.SettleFunding, error) {
	var j settleFundingJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SettleFunding: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	user, err := uuid.Parse(j.User)
	if err != nil {
		return nil, fmt.Errorf("parse user: %w", err)
	}
	return &event.SettleFunding{RequestID: requestID, User: user, Now: j.Now}, nil
}

type positionUpdateJSON struct {
	TradeID         string `json:"trade_id"`
	User            string `json:"user"`
	Authority       string `json:"authority"`
	MarketIndex     uint64 `json:"market_index"`
	BaseAssetAmount string `json:"base_asset_amount"`
	TimestampUs     int64  `json:"timestamp_us"`
}

func parsePositionUpdate(data []byte) (*event.PositionUpdate, error) {
	var j positionUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PositionUpdate: %w", err)
	}
	tradeID, err := uuid.Parse(j.TradeID)
	if err != nil {
		return nil, fmt.Errorf("parse trade_id: %w", err)
	}
	user, err := uuid.Parse(j.User)
	if err != nil {
		return nil, fmt.Errorf("parse user: %w", err)
	}
	authority, err := uuid.Parse(j.Authority)
	if err != nil {
		return nil, fmt.Errorf("parse authority: %w", err)
	}
	base, err := parseFixed(j.BaseAssetAmount, fpmath.BaseAssetConfig)
	if err != nil {
		return nil, fmt.Errorf("parse base_asset_amount: %w", err)
	}
	return &event.PositionUpdate{
		TradeID:         tradeID,
		User:            user,
		Authority:       authority,
		Market:          j.MarketIndex,
		BaseAssetAmount: base,
		Timestamp:       time.UnixMicro(j.TimestampUs).UTC(),
	}, nil
}

func parseFixed(s string, cfg fpmath.DecimalConfig) (fpmath.I128, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fpmath.I128{}, err
	}
	return fpmath.FromDecimal(d, cfg)
}
