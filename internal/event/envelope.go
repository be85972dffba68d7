package event

import (
	"time"
)

// EventType discriminator for inbound commands
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeOracleAccountUpdate
	EventTypeFundingCrank
	EventTypeSettleFunding
	EventTypePositionUpdate
)

// EventEnvelope wraps every command the core has applied
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType

	// Market context (nil for user-scoped commands)
	MarketIndex *uint64

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all inbound commands implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// MarketIndex returns the market context (nil for user-scoped commands)
	MarketIndex() *uint64

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeOracleAccountUpdate:
		return "OracleAccountUpdate"
	case EventTypeFundingCrank:
		return "FundingCrank"
	case EventTypeSettleFunding:
		return "SettleFunding"
	case EventTypePositionUpdate:
		return "PositionUpdate"
	default:
		return "Unknown"
	}
}
