package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType is the purpose of a journal entry.
type JournalType int32

const (
	JournalTypeFundingHousePnl JournalType = iota + 1
	JournalTypeFundingSettle
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeFundingHousePnl:
		return "funding_house_pnl"
	case JournalTypeFundingSettle:
		return "funding_settle"
	default:
		return "unknown"
	}
}

// Journal is a single double-entry transfer.
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string // idempotency key of the source record
	Sequence      int64  // core sequence of the command
	DebitAccount  AccountKey
	CreditAccount AccountKey
	Amount        int64 // quote precision, always positive
	JournalType   JournalType
	Timestamp     int64 // unix seconds, from the command
}

// Batch groups the journals of one command.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each journal moves one
// positive amount from credit to debit, so every entry is balanced by
// construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.Sequence != b.Sequence {
			return fmt.Errorf("journal %s has sequence %d, batch %d", j.JournalID, j.Sequence, b.Sequence)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}

	return nil
}
