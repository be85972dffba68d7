package ledger

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Book is the live funding ledger kept by the read side. Safe for
// concurrent use.
type Book struct {
	mu        sync.RWMutex
	tracker   *BalanceTracker
	validator *InvariantValidator
	watermark int64
}

func NewBook() *Book {
	tracker := NewBalanceTracker()
	return &Book{
		tracker:   tracker,
		validator: NewInvariantValidator(tracker),
		watermark: -1,
	}
}

// Seed replaces the balances with ones rebuilt from the journal table up
// to seq.
func (b *Book) Seed(balances map[AccountKey]int64, seq int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tracker.balances = make(map[AccountKey]int64, len(balances))
	for k, v := range balances {
		b.tracker.balances[k] = v
	}
	b.watermark = seq
}

// Apply posts the batch of the command at seq. Sequences at or below the
// last applied one are ignored. A nil batch only advances the watermark.
func (b *Book) Apply(seq int64, batch *Batch) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if seq <= b.watermark {
		return nil
	}
	if batch != nil {
		if batch.Sequence != seq {
			return fmt.Errorf("batch sequence %d posted at %d", batch.Sequence, seq)
		}
		if err := b.tracker.ApplyBatch(batch); err != nil {
			return err
		}
		if err := b.validator.ValidateGlobalBalance(); err != nil {
			return err
		}
	}
	b.watermark = seq
	return nil
}

func (b *Book) Watermark() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.watermark
}

// MarketBalances returns the funding pool and fee pool of a market.
func (b *Book) MarketBalances(marketIndex uint64) (fundingPool, feePool int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tracker.GetBalance(NewMarketAccountKey(marketIndex, SubTypeFundingPool)),
		b.tracker.GetBalance(NewMarketAccountKey(marketIndex, SubTypeFeePool))
}

// UserBalances returns a user's settled funding by market.
func (b *Book) UserBalances(user uuid.UUID) map[uint64]int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[uint64]int64)
	for _, m := range b.tracker.UserMarkets(user) {
		out[m] = b.tracker.UserFunding(user, m)
	}
	return out
}

// Balanced reports whether the ledger is zero-sum.
func (b *Book) Balanced() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.validator.ValidateGlobalBalance() == nil
}
