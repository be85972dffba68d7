package ledger

import (
	"fmt"
	"sort"

	fpmath "PerpFunding/internal/math"

	"github.com/google/uuid"
)

// BalanceTracker maintains account balances. Not safe for concurrent use.
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry. Debits increase a balance.
func (bt *BalanceTracker) ApplyJournal(j Journal) error {
	debit, err := fpmath.AddInt64(bt.balances[j.DebitAccount], j.Amount)
	if err != nil {
		return fmt.Errorf("debit %s: %w", j.DebitAccount, err)
	}
	credit, err := fpmath.SubInt64(bt.balances[j.CreditAccount], j.Amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", j.CreditAccount, err)
	}
	bt.balances[j.DebitAccount] = debit
	bt.balances[j.CreditAccount] = credit
	return nil
}

// ApplyBatch validates then applies every journal in a batch.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		if err := bt.ApplyJournal(j); err != nil {
			return err
		}
	}
	return nil
}

func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// UserFunding returns the net funding a user has settled on a market.
func (bt *BalanceTracker) UserFunding(user uuid.UUID, marketIndex uint64) int64 {
	return bt.GetBalance(NewUserAccountKey(user, marketIndex))
}

// UserMarkets returns the markets a user has settled funding on, ascending.
func (bt *BalanceTracker) UserMarkets(user uuid.UUID) []uint64 {
	var markets []uint64
	for k := range bt.balances {
		if k.Scope == AccountScopeUser && k.EntityID == user {
			markets = append(markets, k.MarketIndex)
		}
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i] < markets[j] })
	return markets
}

// ComputeGlobalBalance sums every balance. Zero for a consistent ledger.
func (bt *BalanceTracker) ComputeGlobalBalance() int64 {
	var total int64
	for _, balance := range bt.balances {
		total += balance
	}
	return total
}

// Snapshot returns a copy of all balances.
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
