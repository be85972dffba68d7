package ledger

import "fmt"

// InvariantValidator checks ledger invariants.
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the ledger is zero-sum.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	if total := v.tracker.ComputeGlobalBalance(); total != 0 {
		return fmt.Errorf("global funding balance is non-zero: %d", total)
	}
	return nil
}
