package core

import (
	"errors"
	"fmt"

	"PerpFunding/internal/observability"
)

// ErrOutOfOrder is returned when a command would move a partition's clock
// backwards.
var ErrOutOfOrder = errors.New("out-of-order command")

// SequenceValidator tracks the last applied source sequence per partition.
// Not thread-safe: only the core goroutine touches it.
type SequenceValidator struct {
	last    map[string]int64
	metrics *observability.Metrics
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		last:    make(map[string]int64),
		metrics: metrics,
	}
}

// ValidateMonotonic rejects a sequence lower than the last one seen for the
// partition. Equal values pass: several cranks may share a timestamp.
// The partition only advances through Advance, after the command commits.
func (sv *SequenceValidator) ValidateMonotonic(partition string, sequence int64) error {
	last, seen := sv.last[partition]
	if seen && sequence < last {
		if sv.metrics != nil {
			sv.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("%w: partition=%s, last=%d, got=%d", ErrOutOfOrder, partition, last, sequence)
	}
	return nil
}

// IsFreshSlot reports whether an oracle account observed at slot is newer
// than the one already held for the market. Stale slots are tolerated and
// ignored by the caller; gaps are normal.
func (sv *SequenceValidator) IsFreshSlot(marketIndex uint64, slot int64) bool {
	last, seen := sv.last[oraclePartition(marketIndex)]
	return !seen || slot > last
}

// Advance records sequence as the partition's latest value.
func (sv *SequenceValidator) Advance(partition string, sequence int64) {
	if last, seen := sv.last[partition]; !seen || sequence > last {
		sv.last[partition] = sequence
	}
}

// Last returns the latest value for partition and whether one exists.
func (sv *SequenceValidator) Last(partition string) (int64, bool) {
	v, ok := sv.last[partition]
	return v, ok
}

// State exports every partition, for snapshots.
func (sv *SequenceValidator) State() map[string]int64 {
	out := make(map[string]int64, len(sv.last))
	for k, v := range sv.last {
		out[k] = v
	}
	return out
}

// Restore replaces the tracked partitions.
func (sv *SequenceValidator) Restore(state map[string]int64) {
	sv.last = make(map[string]int64, len(state))
	for k, v := range state {
		sv.last[k] = v
	}
}

func oraclePartition(marketIndex uint64) string {
	return fmt.Sprintf("oracle:%d", marketIndex)
}

func crankPartition(marketIndex uint64) string {
	return fmt.Sprintf("crank:%d", marketIndex)
}

func positionPartition(user string) string {
	return "position:" + user
}
