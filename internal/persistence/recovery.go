package persistence

import (
	"context"
	"errors"
	"fmt"

	"PerpFunding/internal/core"

	"github.com/rs/zerolog"
)

// ErrStateDivergence means replaying the command log did not reproduce the
// logged state hashes. The process must not serve with such a state.
var ErrStateDivergence = errors.New("state divergence on replay")

const replayBatchSize = 5_000

// CommandLog is the read side of the command log and snapshot store.
type CommandLog interface {
	LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error)
	LoadLatestUnverified(ctx context.Context) (*core.SnapshotState, error)
	LoadCommandsFrom(ctx context.Context, fromSequence int64, limit int) ([]LoggedCommand, error)
	MarkVerified(ctx context.Context, sequence int64) error
}

// RecoveryResult summarises a Recover run.
type RecoveryResult struct {
	SnapshotSequence int64 // -1 on a cold start
	Replayed         int
	NextSequence     int64
	Verified         []int64 // snapshots marked verified during replay
}

// Recover restores the newest verified snapshot into c and replays every
// logged command after it, checking each resulting state hash against the
// log. An unverified snapshot met on the way is marked verified when its
// hash matches.
//
// Replay runs with the durable dedup tier disabled, since every logged
// command would otherwise be its own duplicate. dbChecker is installed on c
// once replay completes. The persist and projection consumers of c must be
// running: replayed outputs are emitted like live ones.
func Recover(ctx context.Context, c *core.DeterministicCore, log CommandLog, dbChecker core.DBIdempotencyChecker, logger zerolog.Logger) (RecoveryResult, error) {
	res := RecoveryResult{SnapshotSequence: -1}

	snap, err := log.LoadLatestSnapshot(ctx)
	if err != nil {
		return res, err
	}
	if snap != nil {
		c.RestoreFromSnapshot(snap)
		res.SnapshotSequence = snap.Sequence
	} else {
		logger.Info().Msg("no verified snapshot, replaying full command log")
	}

	candidate, err := log.LoadLatestUnverified(ctx)
	if err != nil {
		return res, err
	}

	c.SetDBChecker(nil)
	defer c.SetDBChecker(dbChecker)

	for {
		batch, err := log.LoadCommandsFrom(ctx, c.GetSequence(), replayBatchSize)
		if err != nil {
			return res, fmt.Errorf("load commands from %d: %w", c.GetSequence(), err)
		}

		for _, lc := range batch {
			if lc.Sequence != c.GetSequence() {
				return res, fmt.Errorf("%w: expected sequence %d, log has %d",
					ErrStateDivergence, c.GetSequence(), lc.Sequence)
			}
			if err := c.ProcessEvent(ctx, lc.Command); err != nil {
				return res, fmt.Errorf("%w: sequence %d: %v", ErrStateDivergence, lc.Sequence, err)
			}
			if c.GetSequence() != lc.Sequence+1 {
				return res, fmt.Errorf("%w: sequence %d was not applied", ErrStateDivergence, lc.Sequence)
			}
			if c.GetStateHash() != lc.StateHash {
				return res, fmt.Errorf("%w: hash mismatch at sequence %d", ErrStateDivergence, lc.Sequence)
			}
			res.Replayed++

			if candidate != nil && candidate.Sequence == lc.Sequence && candidate.StateHash == lc.StateHash {
				if err := log.MarkVerified(ctx, lc.Sequence); err != nil {
					logger.Warn().Err(err).Int64("sequence", lc.Sequence).Msg("mark snapshot verified failed")
				} else {
					res.Verified = append(res.Verified, lc.Sequence)
				}
			}
		}

		if len(batch) < replayBatchSize {
			break
		}
	}

	res.NextSequence = c.GetSequence()
	logger.Info().
		Int64("snapshot_sequence", res.SnapshotSequence).
		Int("replayed", res.Replayed).
		Int64("next_sequence", res.NextSequence).
		Msg("recovery complete")
	return res, nil
}
