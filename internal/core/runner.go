package core

import (
	"context"
	"errors"
	"time"

	"PerpFunding/internal/event"
	"PerpFunding/internal/observability"

	"github.com/rs/zerolog"
)

// SnapshotSink stores snapshots and reports the encoded size.
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, snap *SnapshotState) (int, error)
}

// Runner is the single goroutine that owns a DeterministicCore. Snapshots
// are captured on that goroutine, between commands, and saved by a second
// goroutine so a slow database never stalls command processing.
type Runner struct {
	core          *DeterministicCore
	input         <-chan event.Event
	sink          SnapshotSink
	snapshotEvery int64
	saveTimeout   time.Duration
	retryBackoff  time.Duration
	retryMax      time.Duration
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

// NewRunner builds a runner. sink may be nil, in which case no snapshots
// are taken. snapshotEvery <= 0 disables periodic snapshots but keeps the
// final one.
func NewRunner(c *DeterministicCore, input <-chan event.Event, sink SnapshotSink, snapshotEvery int64, metrics *observability.Metrics, logger zerolog.Logger) *Runner {
	return &Runner{
		core:          c,
		input:         input,
		sink:          sink,
		snapshotEvery: snapshotEvery,
		saveTimeout:   30 * time.Second,
		retryBackoff:  50 * time.Millisecond,
		retryMax:      2 * time.Second,
		metrics:       metrics,
		logger:        logger,
	}
}

// Run applies commands until ctx is cancelled or input closes, then takes a
// final snapshot. Command errors are logged; they never stop the loop.
func (r *Runner) Run(ctx context.Context) {
	pending := make(chan *SnapshotState, 1)
	saverDone := make(chan struct{})
	go func() {
		defer close(saverDone)
		for snap := range pending {
			r.save(snap)
		}
	}()

	lastSnapshot := r.core.GetSequence()

	defer func() {
		if r.sink != nil && r.core.GetSequence() != lastSnapshot {
			pending <- r.core.CreateSnapshotState()
		}
		close(pending)
		<-saverDone
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-r.input:
			if !ok {
				return
			}
			if err := r.process(ctx, evt); err != nil {
				r.logger.Warn().Err(err).
					Str("event_type", evt.EventType().String()).
					Str("idempotency_key", evt.IdempotencyKey()).
					Msg("command rejected")
			}

			if r.sink == nil || r.snapshotEvery <= 0 {
				continue
			}
			if seq := r.core.GetSequence(); seq-lastSnapshot >= r.snapshotEvery {
				select {
				case pending <- r.core.CreateSnapshotState():
					lastSnapshot = seq
				default:
					// previous save still running; try again after the next command
				}
			}
		}
	}
}

// process applies evt, retrying with backoff while the durable dedup tier
// is unavailable. The command has already been acked upstream, so it is
// held here rather than dropped; commands behind it wait.
func (r *Runner) process(ctx context.Context, evt event.Event) error {
	backoff := r.retryBackoff
	for {
		err := r.core.ProcessEvent(ctx, evt)
		if !errors.Is(err, ErrDedupUnavailable) {
			return err
		}
		r.logger.Warn().Err(err).
			Str("idempotency_key", evt.IdempotencyKey()).
			Dur("retry_in", backoff).
			Msg("dedup unavailable, holding command")

		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > r.retryMax {
			backoff = r.retryMax
		}
	}
}

func (r *Runner) save(snap *SnapshotState) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), r.saveTimeout)
	defer cancel()

	size, err := r.sink.SaveSnapshot(ctx, snap)
	if err != nil {
		r.logger.Error().Err(err).Int64("sequence", snap.Sequence).Msg("snapshot save failed")
		return
	}

	if r.metrics != nil {
		r.metrics.SnapshotTaken.Inc()
		r.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		r.metrics.SnapshotSizeBytes.Set(float64(size))
		r.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	r.logger.Info().Int64("sequence", snap.Sequence).Int("bytes", size).Msg("snapshot saved")
}
