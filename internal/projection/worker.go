package projection

import (
	"context"

	"PerpFunding/internal/core"
	"PerpFunding/internal/event"
	"PerpFunding/internal/ledger"
	"PerpFunding/internal/observability"

	"github.com/rs/zerolog"
)

// Invalidator drops cached views of a market after it changes.
type Invalidator interface {
	InvalidateMarket(ctx context.Context, marketIndex uint64) error
}

// ProjectionWorker applies committed core output to the read model. The
// core sends to it without blocking, so it may miss outputs under load;
// history older than the in-memory window comes from Postgres anyway.
type ProjectionWorker struct {
	history     *FundingHistory
	inputChan   <-chan core.CoreOutput
	invalidator Invalidator
	ledger      *ledgerProjection
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

// NewProjectionWorker builds a worker. invalidator may be nil.
func NewProjectionWorker(history *FundingHistory, inputChan <-chan core.CoreOutput, invalidator Invalidator, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		history:     history,
		inputChan:   inputChan,
		invalidator: invalidator,
		metrics:     metrics,
		logger:      logger,
	}
}

// WithLedger also posts each output's journals to book. source rebuilds
// the book after the worker misses outputs; it may be nil.
func (pw *ProjectionWorker) WithLedger(book *ledger.Book, source LedgerSource) *ProjectionWorker {
	pw.ledger = &ledgerProjection{
		book:           book,
		source:         source,
		reloadInterval: defaultLedgerReloadInterval,
		metrics:        pw.metrics,
	}
	return pw
}

// Run blocks until ctx is cancelled or the input closes.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			pw.process(ctx, output)
		}
	}
}

func (pw *ProjectionWorker) process(ctx context.Context, output core.CoreOutput) {
	if last := pw.history.Watermark(); last >= 0 && output.Envelope.Sequence > last+1 {
		pw.logger.Warn().
			Int64("expected", last+1).
			Int64("got", output.Envelope.Sequence).
			Msg("projection skipped outputs")
	}
	pw.history.Apply(output)

	if pw.ledger != nil {
		if err := pw.ledger.apply(ctx, output); err != nil {
			pw.logger.Error().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("funding ledger update failed")
		}
	}

	if pw.metrics != nil {
		pw.metrics.SetChannelMetrics("projection", len(pw.inputChan), cap(pw.inputChan))
	}

	if pw.invalidator == nil {
		return
	}
	for _, rec := range output.Records {
		if rec.Record.RecordType() != event.RecordTypeFundingRate {
			continue
		}
		if err := pw.invalidator.InvalidateMarket(ctx, rec.Record.Market()); err != nil {
			pw.logger.Warn().Err(err).Uint64("market_index", rec.Record.Market()).Msg("cache invalidation failed")
		}
	}
}
