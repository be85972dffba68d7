package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"PerpFunding/internal/core"
	"PerpFunding/internal/event"
	"PerpFunding/internal/observability"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes commands,
// funding records and journals to Postgres. The core sends on the persist channel with
// backpressure, so when this worker falls behind the core stalls rather than
// losing a command.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *RecordWriter
	inputChan    <-chan core.CoreOutput
	publishChan  chan<- event.RecordEnvelope
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

// NewPersistenceWorker builds a worker. publishChan may be nil; records are
// forwarded to it only after their batch commits.
func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	publishChan chan<- event.RecordEnvelope,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	return &PersistenceWorker{
		db:           db,
		writer:       NewRecordWriter(),
		inputChan:    inputChan,
		publishChan:  publishChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// batch is one flush worth of rows.
type batch struct {
	commands []CommandRow
	rates    []RateRecordRow
	payments []PaymentRecordRow
	journals []JournalRow
	records  []event.RecordEnvelope
}

func (b *batch) add(out core.CoreOutput) error {
	rows, err := RowsFromOutput(out)
	if err != nil {
		return err
	}
	b.commands = append(b.commands, rows.Command)
	b.rates = append(b.rates, rows.Rates...)
	b.payments = append(b.payments, rows.Payments...)
	b.journals = append(b.journals, rows.Journals...)
	b.records = append(b.records, out.Records...)
	return nil
}

func (b *batch) reset() {
	b.commands = b.commands[:0]
	b.rates = b.rates[:0]
	b.payments = b.payments[:0]
	b.journals = b.journals[:0]
	b.records = b.records[:0]
}

func (b *batch) empty() bool { return len(b.commands) == 0 }

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or the input closes.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	b := &batch{
		commands: make([]CommandRow, 0, pw.batchSize),
	}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if !b.empty() {
				if err := pw.flush(context.Background(), b); err != nil {
					pw.logger.Error().Err(err).Int("commands", len(b.commands)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if !b.empty() {
					if err := pw.flush(context.Background(), b); err != nil {
						pw.logger.Error().Err(err).Int("commands", len(b.commands)).Msg("final flush failed")
					}
				}
				return nil
			}

			if err := b.add(output); err != nil {
				// An unencodable output can never be written; retrying would
				// wedge the worker.
				pw.logger.Error().Err(err).
					Int64("sequence", output.Envelope.Sequence).
					Msg("dropping unencodable core output")
				if pw.metrics != nil {
					pw.metrics.PersistErrors.WithLabelValues("encode").Inc()
				}
				continue
			}

			if len(b.commands) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, b); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				b.reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if !b.empty() {
				if err := pw.flushWithRetry(ctx, b); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				b.reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds.
// On shutdown it makes one last attempt with a background context.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, b *batch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("commands", len(b.commands)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), b); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		}

		err := pw.flush(ctx, b)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.logger.Debug().Err(err).Msg("persistence flush failed")
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, b *batch) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	// commands first: the record tables reference them
	if err := pw.writer.WriteCommands(ctx, tx, b.commands); err != nil {
		pw.countError("write_commands")
		return err
	}
	if err := pw.writer.WriteRateRecords(ctx, tx, b.rates); err != nil {
		pw.countError("write_rate_records")
		return err
	}
	if err := pw.writer.WritePaymentRecords(ctx, tx, b.payments); err != nil {
		pw.countError("write_payment_records")
		return err
	}
	if err := pw.writer.WriteJournals(ctx, tx, b.journals); err != nil {
		pw.countError("write_journals")
		return err
	}

	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(b.commands)))
		pw.metrics.PersistRecordsWritten.WithLabelValues("command").Add(float64(len(b.commands)))
		pw.metrics.PersistRecordsWritten.WithLabelValues(event.RecordTypeFundingRate.String()).Add(float64(len(b.rates)))
		pw.metrics.PersistRecordsWritten.WithLabelValues(event.RecordTypeFundingPayment.String()).Add(float64(len(b.payments)))
		pw.metrics.PersistRecordsWritten.WithLabelValues("journal").Add(float64(len(b.journals)))
		pw.metrics.PersistLastSequence.Set(float64(b.commands[len(b.commands)-1].Sequence))
	}

	pw.forward(b.records)
	return nil
}

// forward hands committed records to the publisher. Downstream consumers
// can re-read the record tables, so a full channel drops.
func (pw *PersistenceWorker) forward(records []event.RecordEnvelope) {
	if pw.publishChan == nil {
		return
	}
	for _, r := range records {
		select {
		case pw.publishChan <- r:
		default:
			if pw.metrics != nil {
				pw.metrics.PublishDrops.Inc()
			}
		}
	}
}

func (pw *PersistenceWorker) countError(kind string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
