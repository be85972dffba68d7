package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"PerpFunding/internal/event"
	"PerpFunding/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// JetStreamPublisher is the slice of jetstream.JetStream the publisher uses.
type JetStreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// RecordPublisher fans committed funding records out to NATS after they
// are persisted. Subjects: perp.funding.records.{record_type}.{market}.
// A circuit breaker stops hammering NATS while it is down; dropped records
// stay readable from Postgres.
type RecordPublisher struct {
	js        JetStreamPublisher
	inputChan <-chan event.RecordEnvelope
	breaker   *gobreaker.CircuitBreaker
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewRecordPublisher(js JetStreamPublisher, inputChan <-chan event.RecordEnvelope, metrics *observability.Metrics, logger zerolog.Logger) *RecordPublisher {
	p := &RecordPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}

	st := gobreaker.Settings{Name: "nats-records"}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 5
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("publisher breaker state change")
		if metrics != nil {
			metrics.PublishBreakerState.Set(float64(to))
		}
	}
	p.breaker = gobreaker.NewCircuitBreaker(st)
	return p
}

// RecordSubject builds perp.funding.records.{type}.{market}.
func RecordSubject(r event.RecordEnvelope) string {
	return fmt.Sprintf("perp.funding.records.%s.%d", r.Type, r.Record.Market())
}

// Run publishes until ctx is cancelled or the input closes.
func (p *RecordPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rec, ok := <-p.inputChan:
			if !ok {
				return nil
			}
			if err := p.Publish(ctx, rec); err != nil {
				p.logger.Warn().Err(err).
					Int64("sequence", rec.Sequence).
					Str("record_type", rec.Type).
					Msg("record publish failed")
			}
		}
	}
}

// Publish sends one record through the breaker. The record's idempotency key
// doubles as the JetStream message ID so redeliveries are deduplicated.
func (p *RecordPublisher) Publish(ctx context.Context, rec event.RecordEnvelope) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return p.js.Publish(ctx, RecordSubject(rec), data, jetstream.WithMsgID(rec.Record.IdempotencyKey()))
	})
	if err != nil && p.metrics != nil {
		reason := "nats"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			reason = "breaker_open"
		}
		p.metrics.PublishErrors.WithLabelValues(reason).Inc()
	}
	return err
}
