package ingestion

import (
	"context"

	"PerpFunding/internal/event"
	"PerpFunding/internal/observability"

	"github.com/rs/zerolog"
)

// Pump parses raw messages and queues the commands for the core.
//
// Messages are acked once queued, not once applied: a slow core would
// otherwise outlive the JetStream AckWait and cause redeliveries, and a full
// queue already pushes back on the consumers. Commands the core has not
// applied at a crash are replayed from JetStream and deduplicated.
type Pump struct {
	raw     <-chan RawEvent
	out     chan<- event.Event
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewPump(raw <-chan RawEvent, out chan<- event.Event, metrics *observability.Metrics, logger zerolog.Logger) *Pump {
	return &Pump{raw: raw, out: out, metrics: metrics, logger: logger}
}

// Run forwards until ctx is cancelled or raw closes. It closes out on
// return.
func (p *Pump) Run(ctx context.Context) {
	defer close(p.out)
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-p.raw:
			if !ok {
				return
			}
			if !p.forward(ctx, raw) {
				return
			}
		}
	}
}

func (p *Pump) forward(ctx context.Context, raw RawEvent) bool {
	evt, err := ParseRawEvent(raw)
	if err != nil {
		// Redelivery would fail the same way.
		p.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable command")
		if p.metrics != nil {
			p.metrics.CoreEventsRejected.WithLabelValues(raw.EventType, "parse").Inc()
		}
		ack(raw)
		return true
	}

	select {
	case p.out <- evt:
		ack(raw)
		if p.metrics != nil {
			p.metrics.SetChannelMetrics("inbound", len(p.out), cap(p.out))
		}
		return true
	case <-ctx.Done():
		if raw.NakFunc != nil {
			raw.NakFunc()
		}
		return false
	}
}

func ack(raw RawEvent) {
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}
