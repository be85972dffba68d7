package projection

import (
	"context"
	"testing"

	"PerpFunding/internal/core"
	"PerpFunding/internal/event"
	"PerpFunding/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rateOutput(seq int64, recordID uint64) core.CoreOutput {
	return core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: seq},
		Markets:  []*state.Market{{MarketIndex: 0, NextFundingRateRecordID: recordID + 1}},
		Records: []event.RecordEnvelope{
			event.NewRecordEnvelope(seq, &event.FundingRateRecord{MarketIndex: 0, RecordID: recordID}),
		},
	}
}

func TestFundingHistory_RetentionAndOrder(t *testing.T) {
	h := NewFundingHistory(3)
	for i := 0; i < 5; i++ {
		h.Apply(rateOutput(int64(i), uint64(i)))
	}

	recs, err := h.RateRecords(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(4), recs[0].RecordID)
	assert.Equal(t, uint64(2), recs[2].RecordID)

	recs, err = h.RateRecords(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(4), recs[0].RecordID)

	m, ok := h.Market(0)
	require.True(t, ok)
	assert.Equal(t, int64(4), m.AsOfSequence)
}

func TestFundingHistory_IgnoresReplayedOutputs(t *testing.T) {
	h := NewFundingHistory(0)
	h.Apply(rateOutput(0, 0))
	h.Apply(rateOutput(1, 1))
	h.Apply(rateOutput(1, 1))
	h.Apply(rateOutput(0, 0))

	recs, _ := h.RateRecords(context.Background(), 0, 0)
	assert.Len(t, recs, 2)
	assert.Equal(t, int64(1), h.Watermark())
}

func TestFundingHistory_PaymentsByUser(t *testing.T) {
	alice, bob := uuid.New(), uuid.New()
	h := NewFundingHistory(0)
	h.Apply(core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: 0},
		Records: []event.RecordEnvelope{
			event.NewRecordEnvelope(0, &event.FundingPaymentRecord{User: alice, Ts: 1}),
			event.NewRecordEnvelope(0, &event.FundingPaymentRecord{User: bob, Ts: 1}),
			event.NewRecordEnvelope(0, &event.FundingPaymentRecord{User: alice, Ts: 2}),
		},
	})

	recs, err := h.PaymentRecords(context.Background(), alice, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(2), recs[0].Ts)

	recs, _ = h.PaymentRecords(context.Background(), uuid.New(), 10)
	assert.Empty(t, recs)
}

type recordingInvalidator struct{ markets []uint64 }

func (r *recordingInvalidator) InvalidateMarket(_ context.Context, idx uint64) error {
	r.markets = append(r.markets, idx)
	return nil
}

func TestProjectionWorker_InvalidatesOnRateRecords(t *testing.T) {
	in := make(chan core.CoreOutput, 2)
	inv := &recordingInvalidator{}
	h := NewFundingHistory(0)

	in <- rateOutput(0, 0)
	in <- core.CoreOutput{Envelope: &event.EventEnvelope{Sequence: 1}}
	close(in)

	require.NoError(t, NewProjectionWorker(h, in, inv, nil, zerolog.Nop()).Run(context.Background()))
	assert.Equal(t, []uint64{0}, inv.markets)
	assert.Equal(t, int64(1), h.Watermark())
}
