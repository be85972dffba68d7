package ledger

import (
	"fmt"

	"PerpFunding/internal/event"
	fpmath "PerpFunding/internal/math"

	"github.com/google/uuid"
)

// journalNamespace derives journal and batch IDs from the command sequence,
// so a replayed command produces the same IDs.
var journalNamespace = uuid.MustParse("5b0c3f4e-8a1d-4c52-9e63-2f7d1a0b9c84")

// JournalGenerator turns the effects of one command into a balanced batch.
type JournalGenerator struct{}

func NewJournalGenerator() *JournalGenerator {
	return &JournalGenerator{}
}

// Generate builds the batch for a command at seq. housePnl is the change in
// a market's total_fee_minus_distributions made by a funding update (quote
// precision); zero for other commands. Returns nil when the command moved
// no funding.
func (jg *JournalGenerator) Generate(seq int64, eventRef string, ts int64, records []event.Record, housePnl fpmath.I128) (*Batch, error) {
	batchID := uuid.NewSHA1(journalNamespace, []byte(fmt.Sprintf("batch:%d", seq)))
	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  seq,
		Timestamp: ts,
	}

	for _, rec := range records {
		var (
			j   *Journal
			err error
		)
		switch r := rec.(type) {
		case *event.FundingRateRecord:
			j, err = jg.housePnl(r, housePnl)
		case *event.FundingPaymentRecord:
			j, err = jg.settlement(r)
		}
		if err != nil {
			return nil, err
		}
		if j == nil {
			continue
		}
		j.BatchID = batchID
		j.Sequence = seq
		j.JournalID = uuid.NewSHA1(journalNamespace, []byte(fmt.Sprintf("journal:%d:%d", seq, len(batch.Journals))))
		batch.Journals = append(batch.Journals, *j)
	}

	if len(batch.Journals) == 0 {
		return nil, nil
	}
	return batch, batch.Validate()
}

// housePnl books the AMM's side of a funding update. A positive amount
// means positions owe the AMM: fee_pool is debited, funding_pool credited.
func (jg *JournalGenerator) housePnl(r *event.FundingRateRecord, amount fpmath.I128) (*Journal, error) {
	if amount.IsZero() {
		return nil, nil
	}
	abs, err := absInt64(amount)
	if err != nil {
		return nil, fmt.Errorf("house pnl: %w", err)
	}

	fee := NewMarketAccountKey(r.MarketIndex, SubTypeFeePool)
	pool := NewMarketAccountKey(r.MarketIndex, SubTypeFundingPool)
	j := &Journal{
		EventRef:    r.IdempotencyKey(),
		Amount:      abs,
		JournalType: JournalTypeFundingHousePnl,
		Timestamp:   r.Ts,
	}
	if amount.IsPositive() {
		j.DebitAccount, j.CreditAccount = fee, pool
	} else {
		j.DebitAccount, j.CreditAccount = pool, fee
	}
	return j, nil
}

// settlement books one funding payment between the user and the market's
// funding pool. A positive payment is received by the user.
func (jg *JournalGenerator) settlement(r *event.FundingPaymentRecord) (*Journal, error) {
	if r.FundingPayment.IsZero() {
		return nil, nil
	}
	abs, err := absInt64(r.FundingPayment)
	if err != nil {
		return nil, fmt.Errorf("funding payment: %w", err)
	}

	user := NewUserAccountKey(r.User, r.MarketIndex)
	pool := NewMarketAccountKey(r.MarketIndex, SubTypeFundingPool)
	j := &Journal{
		EventRef:    r.IdempotencyKey(),
		Amount:      abs,
		JournalType: JournalTypeFundingSettle,
		Timestamp:   r.Ts,
	}
	if r.FundingPayment.IsPositive() {
		j.DebitAccount, j.CreditAccount = user, pool
	} else {
		j.DebitAccount, j.CreditAccount = pool, user
	}
	return j, nil
}

func absInt64(v fpmath.I128) (int64, error) {
	abs, err := v.UnsignedAbs().ToI128()
	if err != nil {
		return 0, err
	}
	return abs.ToInt64()
}
