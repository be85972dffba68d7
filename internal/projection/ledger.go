package projection

import (
	"context"
	"strconv"
	"time"

	"PerpFunding/internal/core"
	"PerpFunding/internal/ledger"
	"PerpFunding/internal/observability"
)

// LedgerSource rebuilds ledger balances from durable storage and reports
// the sequence they are complete up to.
type LedgerSource func(ctx context.Context) (map[ledger.AccountKey]int64, int64, error)

const defaultLedgerReloadInterval = time.Second

// ledgerProjection keeps a ledger.Book current from core output. The
// projection channel is lossy, so after a gap the book is rebuilt from the
// source and stays frozen until the source has caught up.
type ledgerProjection struct {
	book           *ledger.Book
	source         LedgerSource
	reloadInterval time.Duration
	behind         bool
	lastReload     time.Time
	metrics        *observability.Metrics
}

func (lp *ledgerProjection) apply(ctx context.Context, out core.CoreOutput) error {
	seq := out.Envelope.Sequence
	if seq > lp.book.Watermark()+1 {
		lp.behind = true
	}

	if lp.behind {
		if lp.source == nil {
			// nothing to rebuild from; keep posting what arrives
			lp.behind = false
		} else if err := lp.reload(ctx, seq); err != nil {
			return err
		}
		if lp.behind {
			return nil
		}
	}

	if err := lp.book.Apply(seq, out.Journals); err != nil {
		if lp.metrics != nil {
			lp.metrics.FundingLedgerErrors.Inc()
		}
		return err
	}
	lp.observe(out.Journals)
	return nil
}

func (lp *ledgerProjection) reload(ctx context.Context, seq int64) error {
	if time.Since(lp.lastReload) < lp.reloadInterval {
		return nil
	}
	lp.lastReload = time.Now()

	balances, upTo, err := lp.source(ctx)
	if err != nil {
		return err
	}
	lp.book.Seed(balances, upTo)
	if upTo >= seq-1 {
		lp.behind = false
	}
	return nil
}

func (lp *ledgerProjection) observe(batch *ledger.Batch) {
	if lp.metrics == nil || batch == nil {
		return
	}
	seen := make(map[uint64]bool)
	for _, j := range batch.Journals {
		for _, k := range []ledger.AccountKey{j.DebitAccount, j.CreditAccount} {
			if k.Scope != ledger.AccountScopeMarket || seen[k.MarketIndex] {
				continue
			}
			seen[k.MarketIndex] = true
			pool, _ := lp.book.MarketBalances(k.MarketIndex)
			lp.metrics.FundingPoolBalance.WithLabelValues(strconv.FormatUint(k.MarketIndex, 10)).
				Set(float64(pool) / 1e6)
		}
	}
}
