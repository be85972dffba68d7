package query

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"PerpFunding/internal/ledger"
	"PerpFunding/internal/projection"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidLimit = errors.New("invalid limit")
	ErrUnavailable  = errors.New("unavailable")
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// IntegrityChecker verifies the persisted hash chain.
type IntegrityChecker interface {
	VerifyHashChain(ctx context.Context) (*IntegrityReport, error)
}

// QueryService serves read-only funding queries. Market state comes from
// the in-memory projection; record history from records, which is usually
// Postgres behind the Redis cache.
type QueryService struct {
	live      *projection.FundingHistory
	records   projection.RecordStore
	integrity IntegrityChecker
	book      *ledger.Book
}

// NewQueryService builds a service. records falls back to the in-memory
// history when nil; integrity may be nil.
func NewQueryService(live *projection.FundingHistory, records projection.RecordStore, integrity IntegrityChecker) *QueryService {
	if records == nil {
		records = live
	}
	return &QueryService{live: live, records: records, integrity: integrity}
}

// WithLedger enables the funding ledger queries.
func (qs *QueryService) WithLedger(book *ledger.Book) *QueryService {
	qs.book = book
	return qs
}

// NormalizeLimit applies the default and rejects out-of-range limits.
func NormalizeLimit(limit int) (int, error) {
	switch {
	case limit == 0:
		return DefaultLimit, nil
	case limit < 0 || limit > MaxLimit:
		return 0, fmt.Errorf("%w: %d (1..%d)", ErrInvalidLimit, limit, MaxLimit)
	default:
		return limit, nil
	}
}

func (qs *QueryService) GetMarketFunding(_ context.Context, marketIndex uint64) (*MarketFundingResponse, error) {
	m, ok := qs.live.Market(marketIndex)
	if !ok {
		return nil, fmt.Errorf("market %d: %w", marketIndex, ErrNotFound)
	}
	resp := marketFundingResponse(m)
	return &resp, nil
}

// GetFundingRates returns the market's rate updates, newest first.
func (qs *QueryService) GetFundingRates(ctx context.Context, marketIndex uint64, limit int) ([]FundingRateResponse, error) {
	if _, ok := qs.live.Market(marketIndex); !ok {
		return nil, fmt.Errorf("market %d: %w", marketIndex, ErrNotFound)
	}
	limit, err := NormalizeLimit(limit)
	if err != nil {
		return nil, err
	}

	recs, err := qs.records.RateRecords(ctx, marketIndex, limit)
	if err != nil {
		return nil, fmt.Errorf("rate records: %w", err)
	}
	out := make([]FundingRateResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, fundingRateResponse(r))
	}
	return out, nil
}

// GetFundingPayments returns the user's settled payments, newest first.
func (qs *QueryService) GetFundingPayments(ctx context.Context, user uuid.UUID, limit int) ([]FundingPaymentResponse, error) {
	limit, err := NormalizeLimit(limit)
	if err != nil {
		return nil, err
	}

	recs, err := qs.records.PaymentRecords(ctx, user, limit)
	if err != nil {
		return nil, fmt.Errorf("payment records: %w", err)
	}
	out := make([]FundingPaymentResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, fundingPaymentResponse(r))
	}
	return out, nil
}

// VerifyIntegrity checks the persisted hash chain.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	if qs.integrity == nil {
		return nil, fmt.Errorf("integrity check: %w", ErrUnavailable)
	}
	return qs.integrity.VerifyHashChain(ctx)
}

// GetMarketLedger returns the market's funding pool and fee pool balances.
func (qs *QueryService) GetMarketLedger(_ context.Context, marketIndex uint64) (*MarketLedgerResponse, error) {
	if qs.book == nil {
		return nil, fmt.Errorf("funding ledger: %w", ErrUnavailable)
	}
	if _, ok := qs.live.Market(marketIndex); !ok {
		return nil, fmt.Errorf("market %d: %w", marketIndex, ErrNotFound)
	}
	pool, fee := qs.book.MarketBalances(marketIndex)
	return &MarketLedgerResponse{
		MarketIndex:  marketIndex,
		FundingPool:  quoteString(pool),
		FeePool:      quoteString(fee),
		Balanced:     qs.book.Balanced(),
		AsOfSequence: qs.book.Watermark(),
	}, nil
}

// GetUserLedger returns the user's settled funding per market, ascending
// by market. A user with no settlements gets an empty list.
func (qs *QueryService) GetUserLedger(_ context.Context, user uuid.UUID) (*UserLedgerResponse, error) {
	if qs.book == nil {
		return nil, fmt.Errorf("funding ledger: %w", ErrUnavailable)
	}
	balances := qs.book.UserBalances(user)
	resp := &UserLedgerResponse{
		User:         user,
		Markets:      make([]UserMarketFunding, 0, len(balances)),
		AsOfSequence: qs.book.Watermark(),
	}
	for market, v := range balances {
		resp.Markets = append(resp.Markets, UserMarketFunding{MarketIndex: market, SettledFunding: quoteString(v)})
	}
	sort.Slice(resp.Markets, func(i, j int) bool { return resp.Markets[i].MarketIndex < resp.Markets[j].MarketIndex })
	return resp, nil
}
