package query

import (
	"context"
	"database/sql"
	"fmt"

	"PerpFunding/internal/event"
	fpmath "PerpFunding/internal/math"

	"github.com/google/uuid"
)

// PostgresRecordStore reads funding records from the tables the
// persistence worker writes.
type PostgresRecordStore struct {
	db *sql.DB
}

func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

func (s *PostgresRecordStore) RateRecords(ctx context.Context, marketIndex uint64, limit int) ([]*event.FundingRateRecord, error) {
	market, err := fpmath.Uint64ToInt64(marketIndex)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, ts, funding_rate, cumulative_funding_rate_long,
		       cumulative_funding_rate_short, mark_price_twap, oracle_price_twap
		FROM funding.rate_records
		WHERE market_index = $1
		ORDER BY record_id DESC
		LIMIT $2
	`, market, limit)
	if err != nil {
		return nil, fmt.Errorf("query rate records: %w", err)
	}
	defer rows.Close()

	var out []*event.FundingRateRecord
	for rows.Next() {
		r := &event.FundingRateRecord{MarketIndex: marketIndex}
		var recordID int64
		if err := rows.Scan(
			&recordID, &r.Ts, &r.FundingRate, &r.CumulativeFundingRateLong,
			&r.CumulativeFundingRateShort, &r.MarkPriceTwap, &r.OraclePriceTwap,
		); err != nil {
			return nil, err
		}
		if r.RecordID, err = fpmath.Int64ToUint64(recordID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresRecordStore) PaymentRecords(ctx context.Context, user uuid.UUID, limit int) ([]*event.FundingPaymentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, user_authority, market_index, funding_payment,
		       user_last_cumulative_funding, user_last_funding_rate_ts,
		       amm_cumulative_funding_long, amm_cumulative_funding_short, base_asset_amount
		FROM funding.payment_records
		WHERE user_key = $1
		ORDER BY ts DESC, sequence DESC, record_index DESC
		LIMIT $2
	`, user, limit)
	if err != nil {
		return nil, fmt.Errorf("query payment records: %w", err)
	}
	defer rows.Close()

	var out []*event.FundingPaymentRecord
	for rows.Next() {
		r := &event.FundingPaymentRecord{User: user}
		var market int64
		if err := rows.Scan(
			&r.Ts, &r.UserAuthority, &market, &r.FundingPayment,
			&r.UserLastCumulativeFunding, &r.UserLastFundingRateTs,
			&r.AmmCumulativeFundingLong, &r.AmmCumulativeFundingShort, &r.BaseAssetAmount,
		); err != nil {
			return nil, err
		}
		if r.MarketIndex, err = fpmath.Int64ToUint64(market); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// VerifyHashChain reports commands whose prev_hash does not match the
// state_hash of the command before them.
func (s *PostgresRecordStore) VerifyHashChain(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{CheckedUpTo: -1}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), -1) FROM funding.commands`,
	).Scan(&report.CheckedUpTo); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c1.sequence
		FROM funding.commands c1
		JOIN funding.commands c2 ON c2.sequence = c1.sequence - 1
		WHERE c1.prev_hash <> c2.state_hash
		ORDER BY c1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0
	return report, nil
}
