package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"PerpFunding/internal/core"
	"PerpFunding/internal/event"
	"PerpFunding/internal/ledger"
	fpmath "PerpFunding/internal/math"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// maxRowsPerInsert keeps multi-row INSERTs below the 65535 bind parameter
// limit for the widest table.
const maxRowsPerInsert = 1000

// CommandRow is a row in funding.commands.
type CommandRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	MarketIndex    *int64
	Payload        []byte // JSON-encoded command
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
	FundingOutcome *string
}

// RateRecordRow is a row in funding.rate_records.
type RateRecordRow struct {
	Sequence int64
	Record   *event.FundingRateRecord
}

// PaymentRecordRow is a row in funding.payment_records. Index is the
// record's position within its command's output.
type PaymentRecordRow struct {
	Sequence int64
	Index    int
	Record   *event.FundingPaymentRecord
}

// JournalRow is a row in funding.journals.
type JournalRow struct {
	Journal ledger.Journal
}

// Rows is everything one CoreOutput writes.
type Rows struct {
	Command  CommandRow
	Rates    []RateRecordRow
	Payments []PaymentRecordRow
	Journals []JournalRow
}

// RowsFromOutput flattens a core output into table rows.
func RowsFromOutput(out core.CoreOutput) (Rows, error) {
	env := out.Envelope
	payload, err := json.Marshal(out.Command)
	if err != nil {
		return Rows{}, fmt.Errorf("marshal %s: %w", env.EventType, err)
	}
	rows := Rows{
		Command: CommandRow{
			Sequence:       env.Sequence,
			EventType:      env.EventType.String(),
			IdempotencyKey: env.IdempotencyKey,
			Payload:        payload,
			StateHash:      append([]byte(nil), env.StateHash[:]...),
			PrevHash:       append([]byte(nil), env.PrevHash[:]...),
			Timestamp:      env.Timestamp,
			SourceSequence: env.SourceSequence,
		},
	}
	if env.MarketIndex != nil {
		idx, err := fpmath.Uint64ToInt64(*env.MarketIndex)
		if err != nil {
			return Rows{}, fmt.Errorf("market index: %w", err)
		}
		rows.Command.MarketIndex = &idx
	}
	if out.FundingOutcome != "" {
		outcome := out.FundingOutcome
		rows.Command.FundingOutcome = &outcome
	}

	if out.Journals != nil {
		for _, j := range out.Journals.Journals {
			rows.Journals = append(rows.Journals, JournalRow{Journal: j})
		}
	}

	for i, rec := range out.Records {
		switch r := rec.Record.(type) {
		case *event.FundingRateRecord:
			rows.Rates = append(rows.Rates, RateRecordRow{Sequence: rec.Sequence, Record: r})
		case *event.FundingPaymentRecord:
			rows.Payments = append(rows.Payments, PaymentRecordRow{Sequence: rec.Sequence, Index: i, Record: r})
		default:
			return Rows{}, fmt.Errorf("unsupported record type %T", rec.Record)
		}
	}
	return rows, nil
}

// RecordWriter writes the command log, the funding record tables and the
// funding journal using
// multi-row INSERTs. Every insert is ON CONFLICT DO NOTHING so replays and
// retries are harmless.
type RecordWriter struct{}

func NewRecordWriter() *RecordWriter {
	return &RecordWriter{}
}

func (w *RecordWriter) WriteCommands(ctx context.Context, ex execer, rows []CommandRow) error {
	values := make([][]interface{}, 0, len(rows))
	for _, r := range rows {
		values = append(values, []interface{}{
			r.Sequence, r.EventType, r.IdempotencyKey, r.MarketIndex, r.Payload,
			r.StateHash, r.PrevHash, r.Timestamp, r.SourceSequence, r.FundingOutcome,
		})
	}
	return insertRows(ctx, ex, "funding.commands",
		[]string{"sequence", "event_type", "idempotency_key", "market_index", "payload",
			"state_hash", "prev_hash", "ts", "source_sequence", "funding_outcome"},
		"", values)
}

func (w *RecordWriter) WriteRateRecords(ctx context.Context, ex execer, rows []RateRecordRow) error {
	values := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		r := row.Record
		market, err := fpmath.Uint64ToInt64(r.MarketIndex)
		if err != nil {
			return err
		}
		recordID, err := fpmath.Uint64ToInt64(r.RecordID)
		if err != nil {
			return err
		}
		values = append(values, []interface{}{
			market, recordID, row.Sequence, r.Ts,
			r.FundingRate, r.CumulativeFundingRateLong, r.CumulativeFundingRateShort,
			r.MarkPriceTwap, r.OraclePriceTwap,
		})
	}
	return insertRows(ctx, ex, "funding.rate_records",
		[]string{"market_index", "record_id", "sequence", "ts",
			"funding_rate", "cumulative_funding_rate_long", "cumulative_funding_rate_short",
			"mark_price_twap", "oracle_price_twap"},
		"(market_index, record_id)", values)
}

func (w *RecordWriter) WritePaymentRecords(ctx context.Context, ex execer, rows []PaymentRecordRow) error {
	values := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		r := row.Record
		market, err := fpmath.Uint64ToInt64(r.MarketIndex)
		if err != nil {
			return err
		}
		values = append(values, []interface{}{
			row.Sequence, row.Index, r.IdempotencyKey(), r.Ts,
			r.UserAuthority, r.User, market, r.FundingPayment,
			r.UserLastCumulativeFunding, r.UserLastFundingRateTs,
			r.AmmCumulativeFundingLong, r.AmmCumulativeFundingShort, r.BaseAssetAmount,
		})
	}
	return insertRows(ctx, ex, "funding.payment_records",
		[]string{"sequence", "record_index", "idempotency_key", "ts",
			"user_authority", "user_key", "market_index", "funding_payment",
			"user_last_cumulative_funding", "user_last_funding_rate_ts",
			"amm_cumulative_funding_long", "amm_cumulative_funding_short", "base_asset_amount"},
		"(sequence, record_index)", values)
}

func (w *RecordWriter) WriteJournals(ctx context.Context, ex execer, rows []JournalRow) error {
	values := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		j := row.Journal
		values = append(values, []interface{}{
			j.JournalID, j.BatchID, j.Sequence, j.EventRef,
			j.DebitAccount.AccountPath(), j.CreditAccount.AccountPath(),
			j.Amount, j.JournalType.String(), j.Timestamp,
		})
	}
	return insertRows(ctx, ex, "funding.journals",
		[]string{"journal_id", "batch_id", "sequence", "event_ref",
			"debit_account", "credit_account", "amount", "journal_type", "ts"},
		"(journal_id)", values)
}

// BuildInsert renders one multi-row INSERT with $n placeholders.
func BuildInsert(table string, columns []string, conflict string, rowCount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))
	n := 1
	for i := 0; i < rowCount; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteByte(')')
	}
	if conflict == "" {
		b.WriteString(" ON CONFLICT DO NOTHING")
	} else {
		fmt.Fprintf(&b, " ON CONFLICT %s DO NOTHING", conflict)
	}
	return b.String()
}

func insertRows(ctx context.Context, ex execer, table string, columns []string, conflict string, rows [][]interface{}) error {
	for start := 0; start < len(rows); start += maxRowsPerInsert {
		end := min(start+maxRowsPerInsert, len(rows))
		chunk := rows[start:end]

		args := make([]interface{}, 0, len(chunk)*len(columns))
		for _, r := range chunk {
			args = append(args, r...)
		}
		if _, err := ex.ExecContext(ctx, BuildInsert(table, columns, conflict, len(chunk)), args...); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}
