package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"PerpFunding/internal/ledger"
	fpmath "PerpFunding/internal/math"
)

// LoadJournalBalances sums funding.journals per account. The returned
// sequence is the newest logged command, -1 for an empty log; journals are
// committed with their command, so the balances are complete up to it.
func LoadJournalBalances(ctx context.Context, db *sql.DB) (map[ledger.AccountKey]int64, int64, error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM funding.commands`).Scan(&latest); err != nil {
		return nil, 0, err
	}
	seq := int64(-1)
	if latest.Valid {
		seq = latest.Int64
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT account, SUM(amount)::BIGINT FROM (
			SELECT debit_account AS account, amount FROM funding.journals
			UNION ALL
			SELECT credit_account, -amount FROM funding.journals
		) legs
		GROUP BY account
	`)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	balances := make(map[ledger.AccountKey]int64)
	for rows.Next() {
		var (
			path    string
			balance int64
		)
		if err := rows.Scan(&path, &balance); err != nil {
			return nil, 0, err
		}
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, 0, err
		}
		balances[key] = balance
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int64
	for _, b := range balances {
		if total, err = fpmath.AddInt64(total, b); err != nil {
			return nil, 0, err
		}
	}
	if total != 0 {
		return nil, 0, fmt.Errorf("funding journal does not balance: net %d", total)
	}
	return balances, seq, nil
}
