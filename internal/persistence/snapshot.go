package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"PerpFunding/internal/core"
	"PerpFunding/internal/event"

	"github.com/google/uuid"
)

// snapshotFormatVersion 1: JSON-encoded core.SnapshotState.
const snapshotFormatVersion = 1

// SnapshotManager stores core snapshots and reads back the command log for
// recovery.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot stores snap unverified and returns its encoded size. It
// becomes a recovery starting point only after MarkVerified.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.SnapshotState) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO funding.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, data, snap.StateHash[:], snapshotFormatVersion, len(data))
	if err != nil {
		return 0, fmt.Errorf("save snapshot %d: %w", snap.Sequence, err)
	}
	return len(data), nil
}

// LoadLatestSnapshot returns the newest verified snapshot, or nil on a cold
// start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	return sm.loadSnapshot(ctx, `
		SELECT data FROM funding.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)
}

// LoadLatestUnverified returns the newest snapshot not yet verified, if it
// is newer than any verified one.
func (sm *SnapshotManager) LoadLatestUnverified(ctx context.Context) (*core.SnapshotState, error) {
	return sm.loadSnapshot(ctx, `
		SELECT data FROM funding.snapshots
		WHERE verified = FALSE
		  AND sequence > COALESCE((SELECT MAX(sequence) FROM funding.snapshots WHERE verified = TRUE), -1)
		ORDER BY sequence DESC
		LIMIT 1
	`)
}

func (sm *SnapshotManager) loadSnapshot(ctx context.Context, query string) (*core.SnapshotState, error) {
	var data []byte
	if err := sm.db.QueryRowContext(ctx, query).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot whose state hash matched the command log.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx,
		`UPDATE funding.snapshots SET verified = TRUE WHERE sequence = $1`, sequence)
	return err
}

// LoggedCommand is one row of the command log, decoded for replay.
type LoggedCommand struct {
	Sequence  int64
	Command   event.Event
	StateHash [32]byte
}

// LoadCommandsFrom reads up to limit logged commands with sequence >=
// fromSequence, in order.
func (sm *SnapshotManager) LoadCommandsFrom(ctx context.Context, fromSequence int64, limit int) ([]LoggedCommand, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, payload, state_hash
		FROM funding.commands
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LoggedCommand
	for rows.Next() {
		var (
			seq       int64
			eventType string
			payload   []byte
			stateHash []byte
		)
		if err := rows.Scan(&seq, &eventType, &payload, &stateHash); err != nil {
			return nil, err
		}
		cmd, err := event.DecodeCommand(eventType, payload)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", seq, err)
		}
		lc := LoggedCommand{Sequence: seq, Command: cmd}
		if len(stateHash) != len(lc.StateHash) {
			return nil, fmt.Errorf("sequence %d: state hash is %d bytes", seq, len(stateHash))
		}
		copy(lc.StateHash[:], stateHash)
		out = append(out, lc)
	}
	return out, rows.Err()
}

// GetLatestSequence returns the highest logged sequence, or -1 when the log
// is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM funding.commands`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
