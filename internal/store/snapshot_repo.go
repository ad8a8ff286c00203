package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nomai-sim/nomai/internal/orchestrator"
)

// SnapshotRepository persists EngineSnapshots keyed by tick counter.
type SnapshotRepository struct {
	db *sqlx.DB
}

// NewSnapshotRepository wraps db for snapshot persistence.
func NewSnapshotRepository(db *sqlx.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

type snapshotRow struct {
	TickCounter   uint64          `db:"tick_counter"`
	FixedDT       float64         `db:"fixed_dt"`
	Hash          string          `db:"hash"`
	WorldSnapshot json.RawMessage `db:"world_snapshot"`
	CurrentInput  json.RawMessage `db:"current_input"`
}

// Save upserts an engine snapshot at its tick counter.
func (r *SnapshotRepository) Save(ctx context.Context, snap orchestrator.EngineSnapshot) error {
	worldJSON, err := json.Marshal(snap.WorldSnapshot)
	if err != nil {
		return fmt.Errorf("marshal world snapshot: %w", err)
	}
	inputJSON, err := json.Marshal(snap.CurrentInput)
	if err != nil {
		return fmt.Errorf("marshal current input: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO engine_snapshots (tick_counter, fixed_dt, hash, world_snapshot, current_input)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tick_counter) DO UPDATE
		SET fixed_dt = EXCLUDED.fixed_dt, hash = EXCLUDED.hash,
		    world_snapshot = EXCLUDED.world_snapshot, current_input = EXCLUDED.current_input
	`, snap.TickCounter, snap.FixedDT, snap.Hash, worldJSON, inputJSON)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recently saved snapshot, if any.
func (r *SnapshotRepository) Latest(ctx context.Context) (orchestrator.EngineSnapshot, bool, error) {
	var row snapshotRow
	err := r.db.GetContext(ctx, &row, `
		SELECT tick_counter, fixed_dt, hash, world_snapshot, current_input
		FROM engine_snapshots
		ORDER BY tick_counter DESC
		LIMIT 1
	`)
	if err != nil {
		if errNoRows(err) {
			return orchestrator.EngineSnapshot{}, false, nil
		}
		return orchestrator.EngineSnapshot{}, false, fmt.Errorf("load latest snapshot: %w", err)
	}

	snap := orchestrator.EngineSnapshot{
		TickCounter: row.TickCounter,
		FixedDT:     row.FixedDT,
		Hash:        row.Hash,
	}
	if err := json.Unmarshal(row.WorldSnapshot, &snap.WorldSnapshot); err != nil {
		return orchestrator.EngineSnapshot{}, false, fmt.Errorf("decode world snapshot: %w", err)
	}
	if len(row.CurrentInput) > 0 {
		if err := json.Unmarshal(row.CurrentInput, &snap.CurrentInput); err != nil {
			return orchestrator.EngineSnapshot{}, false, fmt.Errorf("decode current input: %w", err)
		}
	}
	return snap, true, nil
}
