package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/nomai-sim/nomai/internal/manifest"
)

// ManifestRepository persists TickManifests for durable history beyond
// the pipeline's in-memory bounded window.
type ManifestRepository struct {
	db *sqlx.DB
}

// NewManifestRepository wraps db for manifest persistence.
func NewManifestRepository(db *sqlx.DB) *ManifestRepository {
	return &ManifestRepository{db: db}
}

// Save inserts one tick's manifest. Ticks are monotonically increasing
// and never revisited, so this is a plain insert rather than an upsert.
func (r *ManifestRepository) Save(ctx context.Context, m manifest.TickManifest) error {
	spawns, err := json.Marshal(m.EntitySpawns)
	if err != nil {
		return fmt.Errorf("marshal entity spawns: %w", err)
	}
	despawns, err := json.Marshal(m.EntityDespawns)
	if err != nil {
		return fmt.Errorf("marshal entity despawns: %w", err)
	}
	changes, err := json.Marshal(m.ComponentChanges)
	if err != nil {
		return fmt.Errorf("marshal component changes: %w", err)
	}
	events, err := json.Marshal(m.Events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	aggregates, err := json.Marshal(m.Aggregates)
	if err != nil {
		return fmt.Errorf("marshal aggregates: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tick_manifests (
			tick, sim_time, entity_spawns, entity_despawns, component_changes,
			events, aggregates, commands_processed, commands_succeeded,
			manifest_generation_micros
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tick) DO NOTHING
	`, m.Tick, m.SimTime, spawns, despawns, changes, events, aggregates,
		m.CommandsProcessed, m.CommandsSucceeded, m.ManifestGenerationMicros)
	if err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}

type manifestRow struct {
	Tick                     uint64          `db:"tick"`
	SimTime                  float64         `db:"sim_time"`
	EntitySpawns             json.RawMessage `db:"entity_spawns"`
	EntityDespawns           json.RawMessage `db:"entity_despawns"`
	ComponentChanges         json.RawMessage `db:"component_changes"`
	Events                   json.RawMessage `db:"events"`
	Aggregates               json.RawMessage `db:"aggregates"`
	CommandsProcessed        int             `db:"commands_processed"`
	CommandsSucceeded        int             `db:"commands_succeeded"`
	ManifestGenerationMicros int64           `db:"manifest_generation_micros"`
}

// Since returns every persisted manifest at or after fromTick, ordered
// by tick ascending.
func (r *ManifestRepository) Since(ctx context.Context, fromTick uint64) ([]manifest.TickManifest, error) {
	var rows []manifestRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT tick, sim_time, entity_spawns, entity_despawns, component_changes,
		       events, aggregates, commands_processed, commands_succeeded,
		       manifest_generation_micros
		FROM tick_manifests
		WHERE tick >= $1
		ORDER BY tick ASC
	`, fromTick)
	if err != nil {
		return nil, fmt.Errorf("select manifests since %d: %w", fromTick, err)
	}

	out := make([]manifest.TickManifest, 0, len(rows))
	for _, row := range rows {
		m := manifest.TickManifest{
			Tick:                     row.Tick,
			SimTime:                  row.SimTime,
			CommandsProcessed:        row.CommandsProcessed,
			CommandsSucceeded:        row.CommandsSucceeded,
			ManifestGenerationMicros: row.ManifestGenerationMicros,
		}
		if err := json.Unmarshal(row.EntitySpawns, &m.EntitySpawns); err != nil {
			return nil, fmt.Errorf("decode entity spawns at tick %d: %w", row.Tick, err)
		}
		if err := json.Unmarshal(row.EntityDespawns, &m.EntityDespawns); err != nil {
			return nil, fmt.Errorf("decode entity despawns at tick %d: %w", row.Tick, err)
		}
		if err := json.Unmarshal(row.ComponentChanges, &m.ComponentChanges); err != nil {
			return nil, fmt.Errorf("decode component changes at tick %d: %w", row.Tick, err)
		}
		if err := json.Unmarshal(row.Events, &m.Events); err != nil {
			return nil, fmt.Errorf("decode events at tick %d: %w", row.Tick, err)
		}
		if err := json.Unmarshal(row.Aggregates, &m.Aggregates); err != nil {
			return nil, fmt.Errorf("decode aggregates at tick %d: %w", row.Tick, err)
		}
		out = append(out, m)
	}
	return out, nil
}
