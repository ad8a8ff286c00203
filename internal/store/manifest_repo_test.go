package store

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/nomai-sim/nomai/internal/manifest"
)

func TestManifestRepositorySaveInsertsRow(t *testing.T) {
	dbx, mock := newMockRepo(t)
	defer dbx.Close()

	repo := NewManifestRepository(dbx)
	m := manifest.TickManifest{Tick: 7, SimTime: 0.112, CommandsProcessed: 3, CommandsSucceeded: 3}

	mock.ExpectExec("INSERT INTO tick_manifests").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Save(context.Background(), m); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestManifestRepositorySinceDecodesMultipleRows(t *testing.T) {
	dbx, mock := newMockRepo(t)
	defer dbx.Close()

	repo := NewManifestRepository(dbx)
	rows := sqlmock.NewRows([]string{
		"tick", "sim_time", "entity_spawns", "entity_despawns", "component_changes",
		"events", "aggregates", "commands_processed", "commands_succeeded",
		"manifest_generation_micros",
	}).
		AddRow(uint64(1), 0.016, `[]`, `[]`, `[]`, `[]`, `{"entity_count_by_tier":{},"entity_count_by_type":{},"total_entity_count":0}`, 1, 1, int64(120)).
		AddRow(uint64(2), 0.032, `[]`, `[]`, `[]`, `[]`, `{"entity_count_by_tier":{},"entity_count_by_type":{},"total_entity_count":0}`, 2, 2, int64(140))

	mock.ExpectQuery("SELECT tick, sim_time").WillReturnRows(rows)

	out, err := repo.Since(context.Background(), 1)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 manifests, got %d", len(out))
	}
	if out[0].Tick != 1 || out[1].Tick != 2 {
		t.Fatalf("unexpected tick ordering: %+v", out)
	}
}
