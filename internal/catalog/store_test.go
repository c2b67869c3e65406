package catalog_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"discarchive/internal/catalog"
	"discarchive/internal/testsupport"
)

func TestRecordRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec, err := store.Record(ctx, catalog.Record{
		CycleID:     "cycle-1",
		DevicePath:  "/dev/sr0",
		VolumeLabel: "HOLIDAY_2004",
		BlockSize:   2048,
		BlockCount:  100,
		Outcome:     catalog.OutcomeCommitted,
		ImagePath:   "/srv/discs/HOLIDAY_2004.iso",
		StartedAt:   started,
		FinishedAt:  started.Add(90 * time.Second),
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.ID == 0 || rec.TotalBytes != 204800 {
		t.Fatalf("unexpected stored record %+v", rec)
	}

	fetched, err := store.GetByCycle(ctx, "cycle-1")
	if err != nil {
		t.Fatalf("GetByCycle: %v", err)
	}
	if fetched == nil || fetched.VolumeLabel != "HOLIDAY_2004" || fetched.Outcome != catalog.OutcomeCommitted {
		t.Fatalf("unexpected fetched record %+v", fetched)
	}
	if !fetched.StartedAt.Equal(started) || fetched.Duration() != 90*time.Second {
		t.Fatalf("timestamps not preserved: %+v", fetched)
	}

	missing, err := store.GetByCycle(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("GetByCycle(missing) = %+v, %v", missing, err)
	}
}

func TestRecordReplacesSameCycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	first, err := store.Record(ctx, catalog.Record{CycleID: "c", DevicePath: "/dev/sr0", Outcome: catalog.OutcomeAbandoned})
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.Record(ctx, catalog.Record{CycleID: "c", DevicePath: "/dev/sr0", Outcome: catalog.OutcomeCommitted, ImagePath: "/x.iso"})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected upsert to keep id %d, got %d", first.ID, second.ID)
	}
	records, err := store.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Outcome != catalog.OutcomeCommitted {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestRecordValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	tests := []struct {
		name string
		rec  catalog.Record
	}{
		{"missing cycle", catalog.Record{Outcome: catalog.OutcomeCommitted}},
		{"unknown outcome", catalog.Record{CycleID: "x", Outcome: "exploded"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := store.Record(ctx, tt.rec); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestListNewestFirstWithLimitAndSummary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	outcomes := []catalog.Outcome{
		catalog.OutcomeCommitted,
		catalog.OutcomeReadError,
		catalog.OutcomeCommitted,
		catalog.OutcomeMetadataFailed,
	}
	for i, outcome := range outcomes {
		_, err := store.Record(ctx, catalog.Record{
			CycleID:    string(rune('a' + i)),
			DevicePath: "/dev/sr0",
			BlockSize:  2048,
			BlockCount: 10,
			Outcome:    outcome,
			FinishedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	records, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 || records[0].CycleID != "d" || records[1].CycleID != "c" {
		t.Fatalf("unexpected order %+v", records)
	}

	summary, err := store.Summarize(ctx)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.Total != 4 || summary.ByOutcome[catalog.OutcomeCommitted] != 2 || summary.Bytes != 2*20480 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestOpenRejectsOtherSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	store, err := catalog.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	if _, err := catalog.Open(path); !errors.Is(err, catalog.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
