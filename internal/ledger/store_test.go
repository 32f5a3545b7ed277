package ledger_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"shroomdump/internal/ledger"
	"shroomdump/internal/testsupport"
)

func TestOpenAppliesMigrationsIdempotently(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := ledger.Open(context.Background(), cfg.Paths.LedgerPath)
	if err != nil {
		t.Fatalf("reopen ledger: %v", err)
	}
	defer reopened.Close()

	runs, err := reopened.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected empty ledger, got %d runs", len(runs))
	}
}

func TestOpenRecordsSchemaVersion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	version, err := store.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != 1 {
		t.Fatalf("schema version = %d, want 1", version)
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", cfg.Paths.LedgerPath)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO ledger_schema (version, name, applied_at) VALUES (99, 'future', '2030-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("insert future version: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := ledger.Open(context.Background(), cfg.Paths.LedgerPath); !errors.Is(err, ledger.ErrSchemaTooNew) {
		t.Fatalf("expected ErrSchemaTooNew, got %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.BeginRun(ctx, "run-1", []string{"origins", "standard"}, started); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	assets := []ledger.Asset{
		{RunID: "run-1", Mode: "origins", Kind: "figure", Container: "dcr", BaseName: "figure_hair",
			SourcePath: "/c/figure_hair.dcr", BundlePath: "/o/figure/figure_hair.bundle", Digest: "abc", SizeBytes: 42, Status: ledger.AssetBundled},
		{RunID: "run-1", Mode: "origins", Kind: "other", Container: "dcr", BaseName: "misc",
			SourcePath: "/c/misc.dcr", Status: ledger.AssetFailed, Error: "no files produced"},
	}
	for _, asset := range assets {
		if err := store.RecordAsset(ctx, asset); err != nil {
			t.Fatalf("RecordAsset: %v", err)
		}
	}
	if err := store.FinishRun(ctx, "run-1", ledger.RunPartial, 1, 1, nil, started.Add(time.Minute)); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	run := runs[0]
	if run.Status != ledger.RunPartial || run.Succeeded != 1 || run.Failed != 1 {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.Modes != "origins,standard" {
		t.Fatalf("unexpected modes %q", run.Modes)
	}
	if !run.FinishedAt.Equal(started.Add(time.Minute)) {
		t.Fatalf("unexpected finish time %v", run.FinishedAt)
	}

	got, err := store.ListAssets(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListAssets: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(got))
	}
	if got[0].BaseName != "figure_hair" || got[0].Digest != "abc" || got[0].SizeBytes != 42 {
		t.Fatalf("unexpected first asset %+v", got[0])
	}
	if got[1].Status != ledger.AssetFailed || got[1].BundlePath != "" || got[1].Error != "no files produced" {
		t.Fatalf("unexpected second asset %+v", got[1])
	}
}

func TestListRunsNewestFirstWithLimit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := store.BeginRun(ctx, id, []string{"origins"}, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("BeginRun %s: %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Fatalf("unexpected runs %+v", runs)
	}
	if runs[0].Status != ledger.RunRunning {
		t.Fatalf("expected running status, got %s", runs[0].Status)
	}
}

func TestFinishUnknownRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	err := store.FinishRun(context.Background(), "missing", ledger.RunCompleted, 0, 0, nil, time.Now())
	if !errors.Is(err, ledger.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}
