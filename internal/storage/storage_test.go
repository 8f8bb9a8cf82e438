package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestDB creates an empty run database in a temp directory
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := OpenDB(filepath.Join(t.TempDir(), "output", "runs.db"))
	if err != nil {
		t.Fatalf("Failed to open test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func finishedRun(setting string, started time.Time) Run {
	run := NewRun(setting, ModeTrained)
	run.StartedAt = started
	run.FinishedAt = started.Add(time.Minute)
	run.Records = 10
	run.Degraded = 1
	run.FinalTrainLoss = 0.3
	run.FinalTrainAcc = 0.9
	run.FinalValLoss = 0.4
	run.FinalValAcc = 0.85
	run.Epochs = []Epoch{
		{Epoch: 1, TrainLoss: 0.6, TrainAcc: 0.6, ValLoss: 0.65, ValAcc: 0.55},
		{Epoch: 2, TrainLoss: 0.3, TrainAcc: 0.9, ValLoss: 0.4, ValAcc: 0.85},
	}
	return run
}

func TestRunLifecycle(t *testing.T) {
	db := setupTestDB(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	run := finishedRun("hypernode2vec_p(1)q(1)_p1(1)p2(1)", started)
	if err := db.BeginRun(run); err != nil {
		t.Fatalf("BeginRun() error = %v", err)
	}

	got, err := db.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Finished() {
		t.Error("run should not be finished before FinishRun")
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}

	for _, e := range run.Epochs {
		if err := db.RecordEpoch(run.ID, e); err != nil {
			t.Fatalf("RecordEpoch() error = %v", err)
		}
	}
	if err := db.FinishRun(run); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	got, err = db.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if !got.FinishedAt.Equal(run.FinishedAt) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, run.FinishedAt)
	}
	if got.FinalValAcc != 0.85 || got.FinalTrainLoss != 0.3 {
		t.Errorf("final metrics = %+v", got)
	}
	if got.Records != 10 || got.Degraded != 1 {
		t.Errorf("Records/Degraded = %d/%d, want 10/1", got.Records, got.Degraded)
	}
	if len(got.Epochs) != 2 || got.Epochs[1] != run.Epochs[1] {
		t.Errorf("Epochs = %+v, want %+v", got.Epochs, run.Epochs)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.GetRun("missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun() error = %v, want ErrRunNotFound", err)
	}

	err = db.FinishRun(Run{ID: "missing", FinishedAt: time.Now()})
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FinishRun() error = %v, want ErrRunNotFound", err)
	}
}

func TestListRuns(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	settings := []string{"a", "b", "a"}
	for i, s := range settings {
		run := finishedRun(s, base.Add(time.Duration(i)*time.Hour))
		if err := db.BeginRun(run); err != nil {
			t.Fatalf("BeginRun() error = %v", err)
		}
	}

	tests := []struct {
		name    string
		setting string
		limit   int
		want    int
	}{
		{"all", "", 0, 3},
		{"one setting", "a", 0, 2},
		{"limited", "", 1, 1},
		{"unknown setting", "z", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := db.ListRuns(tt.setting, tt.limit)
			if err != nil {
				t.Fatalf("ListRuns() error = %v", err)
			}
			if len(runs) != tt.want {
				t.Errorf("ListRuns() returned %d runs, want %d", len(runs), tt.want)
			}
		})
	}

	runs, _ := db.ListRuns("", 0)
	if !runs[0].StartedAt.After(runs[1].StartedAt) {
		t.Error("runs should be newest first")
	}
}

func TestThresholdResults(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, mode := range []string{"diluted", "corrected"} {
		r := ThresholdResult{
			Setting:   "s",
			Mode:      mode,
			Threshold: 0.4,
			Accuracy:  0.75,
			Queries:   4,
			Diluted:   1,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := db.RecordThreshold(r); err != nil {
			t.Fatalf("RecordThreshold() error = %v", err)
		}
	}

	results, err := db.ListThresholds("s")
	if err != nil {
		t.Fatalf("ListThresholds() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Mode != "corrected" {
		t.Errorf("newest result mode = %q, want corrected", results[0].Mode)
	}

	other, _ := db.ListThresholds("other")
	if len(other) != 0 {
		t.Errorf("got %d results for unknown setting", len(other))
	}
}

func TestJSONLRoundTripAndRebuild(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "output", "runs.jsonl")
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	first := finishedRun("a", base)
	second := finishedRun("b", base.Add(time.Hour))
	second.Mode = ModeLoaded
	second.Epochs = nil

	for _, r := range []Run{first, second} {
		if err := AppendRun(logPath, r); err != nil {
			t.Fatalf("AppendRun() error = %v", err)
		}
	}

	runs, err := ReadRuns(logPath)
	if err != nil {
		t.Fatalf("ReadRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ReadRuns() returned %d runs, want 2", len(runs))
	}
	if runs[0].ID != first.ID || len(runs[0].Epochs) != 2 {
		t.Errorf("first run = %+v", runs[0])
	}

	db := setupTestDB(t)
	// a stale row that the rebuild must drop
	if err := db.BeginRun(NewRun("stale", ModeTrained)); err != nil {
		t.Fatal(err)
	}

	n, err := db.RebuildFromJSONL(logPath)
	if err != nil {
		t.Fatalf("RebuildFromJSONL() error = %v", err)
	}
	if n != 2 {
		t.Errorf("RebuildFromJSONL() = %d, want 2", n)
	}

	all, _ := db.ListRuns("", 0)
	if len(all) != 2 {
		t.Errorf("after rebuild got %d runs, want 2", len(all))
	}
	got, err := db.GetRun(first.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if len(got.Epochs) != 2 {
		t.Errorf("rebuilt run has %d epochs, want 2", len(got.Epochs))
	}
}

func TestReadRuns_Missing(t *testing.T) {
	runs, err := ReadRuns(filepath.Join(t.TempDir(), "none.jsonl"))
	if err != nil || runs != nil {
		t.Errorf("ReadRuns() = %v, %v; want nil, nil", runs, err)
	}
}

func TestResolveRunID(t *testing.T) {
	db := setupTestDB(t)
	// started but unfinished runs exist only in the database
	for _, id := range []string{"0a1b2c3d-0000", "0a1b9999-0000", "ffff0000-0000"} {
		run := NewRun("s", ModeTrained)
		run.ID = id
		if err := db.BeginRun(run); err != nil {
			t.Fatalf("BeginRun() error = %v", err)
		}
	}

	tests := []struct {
		id      string
		want    string
		wantErr error
	}{
		{"ffff0000-0000", "ffff0000-0000", nil},
		{"ffff", "ffff0000-0000", nil},
		{"0a1b2", "0a1b2c3d-0000", nil},
		{"0a1b", "", ErrAmbiguousRunID},
		{"abc", "", ErrRunNotFound}, // too short to be a prefix
		{"eeee", "", ErrRunNotFound},
		{"ff%", "", ErrRunNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := db.ResolveRunID(tt.id)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ResolveRunID(%q) error = %v, want %v", tt.id, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveRunID(%q) error = %v", tt.id, err)
			}
			if got != tt.want {
				t.Errorf("ResolveRunID(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestThresholdLogAndRebuild(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "output", "thresholds.jsonl")
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, mode := range []string{"diluted", "corrected"} {
		r := ThresholdResult{
			Setting:   "s",
			Mode:      mode,
			Threshold: 0.4,
			Accuracy:  0.75,
			Queries:   4,
			Diluted:   1,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := AppendThreshold(logPath, r); err != nil {
			t.Fatalf("AppendThreshold() error = %v", err)
		}
	}

	logged, err := ReadThresholds(logPath)
	if err != nil {
		t.Fatalf("ReadThresholds() error = %v", err)
	}
	if len(logged) != 2 || logged[1].Mode != "corrected" {
		t.Fatalf("ReadThresholds() = %+v", logged)
	}

	db := setupTestDB(t)
	// a stale row that the rebuild must drop
	if err := db.RecordThreshold(ThresholdResult{Setting: "stale", Mode: "diluted", CreatedAt: base}); err != nil {
		t.Fatal(err)
	}

	n, err := db.RebuildThresholdsFromJSONL(logPath)
	if err != nil {
		t.Fatalf("RebuildThresholdsFromJSONL() error = %v", err)
	}
	if n != 2 {
		t.Errorf("RebuildThresholdsFromJSONL() = %d, want 2", n)
	}

	all, _ := db.ListThresholds("")
	if len(all) != 2 {
		t.Fatalf("after rebuild got %d results, want 2", len(all))
	}
	if all[0].Mode != "corrected" || !all[0].CreatedAt.Equal(base.Add(time.Second)) {
		t.Errorf("newest result = %+v", all[0])
	}

	empty, err := ReadThresholds(filepath.Join(t.TempDir(), "none.jsonl"))
	if err != nil || empty != nil {
		t.Errorf("ReadThresholds(missing) = %v, %v; want nil, nil", empty, err)
	}
}
