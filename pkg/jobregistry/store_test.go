package jobregistry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testRecord(id string, status JobStatus, updated time.Time) JobRecord {
	return JobRecord{
		JobID:     id,
		Status:    status,
		Farm:      "mock",
		Request:   SubmissionRequest{Farm: "mock", Scene: "shots/ep01/sc010.ma", Frames: "1-240"},
		CreatedAt: updated.Add(-time.Minute),
		UpdatedAt: updated,
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	s := NewStore(path, 0, nil)

	now := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	records := []JobRecord{
		testRecord("job-1", StatusCompleted, now),
		testRecord("job-2", StatusRunning, now.Add(time.Hour)),
	}

	if err := s.Save(records); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got := s.Load()
	if len(got) != 2 {
		t.Fatalf("unexpected record count: %d", len(got))
	}
	if got[0].JobID != "job-1" || got[1].JobID != "job-2" {
		t.Fatalf("order not preserved: %q, %q", got[0].JobID, got[1].JobID)
	}
	if got[0].Status != StatusCompleted {
		t.Fatalf("status mismatch: %q", got[0].Status)
	}
	if got[1].Request.Scene != "shots/ep01/sc010.ma" {
		t.Fatalf("request not persisted: %+v", got[1].Request)
	}
}

func TestStore_LoadMissingFileIsEmpty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "jobs.json"), 0, nil)

	got := s.Load()
	if len(got) != 0 {
		t.Fatalf("expected empty history, got %d records", len(got))
	}
	if s.Stats().LastLoadAt == nil {
		t.Fatalf("last_load_at not recorded")
	}
}

func TestStore_RotatesBackupBeforeOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	s := NewStore(path, 0, nil)

	now := time.Now().UTC()
	if err := s.Save([]JobRecord{testRecord("job-1", StatusQueued, now)}); err != nil {
		t.Fatalf("first Save() error: %v", err)
	}
	// No backup yet: there was nothing to rotate.
	if _, err := os.Stat(s.BackupPath()); !os.IsNotExist(err) {
		t.Fatalf("unexpected backup after first save: %v", err)
	}

	if err := s.Save([]JobRecord{
		testRecord("job-1", StatusRunning, now),
		testRecord("job-2", StatusQueued, now),
	}); err != nil {
		t.Fatalf("second Save() error: %v", err)
	}

	b, err := os.ReadFile(s.BackupPath())
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	var prev []JobRecord
	if err := json.Unmarshal(b, &prev); err != nil {
		t.Fatalf("parse backup: %v", err)
	}
	if len(prev) != 1 || prev[0].JobID != "job-1" || prev[0].Status != StatusQueued {
		t.Fatalf("backup does not hold prior snapshot: %+v", prev)
	}
	if s.Stats().LastRotationAt == nil {
		t.Fatalf("last_rotation_at not recorded")
	}
}

func TestStore_LoadRecoversFromBackupOnCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	s := NewStore(path, 0, nil)

	now := time.Now().UTC()
	if err := s.Save([]JobRecord{testRecord("job-1", StatusCompleted, now)}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := s.Save([]JobRecord{
		testRecord("job-1", StatusCompleted, now),
		testRecord("job-2", StatusRunning, now),
	}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	// Simulate a crash mid-write leaving a truncated snapshot.
	if err := os.WriteFile(path, []byte(`[{"job_id": "job-1", "sta`), 0644); err != nil {
		t.Fatalf("corrupt snapshot: %v", err)
	}

	// A fresh store has no in-memory fallback; recovery must come from the
	// rotated backup.
	fresh := NewStore(path, 0, nil)
	got := fresh.Load()
	if len(got) != 1 || got[0].JobID != "job-1" {
		t.Fatalf("expected backup snapshot, got %+v", got)
	}
}

func TestStore_LoadFallsBackToLastParsedSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	s := NewStore(path, 0, nil)

	now := time.Now().UTC()
	if err := s.Save([]JobRecord{testRecord("job-1", StatusCompleted, now)}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if got := s.Load(); len(got) != 1 {
		t.Fatalf("priming load failed: %+v", got)
	}

	// Corrupt both snapshot and backup; only the in-memory copy remains.
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("corrupt snapshot: %v", err)
	}
	if err := os.WriteFile(s.BackupPath(), []byte("{not json"), 0644); err != nil {
		t.Fatalf("corrupt backup: %v", err)
	}

	got := s.Load()
	if len(got) != 1 || got[0].JobID != "job-1" {
		t.Fatalf("expected last parsed snapshot, got %+v", got)
	}
}

func TestStore_RetentionPrunesOnSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	s := NewStore(path, time.Hour, nil)

	now := time.Now().UTC()
	records := []JobRecord{
		testRecord("fresh", StatusCompleted, now.Add(-time.Minute)),
		testRecord("stale", StatusCompleted, now.Add(-2*time.Hour)),
	}
	if err := s.Save(records); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got := s.Load()
	if len(got) != 1 || got[0].JobID != "fresh" {
		t.Fatalf("expected only fresh record, got %+v", got)
	}

	stats := s.Stats()
	if stats.LastPrunedCount != 1 || stats.TotalPruned != 1 {
		t.Fatalf("prune counters wrong: %+v", stats)
	}
	if stats.LastPrunedAt == nil {
		t.Fatalf("last_pruned_at not recorded")
	}
	if stats.RetentionSeconds != 3600 {
		t.Fatalf("retention_seconds wrong: %v", stats.RetentionSeconds)
	}
}

func TestStore_RetentionPrunesOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")

	// Write with retention disabled so the stale record lands on disk.
	writer := NewStore(path, 0, nil)
	now := time.Now().UTC()
	if err := writer.Save([]JobRecord{
		testRecord("fresh", StatusCompleted, now),
		testRecord("stale", StatusCompleted, now.Add(-200*time.Hour)),
	}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	s := NewStore(path, 168*time.Hour, nil)
	got := s.Load()
	if len(got) != 1 || got[0].JobID != "fresh" {
		t.Fatalf("expected stale record pruned on load, got %+v", got)
	}
	if s.Stats().TotalPruned != 1 {
		t.Fatalf("prune counter not updated: %+v", s.Stats())
	}
}

func TestStore_SaveFailureSurfacedInStats(t *testing.T) {
	dir := t.TempDir()
	// Parent "blocked" is a file, so the store directory cannot be created.
	blocker := filepath.Join(dir, "blocked")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	s := NewStore(filepath.Join(blocker, "jobs.json"), 0, nil)
	err := s.Save([]JobRecord{testRecord("job-1", StatusQueued, time.Now().UTC())})
	if err == nil {
		t.Fatalf("expected save failure")
	}
	if s.Stats().LastRotationError == "" {
		t.Fatalf("last_rotation_error not surfaced")
	}
}

func TestStore_SuccessfulSaveClearsRotationError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	s := NewStore(path, 0, nil)
	s.stats.LastRotationError = "disk full"

	if err := s.Save([]JobRecord{testRecord("job-1", StatusQueued, time.Now().UTC())}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if got := s.Stats().LastRotationError; got != "" {
		t.Fatalf("rotation error not cleared: %q", got)
	}
	if s.Stats().LastSaveAt == nil {
		t.Fatalf("last_save_at not recorded")
	}
}

func TestStore_LoadedRecordsAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	s := NewStore(path, 0, nil)

	if err := s.Save([]JobRecord{testRecord("job-1", StatusQueued, time.Now().UTC())}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	first := s.Load()
	first[0].Status = StatusFailed
	first[0].Request.Metadata = map[string]string{"mutated": "true"}

	second := s.Load()
	if second[0].Status != StatusQueued {
		t.Fatalf("caller mutation leaked into store: %q", second[0].Status)
	}
	if second[0].Request.Metadata != nil {
		t.Fatalf("caller metadata leaked into store")
	}
}

type captureArchiver struct {
	snapshots chan []byte
}

func (c *captureArchiver) ArchiveSnapshot(ctx context.Context, snapshot []byte) error {
	c.snapshots <- snapshot
	return nil
}

func TestStore_ArchiverReceivesSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	s := NewStore(path, 0, nil)
	arch := &captureArchiver{snapshots: make(chan []byte, 1)}
	s.SetArchiver(arch)

	if err := s.Save([]JobRecord{testRecord("job-1", StatusQueued, time.Now().UTC())}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	select {
	case snapshot := <-arch.snapshots:
		var records []JobRecord
		if err := json.Unmarshal(snapshot, &records); err != nil {
			t.Fatalf("archived snapshot not parseable: %v", err)
		}
		if len(records) != 1 || records[0].JobID != "job-1" {
			t.Fatalf("archived snapshot wrong: %+v", records)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("archiver was not invoked")
	}
}
