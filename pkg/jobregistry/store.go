package jobregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BackupSuffix is appended to the snapshot path for the rotated copy kept
// from before each overwrite.
const BackupSuffix = ".bak"

// archiveTimeout bounds the off-host archive upload per snapshot.
const archiveTimeout = 30 * time.Second

// Archiver receives a copy of each successfully written snapshot for
// off-host archival. Failures are logged and never affect the save.
type Archiver interface {
	ArchiveSnapshot(ctx context.Context, snapshot []byte) error
}

// StoreStats is the store's health snapshot.
//
// PrunedCount/PrunedAt track retention pruning (records dropped for age);
// RotationError carries the most recent persistence failure and is cleared
// by the next fully successful save.
type StoreStats struct {
	RetainedRecords   int        `json:"retained_records"`
	LastPrunedCount   int        `json:"last_pruned_count"`
	TotalPruned       int        `json:"total_pruned"`
	LastPrunedAt      *time.Time `json:"last_pruned_at"`
	LastLoadAt        *time.Time `json:"last_load_at"`
	LastSaveAt        *time.Time `json:"last_save_at"`
	LastRotationAt    *time.Time `json:"last_rotation_at"`
	LastRotationError string     `json:"last_rotation_error,omitempty"`
	RetentionSeconds  float64    `json:"retention_seconds"`
}

// Store persists the job history as a single JSON snapshot file.
//
// Layout:
//
//	<path>        current snapshot (JSON array of JobRecord)
//	<path>.bak    previous snapshot, rotated before each overwrite
//
// Writes go through a temp file in the same directory followed by a
// rename, so the current snapshot is never observed partially written. The
// store assumes single-process ownership of the path; concurrent writers
// from separate processes are not coordinated.
type Store struct {
	path      string
	retention time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	archiver Archiver
	lastGood []JobRecord
	stats    StoreStats
}

// NewStore creates a snapshot store at path. A retention of zero or less
// disables age-based pruning. A nil logger falls back to a no-op logger.
func NewStore(path string, retention time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		path:      strings.TrimSpace(path),
		retention: retention,
		logger:    logger,
	}
	if retention > 0 {
		s.stats.RetentionSeconds = retention.Seconds()
	}
	return s
}

// SetArchiver attaches an off-host snapshot archiver.
func (s *Store) SetArchiver(a Archiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archiver = a
}

// Path returns the snapshot file path.
func (s *Store) Path() string { return s.path }

// BackupPath returns the rotated backup path.
func (s *Store) BackupPath() string { return s.path + BackupSuffix }

// Load reads the snapshot from disk, applying retention pruning.
//
// A missing file is an empty history. A malformed or unreadable snapshot
// falls back to the rotated backup, then to the last snapshot this store
// successfully parsed in memory, then to empty. Load never fails the
// caller; problems are logged.
func (s *Store) Load() []JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, ok := s.readSnapshot(s.path, false)
	if !ok {
		records, ok = s.readSnapshot(s.BackupPath(), true)
	}
	if !ok {
		records = cloneRecords(s.lastGood)
	}

	kept := s.applyRetention(records)
	now := time.Now().UTC()
	s.stats.LastLoadAt = &now
	s.stats.RetainedRecords = len(kept)
	s.lastGood = cloneRecords(kept)
	return kept
}

// readSnapshot parses one snapshot file. The boolean result is false when
// the file is missing, unreadable, or malformed. Missing files are normal
// and logged only at debug level.
func (s *Store) readSnapshot(path string, isBackup bool) ([]JobRecord, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug("job snapshot not found", zap.String("path", path))
		} else {
			s.logger.Warn("failed to read job snapshot",
				zap.String("path", path),
				zap.Bool("backup", isBackup),
				zap.Error(err))
		}
		return nil, false
	}

	var records []JobRecord
	if err := json.Unmarshal(b, &records); err != nil {
		s.logger.Warn("malformed job snapshot",
			zap.String("path", path),
			zap.Bool("backup", isBackup),
			zap.Error(err))
		return nil, false
	}
	if records == nil {
		records = []JobRecord{}
	}
	return records, true
}

// Save writes records as the current snapshot, rotating the existing file
// to the backup path first. Retention pruning is applied before writing.
//
// Errors are returned for the caller to log; the store stays usable and
// surfaces the failure through Stats().
func (s *Store) Save(records []JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return fmt.Errorf("job store path is empty")
	}

	kept := s.applyRetention(records)

	b, err := json.MarshalIndent(kept, "", "  ")
	if err != nil {
		return s.failSave(fmt.Errorf("marshal job snapshot: %w", err))
	}
	b = append(b, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return s.failSave(fmt.Errorf("create job store dir: %w", err))
	}

	// Rotate before overwriting so a crash mid-write leaves a recoverable
	// prior snapshot. Rotation failure degrades but does not block the save.
	if err := s.rotate(); err != nil {
		s.logger.Warn("failed to rotate job snapshot",
			zap.String("path", s.path),
			zap.Error(err))
		s.stats.LastRotationError = err.Error()
	}

	if err := s.writeAtomic(b); err != nil {
		return s.failSave(err)
	}

	now := time.Now().UTC()
	s.stats.LastSaveAt = &now
	s.stats.RetainedRecords = len(kept)
	s.stats.LastRotationError = ""
	s.lastGood = cloneRecords(kept)

	if s.archiver != nil {
		go s.archive(s.archiver, b, len(kept))
	}
	return nil
}

// failSave records the failure in stats and logs it before returning.
func (s *Store) failSave(err error) error {
	s.stats.LastRotationError = err.Error()
	s.logger.Error("failed to save job snapshot",
		zap.String("path", s.path),
		zap.Error(err))
	return err
}

// rotate copies the current snapshot to the backup path. A missing current
// snapshot is not an error.
func (s *Store) rotate() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot for rotation: %w", err)
	}

	backup := s.BackupPath()
	tmp, err := os.CreateTemp(filepath.Dir(backup), filepath.Base(backup)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create backup temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write backup temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close backup temp file: %w", err)
	}
	if err := os.Rename(tmpName, backup); err != nil {
		return fmt.Errorf("rename backup file: %w", err)
	}

	now := time.Now().UTC()
	s.stats.LastRotationAt = &now
	return nil
}

// writeAtomic writes b to the snapshot path via temp file and rename.
func (s *Store) writeAtomic(b []byte) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// applyRetention drops records older than the retention window, by
// UpdatedAt (CreatedAt when UpdatedAt is unset). Prune counters are
// updated only when something was actually dropped. Caller holds s.mu.
func (s *Store) applyRetention(records []JobRecord) []JobRecord {
	if s.retention <= 0 {
		return cloneRecords(records)
	}

	cutoff := time.Now().UTC().Add(-s.retention)
	kept := make([]JobRecord, 0, len(records))
	dropped := 0
	for _, r := range records {
		ts := r.UpdatedAt
		if ts.IsZero() {
			ts = r.CreatedAt
		}
		if ts.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, r.Clone())
	}

	if dropped > 0 {
		now := time.Now().UTC()
		s.stats.LastPrunedCount = dropped
		s.stats.TotalPruned += dropped
		s.stats.LastPrunedAt = &now
		s.logger.Info("pruned expired job records",
			zap.Int("dropped", dropped),
			zap.Int("retained", len(kept)),
			zap.Duration("retention", s.retention))
	}
	return kept
}

// archive ships one snapshot copy off-host. Runs outside the store lock.
func (s *Store) archive(a Archiver, snapshot []byte, records int) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := a.ArchiveSnapshot(ctx, snapshot); err != nil {
		s.logger.Warn("failed to archive job snapshot",
			zap.Int("records", records),
			zap.Error(err))
		return
	}
	s.logger.Debug("archived job snapshot", zap.Int("records", records))
}

// Stats returns a copy of the store's health counters.
func (s *Store) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func cloneRecords(in []JobRecord) []JobRecord {
	out := make([]JobRecord, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
