package dashboard

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lodgepole/farmsight/pkg/readcache"
)

// bucket is the value-type-independent surface shared by every cache
// bucket.
type bucket interface {
	SetTTL(ttl time.Duration)
	Flush() int
	Status() readcache.Status
}

func (s *Service) buckets() []bucket {
	return []bucket{s.projects, s.overview, s.summaries, s.versions}
}

// CacheStatus reports the live cache configuration and per-bucket
// counters.
func (s *Service) CacheStatus() CacheStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cacheStatusLocked()
}

func (s *Service) cacheStatusLocked() CacheStatus {
	status := CacheStatus{
		TTLSeconds:  s.ttl.Seconds(),
		MaxRecords:  s.maxRecords,
		MaxProjects: s.maxProjects,
	}
	for _, b := range s.buckets() {
		status.Buckets = append(status.Buckets, b.Status())
	}
	return status
}

// Configure applies an admin cache update and returns the resulting
// status. Validation failures reject the whole request; no setting is
// changed and nothing is flushed.
func (s *Service) Configure(update ConfigUpdate) (CacheStatus, error) {
	var ttl time.Duration
	if update.TTLSeconds != nil {
		secs := *update.TTLSeconds
		if secs <= 0 || secs > maxTTL.Seconds() {
			return CacheStatus{}, &ValidationError{
				Field:  "ttl_seconds",
				Reason: fmt.Sprintf("must be greater than 0 and at most %.0f", maxTTL.Seconds()),
			}
		}
		ttl = time.Duration(secs * float64(time.Second))
	}
	if update.MaxRecords != nil {
		if n := *update.MaxRecords; n < 1 || n > maxRecordsCap {
			return CacheStatus{}, &ValidationError{
				Field:  "max_records",
				Reason: fmt.Sprintf("must be between 1 and %d", maxRecordsCap),
			}
		}
	}
	if update.MaxProjects != nil {
		if n := *update.MaxProjects; n < 1 || n > maxProjectsCap {
			return CacheStatus{}, &ValidationError{
				Field:  "max_projects",
				Reason: fmt.Sprintf("must be between 1 and %d", maxProjectsCap),
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if update.Flush {
		removed := 0
		for _, b := range s.buckets() {
			removed += b.Flush()
		}
		s.logger.Info("flushed dashboard caches", zap.Int("removed", removed))
	}
	if update.TTLSeconds != nil {
		s.ttl = ttl
		for _, b := range s.buckets() {
			b.SetTTL(ttl)
		}
	}
	if update.MaxRecords != nil {
		s.maxRecords = *update.MaxRecords
		s.versions.SetMaxEntries(*update.MaxRecords)
	}
	if update.MaxProjects != nil {
		s.maxProjects = *update.MaxProjects
		s.summaries.SetMaxEntries(*update.MaxProjects)
	}

	s.logger.Info("applied cache configuration",
		zap.Float64("ttl_seconds", s.ttl.Seconds()),
		zap.Int("max_records", s.maxRecords),
		zap.Int("max_projects", s.maxProjects),
		zap.Bool("flushed", update.Flush))
	return s.cacheStatusLocked(), nil
}

// Invalidate removes cached entries from one bucket and returns the
// number removed. An empty key clears the whole bucket. Invalidating a
// project summary also purges that project's cached version queries.
func (s *Service) Invalidate(bucketName, key string) (int, error) {
	key = strings.TrimSpace(key)
	switch bucketName {
	case bucketProjects:
		return s.projects.Flush(), nil
	case bucketOverview:
		return s.overview.Flush(), nil
	case bucketSummaries:
		if key == "" {
			return s.summaries.Flush() + s.versions.Flush(), nil
		}
		n := 0
		if s.summaries.Invalidate(key) {
			n++
		}
		return n + s.purgeProjectVersions(key), nil
	case bucketVersions:
		if key == "" {
			return s.versions.Flush(), nil
		}
		if s.versions.Invalidate(key) {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, &ValidationError{Field: "bucket", Reason: fmt.Sprintf("unknown bucket %q", bucketName)}
	}
}

// InvalidateProject drops everything cached about one project, including
// the aggregates that count it. Used after upstream-confirmed changes.
func (s *Service) InvalidateProject(project string) int {
	project = strings.TrimSpace(project)
	if project == "" {
		return 0
	}
	n := 0
	if s.summaries.Invalidate(project) {
		n++
	}
	n += s.purgeProjectVersions(project)
	n += s.projects.Flush()
	n += s.overview.Flush()
	return n
}

// Flush clears every cache bucket and returns the number of entries
// removed.
func (s *Service) Flush() int {
	n := 0
	for _, b := range s.buckets() {
		n += b.Flush()
	}
	return n
}
