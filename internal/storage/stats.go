package storage

import "sync/atomic"

// Statistics is a point-in-time snapshot of the service counters. Counters
// move only after the primary operation succeeds; backup failures are counted
// separately and never roll an operation back.
type Statistics struct {
	Provider       string     `json:"provider"`
	BackupProvider string     `json:"backup_provider,omitempty"`
	Uploads        uint64     `json:"uploads"`
	Deletes        uint64     `json:"deletes"`
	BytesUploaded  uint64     `json:"bytes_uploaded"`
	Optimized      uint64     `json:"optimized"`
	Failures       uint64     `json:"failures"`
	BackupFailures uint64     `json:"backup_failures"`
	SyncRuns       uint64     `json:"sync_runs"`
	MigrationRuns  uint64     `json:"migration_runs"`
	URLCache       CacheStats `json:"url_cache"`
}

type serviceStats struct {
	uploads        atomic.Uint64
	deletes        atomic.Uint64
	bytesUploaded  atomic.Uint64
	optimized      atomic.Uint64
	failures       atomic.Uint64
	backupFailures atomic.Uint64
	syncRuns       atomic.Uint64
	migrationRuns  atomic.Uint64
}

// GetStatistics returns the current counters plus URL cache effectiveness.
func (s *Service) GetStatistics() Statistics {
	stats := Statistics{
		Provider:       s.primary.Name(),
		Uploads:        s.stats.uploads.Load(),
		Deletes:        s.stats.deletes.Load(),
		BytesUploaded:  s.stats.bytesUploaded.Load(),
		Optimized:      s.stats.optimized.Load(),
		Failures:       s.stats.failures.Load(),
		BackupFailures: s.stats.backupFailures.Load(),
		SyncRuns:       s.stats.syncRuns.Load(),
		MigrationRuns:  s.stats.migrationRuns.Load(),
		URLCache:       s.urls.CacheStats(),
	}
	if s.backup != nil {
		stats.BackupProvider = s.backup.Name()
	}
	return stats
}
