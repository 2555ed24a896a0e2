package storage

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// SyncDirection selects which way objects are copied during reconciliation.
type SyncDirection string

const (
	// SyncToBackup copies objects only the primary holds onto the backup.
	SyncToBackup SyncDirection = "to-backup"
	// SyncToPrimary copies objects only the backup holds onto the primary.
	SyncToPrimary SyncDirection = "to-primary"
	// SyncBidirectional runs both directions and reports ETag conflicts.
	SyncBidirectional SyncDirection = "bidirectional"
)

// SyncOptions bound one reconciliation pass.
type SyncOptions struct {
	// Direction defaults to bidirectional.
	Direction SyncDirection
	// DryRun computes the plan without copying anything.
	DryRun bool
	// Prefix restricts the pass to keys under this prefix.
	Prefix string
	// MaxKeys bounds how many keys are listed per side. Zero uses the
	// provider default page size.
	MaxKeys int32
}

// SyncPlan is the reconciliation delta: keys to copy each way and keys
// present on both sides with diverged ETags. Conflicts are only computed for
// bidirectional passes and are reported, never resolved automatically.
type SyncPlan struct {
	ToBackup  []string `json:"to_backup"`
	ToPrimary []string `json:"to_primary"`
	Conflicts []string `json:"conflicts,omitempty"`
}

// SyncItem is the outcome of one attempted copy.
type SyncItem struct {
	Key       string        `json:"key"`
	Direction SyncDirection `json:"direction"`
	Synced    bool          `json:"synced"`
	Error     string        `json:"error,omitempty"`
}

// SyncReport describes what a pass planned and what it actually did. A pass
// tolerates partial completion: per-key failures are recorded here and never
// abort the remaining keys.
type SyncReport struct {
	Direction  SyncDirection `json:"direction"`
	DryRun     bool          `json:"dry_run"`
	Plan       SyncPlan      `json:"plan"`
	Items      []SyncItem    `json:"items,omitempty"`
	Synced     int           `json:"synced"`
	Failed     int           `json:"failed"`
	DurationMS int64         `json:"duration_ms"`
}

// SyncProviders reconciles the primary and backup object populations. It
// lists a bounded page from each side, computes the plan as set differences
// over key→ETag maps, and unless DryRun copies each planned key, to-backup
// first. Listing failure on either side aborts (no item can be processed
// without both populations); a failed copy is recorded and the pass
// continues. Cancellation is honored between keys; an in-flight copy
// completes.
func (s *Service) SyncProviders(ctx context.Context, opts SyncOptions) (*SyncReport, error) {
	if s.backup == nil {
		return nil, configError(s.primary.Name(), "sync requires a backup provider")
	}

	direction := opts.Direction
	if direction == "" {
		direction = SyncBidirectional
	}
	switch direction {
	case SyncToBackup, SyncToPrimary, SyncBidirectional:
	default:
		return nil, validationError("sync", "", "unknown sync direction %q", direction)
	}

	start := time.Now()

	primarySet, err := s.listETags(ctx, s.primary, opts)
	if err != nil {
		return nil, err
	}
	backupSet, err := s.listETags(ctx, s.backup, opts)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{
		Direction: direction,
		DryRun:    opts.DryRun,
		Plan:      buildSyncPlan(primarySet, backupSet, direction),
	}

	if !opts.DryRun {
		if direction == SyncToBackup || direction == SyncBidirectional {
			s.copyKeys(ctx, report, SyncToBackup, s.primary, s.backup, report.Plan.ToBackup)
		}
		if direction == SyncToPrimary || direction == SyncBidirectional {
			s.copyKeys(ctx, report, SyncToPrimary, s.backup, s.primary, report.Plan.ToPrimary)
		}
	}

	report.DurationMS = time.Since(start).Milliseconds()
	s.stats.syncRuns.Add(1)
	s.recordSync(*report)

	logrus.WithFields(logrus.Fields{
		"direction":  string(direction),
		"dry_run":    opts.DryRun,
		"to_backup":  len(report.Plan.ToBackup),
		"to_primary": len(report.Plan.ToPrimary),
		"conflicts":  len(report.Plan.Conflicts),
		"synced":     report.Synced,
		"failed":     report.Failed,
	}).Info("sync pass finished")

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// listETags collects up to the bounded number of key→ETag entries from one
// provider, following continuation tokens.
func (s *Service) listETags(ctx context.Context, p Provider, opts SyncOptions) (map[string]string, error) {
	limit := int(opts.MaxKeys)
	if limit <= 0 {
		limit = defaultListPageSize
	}

	etags := make(map[string]string)
	token := ""
	for len(etags) < limit {
		callCtx, cancel := s.callContext(ctx)
		page, err := p.List(callCtx, ListOptions{
			Prefix:            opts.Prefix,
			MaxKeys:           int32(limit - len(etags)),
			ContinuationToken: token,
		})
		cancel()
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Objects {
			etags[obj.Key] = etagTrim(obj.ETag)
			if len(etags) >= limit {
				break
			}
		}
		if !page.Truncated || page.ContinuationToken == "" {
			break
		}
		token = page.ContinuationToken
	}
	return etags, nil
}

// buildSyncPlan computes the reconciliation delta. Keys are sorted so the
// plan and the copy order are deterministic.
func buildSyncPlan(primary, backup map[string]string, direction SyncDirection) SyncPlan {
	var plan SyncPlan
	for key, etag := range primary {
		betag, ok := backup[key]
		if !ok {
			plan.ToBackup = append(plan.ToBackup, key)
			continue
		}
		if direction == SyncBidirectional && etag != betag {
			plan.Conflicts = append(plan.Conflicts, key)
		}
	}
	for key := range backup {
		if _, ok := primary[key]; !ok {
			plan.ToPrimary = append(plan.ToPrimary, key)
		}
	}
	sort.Strings(plan.ToBackup)
	sort.Strings(plan.ToPrimary)
	sort.Strings(plan.Conflicts)
	return plan
}

func (s *Service) copyKeys(ctx context.Context, report *SyncReport, direction SyncDirection, src, dst Provider, keys []string) {
	for _, key := range keys {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item := SyncItem{Key: key, Direction: direction}
		if err := s.copyObject(ctx, src, dst, key); err != nil {
			item.Error = Redact(err.Error())
			report.Failed++
			logrus.WithError(err).WithFields(logrus.Fields{
				"key":       key,
				"direction": string(direction),
			}).Warn("sync copy failed")
		} else {
			item.Synced = true
			report.Synced++
		}
		report.Items = append(report.Items, item)
	}
}

// copyObject moves one object between heterogeneous providers through
// memory; there is no cross-provider server-side copy. Source metadata is
// carried over best-effort.
func (s *Service) copyObject(ctx context.Context, src, dst Provider, key string) error {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	data, err := src.Download(callCtx, key)
	if err != nil {
		return err
	}

	input := UploadInput{
		Key:          key,
		Data:         data,
		CacheControl: CacheControlFor(key),
	}
	if meta, merr := src.GetMetadata(callCtx, key); merr == nil {
		input.ContentType = meta.ContentType
		input.Metadata = meta.Metadata
	}

	_, err = dst.Upload(callCtx, input)
	return err
}
