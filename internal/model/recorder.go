package model

import (
	"context"
	"encoding/json"

	"mediastore/internal/entity"
	"mediastore/internal/storage"
)

// AuditRecorder persists engine operation results through a Repository. The
// engine treats recording as fire-and-forget: errors returned here are logged
// by the caller and never fail the operation they describe.
type AuditRecorder struct {
	repo Repository
}

var _ storage.Recorder = (*AuditRecorder)(nil)

// NewAuditRecorder wraps repo as the engine's audit callback.
func NewAuditRecorder(repo Repository) *AuditRecorder {
	return &AuditRecorder{repo: repo}
}

func (a *AuditRecorder) RecordUpload(ctx context.Context, result storage.UploadResult) error {
	return a.repo.CreateUploadRecord(ctx, &entity.DbUploadRecord{
		Key:         result.Key,
		Provider:    result.Provider,
		Size:        result.Size,
		ContentType: result.ContentType,
		ETag:        result.ETag,
		URL:         result.URL,
		Optimized:   result.Optimized,
		Backup:      result.Backup,
		BackupError: result.BackupError,
		Attempts:    result.Attempts,
	})
}

func (a *AuditRecorder) RecordDelete(ctx context.Context, result storage.DeleteResult) error {
	return a.repo.CreateDeleteRecord(ctx, &entity.DbDeleteRecord{
		Key:         result.Key,
		Provider:    result.Provider,
		Deleted:     result.Deleted,
		Backup:      result.Backup,
		BackupError: result.BackupError,
	})
}

func (a *AuditRecorder) RecordSync(ctx context.Context, report storage.SyncReport) error {
	return a.repo.CreateSyncRun(ctx, &entity.DbSyncRun{
		Direction:  string(report.Direction),
		DryRun:     report.DryRun,
		Synced:     report.Synced,
		Failed:     report.Failed,
		Conflicts:  len(report.Plan.Conflicts),
		DurationMS: report.DurationMS,
		Items:      marshalItems(report.Items),
	})
}

func (a *AuditRecorder) RecordMigration(ctx context.Context, report storage.MigrationReport) error {
	return a.repo.CreateMigrationRun(ctx, &entity.DbMigrationRun{
		DryRun:     report.DryRun,
		Scanned:    report.Scanned,
		Skipped:    report.Skipped,
		Uploaded:   report.Uploaded,
		Failed:     report.Failed,
		DurationMS: report.DurationMS,
		Items:      marshalItems(report.Items),
	})
}

// marshalItems serializes per-item outcomes for the audit row. Marshal
// failures degrade to an empty list rather than losing the run row.
func marshalItems(items any) string {
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}
