package entity

import "time"

// DbUploadRecord is the persisted audit row for one completed upload.
type DbUploadRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Key         string `gorm:"column:key;type:varchar(1024);index" json:"key"`
	Provider    string `gorm:"column:provider;type:varchar(64);index" json:"provider"`
	Size        int64  `gorm:"column:size" json:"size"`
	ContentType string `gorm:"column:content_type;type:varchar(255)" json:"content_type"`
	ETag        string `gorm:"column:etag;type:varchar(255)" json:"etag"`
	URL         string `gorm:"column:url;type:text" json:"url"`
	Optimized   bool   `gorm:"column:optimized" json:"optimized"`
	Backup      bool   `gorm:"column:backup" json:"backup"`
	BackupError string `gorm:"column:backup_error;type:text" json:"backup_error"`
	Attempts    int    `gorm:"column:attempts" json:"attempts"`
}

// TableName overrides default pluralised name.
func (DbUploadRecord) TableName() string {
	return "upload_records"
}

// DbDeleteRecord is the persisted audit row for one delete.
type DbDeleteRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Key         string `gorm:"column:key;type:varchar(1024);index" json:"key"`
	Provider    string `gorm:"column:provider;type:varchar(64);index" json:"provider"`
	Deleted     bool   `gorm:"column:deleted" json:"deleted"`
	Backup      bool   `gorm:"column:backup" json:"backup"`
	BackupError string `gorm:"column:backup_error;type:text" json:"backup_error"`
}

// TableName overrides default pluralised name.
func (DbDeleteRecord) TableName() string {
	return "delete_records"
}

// DbSyncRun is the persisted audit row for one provider reconciliation run.
// Items holds the per-key outcomes serialized as JSON.
type DbSyncRun struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Direction  string `gorm:"column:direction;type:varchar(32)" json:"direction"`
	DryRun     bool   `gorm:"column:dry_run" json:"dry_run"`
	Synced     int    `gorm:"column:synced" json:"synced"`
	Failed     int    `gorm:"column:failed" json:"failed"`
	Conflicts  int    `gorm:"column:conflicts" json:"conflicts"`
	DurationMS int64  `gorm:"column:duration_ms" json:"duration_ms"`
	Items      string `gorm:"column:items;type:text" json:"items"`
}

// TableName overrides default pluralised name.
func (DbSyncRun) TableName() string {
	return "sync_runs"
}

// DbMigrationRun is the persisted audit row for one local-to-provider
// migration run. Items holds the per-file outcomes serialized as JSON.
type DbMigrationRun struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	DryRun     bool   `gorm:"column:dry_run" json:"dry_run"`
	Scanned    int    `gorm:"column:scanned" json:"scanned"`
	Skipped    int    `gorm:"column:skipped" json:"skipped"`
	Uploaded   int    `gorm:"column:uploaded" json:"uploaded"`
	Failed     int    `gorm:"column:failed" json:"failed"`
	DurationMS int64  `gorm:"column:duration_ms" json:"duration_ms"`
	Items      string `gorm:"column:items;type:text" json:"items"`
}

// TableName overrides default pluralised name.
func (DbMigrationRun) TableName() string {
	return "migration_runs"
}
