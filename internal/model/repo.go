package model

import (
	"context"

	"mediastore/internal/entity"
)

// Repository 定义审计记录的数据库操作接口
type Repository interface {
	CreateUploadRecord(ctx context.Context, record *entity.DbUploadRecord) error
	CreateDeleteRecord(ctx context.Context, record *entity.DbDeleteRecord) error
	CreateSyncRun(ctx context.Context, run *entity.DbSyncRun) error
	CreateMigrationRun(ctx context.Context, run *entity.DbMigrationRun) error
}
