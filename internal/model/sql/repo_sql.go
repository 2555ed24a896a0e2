package sql

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"mediastore/internal/entity"
)

// GormRepository implements Repository using GORM
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new repository instance
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// CreateUploadRecord inserts a new upload audit record into the database.
func (r *GormRepository) CreateUploadRecord(ctx context.Context, record *entity.DbUploadRecord) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	return r.db.WithContext(ctx).Create(record).Error
}

// CreateDeleteRecord inserts a new delete audit record into the database.
func (r *GormRepository) CreateDeleteRecord(ctx context.Context, record *entity.DbDeleteRecord) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	return r.db.WithContext(ctx).Create(record).Error
}

// CreateSyncRun inserts a new sync run audit record into the database.
func (r *GormRepository) CreateSyncRun(ctx context.Context, run *entity.DbSyncRun) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	return r.db.WithContext(ctx).Create(run).Error
}

// CreateMigrationRun inserts a new migration run audit record into the database.
func (r *GormRepository) CreateMigrationRun(ctx context.Context, run *entity.DbMigrationRun) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("repository not initialised")
	}
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	return r.db.WithContext(ctx).Create(run).Error
}
