package data

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rdm-platform/rdm-backend/internal/core"
	"github.com/rdm-platform/rdm-backend/internal/pkg/database"
	"github.com/rdm-platform/rdm-backend/internal/uploads/biz"
)

// VersionPO 版本数据库模型
type VersionPO struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primarykey"`
	Name               string     `gorm:"column:name;size:255"`
	DatasetID          uuid.UUID  `gorm:"column:dataset_id;type:uuid;not null;index:idx_version_dataset"`
	VersionFileID      *uuid.UUID `gorm:"column:version_file_id;type:uuid;index:idx_version_file"`
	PublicationDate    *time.Time `gorm:"column:publication_date"`
	Status             string     `gorm:"column:status;size:32;not null;default:'scheduled';index:idx_version_status"`
	MetadataIsComplete bool       `gorm:"column:metadata_is_complete;not null;default:false"`
	CreatedByID        *uuid.UUID `gorm:"column:created_by_id;type:uuid"`
	UpdatedByID        *uuid.UUID `gorm:"column:updated_by_id;type:uuid"`
	CreatedAt          time.Time  `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

func (VersionPO) TableName() string {
	return "versions"
}

// VersionRepo 版本仓储实现
type VersionRepo struct {
	db *database.DB
}

// NewVersionRepo 创建版本仓储
func NewVersionRepo(db *database.DB) *VersionRepo {
	return &VersionRepo{db: db}
}

// Create 创建版本
func (r *VersionRepo) Create(ctx context.Context, v *biz.Version) error {
	if err := r.db.WithContext(ctx).GetDB().Create(versionToPO(v)).Error; err != nil {
		return fmt.Errorf("failed to create version: %w", err)
	}
	return nil
}

// Update 更新版本
func (r *VersionRepo) Update(ctx context.Context, v *biz.Version) error {
	po := versionToPO(v)
	po.UpdatedAt = time.Now()
	err := r.db.WithContext(ctx).GetDB().Model(&VersionPO{}).Where("id = ?", po.ID).
		Updates(map[string]interface{}{
			"name":                 po.Name,
			"version_file_id":      po.VersionFileID,
			"publication_date":     po.PublicationDate,
			"status":               po.Status,
			"metadata_is_complete": po.MetadataIsComplete,
			"updated_by_id":        po.UpdatedByID,
			"updated_at":           po.UpdatedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update version: %w", err)
	}
	return nil
}

// Delete 删除版本
func (r *VersionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).GetDB().Where("id = ?", id).Delete(&VersionPO{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete version: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取版本
func (r *VersionRepo) GetByID(ctx context.Context, id uuid.UUID) (*biz.Version, error) {
	var po VersionPO
	err := r.db.WithContext(ctx).GetDB().Where("id = ?", id).First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return versionToDomain(&po), nil
}

// ListByDataset 按创建时间升序列出数据集的版本
func (r *VersionRepo) ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]*biz.Version, error) {
	var pos []VersionPO
	err := r.db.WithContext(ctx).GetDB().
		Where("dataset_id = ?", datasetID).
		Order("created_at ASC").
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	return versionsToDomain(pos), nil
}

// Latest 返回数据集最新创建的版本
func (r *VersionRepo) Latest(ctx context.Context, datasetID uuid.UUID) (*biz.Version, error) {
	var po VersionPO
	err := r.db.WithContext(ctx).GetDB().
		Where("dataset_id = ?", datasetID).
		Order("created_at DESC").
		First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest version: %w", err)
	}
	return versionToDomain(&po), nil
}

// CountByDataset 统计数据集的版本数量
func (r *VersionRepo) CountByDataset(ctx context.Context, datasetID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).GetDB().Model(&VersionPO{}).
		Where("dataset_id = ?", datasetID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count versions: %w", err)
	}
	return count, nil
}

// ListByStatus 按状态列出版本
func (r *VersionRepo) ListByStatus(ctx context.Context, status biz.Status) ([]*biz.Version, error) {
	var pos []VersionPO
	err := r.db.WithContext(ctx).GetDB().
		Where("status = ?", string(status)).
		Order("created_at ASC").
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list versions by status: %w", err)
	}
	return versionsToDomain(pos), nil
}

// CountUsingFile 统计引用指定文件的版本数量
func (r *VersionRepo) CountUsingFile(ctx context.Context, fileID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).GetDB().Model(&VersionPO{}).
		Where("version_file_id = ?", fileID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count versions using file: %w", err)
	}
	return count, nil
}

// FirstUsingFile 返回引用指定文件的任意一个版本
func (r *VersionRepo) FirstUsingFile(ctx context.Context, fileID uuid.UUID) (*biz.Version, error) {
	var po VersionPO
	err := r.db.WithContext(ctx).GetDB().
		Where("version_file_id = ?", fileID).
		Order("created_at ASC").
		First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get version using file: %w", err)
	}
	return versionToDomain(&po), nil
}

func versionToPO(v *biz.Version) *VersionPO {
	return &VersionPO{
		ID:                 v.ID,
		Name:               v.Name,
		DatasetID:          v.DatasetID,
		VersionFileID:      v.VersionFileID,
		PublicationDate:    v.PublicationDate,
		Status:             string(v.Status),
		MetadataIsComplete: v.MetadataIsComplete,
		CreatedByID:        v.Audit.CreatedByID,
		UpdatedByID:        v.Audit.UpdatedByID,
		CreatedAt:          v.CreatedAt,
		UpdatedAt:          v.UpdatedAt,
	}
}

func versionToDomain(po *VersionPO) *biz.Version {
	return &biz.Version{
		ID:                 po.ID,
		Name:               po.Name,
		DatasetID:          po.DatasetID,
		VersionFileID:      po.VersionFileID,
		PublicationDate:    po.PublicationDate,
		Status:             biz.Status(po.Status),
		MetadataIsComplete: po.MetadataIsComplete,
		Audit: core.AuditInfo{
			CreatedByID: po.CreatedByID,
			UpdatedByID: po.UpdatedByID,
		},
		CreatedAt: po.CreatedAt,
		UpdatedAt: po.UpdatedAt,
	}
}

func versionsToDomain(pos []VersionPO) []*biz.Version {
	out := make([]*biz.Version, len(pos))
	for i, po := range pos {
		out[i] = versionToDomain(&po)
	}
	return out
}
