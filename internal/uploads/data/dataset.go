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

// DatasetPO 数据集数据库模型
type DatasetPO struct {
	ID              uuid.UUID  `gorm:"type:uuid;primarykey"`
	Name            string     `gorm:"column:name;size:255"`
	DisplayName     string     `gorm:"column:display_name;size:255"`
	FolderID        *uuid.UUID `gorm:"column:folder_id;type:uuid;index:idx_dataset_folder"`
	PublicationDate *time.Time `gorm:"column:publication_date;index:idx_dataset_published"`
	ExpiryDate      *time.Time `gorm:"column:expiry_date;index:idx_dataset_expiry"`
	Locked          bool       `gorm:"column:locked;not null;default:false"`
	LockedByID      *uuid.UUID `gorm:"column:locked_by_id;type:uuid"`
	LockedAt        *time.Time `gorm:"column:locked_at"`
	CreatedByID     *uuid.UUID `gorm:"column:created_by_id;type:uuid"`
	UpdatedByID     *uuid.UUID `gorm:"column:updated_by_id;type:uuid"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

func (DatasetPO) TableName() string {
	return "datasets"
}

// DatasetRepo 数据集仓储实现
type DatasetRepo struct {
	db *database.DB
}

// NewDatasetRepo 创建数据集仓储
func NewDatasetRepo(db *database.DB) *DatasetRepo {
	return &DatasetRepo{db: db}
}

// Create 创建数据集
func (r *DatasetRepo) Create(ctx context.Context, d *biz.Dataset) error {
	if err := r.db.WithContext(ctx).GetDB().Create(datasetToPO(d)).Error; err != nil {
		return fmt.Errorf("failed to create dataset: %w", err)
	}
	return nil
}

// Update 更新数据集
func (r *DatasetRepo) Update(ctx context.Context, d *biz.Dataset) error {
	po := datasetToPO(d)
	po.UpdatedAt = time.Now()
	err := r.db.WithContext(ctx).GetDB().Model(&DatasetPO{}).Where("id = ?", po.ID).
		Updates(map[string]interface{}{
			"name":             po.Name,
			"display_name":     po.DisplayName,
			"folder_id":        po.FolderID,
			"publication_date": po.PublicationDate,
			"expiry_date":      po.ExpiryDate,
			"locked":           po.Locked,
			"locked_by_id":     po.LockedByID,
			"locked_at":        po.LockedAt,
			"updated_by_id":    po.UpdatedByID,
			"updated_at":       po.UpdatedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update dataset: %w", err)
	}
	return nil
}

// Delete 删除数据集
func (r *DatasetRepo) Delete(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).GetDB().Where("id = ?", id).Delete(&DatasetPO{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取数据集
func (r *DatasetRepo) GetByID(ctx context.Context, id uuid.UUID) (*biz.Dataset, error) {
	var po DatasetPO
	err := r.db.WithContext(ctx).GetDB().Where("id = ?", id).First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	return datasetToDomain(&po), nil
}

// ListByFolder 列出文件夹下的数据集
func (r *DatasetRepo) ListByFolder(ctx context.Context, folderID uuid.UUID) ([]*biz.Dataset, error) {
	var pos []DatasetPO
	err := r.db.WithContext(ctx).GetDB().
		Where("folder_id = ?", folderID).
		Order("created_at DESC").
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	return datasetsToDomain(pos), nil
}

// CountByFolder 统计文件夹下的数据集数量
func (r *DatasetRepo) CountByFolder(ctx context.Context, folderID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).GetDB().Model(&DatasetPO{}).
		Where("folder_id = ?", folderID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count datasets: %w", err)
	}
	return count, nil
}

// ListExpiredDrafts 列出已过期的未发布草稿
func (r *DatasetRepo) ListExpiredDrafts(ctx context.Context, now time.Time) ([]*biz.Dataset, error) {
	var pos []DatasetPO
	err := r.db.WithContext(ctx).GetDB().
		Where("publication_date IS NULL").
		Where("expiry_date IS NOT NULL AND expiry_date <= ?", now).
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired drafts: %w", err)
	}
	return datasetsToDomain(pos), nil
}

// ListLocked 列出所有加锁的数据集
func (r *DatasetRepo) ListLocked(ctx context.Context) ([]*biz.Dataset, error) {
	var pos []DatasetPO
	err := r.db.WithContext(ctx).GetDB().Where("locked = ?", true).Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list locked datasets: %w", err)
	}
	return datasetsToDomain(pos), nil
}

func datasetToPO(d *biz.Dataset) *DatasetPO {
	return &DatasetPO{
		ID:              d.ID,
		Name:            d.Name,
		DisplayName:     d.DisplayName,
		FolderID:        d.FolderID,
		PublicationDate: d.PublicationDate,
		ExpiryDate:      d.ExpiryDate,
		Locked:          d.Lock.Locked,
		LockedByID:      d.Lock.LockedByID,
		LockedAt:        d.Lock.LockedAt,
		CreatedByID:     d.Audit.CreatedByID,
		UpdatedByID:     d.Audit.UpdatedByID,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func datasetToDomain(po *DatasetPO) *biz.Dataset {
	return &biz.Dataset{
		ID:              po.ID,
		Name:            po.Name,
		DisplayName:     po.DisplayName,
		FolderID:        po.FolderID,
		PublicationDate: po.PublicationDate,
		ExpiryDate:      po.ExpiryDate,
		Lock: core.LockState{
			Locked:     po.Locked,
			LockedByID: po.LockedByID,
			LockedAt:   po.LockedAt,
		},
		Audit: core.AuditInfo{
			CreatedByID: po.CreatedByID,
			UpdatedByID: po.UpdatedByID,
		},
		CreatedAt: po.CreatedAt,
		UpdatedAt: po.UpdatedAt,
	}
}

func datasetsToDomain(pos []DatasetPO) []*biz.Dataset {
	out := make([]*biz.Dataset, len(pos))
	for i, po := range pos {
		out[i] = datasetToDomain(&po)
	}
	return out
}
