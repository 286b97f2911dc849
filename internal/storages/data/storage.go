package data

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rdm-platform/rdm-backend/internal/core"
	"github.com/rdm-platform/rdm-backend/internal/pkg/database"
	"github.com/rdm-platform/rdm-backend/internal/storages/biz"
)

// StoragePO 存储配置数据库模型
type StoragePO struct {
	ID                uuid.UUID  `gorm:"type:uuid;primarykey"`
	Name              string     `gorm:"column:name;size:255;not null"`
	Kind              string     `gorm:"column:kind;size:50;not null;index:idx_storage_kind"`
	PrivatePathSealed string     `gorm:"column:private_path_sealed;type:text"`
	IsDefault         bool       `gorm:"column:is_default;not null;default:false"`
	Approved          bool       `gorm:"column:approved;not null;default:false"`
	Mounted           bool       `gorm:"column:mounted;not null;default:false"`
	CreatedByID       *uuid.UUID `gorm:"column:created_by_id;type:uuid"`
	UpdatedByID       *uuid.UUID `gorm:"column:updated_by_id;type:uuid"`
	CreatedAt         time.Time  `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

func (StoragePO) TableName() string {
	return "storages"
}

// StorageRepo 存储仓储实现
type StorageRepo struct {
	db *database.DB
}

// NewStorageRepo 创建存储仓储
func NewStorageRepo(db *database.DB) *StorageRepo {
	return &StorageRepo{db: db}
}

// Create 创建存储
func (r *StorageRepo) Create(ctx context.Context, s *biz.Storage) error {
	if err := r.db.WithContext(ctx).GetDB().Create(storageToPO(s)).Error; err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	return nil
}

// Update 更新存储
func (r *StorageRepo) Update(ctx context.Context, s *biz.Storage) error {
	po := storageToPO(s)
	po.UpdatedAt = time.Now()
	err := r.db.WithContext(ctx).GetDB().Model(&StoragePO{}).Where("id = ?", po.ID).
		Updates(map[string]interface{}{
			"name":                po.Name,
			"kind":                po.Kind,
			"private_path_sealed": po.PrivatePathSealed,
			"is_default":          po.IsDefault,
			"approved":            po.Approved,
			"mounted":             po.Mounted,
			"updated_by_id":       po.UpdatedByID,
			"updated_at":          po.UpdatedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update storage: %w", err)
	}
	return nil
}

// Delete 删除存储
func (r *StorageRepo) Delete(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).GetDB().Where("id = ?", id).Delete(&StoragePO{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete storage: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取存储
func (r *StorageRepo) GetByID(ctx context.Context, id uuid.UUID) (*biz.Storage, error) {
	var po StoragePO
	err := r.db.WithContext(ctx).GetDB().Where("id = ?", id).First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get storage: %w", err)
	}
	return storageToDomain(&po), nil
}

// GetDefault 获取默认存储
func (r *StorageRepo) GetDefault(ctx context.Context) (*biz.Storage, error) {
	var po StoragePO
	err := r.db.WithContext(ctx).GetDB().Where("is_default = ?", true).First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get default storage: %w", err)
	}
	return storageToDomain(&po), nil
}

// List 列出全部存储
func (r *StorageRepo) List(ctx context.Context) ([]*biz.Storage, error) {
	var pos []StoragePO
	err := r.db.WithContext(ctx).GetDB().Order("created_at ASC").Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list storages: %w", err)
	}
	return storagesToDomain(pos), nil
}

// ListByKind 按类型列出存储
func (r *StorageRepo) ListByKind(ctx context.Context, kind biz.Kind) ([]*biz.Storage, error) {
	var pos []StoragePO
	err := r.db.WithContext(ctx).GetDB().Where("kind = ?", string(kind)).Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list storages by kind: %w", err)
	}
	return storagesToDomain(pos), nil
}

// DemoteDefaults 取消除 keep 外所有存储的默认标记
func (r *StorageRepo) DemoteDefaults(ctx context.Context, keep uuid.UUID) error {
	err := r.db.WithContext(ctx).GetDB().Model(&StoragePO{}).
		Where("id <> ? AND is_default = ?", keep, true).
		Updates(map[string]interface{}{"is_default": false, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to demote default storages: %w", err)
	}
	return nil
}

// CountOthers 统计除指定存储外的存储数量
func (r *StorageRepo) CountOthers(ctx context.Context, exclude uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).GetDB().Model(&StoragePO{}).
		Where("id <> ?", exclude).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count storages: %w", err)
	}
	return count, nil
}

// ReferencedByFolders 统计仍引用该存储的文件夹数量
func (r *StorageRepo) ReferencedByFolders(ctx context.Context, id uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).GetDB().Table("folders").
		Where("storage_id = ?", id).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count folder references: %w", err)
	}
	return count, nil
}

func storageToPO(s *biz.Storage) *StoragePO {
	return &StoragePO{
		ID:                s.ID,
		Name:              s.Name,
		Kind:              string(s.Kind),
		PrivatePathSealed: s.PrivatePathSealed,
		IsDefault:         s.Default,
		Approved:          s.Approved,
		Mounted:           s.Mounted,
		CreatedByID:       s.Audit.CreatedByID,
		UpdatedByID:       s.Audit.UpdatedByID,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func storageToDomain(po *StoragePO) *biz.Storage {
	return &biz.Storage{
		ID:                po.ID,
		Name:              po.Name,
		Kind:              biz.Kind(po.Kind),
		PrivatePathSealed: po.PrivatePathSealed,
		Default:           po.IsDefault,
		Approved:          po.Approved,
		Mounted:           po.Mounted,
		Audit: core.AuditInfo{
			CreatedByID: po.CreatedByID,
			UpdatedByID: po.UpdatedByID,
		},
		CreatedAt: po.CreatedAt,
		UpdatedAt: po.UpdatedAt,
	}
}

func storagesToDomain(pos []StoragePO) []*biz.Storage {
	out := make([]*biz.Storage, len(pos))
	for i, po := range pos {
		out[i] = storageToDomain(&po)
	}
	return out
}
