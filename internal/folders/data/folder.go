package data

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rdm-platform/rdm-backend/internal/core"
	"github.com/rdm-platform/rdm-backend/internal/folders/biz"
	"github.com/rdm-platform/rdm-backend/internal/pkg/database"
)

// FolderPO 文件夹数据库模型
type FolderPO struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primarykey"`
	Name               string     `gorm:"column:name;size:255;not null"`
	ProjectID          uuid.UUID  `gorm:"column:project_id;type:uuid;not null;index:idx_folder_project"`
	StorageID          uuid.UUID  `gorm:"column:storage_id;type:uuid;not null;index:idx_folder_storage"`
	MetadataTemplateID *uuid.UUID `gorm:"column:metadata_template_id;type:uuid"`
	DatasetsCount      int64      `gorm:"column:datasets_count;not null;default:0"`
	Locked             bool       `gorm:"column:locked;not null;default:false"`
	LockedByID         *uuid.UUID `gorm:"column:locked_by_id;type:uuid"`
	LockedAt           *time.Time `gorm:"column:locked_at"`
	CreatedByID        *uuid.UUID `gorm:"column:created_by_id;type:uuid"`
	UpdatedByID        *uuid.UUID `gorm:"column:updated_by_id;type:uuid"`
	CreatedAt          time.Time  `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

func (FolderPO) TableName() string {
	return "folders"
}

// FolderRepo 文件夹仓储实现
type FolderRepo struct {
	db *database.DB
}

// NewFolderRepo 创建文件夹仓储
func NewFolderRepo(db *database.DB) *FolderRepo {
	return &FolderRepo{db: db}
}

// Create 创建文件夹
func (r *FolderRepo) Create(ctx context.Context, f *biz.Folder) error {
	if err := r.db.WithContext(ctx).GetDB().Create(folderToPO(f)).Error; err != nil {
		return fmt.Errorf("failed to create folder: %w", err)
	}
	return nil
}

// Update 更新文件夹
func (r *FolderRepo) Update(ctx context.Context, f *biz.Folder) error {
	po := folderToPO(f)
	po.UpdatedAt = time.Now()
	err := r.db.WithContext(ctx).GetDB().Model(&FolderPO{}).Where("id = ?", po.ID).
		Updates(map[string]interface{}{
			"name":                 po.Name,
			"storage_id":           po.StorageID,
			"metadata_template_id": po.MetadataTemplateID,
			"locked":               po.Locked,
			"locked_by_id":         po.LockedByID,
			"locked_at":            po.LockedAt,
			"updated_by_id":        po.UpdatedByID,
			"updated_at":           po.UpdatedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update folder: %w", err)
	}
	return nil
}

// Delete 删除文件夹
func (r *FolderRepo) Delete(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).GetDB().Where("id = ?", id).Delete(&FolderPO{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete folder: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取文件夹
func (r *FolderRepo) GetByID(ctx context.Context, id uuid.UUID) (*biz.Folder, error) {
	var po FolderPO
	err := r.db.WithContext(ctx).GetDB().Where("id = ?", id).First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}
	return folderToDomain(&po), nil
}

// ListByProject 列出项目下的文件夹
func (r *FolderRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*biz.Folder, error) {
	var pos []FolderPO
	err := r.db.WithContext(ctx).GetDB().
		Where("project_id = ?", projectID).
		Order("name ASC").
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return foldersToDomain(pos), nil
}

// ListLocked 列出所有加锁的文件夹
func (r *FolderRepo) ListLocked(ctx context.Context) ([]*biz.Folder, error) {
	var pos []FolderPO
	err := r.db.WithContext(ctx).GetDB().Where("locked = ?", true).Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list locked folders: %w", err)
	}
	return foldersToDomain(pos), nil
}

// UpdateDatasetsCount 更新数据集数量缓存
func (r *FolderRepo) UpdateDatasetsCount(ctx context.Context, id uuid.UUID, count int64) error {
	err := r.db.WithContext(ctx).GetDB().Model(&FolderPO{}).Where("id = ?", id).
		Updates(map[string]interface{}{"datasets_count": count, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("failed to update datasets count: %w", err)
	}
	return nil
}

func folderToPO(f *biz.Folder) *FolderPO {
	return &FolderPO{
		ID:                 f.ID,
		Name:               f.Name,
		ProjectID:          f.ProjectID,
		StorageID:          f.StorageID,
		MetadataTemplateID: f.MetadataTemplateID,
		DatasetsCount:      f.DatasetsCount,
		Locked:             f.Lock.Locked,
		LockedByID:         f.Lock.LockedByID,
		LockedAt:           f.Lock.LockedAt,
		CreatedByID:        f.Audit.CreatedByID,
		UpdatedByID:        f.Audit.UpdatedByID,
		CreatedAt:          f.CreatedAt,
		UpdatedAt:          f.UpdatedAt,
	}
}

func folderToDomain(po *FolderPO) *biz.Folder {
	return &biz.Folder{
		ID:                 po.ID,
		Name:               po.Name,
		ProjectID:          po.ProjectID,
		StorageID:          po.StorageID,
		MetadataTemplateID: po.MetadataTemplateID,
		DatasetsCount:      po.DatasetsCount,
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

func foldersToDomain(pos []FolderPO) []*biz.Folder {
	out := make([]*biz.Folder, len(pos))
	for i, po := range pos {
		out[i] = folderToDomain(&po)
	}
	return out
}
