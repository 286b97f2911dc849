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

// VersionFilePO 版本文件数据库模型
type VersionFilePO struct {
	ID                uuid.UUID  `gorm:"type:uuid;primarykey"`
	Name              string     `gorm:"column:name;size:512;not null"`
	Path              string     `gorm:"column:path;size:1024"`
	Referenced        bool       `gorm:"column:referenced;not null;default:false"`
	OriginalPath      string     `gorm:"column:original_path;size:1024"`
	UploadedUsingTus  bool       `gorm:"column:uploaded_using_tus;not null;default:false"`
	Status            string     `gorm:"column:status;size:32;not null;default:'scheduled'"`
	StorageRelocating string     `gorm:"column:storage_relocating;size:32;index:idx_file_relocating"`
	PublicationDate   *time.Time `gorm:"column:publication_date"`
	CreatedByID       *uuid.UUID `gorm:"column:created_by_id;type:uuid"`
	UpdatedByID       *uuid.UUID `gorm:"column:updated_by_id;type:uuid"`
	CreatedAt         time.Time  `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

func (VersionFilePO) TableName() string {
	return "version_files"
}

// VersionFileRepo 版本文件仓储实现
type VersionFileRepo struct {
	db *database.DB
}

// NewVersionFileRepo 创建版本文件仓储
func NewVersionFileRepo(db *database.DB) *VersionFileRepo {
	return &VersionFileRepo{db: db}
}

// Create 创建版本文件
func (r *VersionFileRepo) Create(ctx context.Context, f *biz.VersionFile) error {
	if err := r.db.WithContext(ctx).GetDB().Create(fileToPO(f)).Error; err != nil {
		return fmt.Errorf("failed to create version file: %w", err)
	}
	return nil
}

// Update 更新版本文件
func (r *VersionFileRepo) Update(ctx context.Context, f *biz.VersionFile) error {
	po := fileToPO(f)
	po.UpdatedAt = time.Now()
	err := r.db.WithContext(ctx).GetDB().Model(&VersionFilePO{}).Where("id = ?", po.ID).
		Updates(map[string]interface{}{
			"name":               po.Name,
			"path":               po.Path,
			"status":             po.Status,
			"storage_relocating": po.StorageRelocating,
			"publication_date":   po.PublicationDate,
			"updated_by_id":      po.UpdatedByID,
			"updated_at":         po.UpdatedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update version file: %w", err)
	}
	return nil
}

// Delete 删除版本文件
func (r *VersionFileRepo) Delete(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).GetDB().Where("id = ?", id).Delete(&VersionFilePO{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete version file: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取版本文件
func (r *VersionFileRepo) GetByID(ctx context.Context, id uuid.UUID) (*biz.VersionFile, error) {
	var po VersionFilePO
	err := r.db.WithContext(ctx).GetDB().Where("id = ?", id).First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get version file: %w", err)
	}
	return fileToDomain(&po), nil
}

// ListForRelocation 列出解析完成且待搬迁的文件
func (r *VersionFileRepo) ListForRelocation(ctx context.Context) ([]*biz.VersionFile, error) {
	var pos []VersionFilePO
	err := r.db.WithContext(ctx).GetDB().
		Where("status = ?", string(biz.StatusFinished)).
		Where("storage_relocating = ?", string(biz.StatusScheduled)).
		Order("created_at ASC").
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list files for relocation: %w", err)
	}
	return filesToDomain(pos), nil
}

// ScheduleRelocationForFolder 将文件夹下已发布的文件重新排入搬迁队列
func (r *VersionFileRepo) ScheduleRelocationForFolder(ctx context.Context, folderID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).GetDB().Model(&VersionFilePO{}).
		Where("id IN (?)", r.db.WithContext(ctx).GetDB().Model(&VersionPO{}).
			Select("version_file_id").
			Joins("JOIN datasets ON datasets.id = versions.dataset_id").
			Where("datasets.folder_id = ?", folderID).
			Where("versions.version_file_id IS NOT NULL")).
		Where("publication_date IS NOT NULL").
		Where("referenced = ?", false).
		Updates(map[string]interface{}{
			"storage_relocating": string(biz.StatusScheduled),
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to schedule folder relocation: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func fileToPO(f *biz.VersionFile) *VersionFilePO {
	return &VersionFilePO{
		ID:                f.ID,
		Name:              f.Name,
		Path:              f.Path,
		Referenced:        f.Referenced,
		OriginalPath:      f.OriginalPath,
		UploadedUsingTus:  f.UploadedUsingTus,
		Status:            string(f.Status),
		StorageRelocating: string(f.StorageRelocating),
		PublicationDate:   f.PublicationDate,
		CreatedByID:       f.Audit.CreatedByID,
		UpdatedByID:       f.Audit.UpdatedByID,
		CreatedAt:         f.CreatedAt,
		UpdatedAt:         f.UpdatedAt,
	}
}

func fileToDomain(po *VersionFilePO) *biz.VersionFile {
	return &biz.VersionFile{
		ID:                po.ID,
		Name:              po.Name,
		Path:              po.Path,
		Referenced:        po.Referenced,
		OriginalPath:      po.OriginalPath,
		UploadedUsingTus:  po.UploadedUsingTus,
		Status:            biz.Status(po.Status),
		StorageRelocating: biz.Status(po.StorageRelocating),
		PublicationDate:   po.PublicationDate,
		Audit: core.AuditInfo{
			CreatedByID: po.CreatedByID,
			UpdatedByID: po.UpdatedByID,
		},
		CreatedAt: po.CreatedAt,
		UpdatedAt: po.UpdatedAt,
	}
}

func filesToDomain(pos []VersionFilePO) []*biz.VersionFile {
	out := make([]*biz.VersionFile, len(pos))
	for i, po := range pos {
		out[i] = fileToDomain(&po)
	}
	return out
}
