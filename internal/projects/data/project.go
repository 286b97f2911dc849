package data

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rdm-platform/rdm-backend/internal/core"
	"github.com/rdm-platform/rdm-backend/internal/pkg/database"
	"github.com/rdm-platform/rdm-backend/internal/projects/biz"
)

// ProjectPO 项目数据库模型
type ProjectPO struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primarykey"`
	Name               string     `gorm:"column:name;size:255;not null"`
	Description        string     `gorm:"column:description;type:text"`
	MetadataTemplateID *uuid.UUID `gorm:"column:metadata_template_id;type:uuid"`
	Locked             bool       `gorm:"column:locked;not null;default:false"`
	LockedByID         *uuid.UUID `gorm:"column:locked_by_id;type:uuid"`
	LockedAt           *time.Time `gorm:"column:locked_at"`
	CreatedByID        *uuid.UUID `gorm:"column:created_by_id;type:uuid"`
	UpdatedByID        *uuid.UUID `gorm:"column:updated_by_id;type:uuid"`
	CreatedAt          time.Time  `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

func (ProjectPO) TableName() string {
	return "projects"
}

// ProjectRepo 项目仓储实现
type ProjectRepo struct {
	db *database.DB
}

// NewProjectRepo 创建项目仓储
func NewProjectRepo(db *database.DB) *ProjectRepo {
	return &ProjectRepo{db: db}
}

// Create 创建项目
func (r *ProjectRepo) Create(ctx context.Context, p *biz.Project) error {
	if err := r.db.WithContext(ctx).GetDB().Create(projectToPO(p)).Error; err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// Update 更新项目
func (r *ProjectRepo) Update(ctx context.Context, p *biz.Project) error {
	po := projectToPO(p)
	po.UpdatedAt = time.Now()
	err := r.db.WithContext(ctx).GetDB().Model(&ProjectPO{}).Where("id = ?", po.ID).
		Updates(map[string]interface{}{
			"name":                 po.Name,
			"description":          po.Description,
			"metadata_template_id": po.MetadataTemplateID,
			"locked":               po.Locked,
			"locked_by_id":         po.LockedByID,
			"locked_at":            po.LockedAt,
			"updated_by_id":        po.UpdatedByID,
			"updated_at":           po.UpdatedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return nil
}

// Delete 删除项目
func (r *ProjectRepo) Delete(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).GetDB().Where("id = ?", id).Delete(&ProjectPO{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取项目
func (r *ProjectRepo) GetByID(ctx context.Context, id uuid.UUID) (*biz.Project, error) {
	var po ProjectPO
	err := r.db.WithContext(ctx).GetDB().Where("id = ?", id).First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return projectToDomain(&po), nil
}

// List 列出全部项目
func (r *ProjectRepo) List(ctx context.Context) ([]*biz.Project, error) {
	var pos []ProjectPO
	err := r.db.WithContext(ctx).GetDB().Order("created_at ASC").Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	out := make([]*biz.Project, len(pos))
	for i, po := range pos {
		out[i] = projectToDomain(&po)
	}
	return out, nil
}

// ListLocked 列出所有加锁的项目
func (r *ProjectRepo) ListLocked(ctx context.Context) ([]*biz.Project, error) {
	var pos []ProjectPO
	err := r.db.WithContext(ctx).GetDB().Where("locked = ?", true).Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list locked projects: %w", err)
	}
	out := make([]*biz.Project, len(pos))
	for i, po := range pos {
		out[i] = projectToDomain(&po)
	}
	return out, nil
}

func projectToPO(p *biz.Project) *ProjectPO {
	return &ProjectPO{
		ID:                 p.ID,
		Name:               p.Name,
		Description:        p.Description,
		MetadataTemplateID: p.MetadataTemplateID,
		Locked:             p.Lock.Locked,
		LockedByID:         p.Lock.LockedByID,
		LockedAt:           p.Lock.LockedAt,
		CreatedByID:        p.Audit.CreatedByID,
		UpdatedByID:        p.Audit.UpdatedByID,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

func projectToDomain(po *ProjectPO) *biz.Project {
	return &biz.Project{
		ID:                 po.ID,
		Name:               po.Name,
		Description:        po.Description,
		MetadataTemplateID: po.MetadataTemplateID,
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
