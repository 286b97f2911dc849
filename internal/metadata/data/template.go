package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rdm-platform/rdm-backend/internal/core"
	"github.com/rdm-platform/rdm-backend/internal/metadata/biz"
	"github.com/rdm-platform/rdm-backend/internal/pkg/database"
)

// TemplatePO 元数据模板数据库模型
type TemplatePO struct {
	ID          uuid.UUID  `gorm:"type:uuid;primarykey"`
	Name        string     `gorm:"column:name;size:255;not null"`
	Locked      bool       `gorm:"column:locked;not null;default:false"`
	LockedByID  *uuid.UUID `gorm:"column:locked_by_id;type:uuid"`
	LockedAt    *time.Time `gorm:"column:locked_at"`
	CreatedByID *uuid.UUID `gorm:"column:created_by_id;type:uuid"`
	UpdatedByID *uuid.UUID `gorm:"column:updated_by_id;type:uuid"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

func (TemplatePO) TableName() string {
	return "metadata_templates"
}

// TemplateFieldPO 模板字段数据库模型
type TemplateFieldPO struct {
	ID           uuid.UUID  `gorm:"type:uuid;primarykey"`
	TemplateID   uuid.UUID  `gorm:"column:template_id;type:uuid;not null;index:idx_tpl_field_tpl"`
	FieldID      *uuid.UUID `gorm:"column:field_id;type:uuid"`
	CustomKey    string     `gorm:"column:custom_key;size:255"`
	FieldType    string     `gorm:"column:field_type;size:50;not null;default:'text'"`
	Mandatory    bool       `gorm:"column:mandatory;not null;default:false"`
	DefaultValue string     `gorm:"column:default_value;type:jsonb"`
	Config       string     `gorm:"column:config;type:jsonb"`
}

func (TemplateFieldPO) TableName() string {
	return "metadata_template_fields"
}

// TemplateVersionPO 模板快照数据库模型
type TemplateVersionPO struct {
	ID         uuid.UUID `gorm:"type:uuid;primarykey"`
	TemplateID uuid.UUID `gorm:"column:template_id;type:uuid;not null;index:idx_tpl_ver_tpl"`
	Fields     string    `gorm:"column:fields;type:jsonb;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

func (TemplateVersionPO) TableName() string {
	return "metadata_template_versions"
}

// TemplateRepo 模板仓储实现
type TemplateRepo struct {
	db *database.DB
}

// NewTemplateRepo 创建模板仓储
func NewTemplateRepo(db *database.DB) *TemplateRepo {
	return &TemplateRepo{db: db}
}

// Create 创建模板
func (r *TemplateRepo) Create(ctx context.Context, t *biz.Template) error {
	po := templateToPO(t)
	if err := r.db.WithContext(ctx).GetDB().Create(po).Error; err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// Update 更新模板
func (r *TemplateRepo) Update(ctx context.Context, t *biz.Template) error {
	po := templateToPO(t)
	po.UpdatedAt = time.Now()
	err := r.db.WithContext(ctx).GetDB().Model(&TemplatePO{}).Where("id = ?", po.ID).
		Updates(map[string]interface{}{
			"name":          po.Name,
			"locked":        po.Locked,
			"locked_by_id":  po.LockedByID,
			"locked_at":     po.LockedAt,
			"updated_by_id": po.UpdatedByID,
			"updated_at":    po.UpdatedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	return nil
}

// List 列出全部模板
func (r *TemplateRepo) List(ctx context.Context) ([]*biz.Template, error) {
	var pos []TemplatePO
	err := r.db.WithContext(ctx).GetDB().Order("created_at ASC").Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	templates := make([]*biz.Template, 0, len(pos))
	for i := range pos {
		templates = append(templates, templateToDomain(&pos[i]))
	}
	return templates, nil
}

// Delete 删除模板及其字段
func (r *TemplateRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tx := r.db.WithContext(ctx).GetDB()
	if err := tx.Where("template_id = ?", id).Delete(&TemplateFieldPO{}).Error; err != nil {
		return fmt.Errorf("failed to delete template fields: %w", err)
	}
	if err := tx.Where("id = ?", id).Delete(&TemplatePO{}).Error; err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取模板
func (r *TemplateRepo) GetByID(ctx context.Context, id uuid.UUID) (*biz.Template, error) {
	var po TemplatePO
	err := r.db.WithContext(ctx).GetDB().Where("id = ?", id).First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return templateToDomain(&po), nil
}

// ListFields 列出模板的字段
func (r *TemplateRepo) ListFields(ctx context.Context, templateID uuid.UUID) ([]*biz.TemplateField, error) {
	var pos []TemplateFieldPO
	err := r.db.WithContext(ctx).GetDB().
		Where("template_id = ?", templateID).
		Order("custom_key ASC").
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list template fields: %w", err)
	}

	fields := make([]*biz.TemplateField, len(pos))
	for i, po := range pos {
		fields[i] = &biz.TemplateField{
			ID:           po.ID,
			TemplateID:   po.TemplateID,
			FieldID:      po.FieldID,
			CustomKey:    po.CustomKey,
			FieldType:    biz.FieldType(po.FieldType),
			Mandatory:    po.Mandatory,
			DefaultValue: json.RawMessage(po.DefaultValue),
			Config:       json.RawMessage(po.Config),
		}
	}
	return fields, nil
}

// CreateField 创建模板字段
func (r *TemplateRepo) CreateField(ctx context.Context, f *biz.TemplateField) error {
	po := &TemplateFieldPO{
		ID:           f.ID,
		TemplateID:   f.TemplateID,
		FieldID:      f.FieldID,
		CustomKey:    f.CustomKey,
		FieldType:    string(f.FieldType),
		Mandatory:    f.Mandatory,
		DefaultValue: rawOrEmpty(f.DefaultValue),
		Config:       rawOrEmpty(f.Config),
	}
	if err := r.db.WithContext(ctx).GetDB().Create(po).Error; err != nil {
		return fmt.Errorf("failed to create template field: %w", err)
	}
	return nil
}

// CreateVersion 保存模板快照
func (r *TemplateRepo) CreateVersion(ctx context.Context, v *biz.TemplateVersion) error {
	po := &TemplateVersionPO{
		ID:         v.ID,
		TemplateID: v.TemplateID,
		Fields:     rawOrEmpty(v.Fields),
		CreatedAt:  v.CreatedAt,
	}
	if err := r.db.WithContext(ctx).GetDB().Create(po).Error; err != nil {
		return fmt.Errorf("failed to create template version: %w", err)
	}
	return nil
}

// ListLocked 列出所有处于加锁状态的模板
func (r *TemplateRepo) ListLocked(ctx context.Context) ([]*biz.Template, error) {
	var pos []TemplatePO
	err := r.db.WithContext(ctx).GetDB().Where("locked = ?", true).Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list locked templates: %w", err)
	}
	templates := make([]*biz.Template, len(pos))
	for i, po := range pos {
		templates[i] = templateToDomain(&po)
	}
	return templates, nil
}

func rawOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func templateToPO(t *biz.Template) *TemplatePO {
	return &TemplatePO{
		ID:          t.ID,
		Name:        t.Name,
		Locked:      t.Lock.Locked,
		LockedByID:  t.Lock.LockedByID,
		LockedAt:    t.Lock.LockedAt,
		CreatedByID: t.Audit.CreatedByID,
		UpdatedByID: t.Audit.UpdatedByID,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func templateToDomain(po *TemplatePO) *biz.Template {
	return &biz.Template{
		ID:   po.ID,
		Name: po.Name,
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
