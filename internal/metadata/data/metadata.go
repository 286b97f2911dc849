package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rdm-platform/rdm-backend/internal/core"
	"github.com/rdm-platform/rdm-backend/internal/metadata/biz"
	"github.com/rdm-platform/rdm-backend/internal/pkg/database"
)

// FieldPO 元数据字段数据库模型
type FieldPO struct {
	ID        uuid.UUID `gorm:"type:uuid;primarykey"`
	Key       string    `gorm:"column:key;size:255;not null;uniqueIndex:idx_md_field_key"`
	FieldType string    `gorm:"column:field_type;size:50;not null;default:'text'"`
	ReadOnly  bool      `gorm:"column:read_only;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

func (FieldPO) TableName() string {
	return "metadata_fields"
}

// MetadataPO 元数据条目数据库模型
type MetadataPO struct {
	ID              uuid.UUID  `gorm:"type:uuid;primarykey"`
	FieldID         *uuid.UUID `gorm:"column:field_id;type:uuid;index:idx_md_field"`
	CustomKey       string     `gorm:"column:custom_key;size:255"`
	FieldType       string     `gorm:"column:field_type;size:50;not null;default:'text'"`
	ReadOnly        bool       `gorm:"column:read_only;not null;default:false"`
	Value           string     `gorm:"column:value;type:jsonb"`
	Config          string     `gorm:"column:config;type:jsonb"`
	TemplateFieldID *uuid.UUID `gorm:"column:template_field_id;type:uuid"`
	TargetKind      string     `gorm:"column:target_kind;size:50;not null;index:idx_md_target,priority:1"`
	TargetID        uuid.UUID  `gorm:"column:target_id;type:uuid;not null;index:idx_md_target,priority:2"`
	CreatedByID     *uuid.UUID `gorm:"column:created_by_id;type:uuid"`
	UpdatedByID     *uuid.UUID `gorm:"column:updated_by_id;type:uuid"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

func (MetadataPO) TableName() string {
	return "metadata_entries"
}

// FieldRepo 字段仓储实现
type FieldRepo struct {
	db *database.DB
}

// NewFieldRepo 创建字段仓储
func NewFieldRepo(db *database.DB) *FieldRepo {
	return &FieldRepo{db: db}
}

// Create 创建字段
func (r *FieldRepo) Create(ctx context.Context, f *biz.Field) error {
	po := &FieldPO{
		ID:        f.ID,
		Key:       f.Key,
		FieldType: string(f.FieldType),
		ReadOnly:  f.ReadOnly,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
	if err := r.db.WithContext(ctx).GetDB().Create(po).Error; err != nil {
		return fmt.Errorf("failed to create metadata field: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取字段
func (r *FieldRepo) GetByID(ctx context.Context, id uuid.UUID) (*biz.Field, error) {
	var po FieldPO
	err := r.db.WithContext(ctx).GetDB().Where("id = ?", id).First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get metadata field: %w", err)
	}
	return fieldToDomain(&po), nil
}

// GetByKey 根据键获取字段
func (r *FieldRepo) GetByKey(ctx context.Context, key string) (*biz.Field, error) {
	var po FieldPO
	err := r.db.WithContext(ctx).GetDB().Where("key = ?", key).First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get metadata field: %w", err)
	}
	return fieldToDomain(&po), nil
}

// List 列出全部字段
func (r *FieldRepo) List(ctx context.Context) ([]*biz.Field, error) {
	var pos []FieldPO
	err := r.db.WithContext(ctx).GetDB().Order("key ASC").Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata fields: %w", err)
	}
	fields := make([]*biz.Field, len(pos))
	for i, po := range pos {
		fields[i] = fieldToDomain(&po)
	}
	return fields, nil
}

func fieldToDomain(po *FieldPO) *biz.Field {
	return &biz.Field{
		ID:        po.ID,
		Key:       po.Key,
		FieldType: biz.FieldType(po.FieldType),
		ReadOnly:  po.ReadOnly,
		CreatedAt: po.CreatedAt,
		UpdatedAt: po.UpdatedAt,
	}
}

// MetadataRepo 元数据仓储实现
type MetadataRepo struct {
	db *database.DB
}

// NewMetadataRepo 创建元数据仓储
func NewMetadataRepo(db *database.DB) *MetadataRepo {
	return &MetadataRepo{db: db}
}

// Create 创建元数据条目
func (r *MetadataRepo) Create(ctx context.Context, m *biz.Metadata) error {
	po := metadataToPO(m)
	if err := r.db.WithContext(ctx).GetDB().Create(po).Error; err != nil {
		return fmt.Errorf("failed to create metadata: %w", err)
	}
	return nil
}

// Update 更新元数据条目
func (r *MetadataRepo) Update(ctx context.Context, m *biz.Metadata) error {
	po := metadataToPO(m)
	po.UpdatedAt = time.Now()
	err := r.db.WithContext(ctx).GetDB().Model(&MetadataPO{}).Where("id = ?", po.ID).
		Updates(map[string]interface{}{
			"field_id":          po.FieldID,
			"custom_key":        po.CustomKey,
			"field_type":        po.FieldType,
			"read_only":         po.ReadOnly,
			"value":             po.Value,
			"config":            po.Config,
			"template_field_id": po.TemplateFieldID,
			"updated_by_id":     po.UpdatedByID,
			"updated_at":        po.UpdatedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}
	return nil
}

// Delete 删除元数据条目
func (r *MetadataRepo) Delete(ctx context.Context, id uuid.UUID) error {
	err := r.db.WithContext(ctx).GetDB().Where("id = ?", id).Delete(&MetadataPO{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete metadata: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取元数据条目
func (r *MetadataRepo) GetByID(ctx context.Context, id uuid.UUID) (*biz.Metadata, error) {
	var po MetadataPO
	err := r.db.WithContext(ctx).GetDB().Where("id = ?", id).First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}
	return metadataToDomain(&po), nil
}

// ListForTarget 列出目标上的全部元数据,按创建时间排序
func (r *MetadataRepo) ListForTarget(ctx context.Context, target biz.TargetRef) ([]*biz.Metadata, error) {
	var pos []MetadataPO
	err := r.db.WithContext(ctx).GetDB().
		Where("target_kind = ? AND target_id = ?", string(target.Kind), target.ID).
		Order("created_at ASC").
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}
	entries := make([]*biz.Metadata, len(pos))
	for i, po := range pos {
		entries[i] = metadataToDomain(&po)
	}
	return entries, nil
}

// DeleteForTarget 清空目标上的全部元数据
func (r *MetadataRepo) DeleteForTarget(ctx context.Context, target biz.TargetRef) error {
	err := r.db.WithContext(ctx).GetDB().
		Where("target_kind = ? AND target_id = ?", string(target.Kind), target.ID).
		Delete(&MetadataPO{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete metadata for target: %w", err)
	}
	return nil
}

// ReplaceForTarget 用一组新条目整体替换目标上的元数据,删除与写入在
// 同一事务内完成,避免替换中途失败留下半清空的目标
func (r *MetadataRepo) ReplaceForTarget(ctx context.Context, target biz.TargetRef, entries []*biz.Metadata) error {
	return r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		err := tx.
			Where("target_kind = ? AND target_id = ?", string(target.Kind), target.ID).
			Delete(&MetadataPO{}).Error
		if err != nil {
			return fmt.Errorf("failed to delete metadata for target: %w", err)
		}
		for _, m := range entries {
			if err := tx.Create(metadataToPO(m)).Error; err != nil {
				return fmt.Errorf("failed to create metadata: %w", err)
			}
		}
		return nil
	})
}

func metadataToPO(m *biz.Metadata) *MetadataPO {
	value := "{}"
	if len(m.Value) > 0 {
		value = string(m.Value)
	}
	config := "{}"
	if len(m.Config) > 0 {
		config = string(m.Config)
	}
	return &MetadataPO{
		ID:              m.ID,
		FieldID:         m.FieldID,
		CustomKey:       m.CustomKey,
		FieldType:       string(m.FieldType),
		ReadOnly:        m.ReadOnly,
		Value:           value,
		Config:          config,
		TemplateFieldID: m.TemplateFieldID,
		TargetKind:      string(m.Target.Kind),
		TargetID:        m.Target.ID,
		CreatedByID:     m.Audit.CreatedByID,
		UpdatedByID:     m.Audit.UpdatedByID,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func metadataToDomain(po *MetadataPO) *biz.Metadata {
	return &biz.Metadata{
		ID:              po.ID,
		FieldID:         po.FieldID,
		CustomKey:       po.CustomKey,
		FieldType:       biz.FieldType(po.FieldType),
		ReadOnly:        po.ReadOnly,
		Value:           json.RawMessage(po.Value),
		Config:          json.RawMessage(po.Config),
		TemplateFieldID: po.TemplateFieldID,
		Target:          biz.TargetRef{Kind: biz.TargetKind(po.TargetKind), ID: po.TargetID},
		Audit: core.AuditInfo{
			CreatedByID: po.CreatedByID,
			UpdatedByID: po.UpdatedByID,
		},
		CreatedAt: po.CreatedAt,
		UpdatedAt: po.UpdatedAt,
	}
}
