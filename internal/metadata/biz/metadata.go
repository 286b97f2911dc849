package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/core"
	apperrors "github.com/rdm-platform/rdm-backend/internal/pkg/errors"
)

// FieldType 元数据字段类型
type FieldType string

const (
	FieldTypeText      FieldType = "text"
	FieldTypeInteger   FieldType = "integer"
	FieldTypeDecimal   FieldType = "decimal"
	FieldTypeDate      FieldType = "date"
	FieldTypeTime      FieldType = "time"
	FieldTypeDateTime  FieldType = "datetime"
	FieldTypeSelection FieldType = "selection"
	FieldTypeWysiwyg   FieldType = "wysiwyg"
)

// TargetKind 可挂载元数据的实体类型,封闭枚举
type TargetKind string

const (
	TargetProject  TargetKind = "project"
	TargetFolder   TargetKind = "folder"
	TargetVersion  TargetKind = "version"
	TargetFile     TargetKind = "versionfile"
	TargetTemplate TargetKind = "metadatatemplate"
)

// ValidTarget 校验目标类型是否可挂载元数据
func ValidTarget(kind TargetKind) bool {
	switch kind {
	case TargetProject, TargetFolder, TargetVersion, TargetFile:
		return true
	}
	return false
}

// TargetRef 元数据挂载目标
type TargetRef struct {
	Kind TargetKind
	ID   uuid.UUID
}

// 系统保留的只读自定义键
const (
	KeyOriginalFileName = "ORIGINAL_FILE_NAME"
	KeyOriginalFilePath = "ORIGINAL_FILE_PATH"
	KeyChecksumSHA256   = "CHECKSUM_SHA256"
	KeyMimeType         = "MIME_TYPE"
	KeyFileInformation  = "FILE_INFORMATION"
	KeyExifData         = "EXIF_DATA"
)

// Field 全局元数据字段定义
type Field struct {
	ID        uuid.UUID
	Key       string
	FieldType FieldType
	ReadOnly  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Metadata 挂载在具体实体上的一条元数据
type Metadata struct {
	ID uuid.UUID
	// FieldID 与 CustomKey 互斥,二者必填其一
	FieldID         *uuid.UUID
	CustomKey       string
	FieldType       FieldType
	ReadOnly        bool
	Value           json.RawMessage
	Config          json.RawMessage
	TemplateFieldID *uuid.UUID
	Target          TargetRef
	Audit           core.AuditInfo
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Key 返回用于模板完整性匹配的键:优先自定义键,否则字段 ID
func (m *Metadata) Key() string {
	if m.CustomKey != "" {
		return m.CustomKey
	}
	if m.FieldID != nil {
		return m.FieldID.String()
	}
	return ""
}

// SetValue 将取值包装为 {"value": ...} 结构存储
func (m *Metadata) SetValue(v any) error {
	raw, err := json.Marshal(map[string]any{"value": v})
	if err != nil {
		return fmt.Errorf("failed to encode metadata value: %w", err)
	}
	m.Value = raw
	return nil
}

// ValueString 提取存储的取值并转为字符串,空值返回 ""
func (m *Metadata) ValueString() string {
	if len(m.Value) == 0 {
		return ""
	}
	return gjson.GetBytes(m.Value, "value").String()
}

// HasValue 判断是否存在非空取值
func (m *Metadata) HasValue() bool {
	if len(m.Value) == 0 {
		return false
	}
	r := gjson.GetBytes(m.Value, "value")
	return r.Exists() && r.Type != gjson.Null
}

// Validate 校验字段与自定义键的互斥约束
func (m *Metadata) Validate() error {
	hasField := m.FieldID != nil
	hasCustom := m.CustomKey != ""
	if hasField && hasCustom {
		return apperrors.New(apperrors.ErrMetadataFieldConflict)
	}
	if !hasField && !hasCustom {
		return apperrors.New(apperrors.ErrMetadataFieldRequired)
	}
	if !ValidTarget(m.Target.Kind) {
		return apperrors.New(apperrors.ErrMetadataTargetInvalid, string(m.Target.Kind))
	}
	return nil
}

// FieldRepo 字段仓储接口
type FieldRepo interface {
	Create(ctx context.Context, f *Field) error
	GetByID(ctx context.Context, id uuid.UUID) (*Field, error)
	GetByKey(ctx context.Context, key string) (*Field, error)
	List(ctx context.Context) ([]*Field, error)
}

// MetadataRepo 元数据仓储接口
type MetadataRepo interface {
	Create(ctx context.Context, m *Metadata) error
	Update(ctx context.Context, m *Metadata) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Metadata, error)
	ListForTarget(ctx context.Context, target TargetRef) ([]*Metadata, error)
	DeleteForTarget(ctx context.Context, target TargetRef) error
	ReplaceForTarget(ctx context.Context, target TargetRef, entries []*Metadata) error
}

// MetadataUseCase 元数据用例
type MetadataUseCase struct {
	metadata MetadataRepo
	fields   FieldRepo
	logger   *zap.Logger
}

// NewMetadataUseCase 创建元数据用例
func NewMetadataUseCase(metadata MetadataRepo, fields FieldRepo, logger *zap.Logger) *MetadataUseCase {
	return &MetadataUseCase{metadata: metadata, fields: fields, logger: logger}
}

// ListFields 列出全部全局字段定义
func (uc *MetadataUseCase) ListFields(ctx context.Context) ([]*Field, error) {
	return uc.fields.List(ctx)
}

// CreateField 创建全局字段定义,键重复时拒绝
func (uc *MetadataUseCase) CreateField(ctx context.Context, key string, fieldType FieldType, readOnly bool) (*Field, error) {
	if key == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParams, "key is required")
	}
	existing, err := uc.fields.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.New(apperrors.ErrMetadataFieldConflict, key)
	}
	f := &Field{
		ID:        uuid.New(),
		Key:       key,
		FieldType: fieldType,
		ReadOnly:  readOnly,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := uc.fields.Create(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// SetParams 写入元数据的参数
type SetParams struct {
	Target    TargetRef
	FieldID   *uuid.UUID
	CustomKey string
	FieldType FieldType
	Value     any
	ReadOnly  bool
}

// Set 在目标上写入一条元数据,同键的已有条目会被覆盖
func (uc *MetadataUseCase) Set(ctx context.Context, actor core.Actor, p SetParams) (*Metadata, error) {
	m := &Metadata{
		ID:        uuid.New(),
		FieldID:   p.FieldID,
		CustomKey: p.CustomKey,
		FieldType: p.FieldType,
		ReadOnly:  p.ReadOnly,
		Target:    p.Target,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.FieldType == "" {
		m.FieldType = FieldTypeText
		if p.FieldID != nil {
			if f, err := uc.fields.GetByID(ctx, *p.FieldID); err == nil && f != nil {
				m.FieldType = f.FieldType
			}
		}
	}
	if err := m.SetValue(p.Value); err != nil {
		return nil, err
	}
	m.Audit.Touch(actor)

	existing, err := uc.metadata.ListForTarget(ctx, p.Target)
	if err != nil {
		return nil, err
	}
	for _, e := range existing {
		if e.Key() == m.Key() {
			m.ID = e.ID
			m.CreatedAt = e.CreatedAt
			m.Audit.CreatedByID = e.Audit.CreatedByID
			if err := uc.metadata.Update(ctx, m); err != nil {
				return nil, err
			}
			return m, nil
		}
	}

	if err := uc.metadata.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListForTarget 列出目标上的全部元数据
func (uc *MetadataUseCase) ListForTarget(ctx context.Context, target TargetRef) ([]*Metadata, error) {
	if !ValidTarget(target.Kind) {
		return nil, apperrors.New(apperrors.ErrMetadataTargetInvalid, string(target.Kind))
	}
	return uc.metadata.ListForTarget(ctx, target)
}

// Delete 删除一条元数据,只读条目拒绝删除
func (uc *MetadataUseCase) Delete(ctx context.Context, actor core.Actor, id uuid.UUID) error {
	m, err := uc.metadata.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return apperrors.New(apperrors.ErrNotFound, "metadata")
	}
	if m.ReadOnly {
		return apperrors.New(apperrors.ErrMetadataReadOnly)
	}
	return uc.metadata.Delete(ctx, id)
}

// DeleteForTarget 清空目标上的全部元数据,随实体删除一并调用
func (uc *MetadataUseCase) DeleteForTarget(ctx context.Context, target TargetRef) error {
	if !ValidTarget(target.Kind) {
		return apperrors.New(apperrors.ErrMetadataTargetInvalid, string(target.Kind))
	}
	return uc.metadata.DeleteForTarget(ctx, target)
}

// CopyToTarget 将一组元数据复制到新目标上。retainExisting 为 true 时保留
// 新目标上已有的条目,否则先清空再复制
func (uc *MetadataUseCase) CopyToTarget(ctx context.Context, actor core.Actor, src []*Metadata, target TargetRef, retainExisting bool) error {
	if !ValidTarget(target.Kind) {
		return apperrors.New(apperrors.ErrMetadataTargetInvalid, string(target.Kind))
	}

	if !retainExisting {
		copies := make([]*Metadata, 0, len(src))
		for _, s := range src {
			copies = append(copies, copyEntry(s, target, actor))
		}
		return uc.metadata.ReplaceForTarget(ctx, target, copies)
	}

	existing, err := uc.metadata.ListForTarget(ctx, target)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[e.Key()] = true
	}

	for _, s := range src {
		if seen[s.Key()] {
			continue
		}
		if err := uc.metadata.Create(ctx, copyEntry(s, target, actor)); err != nil {
			return err
		}
	}

	return nil
}

func copyEntry(s *Metadata, target TargetRef, actor core.Actor) *Metadata {
	copied := &Metadata{
		ID:              uuid.New(),
		FieldID:         s.FieldID,
		CustomKey:       s.CustomKey,
		FieldType:       s.FieldType,
		ReadOnly:        s.ReadOnly,
		Value:           s.Value,
		Config:          s.Config,
		TemplateFieldID: s.TemplateFieldID,
		Target:          target,
		Audit:           s.Audit,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	copied.Audit.Touch(actor)
	return copied
}
