package biz

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/core"
	"github.com/rdm-platform/rdm-backend/internal/notify"
	apperrors "github.com/rdm-platform/rdm-backend/internal/pkg/errors"
)

// Template 元数据模板
type Template struct {
	ID        uuid.UUID
	Name      string
	Lock      core.LockState
	Audit     core.AuditInfo
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TemplateField 模板中的一个字段
type TemplateField struct {
	ID         uuid.UUID
	TemplateID uuid.UUID
	// FieldID 与 CustomKey 互斥
	FieldID      *uuid.UUID
	CustomKey    string
	FieldType    FieldType
	Mandatory    bool
	DefaultValue json.RawMessage
	Config       json.RawMessage
}

// Key 返回完整性匹配键:优先自定义键,否则字段 ID
func (f *TemplateField) Key() string {
	if f.CustomKey != "" {
		return f.CustomKey
	}
	if f.FieldID != nil {
		return f.FieldID.String()
	}
	return ""
}

// TemplateVersion 模板在数据集发布时刻的快照
type TemplateVersion struct {
	ID         uuid.UUID
	TemplateID uuid.UUID
	Fields     json.RawMessage
	CreatedAt  time.Time
}

// TemplateRepo 模板仓储接口
type TemplateRepo interface {
	Create(ctx context.Context, t *Template) error
	Update(ctx context.Context, t *Template) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Template, error)
	List(ctx context.Context) ([]*Template, error)
	ListFields(ctx context.Context, templateID uuid.UUID) ([]*TemplateField, error)
	CreateField(ctx context.Context, f *TemplateField) error
	CreateVersion(ctx context.Context, v *TemplateVersion) error
	ListLocked(ctx context.Context) ([]*Template, error)
}

// CheckCompleteness 判断目标上的元数据是否覆盖了模板的全部必填字段。
// 同键多条时后写的覆盖先写的,模板没有必填字段时视为完整
func CheckCompleteness(fields []*TemplateField, entries []*Metadata) bool {
	values := make(map[string]bool, len(entries))
	for _, e := range entries {
		values[e.Key()] = e.HasValue()
	}

	for _, f := range fields {
		if !f.Mandatory {
			continue
		}
		if !values[f.Key()] {
			return false
		}
	}
	return true
}

// TemplateUseCase 模板用例
type TemplateUseCase struct {
	templates TemplateRepo
	metadata  *MetadataUseCase
	notifier  notify.Notifier
	logger    *zap.Logger
}

// NewTemplateUseCase 创建模板用例
func NewTemplateUseCase(templates TemplateRepo, metadata *MetadataUseCase, notifier notify.Notifier, logger *zap.Logger) *TemplateUseCase {
	return &TemplateUseCase{templates: templates, metadata: metadata, notifier: notifier, logger: logger}
}

// Create 创建模板
func (uc *TemplateUseCase) Create(ctx context.Context, actor core.Actor, name string) (*Template, error) {
	t := &Template{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	t.Audit.Touch(actor)
	if err := uc.templates.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Get 获取模板
func (uc *TemplateUseCase) Get(ctx context.Context, id uuid.UUID) (*Template, error) {
	t, err := uc.templates.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, apperrors.New(apperrors.ErrMetadataTemplateNotFnd)
	}
	return t, nil
}

// List 列出全部模板
func (uc *TemplateUseCase) List(ctx context.Context) ([]*Template, error) {
	return uc.templates.List(ctx)
}

// Fields 列出模板的字段
func (uc *TemplateUseCase) Fields(ctx context.Context, templateID uuid.UUID) ([]*TemplateField, error) {
	if _, err := uc.Get(ctx, templateID); err != nil {
		return nil, err
	}
	return uc.templates.ListFields(ctx, templateID)
}

// Save 按锁协议保存模板并广播变更
func (uc *TemplateUseCase) Save(ctx context.Context, actor core.Actor, t *Template, maxLock time.Duration) error {
	released, err := t.Lock.PrepareWrite(actor, time.Now(), maxLock, true)
	if err != nil {
		return err
	}
	if released {
		uc.notifier.LockStatusChanged(ctx, string(TargetTemplate), t.ID.String(), false, "")
	}
	t.Audit.Touch(actor)
	t.UpdatedAt = time.Now()
	if err := uc.templates.Update(ctx, t); err != nil {
		return err
	}
	uc.notifier.ModelChanged(ctx, string(TargetTemplate), t.ID.String(), actor.Email)
	return nil
}

// AddField 向模板追加一个字段
func (uc *TemplateUseCase) AddField(ctx context.Context, actor core.Actor, f *TemplateField) error {
	hasField := f.FieldID != nil
	hasCustom := f.CustomKey != ""
	if hasField && hasCustom {
		return apperrors.New(apperrors.ErrMetadataFieldConflict)
	}
	if !hasField && !hasCustom {
		return apperrors.New(apperrors.ErrMetadataFieldRequired)
	}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return uc.templates.CreateField(ctx, f)
}

// Lock 加锁并广播锁状态
func (uc *TemplateUseCase) Lock(ctx context.Context, actor core.Actor, id uuid.UUID, maxLock time.Duration) error {
	t, err := uc.Get(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now()
	t.Lock.ReleaseExpired(now, maxLock)
	if t.Lock.Locked && !t.Lock.HeldBy(actor) {
		return apperrors.New(apperrors.ErrLocked)
	}

	t.Lock.Acquire(actor, now)
	if err := uc.templates.Update(ctx, t); err != nil {
		return err
	}
	uc.notifier.LockStatusChanged(ctx, string(TargetTemplate), t.ID.String(), true, actor.Email)
	return nil
}

// Unlock 解锁并广播锁状态
func (uc *TemplateUseCase) Unlock(ctx context.Context, actor core.Actor, id uuid.UUID) error {
	t, err := uc.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Lock.Locked && !t.Lock.HeldBy(actor) {
		return apperrors.New(apperrors.ErrLocked)
	}

	t.Lock.Release()
	if err := uc.templates.Update(ctx, t); err != nil {
		return err
	}
	uc.notifier.LockStatusChanged(ctx, string(TargetTemplate), t.ID.String(), false, "")
	return nil
}

// ApplyToTarget 将模板字段实例化为目标上的元数据条目,
// retainExisting 为 true 时不覆盖已有条目
func (uc *TemplateUseCase) ApplyToTarget(ctx context.Context, actor core.Actor, templateID uuid.UUID, target TargetRef, retainExisting bool) error {
	fields, err := uc.templates.ListFields(ctx, templateID)
	if err != nil {
		return err
	}

	entries := make([]*Metadata, 0, len(fields))
	for _, f := range fields {
		fieldID := f.ID
		m := &Metadata{
			ID:              uuid.New(),
			FieldID:         f.FieldID,
			CustomKey:       f.CustomKey,
			FieldType:       f.FieldType,
			Value:           f.DefaultValue,
			Config:          f.Config,
			TemplateFieldID: &fieldID,
			Target:          target,
		}
		entries = append(entries, m)
	}

	return uc.metadata.CopyToTarget(ctx, actor, entries, target, retainExisting)
}

// MandatoryComplete 判断目标是否满足模板的必填字段
func (uc *TemplateUseCase) MandatoryComplete(ctx context.Context, templateID uuid.UUID, target TargetRef) (bool, error) {
	fields, err := uc.templates.ListFields(ctx, templateID)
	if err != nil {
		return false, err
	}
	entries, err := uc.metadata.ListForTarget(ctx, target)
	if err != nil {
		return false, err
	}
	return CheckCompleteness(fields, entries), nil
}

// Snapshot 生成模板当前字段的快照,数据集发布时调用
func (uc *TemplateUseCase) Snapshot(ctx context.Context, templateID uuid.UUID) (*TemplateVersion, error) {
	fields, err := uc.templates.ListFields(ctx, templateID)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}

	v := &TemplateVersion{
		ID:         uuid.New(),
		TemplateID: templateID,
		Fields:     raw,
		CreatedAt:  time.Now(),
	}
	if err := uc.templates.CreateVersion(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// ReleaseExpiredLocks 释放超时的模板锁并广播锁状态变更
func (uc *TemplateUseCase) ReleaseExpiredLocks(ctx context.Context, maxLock time.Duration) (int, error) {
	locked, err := uc.templates.ListLocked(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	released := 0
	for _, t := range locked {
		if !t.Lock.ReleaseExpired(now, maxLock) {
			continue
		}
		if err := uc.templates.Update(ctx, t); err != nil {
			uc.logger.Error("failed to release expired template lock",
				zap.String("template_id", t.ID.String()), zap.Error(err))
			continue
		}
		uc.notifier.LockStatusChanged(ctx, string(TargetTemplate), t.ID.String(), false, "")
		released++
	}
	return released, nil
}
