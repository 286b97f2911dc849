package biz

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/core"
	metadatabiz "github.com/rdm-platform/rdm-backend/internal/metadata/biz"
	"github.com/rdm-platform/rdm-backend/internal/notify"
	apperrors "github.com/rdm-platform/rdm-backend/internal/pkg/errors"
)

// Project 科研项目
type Project struct {
	ID                 uuid.UUID
	Name               string
	Description        string
	MetadataTemplateID *uuid.UUID
	Lock               core.LockState
	Audit              core.AuditInfo
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ProjectRepo 项目仓储接口
type ProjectRepo interface {
	Create(ctx context.Context, p *Project) error
	Update(ctx context.Context, p *Project) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Project, error)
	List(ctx context.Context) ([]*Project, error)
	ListLocked(ctx context.Context) ([]*Project, error)
}

// ProjectUseCase 项目用例
type ProjectUseCase struct {
	repo     ProjectRepo
	notifier notify.Notifier
	logger   *zap.Logger
}

// NewProjectUseCase 创建项目用例
func NewProjectUseCase(repo ProjectRepo, notifier notify.Notifier, logger *zap.Logger) *ProjectUseCase {
	return &ProjectUseCase{repo: repo, notifier: notifier, logger: logger}
}

// Create 创建项目
func (uc *ProjectUseCase) Create(ctx context.Context, actor core.Actor, p *Project) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()
	p.Audit.Touch(actor)
	return uc.repo.Create(ctx, p)
}

// Get 获取项目
func (uc *ProjectUseCase) Get(ctx context.Context, id uuid.UUID) (*Project, error) {
	p, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperrors.New(apperrors.ErrProjectNotFound)
	}
	return p, nil
}

// List 列出全部项目
func (uc *ProjectUseCase) List(ctx context.Context) ([]*Project, error) {
	return uc.repo.List(ctx)
}

// Save 按锁协议保存项目并广播变更
func (uc *ProjectUseCase) Save(ctx context.Context, actor core.Actor, p *Project, maxLock time.Duration) error {
	released, err := p.Lock.PrepareWrite(actor, time.Now(), maxLock, true)
	if err != nil {
		return err
	}
	if released {
		uc.notifier.LockStatusChanged(ctx, string(metadatabiz.TargetProject), p.ID.String(), false, "")
	}
	p.Audit.Touch(actor)
	p.UpdatedAt = time.Now()
	if err := uc.repo.Update(ctx, p); err != nil {
		return err
	}
	uc.notifier.ModelChanged(ctx, string(metadatabiz.TargetProject), p.ID.String(), actor.Email)
	return nil
}

// Lock 加锁并广播锁状态
func (uc *ProjectUseCase) Lock(ctx context.Context, actor core.Actor, id uuid.UUID, maxLock time.Duration) error {
	p, err := uc.Get(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now()
	p.Lock.ReleaseExpired(now, maxLock)
	if p.Lock.Locked && !p.Lock.HeldBy(actor) {
		return apperrors.New(apperrors.ErrLocked)
	}

	p.Lock.Acquire(actor, now)
	if err := uc.repo.Update(ctx, p); err != nil {
		return err
	}
	uc.notifier.LockStatusChanged(ctx, string(metadatabiz.TargetProject), p.ID.String(), true, actor.Email)
	return nil
}

// Unlock 解锁并广播锁状态
func (uc *ProjectUseCase) Unlock(ctx context.Context, actor core.Actor, id uuid.UUID) error {
	p, err := uc.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Lock.Locked && !p.Lock.HeldBy(actor) {
		return apperrors.New(apperrors.ErrLocked)
	}

	p.Lock.Release()
	if err := uc.repo.Update(ctx, p); err != nil {
		return err
	}
	uc.notifier.LockStatusChanged(ctx, string(metadatabiz.TargetProject), p.ID.String(), false, "")
	return nil
}

// ReleaseExpiredLocks 释放超时的项目锁并广播锁状态变更
func (uc *ProjectUseCase) ReleaseExpiredLocks(ctx context.Context, maxLock time.Duration) (int, error) {
	locked, err := uc.repo.ListLocked(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	released := 0
	for _, p := range locked {
		if !p.Lock.ReleaseExpired(now, maxLock) {
			continue
		}
		if err := uc.repo.Update(ctx, p); err != nil {
			uc.logger.Error("failed to release expired project lock",
				zap.String("project_id", p.ID.String()), zap.Error(err))
			continue
		}
		uc.notifier.LockStatusChanged(ctx, string(metadatabiz.TargetProject), p.ID.String(), false, "")
		released++
	}
	return released, nil
}
