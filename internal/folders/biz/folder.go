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
	settingsbiz "github.com/rdm-platform/rdm-backend/internal/settings/biz"
	storagesbiz "github.com/rdm-platform/rdm-backend/internal/storages/biz"
)

// Folder 项目内的文件夹,数据集发布的容器
type Folder struct {
	ID                 uuid.UUID
	Name               string
	ProjectID          uuid.UUID
	StorageID          uuid.UUID
	MetadataTemplateID *uuid.UUID
	DatasetsCount      int64
	Lock               core.LockState
	Audit              core.AuditInfo
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// FolderRepo 文件夹仓储接口
type FolderRepo interface {
	Create(ctx context.Context, f *Folder) error
	Update(ctx context.Context, f *Folder) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Folder, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*Folder, error)
	ListLocked(ctx context.Context) ([]*Folder, error)
	UpdateDatasetsCount(ctx context.Context, id uuid.UUID, count int64) error
}

// RelocationScheduler 在文件夹换存储后安排其下文件的搬迁
type RelocationScheduler interface {
	ScheduleRelocationForFolder(ctx context.Context, folderID uuid.UUID) (int64, error)
}

// FolderUseCase 文件夹用例
type FolderUseCase struct {
	repo       FolderRepo
	storages   *storagesbiz.StorageUseCase
	settings   *settingsbiz.SettingUseCase
	relocation RelocationScheduler
	notifier   notify.Notifier
	logger     *zap.Logger
}

// NewFolderUseCase 创建文件夹用例
func NewFolderUseCase(repo FolderRepo, storages *storagesbiz.StorageUseCase, settings *settingsbiz.SettingUseCase, relocation RelocationScheduler, notifier notify.Notifier, logger *zap.Logger) *FolderUseCase {
	return &FolderUseCase{
		repo:       repo,
		storages:   storages,
		settings:   settings,
		relocation: relocation,
		notifier:   notifier,
		logger:     logger,
	}
}

// Create 创建文件夹,未指定存储时使用默认存储
func (uc *FolderUseCase) Create(ctx context.Context, actor core.Actor, f *Folder) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}

	if f.StorageID == uuid.Nil {
		def, err := uc.storages.Default(ctx)
		if err != nil {
			return err
		}
		f.StorageID = def.ID
	} else {
		if err := uc.checkStorage(ctx, f.StorageID); err != nil {
			return err
		}
	}

	f.CreatedAt = time.Now()
	f.UpdatedAt = time.Now()
	f.Audit.Touch(actor)
	return uc.repo.Create(ctx, f)
}

// Get 获取文件夹
func (uc *FolderUseCase) Get(ctx context.Context, id uuid.UUID) (*Folder, error) {
	f, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, apperrors.New(apperrors.ErrFolderNotFound)
	}
	return f, nil
}

// ListByProject 列出项目下的文件夹
func (uc *FolderUseCase) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*Folder, error) {
	return uc.repo.ListByProject(ctx, projectID)
}

// Save 按锁协议保存文件夹并广播变更
func (uc *FolderUseCase) Save(ctx context.Context, actor core.Actor, f *Folder, maxLock time.Duration) error {
	released, err := f.Lock.PrepareWrite(actor, time.Now(), maxLock, true)
	if err != nil {
		return err
	}
	if released {
		uc.notifier.LockStatusChanged(ctx, string(metadatabiz.TargetFolder), f.ID.String(), false, "")
	}
	f.Audit.Touch(actor)
	f.UpdatedAt = time.Now()
	if err := uc.repo.Update(ctx, f); err != nil {
		return err
	}
	uc.notifier.ModelChanged(ctx, string(metadatabiz.TargetFolder), f.ID.String(), actor.Email)
	return nil
}

// AssignStorage 为文件夹换存储。校验目标存储可用后,
// 将文件夹下已发布的文件全部重新排入搬迁队列
func (uc *FolderUseCase) AssignStorage(ctx context.Context, actor core.Actor, folderID, storageID uuid.UUID, maxLock time.Duration) error {
	f, err := uc.Get(ctx, folderID)
	if err != nil {
		return err
	}
	if f.StorageID == storageID {
		return nil
	}

	if err := uc.checkStorage(ctx, storageID); err != nil {
		return err
	}

	released, err := f.Lock.PrepareWrite(actor, time.Now(), maxLock, true)
	if err != nil {
		return err
	}
	if released {
		uc.notifier.LockStatusChanged(ctx, string(metadatabiz.TargetFolder), f.ID.String(), false, "")
	}

	f.StorageID = storageID
	f.Audit.Touch(actor)
	f.UpdatedAt = time.Now()
	if err := uc.repo.Update(ctx, f); err != nil {
		return err
	}

	scheduled, err := uc.relocation.ScheduleRelocationForFolder(ctx, folderID)
	if err != nil {
		return err
	}
	uc.logger.Info("folder storage reassigned, files scheduled for relocation",
		zap.String("folder_id", folderID.String()),
		zap.String("storage_id", storageID.String()),
		zap.Int64("files", scheduled))

	uc.notifier.ModelChanged(ctx, string(metadatabiz.TargetFolder), f.ID.String(), actor.Email)
	return nil
}

// Lock 加锁并广播锁状态
func (uc *FolderUseCase) Lock(ctx context.Context, actor core.Actor, id uuid.UUID, maxLock time.Duration) error {
	f, err := uc.Get(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now()
	f.Lock.ReleaseExpired(now, maxLock)
	if f.Lock.Locked && !f.Lock.HeldBy(actor) {
		return apperrors.New(apperrors.ErrLocked)
	}

	f.Lock.Acquire(actor, now)
	if err := uc.repo.Update(ctx, f); err != nil {
		return err
	}
	uc.notifier.LockStatusChanged(ctx, string(metadatabiz.TargetFolder), f.ID.String(), true, actor.Email)
	return nil
}

// Unlock 解锁并广播锁状态
func (uc *FolderUseCase) Unlock(ctx context.Context, actor core.Actor, id uuid.UUID) error {
	f, err := uc.Get(ctx, id)
	if err != nil {
		return err
	}
	if f.Lock.Locked && !f.Lock.HeldBy(actor) {
		return apperrors.New(apperrors.ErrLocked)
	}

	f.Lock.Release()
	if err := uc.repo.Update(ctx, f); err != nil {
		return err
	}
	uc.notifier.LockStatusChanged(ctx, string(metadatabiz.TargetFolder), f.ID.String(), false, "")
	return nil
}

// RefreshDatasetsCount 重算文件夹的数据集数量缓存
func (uc *FolderUseCase) RefreshDatasetsCount(ctx context.Context, id uuid.UUID, count int64) error {
	return uc.repo.UpdateDatasetsCount(ctx, id, count)
}

func (uc *FolderUseCase) checkStorage(ctx context.Context, storageID uuid.UUID) error {
	s, err := uc.storages.Get(ctx, storageID)
	if err != nil {
		return err
	}
	if err := s.Usable(uc.settings.PrivateStorageEnabled(ctx)); err != nil {
		return err
	}
	return nil
}

// ReleaseExpiredLocks 释放超时的文件夹锁并广播锁状态变更
func (uc *FolderUseCase) ReleaseExpiredLocks(ctx context.Context, maxLock time.Duration) (int, error) {
	locked, err := uc.repo.ListLocked(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	released := 0
	for _, f := range locked {
		if !f.Lock.ReleaseExpired(now, maxLock) {
			continue
		}
		if err := uc.repo.Update(ctx, f); err != nil {
			uc.logger.Error("failed to release expired folder lock",
				zap.String("folder_id", f.ID.String()), zap.Error(err))
			continue
		}
		uc.notifier.LockStatusChanged(ctx, string(metadatabiz.TargetFolder), f.ID.String(), false, "")
		released++
	}
	return released, nil
}
