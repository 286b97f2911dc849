package biz

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/core"
	foldersbiz "github.com/rdm-platform/rdm-backend/internal/folders/biz"
	metadatabiz "github.com/rdm-platform/rdm-backend/internal/metadata/biz"
	projectsbiz "github.com/rdm-platform/rdm-backend/internal/projects/biz"
	"github.com/rdm-platform/rdm-backend/internal/notify"
	apperrors "github.com/rdm-platform/rdm-backend/internal/pkg/errors"
	settingsbiz "github.com/rdm-platform/rdm-backend/internal/settings/biz"
	storagesbiz "github.com/rdm-platform/rdm-backend/internal/storages/biz"
)

// FolderReader 读取文件夹信息
type FolderReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*foldersbiz.Folder, error)
}

// ProjectReader 读取项目信息,发布时用于合并项目级模板
type ProjectReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*projectsbiz.Project, error)
}

// FolderCounter 维护文件夹的数据集数量缓存
type FolderCounter interface {
	UpdateDatasetsCount(ctx context.Context, id uuid.UUID, count int64) error
}

// BackendResolver 按存储 ID 解析后端
type BackendResolver interface {
	ForStorage(ctx context.Context, id uuid.UUID) (storagesbiz.Backend, error)
}

// ParserScheduler 为新上传的文件排入解析任务
type ParserScheduler interface {
	ScheduleForFile(ctx context.Context, fileID uuid.UUID) error
}

// UploadUseCase 数据集上传与版本生命周期用例
type UploadUseCase struct {
	datasets  DatasetRepo
	versions  VersionRepo
	files     VersionFileRepo
	folders   FolderReader
	projects  ProjectReader
	counts    FolderCounter
	metadata  *metadatabiz.MetadataUseCase
	templates *metadatabiz.TemplateUseCase
	backends  BackendResolver
	settings  *settingsbiz.SettingUseCase
	notifier  notify.Notifier
	parsers   ParserScheduler
	mediaRoot string
	draftTTL  time.Duration
	logger    *zap.Logger
}

// UploadUseCaseParams 构造上传用例的依赖
type UploadUseCaseParams struct {
	Datasets  DatasetRepo
	Versions  VersionRepo
	Files     VersionFileRepo
	Folders   FolderReader
	Projects  ProjectReader
	Counts    FolderCounter
	Metadata  *metadatabiz.MetadataUseCase
	Templates *metadatabiz.TemplateUseCase
	Backends  BackendResolver
	Settings  *settingsbiz.SettingUseCase
	Notifier  notify.Notifier
	Parsers   ParserScheduler
	MediaRoot string
	DraftTTL  time.Duration
	Logger    *zap.Logger
}

// NewUploadUseCase 创建上传用例
func NewUploadUseCase(p UploadUseCaseParams) *UploadUseCase {
	return &UploadUseCase{
		datasets:  p.Datasets,
		versions:  p.Versions,
		files:     p.Files,
		folders:   p.Folders,
		projects:  p.Projects,
		counts:    p.Counts,
		metadata:  p.Metadata,
		templates: p.Templates,
		backends:  p.Backends,
		settings:  p.Settings,
		notifier:  p.Notifier,
		parsers:   p.Parsers,
		mediaRoot: p.MediaRoot,
		draftTTL:  p.DraftTTL,
		logger:    p.Logger,
	}
}

// CreateDataset 创建草稿数据集,草稿自创建起计过期时间
func (uc *UploadUseCase) CreateDataset(ctx context.Context, actor core.Actor, name string, folderID *uuid.UUID) (*Dataset, error) {
	now := time.Now()
	expiry := now.Add(uc.draftTTL)
	d := &Dataset{
		ID:         uuid.New(),
		Name:       name,
		FolderID:   folderID,
		ExpiryDate: &expiry,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	d.Audit.Touch(actor)
	uc.refreshDisplayName(ctx, d)
	if err := uc.datasets.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ListDatasets 列出文件夹下的数据集
func (uc *UploadUseCase) ListDatasets(ctx context.Context, folderID uuid.UUID) ([]*Dataset, error) {
	return uc.datasets.ListByFolder(ctx, folderID)
}

// GetDataset 获取数据集
func (uc *UploadUseCase) GetDataset(ctx context.Context, id uuid.UUID) (*Dataset, error) {
	d, err := uc.datasets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, apperrors.New(apperrors.ErrDatasetNotFound)
	}
	return d, nil
}

// refreshDisplayName 重算缓存的显示名:显式名称优先,其次取最新版本
// 文件的原始文件名元数据,兜底使用数据集 ID
func (uc *UploadUseCase) refreshDisplayName(ctx context.Context, d *Dataset) {
	d.DisplayName = uc.computeDisplayName(ctx, d)
}

func (uc *UploadUseCase) computeDisplayName(ctx context.Context, d *Dataset) string {
	if d.Name != "" {
		return d.Name
	}
	latest, err := uc.versions.Latest(ctx, d.ID)
	if err == nil && latest != nil && latest.VersionFileID != nil {
		target := metadatabiz.TargetRef{Kind: metadatabiz.TargetFile, ID: *latest.VersionFileID}
		entries, err := uc.metadata.ListForTarget(ctx, target)
		if err == nil {
			for _, m := range entries {
				if m.CustomKey == metadatabiz.KeyOriginalFileName {
					if name := m.ValueString(); name != "" {
						return name
					}
				}
			}
		}
	}
	return d.ID.String()
}

// persistDisplayName 版本变动后重算显示名并落库,失败只记录日志
func (uc *UploadUseCase) persistDisplayName(ctx context.Context, d *Dataset) {
	name := uc.computeDisplayName(ctx, d)
	if name == d.DisplayName {
		return
	}
	d.DisplayName = name
	if err := uc.datasets.Update(ctx, d); err != nil {
		uc.logger.Warn("failed to persist dataset display name",
			zap.String("dataset_id", d.ID.String()), zap.Error(err))
	}
}

// SaveDataset 按锁协议保存数据集并广播变更
func (uc *UploadUseCase) SaveDataset(ctx context.Context, actor core.Actor, d *Dataset) error {
	maxLock := uc.settings.MaxLockTime(ctx)
	released, err := d.Lock.PrepareWrite(actor, time.Now(), maxLock, true)
	if err != nil {
		return err
	}
	if released {
		uc.notifier.LockStatusChanged(ctx, ContentTypeDataset, d.ID.String(), false, "")
	}
	d.Audit.Touch(actor)
	d.UpdatedAt = time.Now()
	uc.refreshDisplayName(ctx, d)
	if err := uc.datasets.Update(ctx, d); err != nil {
		return err
	}
	uc.notifier.ModelChanged(ctx, ContentTypeDataset, d.ID.String(), actor.Email)
	return nil
}

// PublishDataset 发布数据集。要求已分配文件夹且未发布,
// 所有未发布版本按创建顺序一并发布,草稿过期时间清空
func (uc *UploadUseCase) PublishDataset(ctx context.Context, actor core.Actor, datasetID uuid.UUID, folderID *uuid.UUID) (*Dataset, error) {
	d, err := uc.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	if folderID != nil && d.FolderID == nil {
		d.FolderID = folderID
	}
	if d.FolderID == nil {
		return nil, apperrors.New(apperrors.ErrDatasetFolderRequired)
	}
	if d.Published() {
		return nil, apperrors.New(apperrors.ErrDatasetAlreadyPublished)
	}

	maxLock := uc.settings.MaxLockTime(ctx)
	now := time.Now()
	released, err := d.Lock.PrepareWrite(actor, now, maxLock, true)
	if err != nil {
		return nil, err
	}
	if released {
		uc.notifier.LockStatusChanged(ctx, ContentTypeDataset, d.ID.String(), false, "")
	}

	folder, err := uc.folders.GetByID(ctx, *d.FolderID)
	if err != nil {
		return nil, err
	}
	if folder == nil {
		return nil, apperrors.New(apperrors.ErrFolderNotFound)
	}

	// 文件夹与所属项目的模板合并生效。模板处理失败不阻塞发布,
	// 完整性检查任务随后仍会按模板核对必填字段
	if templateIDs := uc.folderTemplateIDs(ctx, folder); len(templateIDs) > 0 {
		if err := uc.applyTemplatesOnPublish(ctx, actor, d, templateIDs, now); err != nil {
			uc.logger.Warn("failed to apply metadata templates on publish",
				zap.String("dataset_id", d.ID.String()), zap.Error(err))
		}
	}

	versions, err := uc.versions.ListByDataset(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.Published() {
			continue
		}
		if err := uc.publishVersion(ctx, actor, v, now); err != nil {
			return nil, err
		}
	}

	d.PublicationDate = &now
	d.ExpiryDate = nil
	d.Audit.Touch(actor)
	d.UpdatedAt = now
	uc.refreshDisplayName(ctx, d)
	if err := uc.datasets.Update(ctx, d); err != nil {
		return nil, err
	}

	uc.refreshFolderCount(ctx, *d.FolderID)
	uc.notifier.ModelChanged(ctx, ContentTypeDataset, d.ID.String(), actor.Email)
	return d, nil
}

// folderTemplateIDs 收集对数据集生效的模板:文件夹自身的模板
// 加上所属项目的模板
func (uc *UploadUseCase) folderTemplateIDs(ctx context.Context, folder *foldersbiz.Folder) []uuid.UUID {
	var ids []uuid.UUID
	if folder.MetadataTemplateID != nil {
		ids = append(ids, *folder.MetadataTemplateID)
	}
	project, err := uc.projects.GetByID(ctx, folder.ProjectID)
	if err != nil {
		uc.logger.Warn("failed to load project for template merge",
			zap.String("project_id", folder.ProjectID.String()), zap.Error(err))
		return ids
	}
	if project != nil && project.MetadataTemplateID != nil {
		ids = append(ids, *project.MetadataTemplateID)
	}
	return ids
}

// applyTemplatesOnPublish 发布时生成一个新版本:继承最新版本的元数据,
// 再补上模板字段的默认值。每个模板同时留一份字段快照
func (uc *UploadUseCase) applyTemplatesOnPublish(ctx context.Context, actor core.Actor, d *Dataset, templateIDs []uuid.UUID, now time.Time) error {
	latest, err := uc.versions.Latest(ctx, d.ID)
	if err != nil {
		return err
	}
	if latest == nil || latest.VersionFileID == nil {
		return nil
	}

	v, err := uc.createVersion(ctx, actor, d, *latest.VersionFileID, latest.Name, now)
	if err != nil {
		return err
	}

	target := metadatabiz.TargetRef{Kind: metadatabiz.TargetVersion, ID: v.ID}
	for _, id := range templateIDs {
		if _, err := uc.templates.Snapshot(ctx, id); err != nil {
			uc.logger.Warn("failed to snapshot metadata template on publish",
				zap.String("dataset_id", d.ID.String()),
				zap.String("template_id", id.String()),
				zap.Error(err))
		}
		if err := uc.templates.ApplyToTarget(ctx, actor, id, target, true); err != nil {
			return err
		}
	}
	return nil
}

// publishVersion 发布单个版本,关联文件排入搬迁队列
func (uc *UploadUseCase) publishVersion(ctx context.Context, actor core.Actor, v *Version, now time.Time) error {
	v.PublicationDate = &now
	v.Audit.Touch(actor)
	v.UpdatedAt = now
	if err := uc.versions.Update(ctx, v); err != nil {
		return err
	}

	if v.VersionFileID != nil {
		f, err := uc.files.GetByID(ctx, *v.VersionFileID)
		if err != nil {
			return err
		}
		if f != nil && !f.Published() {
			f.PublicationDate = &now
			f.StorageRelocating = StatusScheduled
			f.UpdatedAt = now
			if err := uc.files.Update(ctx, f); err != nil {
				return err
			}
		}
	}

	uc.notifier.ModelChanged(ctx, ContentTypeVersion, v.ID.String(), actor.Email)
	return nil
}

// LockDataset 加锁并广播锁状态
func (uc *UploadUseCase) LockDataset(ctx context.Context, actor core.Actor, id uuid.UUID) error {
	d, err := uc.GetDataset(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now()
	d.Lock.ReleaseExpired(now, uc.settings.MaxLockTime(ctx))
	if d.Lock.Locked && !d.Lock.HeldBy(actor) {
		return apperrors.New(apperrors.ErrLocked)
	}

	d.Lock.Acquire(actor, now)
	if err := uc.datasets.Update(ctx, d); err != nil {
		return err
	}
	uc.notifier.LockStatusChanged(ctx, ContentTypeDataset, d.ID.String(), true, actor.Email)
	return nil
}

// UnlockDataset 解锁并广播锁状态
func (uc *UploadUseCase) UnlockDataset(ctx context.Context, actor core.Actor, id uuid.UUID) error {
	d, err := uc.GetDataset(ctx, id)
	if err != nil {
		return err
	}
	if d.Lock.Locked && !d.Lock.HeldBy(actor) {
		return apperrors.New(apperrors.ErrLocked)
	}

	d.Lock.Release()
	if err := uc.datasets.Update(ctx, d); err != nil {
		return err
	}
	uc.notifier.LockStatusChanged(ctx, ContentTypeDataset, d.ID.String(), false, "")
	return nil
}

// DeleteDataset 删除数据集及其版本。已发布或他人创建的数据集
// 仅限持有硬删除权限的用户删除
func (uc *UploadUseCase) DeleteDataset(ctx context.Context, actor core.Actor, id uuid.UUID) error {
	d, err := uc.GetDataset(ctx, id)
	if err != nil {
		return err
	}

	if !actor.CanHardDeleteDatasets {
		if d.Published() {
			return apperrors.New(apperrors.ErrForbidden, "published datasets cannot be deleted")
		}
		if d.Audit.CreatedByID == nil || *d.Audit.CreatedByID != actor.ID {
			return apperrors.New(apperrors.ErrForbidden, "only the creator may delete a draft")
		}
	}

	versions, err := uc.versions.ListByDataset(ctx, d.ID)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if err := uc.deleteVersionCascade(ctx, v); err != nil {
			return err
		}
	}

	if err := uc.datasets.Delete(ctx, d.ID); err != nil {
		return err
	}
	if d.FolderID != nil {
		uc.refreshFolderCount(ctx, *d.FolderID)
	}
	uc.notifier.ModelChanged(ctx, ContentTypeDataset, d.ID.String(), actor.Email)
	return nil
}

// deleteVersionCascade 删除版本及其元数据,文件不再被任何版本引用时一并删除
func (uc *UploadUseCase) deleteVersionCascade(ctx context.Context, v *Version) error {
	if err := uc.metadata.DeleteForTarget(ctx, metadatabiz.TargetRef{Kind: metadatabiz.TargetVersion, ID: v.ID}); err != nil {
		return err
	}

	fileID := v.VersionFileID
	if fileID == nil {
		return uc.versions.Delete(ctx, v.ID)
	}

	users, err := uc.versions.CountUsingFile(ctx, *fileID)
	if err != nil {
		return err
	}
	if users > 1 {
		// 文件仍被其他版本共享,只删版本
		return uc.versions.Delete(ctx, v.ID)
	}

	f, err := uc.files.GetByID(ctx, *fileID)
	if err != nil {
		return err
	}
	if f != nil {
		// 先删字节再删版本,后端解析依赖版本归属链
		if err := uc.removeFileBytes(ctx, f); err != nil {
			uc.logger.Warn("failed to remove file contents",
				zap.String("file_id", f.ID.String()),
				zap.Error(err))
		}
	}
	if err := uc.versions.Delete(ctx, v.ID); err != nil {
		return err
	}
	if f != nil {
		if err := uc.metadata.DeleteForTarget(ctx, metadatabiz.TargetRef{Kind: metadatabiz.TargetFile, ID: f.ID}); err != nil {
			return err
		}
		if err := uc.files.Delete(ctx, f.ID); err != nil {
			return err
		}
	}
	return nil
}

// RemoveExpiredDrafts 清理过期草稿,以创建者身份执行删除
func (uc *UploadUseCase) RemoveExpiredDrafts(ctx context.Context) (int, error) {
	drafts, err := uc.datasets.ListExpiredDrafts(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, d := range drafts {
		if d.Audit.CreatedByID == nil {
			uc.logger.Warn("expired draft has no creator, skipping",
				zap.String("dataset_id", d.ID.String()))
			continue
		}
		creator := core.Impersonate(*d.Audit.CreatedByID)
		if err := uc.DeleteDataset(ctx, creator, d.ID); err != nil {
			uc.logger.Error("failed to remove expired draft",
				zap.String("dataset_id", d.ID.String()),
				zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

func (uc *UploadUseCase) refreshFolderCount(ctx context.Context, folderID uuid.UUID) {
	if uc.counts == nil {
		return
	}
	count, err := uc.datasets.CountByFolder(ctx, folderID)
	if err != nil {
		uc.logger.Warn("failed to count datasets for folder",
			zap.String("folder_id", folderID.String()), zap.Error(err))
		return
	}
	if err := uc.counts.UpdateDatasetsCount(ctx, folderID, count); err != nil {
		uc.logger.Warn("failed to refresh folder dataset count",
			zap.String("folder_id", folderID.String()), zap.Error(err))
	}
}

// ReleaseExpiredLocks 释放超时的数据集锁并广播锁状态变更
func (uc *UploadUseCase) ReleaseExpiredLocks(ctx context.Context, maxLock time.Duration) (int, error) {
	locked, err := uc.datasets.ListLocked(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	released := 0
	for _, d := range locked {
		if !d.Lock.ReleaseExpired(now, maxLock) {
			continue
		}
		if err := uc.datasets.Update(ctx, d); err != nil {
			uc.logger.Error("failed to release expired dataset lock",
				zap.String("dataset_id", d.ID.String()), zap.Error(err))
			continue
		}
		uc.notifier.LockStatusChanged(ctx, ContentTypeDataset, d.ID.String(), false, "")
		released++
	}
	return released, nil
}
