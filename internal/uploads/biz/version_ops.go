package biz

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/core"
	metadatabiz "github.com/rdm-platform/rdm-backend/internal/metadata/biz"
	apperrors "github.com/rdm-platform/rdm-backend/internal/pkg/errors"
)

// GetVersion 获取版本
func (uc *UploadUseCase) GetVersion(ctx context.Context, id uuid.UUID) (*Version, error) {
	v, err := uc.versions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, apperrors.New(apperrors.ErrVersionNotFound)
	}
	return v, nil
}

// ListVersions 按创建顺序列出数据集的全部版本
func (uc *UploadUseCase) ListVersions(ctx context.Context, datasetID uuid.UUID) ([]*Version, error) {
	return uc.versions.ListByDataset(ctx, datasetID)
}

// CreateVersionParams 创建版本的参数
type CreateVersionParams struct {
	// DatasetID 为空时自动创建草稿数据集承载新版本
	DatasetID *uuid.UUID
	Name      string
	FileName  string
	// Content 为空表示仅新建元数据版本,不携带新文件
	Content io.Reader
	// Referenced 表示文件驻留在私有挂载存储上,只登记不搬运
	Referenced   bool
	OriginalPath string
	UploadedTus  bool
}

// CreateVersionWithNewFile 上传新文件并创建版本。文件先落在临时区,
// 数据集发布后由搬迁任务移入目标存储
func (uc *UploadUseCase) CreateVersionWithNewFile(ctx context.Context, actor core.Actor, p CreateVersionParams) (*Version, error) {
	d, err := uc.resolveOrCreateDataset(ctx, actor, p.DatasetID)
	if err != nil {
		return nil, err
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

	f := &VersionFile{
		ID:               uuid.New(),
		Name:             p.FileName,
		Referenced:       p.Referenced,
		OriginalPath:     p.OriginalPath,
		UploadedUsingTus: p.UploadedTus,
		Status:           StatusScheduled,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	f.Audit.Touch(actor)

	if !p.Referenced {
		path, err := uc.writeTempFile(actor, now, p.FileName, p.Content)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrUploadFailed)
		}
		f.Path = path
	}

	if err := uc.files.Create(ctx, f); err != nil {
		return nil, err
	}

	uc.setFileProvenance(ctx, actor, f, p)

	v, err := uc.createVersion(ctx, actor, d, f.ID, p.Name, now)
	if err != nil {
		return nil, err
	}
	uc.persistDisplayName(ctx, d)

	if uc.parsers != nil && !p.Referenced {
		if err := uc.parsers.ScheduleForFile(ctx, f.ID); err != nil {
			uc.logger.Warn("failed to schedule file parsing",
				zap.String("file_id", f.ID.String()), zap.Error(err))
		}
	}

	if d.Published() {
		if err := uc.publishVersion(ctx, actor, v, now); err != nil {
			return nil, err
		}
	}

	uc.notifier.ModelChanged(ctx, ContentTypeFile, f.ID.String(), actor.Email)
	return v, nil
}

// CreateVersionWithNewMetadata 复用上一版本的文件,仅创建新的元数据版本
func (uc *UploadUseCase) CreateVersionWithNewMetadata(ctx context.Context, actor core.Actor, datasetID uuid.UUID, name string) (*Version, error) {
	d, err := uc.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
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

	latest, err := uc.versions.Latest(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if latest == nil || latest.VersionFileID == nil {
		return nil, apperrors.New(apperrors.ErrVersionFileMissing)
	}

	v, err := uc.createVersion(ctx, actor, d, *latest.VersionFileID, name, now)
	if err != nil {
		return nil, err
	}
	uc.persistDisplayName(ctx, d)
	if d.Published() {
		if err := uc.publishVersion(ctx, actor, v, now); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// createVersion 创建版本并继承最新版本的元数据
func (uc *UploadUseCase) createVersion(ctx context.Context, actor core.Actor, d *Dataset, fileID uuid.UUID, name string, now time.Time) (*Version, error) {
	prev, err := uc.versions.Latest(ctx, d.ID)
	if err != nil {
		return nil, err
	}

	v := &Version{
		ID:            uuid.New(),
		Name:          name,
		DatasetID:     d.ID,
		VersionFileID: &fileID,
		Status:        StatusScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	v.Audit.Touch(actor)
	if err := uc.versions.Create(ctx, v); err != nil {
		return nil, err
	}

	if prev != nil {
		src, err := uc.metadata.ListForTarget(ctx, metadatabiz.TargetRef{Kind: metadatabiz.TargetVersion, ID: prev.ID})
		if err != nil {
			return nil, err
		}
		target := metadatabiz.TargetRef{Kind: metadatabiz.TargetVersion, ID: v.ID}
		if err := uc.metadata.CopyToTarget(ctx, actor, src, target, false); err != nil {
			return nil, err
		}
	}

	uc.notifier.ModelChanged(ctx, ContentTypeVersion, v.ID.String(), actor.Email)
	return v, nil
}

// UpdateVersion 保存版本。已发布且不是最新的版本只允许改名和改状态
func (uc *UploadUseCase) UpdateVersion(ctx context.Context, actor core.Actor, v *Version) error {
	current, err := uc.GetVersion(ctx, v.ID)
	if err != nil {
		return err
	}
	d, err := uc.GetDataset(ctx, current.DatasetID)
	if err != nil {
		return err
	}
	maxLock := uc.settings.MaxLockTime(ctx)
	now := time.Now()
	released, err := d.Lock.PrepareWrite(actor, now, maxLock, true)
	if err != nil {
		return err
	}
	if released {
		uc.notifier.LockStatusChanged(ctx, ContentTypeDataset, d.ID.String(), false, "")
	}

	if current.Published() {
		latest, err := uc.versions.Latest(ctx, current.DatasetID)
		if err != nil {
			return err
		}
		if latest != nil && latest.ID != current.ID {
			if err := restrictedVersionEdit(current, v); err != nil {
				return err
			}
		}
	}

	v.DatasetID = current.DatasetID
	v.CreatedAt = current.CreatedAt
	v.Audit.CreatedByID = current.Audit.CreatedByID
	v.Audit.Touch(actor)
	v.UpdatedAt = now
	if err := uc.versions.Update(ctx, v); err != nil {
		return err
	}
	uc.notifier.ModelChanged(ctx, ContentTypeVersion, v.ID.String(), actor.Email)
	return nil
}

// restrictedVersionEdit 校验受限编辑:除名称与状态外的字段不得变更
func restrictedVersionEdit(current, next *Version) error {
	same := func(a, b *uuid.UUID) bool {
		if a == nil || b == nil {
			return a == b
		}
		return *a == *b
	}
	if !same(current.VersionFileID, next.VersionFileID) {
		return apperrors.New(apperrors.ErrVersionEditRestricted, "file")
	}
	ct, nt := current.PublicationDate, next.PublicationDate
	if (ct == nil) != (nt == nil) || (ct != nil && !ct.Equal(*nt)) {
		return apperrors.New(apperrors.ErrVersionEditRestricted, "publication date")
	}
	if current.MetadataIsComplete != next.MetadataIsComplete {
		return apperrors.New(apperrors.ErrVersionEditRestricted, "completeness")
	}
	return nil
}

// RestoreVersion 把历史版本恢复为新的最新版本,共享原版本的文件
func (uc *UploadUseCase) RestoreVersion(ctx context.Context, actor core.Actor, versionID uuid.UUID) (*Version, error) {
	v, err := uc.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	d, err := uc.GetDataset(ctx, v.DatasetID)
	if err != nil {
		return nil, err
	}

	count, err := uc.versions.CountByDataset(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if count < 2 {
		return nil, apperrors.New(apperrors.ErrVersionNotRestorable, "dataset has a single version")
	}
	latest, err := uc.versions.Latest(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.ID == v.ID {
		return nil, apperrors.New(apperrors.ErrVersionNotRestorable, "version is already the latest")
	}
	if v.VersionFileID == nil {
		return nil, apperrors.New(apperrors.ErrVersionFileMissing)
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

	restored := &Version{
		ID:            uuid.New(),
		Name:          v.Name,
		DatasetID:     d.ID,
		VersionFileID: v.VersionFileID,
		Status:        v.Status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	restored.Audit.Touch(actor)
	if err := uc.versions.Create(ctx, restored); err != nil {
		return nil, err
	}

	src, err := uc.metadata.ListForTarget(ctx, metadatabiz.TargetRef{Kind: metadatabiz.TargetVersion, ID: v.ID})
	if err != nil {
		return nil, err
	}
	target := metadatabiz.TargetRef{Kind: metadatabiz.TargetVersion, ID: restored.ID}
	if err := uc.metadata.CopyToTarget(ctx, actor, src, target, false); err != nil {
		return nil, err
	}
	uc.persistDisplayName(ctx, d)

	if d.Published() {
		if err := uc.publishVersion(ctx, actor, restored, now); err != nil {
			return nil, err
		}
	}
	uc.notifier.ModelChanged(ctx, ContentTypeVersion, restored.ID.String(), actor.Email)
	return restored, nil
}

// DeleteVersion 删除版本。已发布或他人创建的版本仅限硬删除权限
func (uc *UploadUseCase) DeleteVersion(ctx context.Context, actor core.Actor, versionID uuid.UUID) error {
	v, err := uc.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}
	d, err := uc.GetDataset(ctx, v.DatasetID)
	if err != nil {
		return err
	}

	if !actor.CanHardDeleteDatasets {
		if v.Published() {
			return apperrors.New(apperrors.ErrForbidden, "published versions cannot be deleted")
		}
		if v.Audit.CreatedByID == nil || *v.Audit.CreatedByID != actor.ID {
			return apperrors.New(apperrors.ErrForbidden, "only the creator may delete a draft version")
		}
	}

	maxLock := uc.settings.MaxLockTime(ctx)
	released, err := d.Lock.PrepareWrite(actor, time.Now(), maxLock, true)
	if err != nil {
		return err
	}
	if released {
		uc.notifier.LockStatusChanged(ctx, ContentTypeDataset, d.ID.String(), false, "")
	}

	if err := uc.deleteVersionCascade(ctx, v); err != nil {
		return err
	}
	uc.persistDisplayName(ctx, d)
	uc.notifier.ModelChanged(ctx, ContentTypeVersion, v.ID.String(), actor.Email)
	return nil
}

// CheckScheduledCompleteness 对待检版本计算模板完整性。数据集持锁时跳过,
// 版本保持待检状态等待下一轮;其余失败将版本置为出错,不做自动重试
func (uc *UploadUseCase) CheckScheduledCompleteness(ctx context.Context) (int, error) {
	versions, err := uc.versions.ListByStatus(ctx, StatusScheduled)
	if err != nil {
		return 0, err
	}

	maxLock := uc.settings.MaxLockTime(ctx)
	now := time.Now()
	checked := 0
	for _, v := range versions {
		d, err := uc.datasets.GetByID(ctx, v.DatasetID)
		if err != nil || d == nil {
			uc.logger.Warn("completeness check failed, dataset unavailable",
				zap.String("version_id", v.ID.String()), zap.Error(err))
			uc.markVersionStatus(ctx, v, StatusError, now)
			continue
		}
		d.Lock.ReleaseExpired(now, maxLock)
		if d.Lock.Locked {
			uc.logger.Info("completeness check deferred, dataset is locked",
				zap.String("dataset_id", d.ID.String()),
				zap.String("version_id", v.ID.String()))
			continue
		}

		uc.markVersionStatus(ctx, v, StatusInProgress, now)

		complete, err := uc.versionComplete(ctx, d, v)
		if err != nil {
			uc.logger.Error("completeness check failed",
				zap.String("version_id", v.ID.String()), zap.Error(err))
			uc.markVersionStatus(ctx, v, StatusError, now)
			continue
		}

		v.MetadataIsComplete = complete
		v.Status = StatusFinished
		v.UpdatedAt = now
		if err := uc.versions.Update(ctx, v); err != nil {
			uc.logger.Error("failed to persist completeness result",
				zap.String("version_id", v.ID.String()), zap.Error(err))
			continue
		}
		uc.notifier.ModelChanged(ctx, ContentTypeVersion, v.ID.String(), "")
		checked++
	}
	return checked, nil
}

// markVersionStatus 持久化版本状态流转,落库失败只记录日志
func (uc *UploadUseCase) markVersionStatus(ctx context.Context, v *Version, status Status, now time.Time) {
	v.Status = status
	v.UpdatedAt = now
	if err := uc.versions.Update(ctx, v); err != nil {
		uc.logger.Error("failed to persist version status",
			zap.String("version_id", v.ID.String()),
			zap.String("status", string(status)), zap.Error(err))
		return
	}
	uc.notifier.ModelChanged(ctx, ContentTypeVersion, v.ID.String(), "")
}

// versionComplete 对照文件夹与所属项目的模板检查必填字段,无模板视为完整
func (uc *UploadUseCase) versionComplete(ctx context.Context, d *Dataset, v *Version) (bool, error) {
	if d.FolderID == nil {
		return true, nil
	}
	folder, err := uc.folders.GetByID(ctx, *d.FolderID)
	if err != nil {
		return false, err
	}
	if folder == nil {
		return true, nil
	}
	target := metadatabiz.TargetRef{Kind: metadatabiz.TargetVersion, ID: v.ID}
	for _, id := range uc.folderTemplateIDs(ctx, folder) {
		ok, err := uc.templates.MandatoryComplete(ctx, id, target)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (uc *UploadUseCase) resolveOrCreateDataset(ctx context.Context, actor core.Actor, id *uuid.UUID) (*Dataset, error) {
	if id != nil {
		return uc.GetDataset(ctx, *id)
	}
	return uc.CreateDataset(ctx, actor, "", nil)
}
