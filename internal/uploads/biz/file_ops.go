package biz

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/core"
	foldersbiz "github.com/rdm-platform/rdm-backend/internal/folders/biz"
	metadatabiz "github.com/rdm-platform/rdm-backend/internal/metadata/biz"
	apperrors "github.com/rdm-platform/rdm-backend/internal/pkg/errors"
	storagesbiz "github.com/rdm-platform/rdm-backend/internal/storages/biz"
)

// GetFile 获取版本文件
func (uc *UploadUseCase) GetFile(ctx context.Context, id uuid.UUID) (*VersionFile, error) {
	f, err := uc.files.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, apperrors.New(apperrors.ErrVersionFileNotFound)
	}
	return f, nil
}

// OpenFile 打开文件内容。引用文件与已搬迁文件经由所属存储后端读取
func (uc *UploadUseCase) OpenFile(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	f, err := uc.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}

	backend, fc, err := uc.backendForFile(ctx, f)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		// 草稿文件尚无所属存储,直接按临时路径读取
		return os.Open(filepath.Join(uc.mediaRoot, f.Path))
	}
	p := f.Path
	if fc.Referenced {
		p, err = backend.TargetPath(fc)
		if err != nil {
			return nil, err
		}
	}
	return backend.Open(ctx, p)
}

// writeTempFile 把上传内容写入临时区,同名文件追加序号
func (uc *UploadUseCase) writeTempFile(actor core.Actor, now time.Time, name string, content io.Reader) (string, error) {
	if content == nil {
		return "", fmt.Errorf("no file content supplied")
	}
	fc := storagesbiz.FileContext{Name: name, OwnerID: actor.ID, UploadedAt: now}
	rel := fc.TempPath()
	abs := filepath.Join(uc.mediaRoot, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	abs = uniquePath(abs)

	out, err := os.Create(abs)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, content); err != nil {
		os.Remove(abs)
		return "", err
	}

	relDir := path.Dir(rel)
	return path.Join(relDir, filepath.Base(abs)), nil
}

// uniquePath 目标已存在时在扩展名前追加 _1、_2 序号
func uniquePath(abs string) string {
	if _, err := os.Stat(abs); os.IsNotExist(err) {
		return abs
	}
	ext := filepath.Ext(abs)
	base := strings.TrimSuffix(abs, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// setFileProvenance 登记文件来源元数据,并尽力探测 MIME 类型
func (uc *UploadUseCase) setFileProvenance(ctx context.Context, actor core.Actor, f *VersionFile, p CreateVersionParams) {
	target := metadatabiz.TargetRef{Kind: metadatabiz.TargetFile, ID: f.ID}
	entries := []metadatabiz.SetParams{
		{Target: target, CustomKey: metadatabiz.KeyOriginalFileName, Value: p.FileName, ReadOnly: true},
	}
	if p.OriginalPath != "" {
		entries = append(entries, metadatabiz.SetParams{
			Target: target, CustomKey: metadatabiz.KeyOriginalFilePath, Value: p.OriginalPath, ReadOnly: true,
		})
	}
	if !p.Referenced && f.Path != "" {
		if mt, err := mimetype.DetectFile(filepath.Join(uc.mediaRoot, filepath.FromSlash(f.Path))); err == nil {
			entries = append(entries, metadatabiz.SetParams{
				Target: target, CustomKey: metadatabiz.KeyMimeType, Value: mt.String(), ReadOnly: true,
			})
		}
	}
	for _, e := range entries {
		if _, err := uc.metadata.Set(ctx, actor, e); err != nil {
			uc.logger.Warn("failed to record file provenance metadata",
				zap.String("file_id", f.ID.String()),
				zap.String("key", e.CustomKey),
				zap.Error(err))
		}
	}
}

// backendForFile 解析文件所属的存储后端与路径上下文。
// 草稿文件尚未归属文件夹时返回空后端
func (uc *UploadUseCase) backendForFile(ctx context.Context, f *VersionFile) (storagesbiz.Backend, storagesbiz.FileContext, error) {
	fc := storagesbiz.FileContext{
		Published:    f.Published(),
		Referenced:   f.Referenced,
		Path:         f.Path,
		Name:         f.Name,
		OriginalPath: f.OriginalPath,
		UploadedAt:   f.CreatedAt,
	}
	if f.Audit.CreatedByID != nil {
		fc.OwnerID = *f.Audit.CreatedByID
	}

	v, err := uc.versions.FirstUsingFile(ctx, f.ID)
	if err != nil {
		return nil, fc, err
	}
	if v == nil {
		return nil, fc, nil
	}
	d, err := uc.datasets.GetByID(ctx, v.DatasetID)
	if err != nil || d == nil || d.FolderID == nil {
		return nil, fc, err
	}
	folder, err := uc.folders.GetByID(ctx, *d.FolderID)
	if err != nil || folder == nil {
		return nil, fc, err
	}
	fc.ProjectID = folder.ProjectID
	fc.FolderID = folder.ID

	backend, err := uc.backends.ForStorage(ctx, folder.StorageID)
	if err != nil {
		return nil, fc, err
	}
	return backend, fc, nil
}

// MoveFile 执行单个文件的存储搬迁:置为进行中,交由后端移动,
// 成功则更新路径并完成,失败则记为错误等待人工处理
func (uc *UploadUseCase) MoveFile(ctx context.Context, fileID uuid.UUID) error {
	f, err := uc.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if f.StorageRelocating != StatusScheduled {
		return nil
	}

	f.StorageRelocating = StatusInProgress
	f.UpdatedAt = time.Now()
	if err := uc.files.Update(ctx, f); err != nil {
		return err
	}

	backend, fc, err := uc.backendForFile(ctx, f)
	if err == nil && backend == nil {
		err = apperrors.New(apperrors.ErrStorageBackendFailed, "file has no resolvable storage")
	}

	var moved bool
	var newPath string
	if err == nil {
		moved, newPath, err = backend.MoveFile(ctx, fc)
	}
	if err != nil {
		uc.logger.Error("file relocation failed",
			zap.String("file_id", f.ID.String()),
			zap.String("path", f.Path),
			zap.Error(err))
		f.StorageRelocating = StatusError
		f.UpdatedAt = time.Now()
		return uc.files.Update(ctx, f)
	}

	if moved {
		f.Path = newPath
	}
	f.StorageRelocating = StatusFinished
	f.UpdatedAt = time.Now()
	if err := uc.files.Update(ctx, f); err != nil {
		return err
	}

	uc.refreshFileInfo(ctx, f)
	uc.notifier.ModelChanged(ctx, ContentTypeFile, f.ID.String(), "")
	return nil
}

// MoveScheduledFiles 搬迁全部排队中的文件,返回处理数量
func (uc *UploadUseCase) MoveScheduledFiles(ctx context.Context) (int, error) {
	files, err := uc.files.ListForRelocation(ctx)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, f := range files {
		if err := uc.MoveFile(ctx, f.ID); err != nil {
			uc.logger.Error("failed to relocate file",
				zap.String("file_id", f.ID.String()), zap.Error(err))
			continue
		}
		moved++
	}
	return moved, nil
}

// refreshFileInfo 搬迁后刷新文件体积信息,失败不阻塞
func (uc *UploadUseCase) refreshFileInfo(ctx context.Context, f *VersionFile) {
	if f.Referenced || f.Path == "" {
		return
	}
	info, err := os.Stat(filepath.Join(uc.mediaRoot, filepath.FromSlash(f.Path)))
	if err != nil {
		return
	}
	_, err = uc.metadata.Set(ctx, core.Actor{}, metadatabiz.SetParams{
		Target:    metadatabiz.TargetRef{Kind: metadatabiz.TargetFile, ID: f.ID},
		CustomKey: metadatabiz.KeyFileInformation,
		Value:     map[string]any{"size": info.Size(), "modified": info.ModTime().UTC()},
		ReadOnly:  true,
	})
	if err != nil {
		uc.logger.Warn("failed to refresh file information",
			zap.String("file_id", f.ID.String()), zap.Error(err))
	}
}

// removeFileBytes 删除文件的落盘内容,引用文件只解除登记不动原件
func (uc *UploadUseCase) removeFileBytes(ctx context.Context, f *VersionFile) error {
	if f.Referenced || f.Path == "" {
		return nil
	}
	backend, _, err := uc.backendForFile(ctx, f)
	if err != nil {
		return err
	}
	if backend == nil {
		err := os.Remove(filepath.Join(uc.mediaRoot, filepath.FromSlash(f.Path)))
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return backend.Remove(ctx, f.Path)
}

var _ foldersbiz.RelocationScheduler = (*relocationScheduler)(nil)

// relocationScheduler 供文件夹换存储时批量排程搬迁
type relocationScheduler struct {
	files VersionFileRepo
}

// NewRelocationScheduler 创建搬迁排程器
func NewRelocationScheduler(files VersionFileRepo) foldersbiz.RelocationScheduler {
	return &relocationScheduler{files: files}
}

func (s *relocationScheduler) ScheduleRelocationForFolder(ctx context.Context, folderID uuid.UUID) (int64, error) {
	return s.files.ScheduleRelocationForFolder(ctx, folderID)
}
