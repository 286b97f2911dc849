package biz

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/rdm-platform/rdm-backend/internal/pkg/errors"
)

// MountBackend 私有挂载存储后端。已发布文件存放在挂载点下,
// 未发布文件仍暂存在本地介质的临时目录
type MountBackend struct {
	location  string
	mediaRoot string
	logger    *zap.Logger
}

// NewMountBackend 创建私有挂载后端,sub 为存储配置中解密出的子路径
func NewMountBackend(mountRoot, sub, mediaRoot string, logger *zap.Logger) *MountBackend {
	return &MountBackend{
		location:  filepath.Join(mountRoot, sub),
		mediaRoot: mediaRoot,
		logger:    logger,
	}
}

// Location 返回挂载位置的绝对路径
func (b *MountBackend) Location() string {
	return b.location
}

// TargetPath 计算目标路径。引用文件直接映射到挂载点内的原始位置
func (b *MountBackend) TargetPath(fc FileContext) (string, error) {
	if fc.Referenced {
		return filepath.Join(b.location, fc.OriginalPath), nil
	}
	if !fc.Published {
		return fc.TempPath(), nil
	}
	return filepath.Join(b.location, fc.ProjectID.String(), fc.FolderID.String(), fc.Name), nil
}

// MoveFile 将文件搬到挂载点下的目标目录。引用文件从不移动
func (b *MountBackend) MoveFile(ctx context.Context, fc FileContext) (bool, string, error) {
	if fc.Referenced {
		return false, fc.Path, nil
	}

	target, err := b.TargetPath(fc)
	if err != nil {
		return false, fc.Path, err
	}

	current := fc.Path
	if current == "" {
		current = fc.TempPath()
	}

	absCurrent := b.abs(current)
	absTarget := b.abs(target)
	if filepath.Dir(absCurrent) == filepath.Dir(absTarget) {
		return false, current, nil
	}

	if _, err := os.Stat(absCurrent); os.IsNotExist(err) {
		b.logger.Error("source file does not exist, skipping move",
			zap.String("path", absCurrent))
		return false, current, nil
	}

	if err := os.MkdirAll(filepath.Dir(absTarget), 0o755); err != nil {
		return false, current, apperrors.Wrap(err, apperrors.ErrStorageBackendFailed)
	}

	absTarget = availableName(absTarget)
	if err := moveAcrossDevices(absCurrent, absTarget); err != nil {
		return false, current, apperrors.Wrap(err, apperrors.ErrStorageBackendFailed)
	}

	return true, absTarget, nil
}

// Open 打开文件用于读取
func (b *MountBackend) Open(ctx context.Context, filePath string) (io.ReadCloser, error) {
	f, err := os.Open(b.abs(filePath))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStorageBackendFailed)
	}
	return f, nil
}

// Remove 删除文件,不存在时静默成功
func (b *MountBackend) Remove(ctx context.Context, filePath string) error {
	err := os.Remove(b.abs(filePath))
	if err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(err, apperrors.ErrStorageBackendFailed)
	}
	return nil
}

func (b *MountBackend) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(b.mediaRoot, p)
}

// ProbeMount 探测挂载位置是否可用,带重试。devShortcut 为 true 时
// (开发环境下挂载根目录即介质根目录)直接视为可用
func ProbeMount(location string, devShortcut bool, retries int, backoff time.Duration) bool {
	if devShortcut {
		return true
	}

	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
		}
		info, err := os.Stat(location)
		if err == nil && info.IsDir() {
			return true
		}
	}
	return false
}
