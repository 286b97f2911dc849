package biz

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/rdm-platform/rdm-backend/internal/pkg/errors"
)

// LocalBackend 服务器本地介质存储后端。路径均相对于介质根目录存储
type LocalBackend struct {
	root   string
	prefix string
	logger *zap.Logger
}

// NewLocalBackend 创建本地存储后端
func NewLocalBackend(root, prefix string, logger *zap.Logger) *LocalBackend {
	return &LocalBackend{root: root, prefix: prefix, logger: logger}
}

// TargetPath 计算文件应处的相对路径
func (b *LocalBackend) TargetPath(fc FileContext) (string, error) {
	if !fc.Published {
		return fc.TempPath(), nil
	}
	return filepath.ToSlash(filepath.Join(b.prefix, fc.ProjectID.String(), fc.FolderID.String(), fc.Name)), nil
}

// MoveFile 将文件搬到目标目录。目录未变化或源文件缺失时不移动
func (b *LocalBackend) MoveFile(ctx context.Context, fc FileContext) (bool, string, error) {
	target, err := b.TargetPath(fc)
	if err != nil {
		return false, fc.Path, err
	}

	current := fc.Path
	if current == "" {
		current = fc.TempPath()
	}

	if filepath.Dir(current) == filepath.Dir(target) {
		return false, current, nil
	}

	absCurrent := b.abs(current)
	if _, err := os.Stat(absCurrent); os.IsNotExist(err) {
		b.logger.Error("source file does not exist, skipping move",
			zap.String("path", absCurrent))
		return false, current, nil
	}

	absTarget := b.abs(target)
	if err := os.MkdirAll(filepath.Dir(absTarget), 0o755); err != nil {
		return false, current, apperrors.Wrap(err, apperrors.ErrStorageBackendFailed)
	}

	absTarget = availableName(absTarget)
	if err := moveAcrossDevices(absCurrent, absTarget); err != nil {
		return false, current, apperrors.Wrap(err, apperrors.ErrStorageBackendFailed)
	}

	rel, err := filepath.Rel(b.root, absTarget)
	if err != nil {
		rel = absTarget
	}
	return true, filepath.ToSlash(rel), nil
}

// Open 打开文件用于读取
func (b *LocalBackend) Open(ctx context.Context, filePath string) (io.ReadCloser, error) {
	f, err := os.Open(b.abs(filePath))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStorageBackendFailed)
	}
	return f, nil
}

// Remove 删除文件,不存在时静默成功
func (b *LocalBackend) Remove(ctx context.Context, filePath string) error {
	err := os.Remove(b.abs(filePath))
	if err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(err, apperrors.ErrStorageBackendFailed)
	}
	return nil
}

func (b *LocalBackend) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(b.root, p)
}

// availableName 目标已存在时追加序号后缀,避免覆盖
func availableName(p string) string {
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return p
	}
	ext := filepath.Ext(p)
	base := strings.TrimSuffix(p, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// moveAcrossDevices 优先重命名,跨文件系统时退回到复制加删除
func moveAcrossDevices(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	return os.Remove(src)
}
