package biz

import (
	"context"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/rdm-platform/rdm-backend/internal/pkg/errors"
	"github.com/rdm-platform/rdm-backend/internal/pkg/minio"
)

// MinioBackend S3 兼容对象存储后端。对象键沿用本地后端的目录布局,
// 移动通过服务端复制加删除完成
type MinioBackend struct {
	client    *minio.Client
	bucket    string
	prefix    string
	mediaRoot string
	local     *LocalBackend
	logger    *zap.Logger
}

// NewMinioBackend 创建对象存储后端。未发布文件仍暂存在本地介质,
// 发布时才上载到对象存储
func NewMinioBackend(client *minio.Client, bucket, prefix, mediaRoot string, logger *zap.Logger) *MinioBackend {
	return &MinioBackend{
		client:    client,
		bucket:    bucket,
		prefix:    prefix,
		mediaRoot: mediaRoot,
		local:     NewLocalBackend(mediaRoot, prefix, logger),
		logger:    logger,
	}
}

// TargetPath 计算对象键
func (b *MinioBackend) TargetPath(fc FileContext) (string, error) {
	if !fc.Published {
		return fc.TempPath(), nil
	}
	return path.Join(b.prefix, fc.ProjectID.String(), fc.FolderID.String(), fc.Name), nil
}

// MoveFile 将文件移动到目标对象键。源文件在本地临时目录时上载后删除本地副本,
// 已在对象存储时通过服务端复制移动
func (b *MinioBackend) MoveFile(ctx context.Context, fc FileContext) (bool, string, error) {
	target, err := b.TargetPath(fc)
	if err != nil {
		return false, fc.Path, err
	}

	current := fc.Path
	if current == "" {
		current = fc.TempPath()
	}
	if path.Dir(current) == path.Dir(target) {
		return false, current, nil
	}

	// 临时文件还在本地介质上,先上载
	if isTempPath(current) {
		localAbs := b.local.abs(current)
		if _, err := b.client.FPutObject(ctx, b.bucket, target, localAbs, minio.PutObjectOptions{}); err != nil {
			return false, current, apperrors.Wrap(err, apperrors.ErrStorageBackendFailed)
		}
		if err := b.local.Remove(ctx, current); err != nil {
			b.logger.Warn("failed to remove local temp file after upload",
				zap.String("path", current), zap.Error(err))
		}
		return true, target, nil
	}

	_, err = b.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: b.bucket, Object: target},
		minio.CopySrcOptions{Bucket: b.bucket, Object: current})
	if err != nil {
		return false, current, apperrors.Wrap(err, apperrors.ErrStorageBackendFailed)
	}
	if err := b.client.RemoveObject(ctx, b.bucket, current, minio.RemoveObjectOptions{}); err != nil {
		b.logger.Warn("failed to remove source object after copy",
			zap.String("object", current), zap.Error(err))
	}

	return true, target, nil
}

// Open 打开对象内容用于读取,本地临时文件直接从磁盘读取
func (b *MinioBackend) Open(ctx context.Context, filePath string) (io.ReadCloser, error) {
	if isTempPath(filePath) {
		return b.local.Open(ctx, filePath)
	}
	obj, err := b.client.GetObject(ctx, b.bucket, filePath, minio.GetObjectOptions{})
	if err != nil {
		if minio.IsNotFound(err) {
			return nil, apperrors.Wrap(err, apperrors.ErrVersionFileNotFound)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrStorageBackendFailed)
	}
	return obj, nil
}

// Remove 删除对象或本地临时文件
func (b *MinioBackend) Remove(ctx context.Context, filePath string) error {
	if isTempPath(filePath) {
		return b.local.Remove(ctx, filePath)
	}
	if err := b.client.RemoveObject(ctx, b.bucket, filePath, minio.RemoveObjectOptions{}); err != nil {
		return apperrors.Wrap(err, apperrors.ErrStorageBackendFailed)
	}
	return nil
}

func isTempPath(p string) bool {
	return p == "" || strings.HasPrefix(p, "temp/")
}
