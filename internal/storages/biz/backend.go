package biz

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/pkg/crypto"
	apperrors "github.com/rdm-platform/rdm-backend/internal/pkg/errors"
	"github.com/rdm-platform/rdm-backend/internal/pkg/minio"
)

// FileContext 后端计算路径所需的文件信息
type FileContext struct {
	// Published 文件所属版本是否已发布
	Published bool
	// Referenced 文件是否为挂载存储上的引用文件(未经上传)
	Referenced bool
	// Path 当前存储路径
	Path string
	// Name 文件名
	Name string
	// OriginalPath 引用文件在挂载存储内的原始相对路径
	OriginalPath string
	// OwnerID 上传者,未发布文件的临时目录按上传者隔离
	OwnerID uuid.UUID
	// UploadedAt 上传时间,临时目录按日期分桶
	UploadedAt time.Time
	// ProjectID / FolderID 发布后的目录结构
	ProjectID uuid.UUID
	FolderID  uuid.UUID
}

// TempPath 未发布文件的临时存储路径
func (fc FileContext) TempPath() string {
	t := fc.UploadedAt
	if t.IsZero() {
		t = time.Now()
	}
	return path.Join("temp", fc.OwnerID.String(), t.Format("2006/01/02"), fc.Name)
}

// Backend 存储后端能力接口
type Backend interface {
	// TargetPath 计算文件当前应处的存储路径
	TargetPath(fc FileContext) (string, error)
	// MoveFile 将文件移动到目标路径。目标与当前目录一致时不移动,
	// 返回是否发生了移动以及文件的最终路径
	MoveFile(ctx context.Context, fc FileContext) (bool, string, error)
	// Open 打开文件内容用于读取
	Open(ctx context.Context, filePath string) (io.ReadCloser, error)
	// Remove 删除文件,文件不存在时静默成功
	Remove(ctx context.Context, filePath string) error
}

// BackendDeps 构造后端所需的外部依赖
type BackendDeps struct {
	MediaRoot   string
	MountRoot   string
	LocalPrefix string
	Box         *crypto.SecretBox
	Minio       *minio.Client
	MinioBucket string
	Logger      *zap.Logger
}

// BackendProvider 按存储 ID 解析出可用的后端
type BackendProvider struct {
	uc   *StorageUseCase
	deps BackendDeps
}

// NewBackendProvider 创建后端解析器
func NewBackendProvider(uc *StorageUseCase, deps BackendDeps) *BackendProvider {
	return &BackendProvider{uc: uc, deps: deps}
}

// ForStorage 解析存储对应的后端
func (p *BackendProvider) ForStorage(ctx context.Context, id uuid.UUID) (Backend, error) {
	s, err := p.uc.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return NewBackend(s, p.deps)
}

// NewBackend 按存储类型构造后端,未知类型报错
func NewBackend(s *Storage, deps BackendDeps) (Backend, error) {
	switch s.Kind {
	case KindDefaultLocal:
		return NewLocalBackend(deps.MediaRoot, deps.LocalPrefix, deps.Logger), nil
	case KindPrivateMounted:
		sub, err := s.PrivatePath(deps.Box)
		if err != nil {
			return nil, err
		}
		return NewMountBackend(deps.MountRoot, sub, deps.MediaRoot, deps.Logger), nil
	case KindMinio:
		if deps.Minio == nil {
			return nil, apperrors.New(apperrors.ErrStorageBackendFailed, "minio client not configured")
		}
		return NewMinioBackend(deps.Minio, deps.MinioBucket, deps.LocalPrefix, deps.MediaRoot, deps.Logger), nil
	default:
		return nil, apperrors.New(apperrors.ErrStorageKindUnknown, fmt.Sprintf("%q", s.Kind))
	}
}
