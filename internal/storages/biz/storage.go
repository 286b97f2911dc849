package biz

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/core"
	"github.com/rdm-platform/rdm-backend/internal/pkg/crypto"
	apperrors "github.com/rdm-platform/rdm-backend/internal/pkg/errors"
	settingsbiz "github.com/rdm-platform/rdm-backend/internal/settings/biz"
)

// Kind 存储类型,封闭枚举
type Kind string

const (
	// KindDefaultLocal 服务器本地介质存储
	KindDefaultLocal Kind = "default_local"
	// KindPrivateMounted 科研组私有挂载存储
	KindPrivateMounted Kind = "private_mounted"
	// KindMinio S3 兼容对象存储
	KindMinio Kind = "s3_minio"
)

// ValidKind 校验存储类型
func ValidKind(k Kind) bool {
	switch k {
	case KindDefaultLocal, KindPrivateMounted, KindMinio:
		return true
	}
	return false
}

// Storage 存储配置
type Storage struct {
	ID   uuid.UUID
	Name string
	Kind Kind
	// PrivatePathSealed 私有挂载子路径的密文,仅私有存储使用
	PrivatePathSealed string
	Default           bool
	Approved          bool
	Mounted           bool
	Audit             core.AuditInfo
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PrivatePath 解密私有挂载子路径
func (s *Storage) PrivatePath(box *crypto.SecretBox) (string, error) {
	if s.PrivatePathSealed == "" {
		return "", nil
	}
	path, err := box.Open(s.PrivatePathSealed)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrStoragePathDecrypt)
	}
	return path, nil
}

// Usable 判断存储是否可分配给文件夹
func (s *Storage) Usable(privateEnabled bool) error {
	if s.Kind == KindPrivateMounted {
		if !privateEnabled {
			return apperrors.New(apperrors.ErrStorageKindDisabled)
		}
		if !s.Approved {
			return apperrors.New(apperrors.ErrStorageNotApproved)
		}
		if !s.Mounted {
			return apperrors.New(apperrors.ErrStorageNotMounted)
		}
	}
	return nil
}

// StorageRepo 存储仓储接口
type StorageRepo interface {
	Create(ctx context.Context, s *Storage) error
	Update(ctx context.Context, s *Storage) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Storage, error)
	GetDefault(ctx context.Context) (*Storage, error)
	List(ctx context.Context) ([]*Storage, error)
	ListByKind(ctx context.Context, kind Kind) ([]*Storage, error)
	// DemoteDefaults 取消除 keep 之外所有存储的默认标记
	DemoteDefaults(ctx context.Context, keep uuid.UUID) error
	CountOthers(ctx context.Context, exclude uuid.UUID) (int64, error)
	// ReferencedByFolders 统计仍引用该存储的文件夹数量
	ReferencedByFolders(ctx context.Context, id uuid.UUID) (int64, error)
}

// ApprovalRequester 存储审批入队接口
type ApprovalRequester interface {
	RequestStorageApproval(ctx context.Context, actor core.Actor, storageID uuid.UUID) error
}

// StorageUseCase 存储用例
type StorageUseCase struct {
	repo     StorageRepo
	settings *settingsbiz.SettingUseCase
	approval ApprovalRequester
	logger   *zap.Logger
}

// NewStorageUseCase 创建存储用例
func NewStorageUseCase(repo StorageRepo, settings *settingsbiz.SettingUseCase, approval ApprovalRequester, logger *zap.Logger) *StorageUseCase {
	return &StorageUseCase{repo: repo, settings: settings, approval: approval, logger: logger}
}

// SetApprovalRequester 注入审批入口。审批用例与存储用例相互引用,
// 装配时存储侧延迟注入
func (uc *StorageUseCase) SetApprovalRequester(a ApprovalRequester) {
	uc.approval = a
}

// Get 获取存储
func (uc *StorageUseCase) Get(ctx context.Context, id uuid.UUID) (*Storage, error) {
	s, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperrors.New(apperrors.ErrStorageNotFound)
	}
	return s, nil
}

// List 列出全部存储
func (uc *StorageUseCase) List(ctx context.Context) ([]*Storage, error) {
	return uc.repo.List(ctx)
}

// Default 获取默认存储
func (uc *StorageUseCase) Default(ctx context.Context) (*Storage, error) {
	s, err := uc.repo.GetDefault(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperrors.New(apperrors.ErrStorageDefaultRequired)
	}
	return s, nil
}

// Create 创建存储。首个存储自动成为默认,设为默认会取消其他存储的默认标记。
// 私有挂载存储创建后进入审批队列
func (uc *StorageUseCase) Create(ctx context.Context, actor core.Actor, s *Storage) error {
	if !ValidKind(s.Kind) {
		return apperrors.New(apperrors.ErrStorageKindUnknown, string(s.Kind))
	}
	if s.Kind == KindPrivateMounted && !uc.settings.PrivateStorageEnabled(ctx) {
		return apperrors.New(apperrors.ErrStorageKindDisabled)
	}

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now()
	s.UpdatedAt = time.Now()
	s.Audit.Touch(actor)

	// 非私有存储无需审批
	if s.Kind != KindPrivateMounted {
		s.Approved = true
		s.Mounted = true
	}

	others, err := uc.repo.CountOthers(ctx, s.ID)
	if err != nil {
		return err
	}
	if others == 0 {
		s.Default = true
	}

	if err := uc.repo.Create(ctx, s); err != nil {
		return err
	}

	if s.Default {
		if err := uc.repo.DemoteDefaults(ctx, s.ID); err != nil {
			return err
		}
	}

	if s.Kind == KindPrivateMounted && !s.Approved && uc.approval != nil {
		if err := uc.approval.RequestStorageApproval(ctx, actor, s.ID); err != nil {
			uc.logger.Warn("failed to enqueue storage approval",
				zap.String("storage_id", s.ID.String()),
				zap.Error(err))
		}
	}

	return nil
}

// Update 更新存储,维持全局默认标记的唯一性
func (uc *StorageUseCase) Update(ctx context.Context, actor core.Actor, s *Storage) error {
	if !ValidKind(s.Kind) {
		return apperrors.New(apperrors.ErrStorageKindUnknown, string(s.Kind))
	}

	current, err := uc.Get(ctx, s.ID)
	if err != nil {
		return err
	}

	// 取消唯一默认存储的默认标记是不允许的
	if current.Default && !s.Default {
		others, err := uc.repo.CountOthers(ctx, s.ID)
		if err != nil {
			return err
		}
		if others == 0 {
			return apperrors.New(apperrors.ErrStorageDefaultRequired)
		}
	}

	s.UpdatedAt = time.Now()
	s.Audit = current.Audit
	s.Audit.Touch(actor)

	if err := uc.repo.Update(ctx, s); err != nil {
		return err
	}

	if s.Default && !current.Default {
		if err := uc.repo.DemoteDefaults(ctx, s.ID); err != nil {
			return err
		}
	}

	return nil
}

// Delete 删除存储,仍被文件夹引用或默认存储拒绝删除
func (uc *StorageUseCase) Delete(ctx context.Context, actor core.Actor, id uuid.UUID) error {
	s, err := uc.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.Default {
		return apperrors.New(apperrors.ErrStorageDefaultRequired)
	}

	refs, err := uc.repo.ReferencedByFolders(ctx, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return apperrors.New(apperrors.ErrStorageInUse)
	}

	return uc.repo.Delete(ctx, id)
}

// Approve 审批通过私有挂载存储
func (uc *StorageUseCase) Approve(ctx context.Context, actor core.Actor, id uuid.UUID) error {
	s, err := uc.Get(ctx, id)
	if err != nil {
		return err
	}
	s.Approved = true
	s.UpdatedAt = time.Now()
	s.Audit.Touch(actor)
	return uc.repo.Update(ctx, s)
}

// SetMounted 更新挂载探测结果
func (uc *StorageUseCase) SetMounted(ctx context.Context, id uuid.UUID, mounted bool) error {
	s, err := uc.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.Mounted == mounted {
		return nil
	}
	s.Mounted = mounted
	s.UpdatedAt = time.Now()
	return uc.repo.Update(ctx, s)
}
