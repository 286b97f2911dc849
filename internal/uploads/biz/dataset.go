package biz

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rdm-platform/rdm-backend/internal/core"
)

// 推送事件使用的实体类型名
const (
	ContentTypeDataset = "dataset"
	ContentTypeVersion = "version"
	ContentTypeFile    = "versionfile"
)

// Dataset 数据集,版本的容器。发布前是草稿,到期未发布会被清理
type Dataset struct {
	ID   uuid.UUID
	Name string
	// DisplayName 缓存的显示名,每次变更后重算
	DisplayName     string
	FolderID        *uuid.UUID
	PublicationDate *time.Time
	// ExpiryDate 草稿的过期时间,发布后清空
	ExpiryDate *time.Time
	Lock       core.LockState
	Audit      core.AuditInfo
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Published 判断数据集是否已发布
func (d *Dataset) Published() bool {
	return d.PublicationDate != nil
}

// Expired 判断草稿是否已过期
func (d *Dataset) Expired(now time.Time) bool {
	return !d.Published() && d.ExpiryDate != nil && !now.Before(*d.ExpiryDate)
}

// DatasetRepo 数据集仓储接口
type DatasetRepo interface {
	Create(ctx context.Context, d *Dataset) error
	Update(ctx context.Context, d *Dataset) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Dataset, error)
	ListByFolder(ctx context.Context, folderID uuid.UUID) ([]*Dataset, error)
	CountByFolder(ctx context.Context, folderID uuid.UUID) (int64, error)
	// ListExpiredDrafts 列出已过期的未发布草稿
	ListExpiredDrafts(ctx context.Context, now time.Time) ([]*Dataset, error)
	ListLocked(ctx context.Context) ([]*Dataset, error)
}
