package biz

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rdm-platform/rdm-backend/internal/core"
)

// Status 版本与文件处理状态
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
	StatusError      Status = "error"
)

// Version 数据集的一个版本。版本与文件是多对一关系,
// 恢复历史版本时新版本复用同一个文件
type Version struct {
	ID              uuid.UUID
	Name            string
	DatasetID       uuid.UUID
	VersionFileID   *uuid.UUID
	PublicationDate *time.Time
	// Status 元数据完整性检查的处理状态
	Status Status
	// MetadataIsComplete 模板必填字段是否全部有值
	MetadataIsComplete bool
	Audit              core.AuditInfo
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Published 判断版本是否已发布
func (v *Version) Published() bool {
	return v.PublicationDate != nil
}

// VersionFile 版本关联的文件
type VersionFile struct {
	ID   uuid.UUID
	Name string
	// Path 当前存储路径,未发布时指向临时目录
	Path string
	// Referenced 文件是否为挂载存储上的引用(未经上传)
	Referenced bool
	// OriginalPath 引用文件在挂载存储内的原始路径
	OriginalPath string
	// UploadedUsingTus 是否经由断点续传上传
	UploadedUsingTus bool
	// Status 文件解析流水线的处理状态
	Status Status
	// StorageRelocating 存储搬迁状态,发布或换存储后排队
	StorageRelocating Status
	PublicationDate   *time.Time
	Audit             core.AuditInfo
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Published 判断文件是否已发布
func (f *VersionFile) Published() bool {
	return f.PublicationDate != nil
}

// VersionRepo 版本仓储接口
type VersionRepo interface {
	Create(ctx context.Context, v *Version) error
	Update(ctx context.Context, v *Version) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Version, error)
	// ListByDataset 按创建时间升序列出数据集的版本
	ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]*Version, error)
	// Latest 返回数据集最新创建的版本
	Latest(ctx context.Context, datasetID uuid.UUID) (*Version, error)
	CountByDataset(ctx context.Context, datasetID uuid.UUID) (int64, error)
	ListByStatus(ctx context.Context, status Status) ([]*Version, error)
	// CountUsingFile 统计引用指定文件的版本数量
	CountUsingFile(ctx context.Context, fileID uuid.UUID) (int64, error)
	// FirstUsingFile 返回引用指定文件的任意一个版本
	FirstUsingFile(ctx context.Context, fileID uuid.UUID) (*Version, error)
}

// VersionFileRepo 文件仓储接口
type VersionFileRepo interface {
	Create(ctx context.Context, f *VersionFile) error
	Update(ctx context.Context, f *VersionFile) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*VersionFile, error)
	// ListForRelocation 列出解析完成且待搬迁的文件
	ListForRelocation(ctx context.Context) ([]*VersionFile, error)
	// ScheduleRelocationForFolder 将文件夹下已发布的文件重新排入搬迁队列
	ScheduleRelocationForFolder(ctx context.Context, folderID uuid.UUID) (int64, error)
}
