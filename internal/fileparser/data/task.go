package data

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rdm-platform/rdm-backend/internal/fileparser/biz"
	"github.com/rdm-platform/rdm-backend/internal/pkg/database"
)

// TaskPO 解析任务数据库模型
type TaskPO struct {
	ID        uuid.UUID `gorm:"type:uuid;primarykey"`
	FileID    uuid.UUID `gorm:"column:file_id;type:uuid;not null;index:idx_parser_file"`
	Status    string    `gorm:"column:status;size:32;not null;default:'scheduled';index:idx_parser_status"`
	Attempts  int       `gorm:"column:attempts;not null;default:0"`
	LastError string    `gorm:"column:last_error;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

func (TaskPO) TableName() string {
	return "parser_tasks"
}

// TaskRepo 解析任务仓储实现
type TaskRepo struct {
	db *database.DB
}

// NewTaskRepo 创建解析任务仓储
func NewTaskRepo(db *database.DB) *TaskRepo {
	return &TaskRepo{db: db}
}

// Create 创建任务
func (r *TaskRepo) Create(ctx context.Context, t *biz.Task) error {
	if err := r.db.WithContext(ctx).GetDB().Create(taskToPO(t)).Error; err != nil {
		return fmt.Errorf("failed to create parser task: %w", err)
	}
	return nil
}

// Update 更新任务
func (r *TaskRepo) Update(ctx context.Context, t *biz.Task) error {
	po := taskToPO(t)
	po.UpdatedAt = time.Now()
	err := r.db.WithContext(ctx).GetDB().Model(&TaskPO{}).Where("id = ?", po.ID).
		Updates(map[string]interface{}{
			"status":     po.Status,
			"attempts":   po.Attempts,
			"last_error": po.LastError,
			"updated_at": po.UpdatedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update parser task: %w", err)
	}
	return nil
}

// ListPending 按创建顺序列出待处理任务
func (r *TaskRepo) ListPending(ctx context.Context, limit int) ([]*biz.Task, error) {
	var pos []TaskPO
	err := r.db.WithContext(ctx).GetDB().
		Where("status = ?", string(biz.TaskScheduled)).
		Order("created_at ASC").
		Limit(limit).
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending parser tasks: %w", err)
	}
	out := make([]*biz.Task, len(pos))
	for i, po := range pos {
		out[i] = taskToDomain(&po)
	}
	return out, nil
}

// GetByFile 获取文件最近的解析任务
func (r *TaskRepo) GetByFile(ctx context.Context, fileID uuid.UUID) (*biz.Task, error) {
	var po TaskPO
	err := r.db.WithContext(ctx).GetDB().
		Where("file_id = ?", fileID).
		Order("created_at DESC").
		First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get parser task: %w", err)
	}
	return taskToDomain(&po), nil
}

func taskToPO(t *biz.Task) *TaskPO {
	return &TaskPO{
		ID:        t.ID,
		FileID:    t.FileID,
		Status:    string(t.Status),
		Attempts:  t.Attempts,
		LastError: t.LastError,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func taskToDomain(po *TaskPO) *biz.Task {
	return &biz.Task{
		ID:        po.ID,
		FileID:    po.FileID,
		Status:    biz.TaskStatus(po.Status),
		Attempts:  po.Attempts,
		LastError: po.LastError,
		CreatedAt: po.CreatedAt,
		UpdatedAt: po.UpdatedAt,
	}
}
