package biz

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/core"
	metadatabiz "github.com/rdm-platform/rdm-backend/internal/metadata/biz"
	"github.com/rdm-platform/rdm-backend/internal/notify"
	"github.com/rdm-platform/rdm-backend/internal/pkg/workerpool"
	uploadsbiz "github.com/rdm-platform/rdm-backend/internal/uploads/biz"
)

// TaskStatus 解析任务状态
type TaskStatus string

const (
	TaskScheduled  TaskStatus = "scheduled"
	TaskInProgress TaskStatus = "in_progress"
	TaskFinished   TaskStatus = "finished"
	TaskError      TaskStatus = "error"
)

// Task 文件解析任务
type Task struct {
	ID        uuid.UUID
	FileID    uuid.UUID
	Status    TaskStatus
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskRepo 解析任务仓储接口
type TaskRepo interface {
	Create(ctx context.Context, t *Task) error
	Update(ctx context.Context, t *Task) error
	// ListPending 按创建顺序列出待处理任务
	ListPending(ctx context.Context, limit int) ([]*Task, error)
	GetByFile(ctx context.Context, fileID uuid.UUID) (*Task, error)
}

// FileStore 解析器需要的文件读写能力
type FileStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*uploadsbiz.VersionFile, error)
	Update(ctx context.Context, f *uploadsbiz.VersionFile) error
}

// ParserUseCase 文件解析流水线:计算校验和、MIME、EXIF 与基础属性,
// 结果作为只读元数据挂在文件上
type ParserUseCase struct {
	tasks     TaskRepo
	files     FileStore
	metadata  *metadatabiz.MetadataUseCase
	notifier  notify.Notifier
	pool      *workerpool.Pool
	mediaRoot string
	logger    *zap.Logger
}

// NewParserUseCase 创建解析用例,pool 为空时任务串行执行
func NewParserUseCase(tasks TaskRepo, files FileStore, metadata *metadatabiz.MetadataUseCase,
	notifier notify.Notifier, pool *workerpool.Pool, mediaRoot string, logger *zap.Logger) *ParserUseCase {
	return &ParserUseCase{
		tasks: tasks, files: files, metadata: metadata,
		notifier: notifier, pool: pool, mediaRoot: mediaRoot, logger: logger,
	}
}

// ScheduleForFile 为文件排入解析任务,已有未完成任务时复用
func (uc *ParserUseCase) ScheduleForFile(ctx context.Context, fileID uuid.UUID) error {
	existing, err := uc.tasks.GetByFile(ctx, fileID)
	if err != nil {
		return err
	}
	if existing != nil && (existing.Status == TaskScheduled || existing.Status == TaskInProgress) {
		return nil
	}
	now := time.Now()
	return uc.tasks.Create(ctx, &Task{
		ID:        uuid.New(),
		FileID:    fileID,
		Status:    TaskScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// RunBatch 处理一批待解析任务,返回本轮启动的任务数
func (uc *ParserUseCase) RunBatch(ctx context.Context, limit int) (int, error) {
	pending, err := uc.tasks.ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}

	started := 0
	for _, task := range pending {
		task.Status = TaskInProgress
		task.Attempts++
		task.UpdatedAt = time.Now()
		if err := uc.tasks.Update(ctx, task); err != nil {
			uc.logger.Error("failed to claim parser task",
				zap.String("task_id", task.ID.String()), zap.Error(err))
			continue
		}

		t := task
		run := func(ctx context.Context) error {
			uc.process(ctx, t)
			return nil
		}
		if uc.pool != nil {
			if err := uc.pool.Submit(ctx, run); err != nil {
				uc.logger.Error("failed to submit parser task",
					zap.String("task_id", t.ID.String()), zap.Error(err))
				continue
			}
		} else {
			run(ctx)
		}
		started++
	}
	if uc.pool != nil {
		uc.pool.Wait()
	}
	return started, nil
}

// process 执行单个解析任务并回写结果
func (uc *ParserUseCase) process(ctx context.Context, task *Task) {
	f, err := uc.files.GetByID(ctx, task.FileID)
	if err == nil && f == nil {
		uc.finishTask(ctx, task, TaskError, "file no longer exists")
		return
	}
	if err != nil {
		uc.finishTask(ctx, task, TaskError, err.Error())
		return
	}
	if f.Referenced || f.Path == "" {
		// 引用文件没有本地字节可解析
		uc.setFileStatus(ctx, f, uploadsbiz.StatusFinished)
		uc.finishTask(ctx, task, TaskFinished, "")
		return
	}

	uc.setFileStatus(ctx, f, uploadsbiz.StatusInProgress)

	abs := filepath.Join(uc.mediaRoot, filepath.FromSlash(f.Path))
	if err := uc.parseInto(ctx, f.ID, abs); err != nil {
		uc.logger.Error("file parsing failed",
			zap.String("file_id", f.ID.String()),
			zap.String("path", f.Path),
			zap.Error(err))
		uc.setFileStatus(ctx, f, uploadsbiz.StatusError)
		uc.finishTask(ctx, task, TaskError, err.Error())
		return
	}

	uc.setFileStatus(ctx, f, uploadsbiz.StatusFinished)
	uc.finishTask(ctx, task, TaskFinished, "")
}

// parseInto 运行全部解析器并写入只读元数据
func (uc *ParserUseCase) parseInto(ctx context.Context, fileID uuid.UUID, abs string) error {
	target := metadatabiz.TargetRef{Kind: metadatabiz.TargetFile, ID: fileID}

	sum, err := ChecksumSHA256(abs)
	if err != nil {
		return err
	}
	if err := uc.setEntry(ctx, target, metadatabiz.KeyChecksumSHA256, sum); err != nil {
		return err
	}

	mime, err := DetectMime(abs)
	if err != nil {
		return err
	}
	if err := uc.setEntry(ctx, target, metadatabiz.KeyMimeType, mime); err != nil {
		return err
	}

	info, err := FileInfo(abs)
	if err != nil {
		return err
	}
	if err := uc.setEntry(ctx, target, metadatabiz.KeyFileInformation, info); err != nil {
		return err
	}

	if strings.HasPrefix(mime, "image/") {
		fields, err := ExtractExif(abs)
		if err == nil && len(fields) > 0 {
			if err := uc.setEntry(ctx, target, metadatabiz.KeyExifData, fields); err != nil {
				return err
			}
		}
	}
	return nil
}

func (uc *ParserUseCase) setEntry(ctx context.Context, target metadatabiz.TargetRef, key string, value any) error {
	_, err := uc.metadata.Set(ctx, core.Actor{}, metadatabiz.SetParams{
		Target:    target,
		CustomKey: key,
		Value:     value,
		ReadOnly:  true,
	})
	return err
}

func (uc *ParserUseCase) setFileStatus(ctx context.Context, f *uploadsbiz.VersionFile, status uploadsbiz.Status) {
	f.Status = status
	f.UpdatedAt = time.Now()
	if err := uc.files.Update(ctx, f); err != nil {
		uc.logger.Error("failed to update file status",
			zap.String("file_id", f.ID.String()), zap.Error(err))
		return
	}
	uc.notifier.ParserStatusChanged(ctx, uploadsbiz.ContentTypeFile, f.ID.String(), string(status))
}

func (uc *ParserUseCase) finishTask(ctx context.Context, task *Task, status TaskStatus, lastError string) {
	task.Status = status
	task.LastError = lastError
	task.UpdatedAt = time.Now()
	if err := uc.tasks.Update(ctx, task); err != nil {
		uc.logger.Error("failed to finish parser task",
			zap.String("task_id", task.ID.String()), zap.Error(err))
	}
}
