package tasks

import (
	"context"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/conf"
	fileparserbiz "github.com/rdm-platform/rdm-backend/internal/fileparser/biz"
	foldersbiz "github.com/rdm-platform/rdm-backend/internal/folders/biz"
	metadatabiz "github.com/rdm-platform/rdm-backend/internal/metadata/biz"
	"github.com/rdm-platform/rdm-backend/internal/pkg/crypto"
	"github.com/rdm-platform/rdm-backend/internal/pkg/redis"
	projectsbiz "github.com/rdm-platform/rdm-backend/internal/projects/biz"
	settingsbiz "github.com/rdm-platform/rdm-backend/internal/settings/biz"
	storagesbiz "github.com/rdm-platform/rdm-backend/internal/storages/biz"
	uploadsbiz "github.com/rdm-platform/rdm-backend/internal/uploads/biz"
)

// Deps 后台任务依赖的各域用例
type Deps struct {
	Uploads   *uploadsbiz.UploadUseCase
	Parser    *fileparserbiz.ParserUseCase
	Projects  *projectsbiz.ProjectUseCase
	Folders   *foldersbiz.FolderUseCase
	Templates *metadatabiz.TemplateUseCase
	Storages  *storagesbiz.StorageUseCase
	Settings  *settingsbiz.SettingUseCase
	Box       *crypto.SecretBox
	Redis     *redis.Client
}

// jobClaimTTL 跨实例任务锁的有效期,超过则视为持有实例已宕机
const jobClaimTTL = 10 * time.Minute

// Scheduler 以 cron 驱动全部后台任务
type Scheduler struct {
	cron   *cron.Cron
	cfg    *conf.Config
	deps   Deps
	logger *zap.Logger
}

// NewScheduler 创建调度器,任务在 Start 后才开始触发
func NewScheduler(cfg *conf.Config, deps Deps, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
}

// Register 注册全部任务
func (s *Scheduler) Register() error {
	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context)
	}{
		{"move_files", s.cfg.Tasks.MoveFilesSpec, s.moveFiles},
		{"check_completeness", s.cfg.Tasks.CompletenessSpec, s.checkCompleteness},
		{"release_expired_locks", s.cfg.Tasks.LockSweepSpec, s.releaseExpiredLocks},
		{"remove_expired_drafts", s.cfg.Tasks.DraftSweepSpec, s.removeExpiredDrafts},
		{"probe_private_mounts", s.cfg.Tasks.MountProbeSpec, s.probePrivateMounts},
		{"run_parser_batch", s.cfg.Tasks.ParserSpec, s.runParserBatch},
	}

	for _, j := range jobs {
		job := j
		_, err := s.cron.AddFunc(job.spec, func() {
			ctx := context.Background()
			start := time.Now()
			s.claimAndRun(ctx, job.name, job.run)
			s.logger.Debug("background job finished",
				zap.String("job", job.name),
				zap.Duration("took", time.Since(start)))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// claimAndRun 通过 redis 锁保证同名任务在多实例部署时只有一个实例执行
func (s *Scheduler) claimAndRun(ctx context.Context, name string, run func(ctx context.Context)) {
	if s.deps.Redis == nil {
		run(ctx)
		return
	}
	err := s.deps.Redis.WithLock(ctx, "tasks:claim:"+name, jobClaimTTL, func() error {
		run(ctx)
		return nil
	})
	if err != nil {
		s.logger.Debug("job claimed by another instance",
			zap.String("job", name), zap.Error(err))
	}
}

// Start 启动调度
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop 停止调度并等待运行中的任务结束
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) moveFiles(ctx context.Context) {
	moved, err := s.deps.Uploads.MoveScheduledFiles(ctx)
	if err != nil {
		s.logger.Error("file relocation sweep failed", zap.Error(err))
		return
	}
	if moved > 0 {
		s.logger.Info("relocated files", zap.Int("count", moved))
	}
}

func (s *Scheduler) checkCompleteness(ctx context.Context) {
	checked, err := s.deps.Uploads.CheckScheduledCompleteness(ctx)
	if err != nil {
		s.logger.Error("completeness sweep failed", zap.Error(err))
		return
	}
	if checked > 0 {
		s.logger.Info("checked version completeness", zap.Int("count", checked))
	}
}

func (s *Scheduler) releaseExpiredLocks(ctx context.Context) {
	maxLock := s.deps.Settings.MaxLockTime(ctx)
	total := 0

	if n, err := s.deps.Projects.ReleaseExpiredLocks(ctx, maxLock); err != nil {
		s.logger.Error("project lock sweep failed", zap.Error(err))
	} else {
		total += n
	}
	if n, err := s.deps.Folders.ReleaseExpiredLocks(ctx, maxLock); err != nil {
		s.logger.Error("folder lock sweep failed", zap.Error(err))
	} else {
		total += n
	}
	if n, err := s.deps.Templates.ReleaseExpiredLocks(ctx, maxLock); err != nil {
		s.logger.Error("template lock sweep failed", zap.Error(err))
	} else {
		total += n
	}
	if n, err := s.deps.Uploads.ReleaseExpiredLocks(ctx, maxLock); err != nil {
		s.logger.Error("dataset lock sweep failed", zap.Error(err))
	} else {
		total += n
	}

	if total > 0 {
		s.logger.Info("released expired locks", zap.Int("count", total))
	}
}

func (s *Scheduler) removeExpiredDrafts(ctx context.Context) {
	removed, err := s.deps.Uploads.RemoveExpiredDrafts(ctx)
	if err != nil {
		s.logger.Error("draft sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("removed expired drafts", zap.Int("count", removed))
	}
}

// probePrivateMounts 探测私有挂载存储的可达性并回写挂载状态
func (s *Scheduler) probePrivateMounts(ctx context.Context) {
	storages, err := s.deps.Storages.List(ctx)
	if err != nil {
		s.logger.Error("mount probe failed to list storages", zap.Error(err))
		return
	}

	devShortcut := s.cfg.Storage.DevMode && s.cfg.Storage.MountRoot == s.cfg.Storage.MediaRoot
	backoff := time.Duration(s.cfg.Tasks.MountProbeBackoffMS) * time.Millisecond

	for _, st := range storages {
		if st.Kind != storagesbiz.KindPrivateMounted || !st.Approved {
			continue
		}
		sub, err := st.PrivatePath(s.deps.Box)
		if err != nil {
			s.logger.Error("mount probe cannot decrypt storage path",
				zap.String("storage_id", st.ID.String()), zap.Error(err))
			continue
		}
		location := filepath.Join(s.cfg.Storage.MountRoot, sub)
		mounted := storagesbiz.ProbeMount(location, devShortcut, s.cfg.Tasks.MountProbeRetries, backoff)
		if mounted == st.Mounted {
			continue
		}
		if err := s.deps.Storages.SetMounted(ctx, st.ID, mounted); err != nil {
			s.logger.Error("failed to update mount state",
				zap.String("storage_id", st.ID.String()), zap.Error(err))
			continue
		}
		s.logger.Info("storage mount state changed",
			zap.String("storage_id", st.ID.String()),
			zap.Bool("mounted", mounted))
	}
}

func (s *Scheduler) runParserBatch(ctx context.Context) {
	started, err := s.deps.Parser.RunBatch(ctx, s.cfg.Tasks.ParserBatchSize)
	if err != nil {
		s.logger.Error("parser batch failed", zap.Error(err))
		return
	}
	if started > 0 {
		s.logger.Info("parsed files", zap.Int("count", started))
	}
}
