package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	approvalbiz "github.com/rdm-platform/rdm-backend/internal/approval/biz"
	approvaldata "github.com/rdm-platform/rdm-backend/internal/approval/data"
	approvalservice "github.com/rdm-platform/rdm-backend/internal/approval/service"
	"github.com/rdm-platform/rdm-backend/internal/auth"
	"github.com/rdm-platform/rdm-backend/internal/conf"
	"github.com/rdm-platform/rdm-backend/internal/data"
	eventsservice "github.com/rdm-platform/rdm-backend/internal/events/service"
	fileparserbiz "github.com/rdm-platform/rdm-backend/internal/fileparser/biz"
	fileparserdata "github.com/rdm-platform/rdm-backend/internal/fileparser/data"
	foldersbiz "github.com/rdm-platform/rdm-backend/internal/folders/biz"
	foldersdata "github.com/rdm-platform/rdm-backend/internal/folders/data"
	foldersservice "github.com/rdm-platform/rdm-backend/internal/folders/service"
	metadatabiz "github.com/rdm-platform/rdm-backend/internal/metadata/biz"
	metadatadata "github.com/rdm-platform/rdm-backend/internal/metadata/data"
	metadataservice "github.com/rdm-platform/rdm-backend/internal/metadata/service"
	"github.com/rdm-platform/rdm-backend/internal/notify"
	"github.com/rdm-platform/rdm-backend/internal/pkg/crypto"
	"github.com/rdm-platform/rdm-backend/internal/pkg/logger"
	"github.com/rdm-platform/rdm-backend/internal/pkg/sse"
	"github.com/rdm-platform/rdm-backend/internal/pkg/workerpool"
	projectsbiz "github.com/rdm-platform/rdm-backend/internal/projects/biz"
	projectsdata "github.com/rdm-platform/rdm-backend/internal/projects/data"
	projectsservice "github.com/rdm-platform/rdm-backend/internal/projects/service"
	"github.com/rdm-platform/rdm-backend/internal/server"
	settingsbiz "github.com/rdm-platform/rdm-backend/internal/settings/biz"
	settingsdata "github.com/rdm-platform/rdm-backend/internal/settings/data"
	settingsservice "github.com/rdm-platform/rdm-backend/internal/settings/service"
	storagesbiz "github.com/rdm-platform/rdm-backend/internal/storages/biz"
	storagesdata "github.com/rdm-platform/rdm-backend/internal/storages/data"
	storagesservice "github.com/rdm-platform/rdm-backend/internal/storages/service"
	"github.com/rdm-platform/rdm-backend/internal/tasks"
	uploadsbiz "github.com/rdm-platform/rdm-backend/internal/uploads/biz"
	uploadsdata "github.com/rdm-platform/rdm-backend/internal/uploads/data"
	uploadsservice "github.com/rdm-platform/rdm-backend/internal/uploads/service"
)

var (
	configFile = flag.String("config", "config.yaml", "config file path")
)

const (
	parserPoolSize = 4
	uploadPoolSize = 8
)

func main() {
	flag.Parse()

	// Load configuration
	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger with config
	logConfig := &logger.Config{
		Level:            config.Log.Level,
		Format:           config.Log.Format,
		Output:           config.Log.Output,
		EnableCaller:     config.Log.EnableCaller,
		EnableStacktrace: config.Log.EnableStacktrace,
		File: logger.FileConfig{
			Filename:   config.Log.File.Filename,
			MaxSize:    config.Log.File.MaxSize,
			MaxAge:     config.Log.File.MaxAge,
			MaxBackups: config.Log.File.MaxBackups,
			Compress:   config.Log.File.Compress,
		},
	}

	log, err := logger.New(logConfig)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	// Initialize global logger
	if err := logger.InitGlobal(logConfig); err != nil {
		log.Fatal("failed to initialize global logger", zap.Error(err))
	}

	log.Info("config loaded successfully")

	// Initialize data layer
	d, cleanup, err := data.NewData(config, log)
	if err != nil {
		log.Fatal("failed to initialize data layer", zap.Error(err))
	}
	defer cleanup()

	box, err := crypto.NewSecretBox(config.Storage.PathSecret)
	if err != nil {
		log.Fatal("failed to initialize path secret box", zap.Error(err))
	}

	jwtManager := auth.NewJWTManager(config.Auth.JWTSecret, config.Auth.JWTIssuer)
	notifier := notify.NewRedisNotifier(d.Redis, config.Redis.EventChannel, log.Logger)

	// Initialize repositories
	settingRepo := settingsdata.NewSettingRepo(d.DB)
	storageRepo := storagesdata.NewStorageRepo(d.DB)
	approvalRepo := approvaldata.NewItemRepo(d.DB)
	projectRepo := projectsdata.NewProjectRepo(d.DB)
	folderRepo := foldersdata.NewFolderRepo(d.DB)
	fieldRepo := metadatadata.NewFieldRepo(d.DB)
	metadataRepo := metadatadata.NewMetadataRepo(d.DB)
	templateRepo := metadatadata.NewTemplateRepo(d.DB)
	datasetRepo := uploadsdata.NewDatasetRepo(d.DB)
	versionRepo := uploadsdata.NewVersionRepo(d.DB)
	fileRepo := uploadsdata.NewVersionFileRepo(d.DB)
	taskRepo := fileparserdata.NewTaskRepo(d.DB)

	// Initialize use cases. 存储与审批相互引用,存储侧延迟注入
	settingUseCase := settingsbiz.NewSettingUseCase(settingRepo, log.Logger)
	storageUseCase := storagesbiz.NewStorageUseCase(storageRepo, settingUseCase, nil, log.Logger)
	approvalUseCase := approvalbiz.NewApprovalUseCase(approvalRepo, storageUseCase, log.Logger)
	storageUseCase.SetApprovalRequester(approvalUseCase)

	backendProvider := storagesbiz.NewBackendProvider(storageUseCase, storagesbiz.BackendDeps{
		MediaRoot:   config.Storage.MediaRoot,
		MountRoot:   config.Storage.MountRoot,
		LocalPrefix: config.Storage.LocalPrefix,
		Box:         box,
		Minio:       d.Minio,
		MinioBucket: config.MinIO.Bucket,
		Logger:      log.Logger,
	})

	metadataUseCase := metadatabiz.NewMetadataUseCase(metadataRepo, fieldRepo, log.Logger)
	templateUseCase := metadatabiz.NewTemplateUseCase(templateRepo, metadataUseCase, notifier, log.Logger)
	projectUseCase := projectsbiz.NewProjectUseCase(projectRepo, notifier, log.Logger)
	folderUseCase := foldersbiz.NewFolderUseCase(
		folderRepo,
		storageUseCase,
		settingUseCase,
		uploadsbiz.NewRelocationScheduler(fileRepo),
		notifier,
		log.Logger,
	)

	pool, err := workerpool.New(parserPoolSize, log.Logger)
	if err != nil {
		log.Fatal("failed to initialize worker pool", zap.Error(err))
	}
	defer pool.Release()

	uploadPool, err := workerpool.New(uploadPoolSize, log.Logger)
	if err != nil {
		log.Fatal("failed to initialize upload pool", zap.Error(err))
	}
	defer uploadPool.Release()

	parserUseCase := fileparserbiz.NewParserUseCase(
		taskRepo,
		fileRepo,
		metadataUseCase,
		notifier,
		pool,
		config.Storage.MediaRoot,
		log.Logger,
	)

	uploadUseCase := uploadsbiz.NewUploadUseCase(uploadsbiz.UploadUseCaseParams{
		Datasets:  datasetRepo,
		Versions:  versionRepo,
		Files:     fileRepo,
		Folders:   folderRepo,
		Projects:  projectRepo,
		Counts:    folderRepo,
		Metadata:  metadataUseCase,
		Templates: templateUseCase,
		Backends:  backendProvider,
		Settings:  settingUseCase,
		Notifier:  notifier,
		Parsers:   parserUseCase,
		MediaRoot: config.Storage.MediaRoot,
		DraftTTL:  time.Duration(config.Tasks.DraftExpiryDays) * 24 * time.Hour,
		Logger:    log.Logger,
	})

	// Initialize background scheduler
	scheduler := tasks.NewScheduler(config, tasks.Deps{
		Uploads:   uploadUseCase,
		Parser:    parserUseCase,
		Projects:  projectUseCase,
		Folders:   folderUseCase,
		Templates: templateUseCase,
		Storages:  storageUseCase,
		Settings:  settingUseCase,
		Box:       box,
		Redis:     d.Redis,
	}, log.Logger)
	if err := scheduler.Register(); err != nil {
		log.Fatal("failed to register background tasks", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Initialize services
	eventService := eventsservice.NewEventService(d.Redis, config.Redis.EventChannel, log.Logger)
	eventService.Start(context.Background())
	defer eventService.Stop()

	services := server.Services{
		Uploads:   uploadsservice.NewUploadService(uploadUseCase, sse.NewHub(), uploadPool, log.Logger),
		Projects:  projectsservice.NewProjectService(projectUseCase, settingUseCase, log.Logger),
		Folders:   foldersservice.NewFolderService(folderUseCase, settingUseCase, log.Logger),
		Storages:  storagesservice.NewStorageService(storageUseCase, box, log.Logger),
		Metadata:  metadataservice.NewMetadataService(metadataUseCase, templateUseCase, settingUseCase, log.Logger),
		Settings:  settingsservice.NewSettingService(settingUseCase, log.Logger),
		Approvals: approvalservice.NewApprovalService(approvalUseCase, log.Logger),
		Events:    eventService,
	}

	httpServer := server.NewHTTPServer(config, log, jwtManager, d.Redis, services)

	// Start server in a goroutine
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	log.Info("server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Stop(ctx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}
