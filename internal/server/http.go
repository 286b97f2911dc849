package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	approvalservice "github.com/rdm-platform/rdm-backend/internal/approval/service"
	"github.com/rdm-platform/rdm-backend/internal/auth"
	"github.com/rdm-platform/rdm-backend/internal/auth/middleware"
	"github.com/rdm-platform/rdm-backend/internal/conf"
	eventsservice "github.com/rdm-platform/rdm-backend/internal/events/service"
	foldersservice "github.com/rdm-platform/rdm-backend/internal/folders/service"
	metadataservice "github.com/rdm-platform/rdm-backend/internal/metadata/service"
	"github.com/rdm-platform/rdm-backend/internal/pkg/logger"
	"github.com/rdm-platform/rdm-backend/internal/pkg/redis"
	projectsservice "github.com/rdm-platform/rdm-backend/internal/projects/service"
	settingsservice "github.com/rdm-platform/rdm-backend/internal/settings/service"
	storagesservice "github.com/rdm-platform/rdm-backend/internal/storages/service"
	uploadsservice "github.com/rdm-platform/rdm-backend/internal/uploads/service"
)

// Services 挂到 HTTP 服务器上的全部业务服务
type Services struct {
	Uploads   *uploadsservice.UploadService
	Projects  *projectsservice.ProjectService
	Folders   *foldersservice.FolderService
	Storages  *storagesservice.StorageService
	Metadata  *metadataservice.MetadataService
	Settings  *settingsservice.SettingService
	Approvals *approvalservice.ApprovalService
	Events    *eventsservice.EventService
}

type HTTPServer struct {
	server *http.Server
	logger *zap.Logger
}

func NewHTTPServer(
	config *conf.Config,
	log *logger.Logger,
	jwtManager *auth.JWTManager,
	redisClient *redis.Client,
	services Services,
) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(logger.GinRecovery(log))
	router.Use(logger.GinLogger(log))
	router.Use(middleware.CORS())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// API routes
	api := router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtManager, log))
	api.Use(middleware.APIRateLimiter(redisClient, log))

	services.Uploads.RegisterRoutes(api)
	services.Projects.RegisterRoutes(api)
	services.Folders.RegisterRoutes(api)
	services.Storages.RegisterRoutes(api)
	services.Metadata.RegisterRoutes(api)
	services.Settings.RegisterRoutes(api)
	services.Approvals.RegisterRoutes(api)
	services.Events.RegisterRoutes(api)

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)

	return &HTTPServer{
		server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
		logger: log.Logger,
	}
}

func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

