package service

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/auth/middleware"
	"github.com/rdm-platform/rdm-backend/internal/folders/biz"
	"github.com/rdm-platform/rdm-backend/internal/pkg/response"
	settingsbiz "github.com/rdm-platform/rdm-backend/internal/settings/biz"
)

// FolderService 文件夹管理接口
type FolderService struct {
	uc       *biz.FolderUseCase
	settings *settingsbiz.SettingUseCase
	logger   *zap.Logger
}

// NewFolderService 创建文件夹服务
func NewFolderService(uc *biz.FolderUseCase, settings *settingsbiz.SettingUseCase, logger *zap.Logger) *FolderService {
	return &FolderService{uc: uc, settings: settings, logger: logger}
}

// CreateFolderRequest 创建文件夹请求
type CreateFolderRequest struct {
	Name               string  `json:"name" binding:"required"`
	ProjectID          string  `json:"project_id" binding:"required"`
	StorageID          *string `json:"storage_id"`
	MetadataTemplateID *string `json:"metadata_template_id"`
}

// UpdateFolderRequest 更新文件夹请求
type UpdateFolderRequest struct {
	Name               string  `json:"name" binding:"required"`
	MetadataTemplateID *string `json:"metadata_template_id"`
}

// AssignStorageRequest 分配存储请求
type AssignStorageRequest struct {
	StorageID string `json:"storage_id" binding:"required"`
}

// FolderResponse 文件夹响应
type FolderResponse struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	ProjectID          string  `json:"project_id"`
	StorageID          string  `json:"storage_id"`
	MetadataTemplateID *string `json:"metadata_template_id"`
	DatasetsCount      int64   `json:"datasets_count"`
	Locked             bool    `json:"locked"`
	LockedByID         *string `json:"locked_by_id"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

// CreateFolder 创建文件夹,未指定存储时使用默认存储
func (s *FolderService) CreateFolder(c *gin.Context) {
	var req CreateFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		response.BadRequest(c, "invalid project_id")
		return
	}
	templateID, ok := parseOptionalID(c, req.MetadataTemplateID, "metadata_template_id")
	if !ok {
		return
	}

	f := &biz.Folder{
		Name:               req.Name,
		ProjectID:          projectID,
		MetadataTemplateID: templateID,
	}
	if req.StorageID != nil && *req.StorageID != "" {
		storageID, err := uuid.Parse(*req.StorageID)
		if err != nil {
			response.BadRequest(c, "invalid storage_id")
			return
		}
		f.StorageID = storageID
	}

	actor, _ := middleware.GetActor(c)
	if err := s.uc.Create(c.Request.Context(), actor, f); err != nil {
		s.logger.Error("failed to create folder", zap.Error(err))
		response.HandleError(c, err)
		return
	}
	response.Created(c, toFolderResponse(f))
}

// GetFolder 获取文件夹
func (s *FolderService) GetFolder(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	f, err := s.uc.Get(c.Request.Context(), id)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toFolderResponse(f))
}

// ListFolders 列出项目下的文件夹
func (s *FolderService) ListFolders(c *gin.Context) {
	projectID, err := uuid.Parse(c.Query("project_id"))
	if err != nil {
		response.BadRequest(c, "invalid project_id")
		return
	}
	folders, err := s.uc.ListByProject(c.Request.Context(), projectID)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	out := make([]*FolderResponse, 0, len(folders))
	for _, f := range folders {
		out = append(out, toFolderResponse(f))
	}
	response.Success(c, out)
}

// UpdateFolder 按锁协议保存文件夹
func (s *FolderService) UpdateFolder(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req UpdateFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	templateID, ok := parseOptionalID(c, req.MetadataTemplateID, "metadata_template_id")
	if !ok {
		return
	}

	actor, _ := middleware.GetActor(c)
	ctx := c.Request.Context()
	f, err := s.uc.Get(ctx, id)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	f.Name = req.Name
	f.MetadataTemplateID = templateID
	if err := s.uc.Save(ctx, actor, f, s.settings.MaxLockTime(ctx)); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toFolderResponse(f))
}

// AssignStorage 为文件夹更换存储,文件夹下已发布的文件排队搬迁
func (s *FolderService) AssignStorage(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req AssignStorageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	storageID, err := uuid.Parse(req.StorageID)
	if err != nil {
		response.BadRequest(c, "invalid storage_id")
		return
	}

	actor, _ := middleware.GetActor(c)
	ctx := c.Request.Context()
	if err := s.uc.AssignStorage(ctx, actor, id, storageID, s.settings.MaxLockTime(ctx)); err != nil {
		s.logger.Error("failed to assign storage",
			zap.String("folder_id", id.String()),
			zap.String("storage_id", storageID.String()),
			zap.Error(err))
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}

// LockFolder 加锁文件夹
func (s *FolderService) LockFolder(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor, _ := middleware.GetActor(c)
	ctx := c.Request.Context()
	if err := s.uc.Lock(ctx, actor, id, s.settings.MaxLockTime(ctx)); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}

// UnlockFolder 解锁文件夹
func (s *FolderService) UnlockFolder(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor, _ := middleware.GetActor(c)
	if err := s.uc.Unlock(c.Request.Context(), actor, id); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}

func toFolderResponse(f *biz.Folder) *FolderResponse {
	return &FolderResponse{
		ID:                 f.ID.String(),
		Name:               f.Name,
		ProjectID:          f.ProjectID.String(),
		StorageID:          f.StorageID.String(),
		MetadataTemplateID: uuidPtrString(f.MetadataTemplateID),
		DatasetsCount:      f.DatasetsCount,
		Locked:             f.Lock.Locked,
		LockedByID:         uuidPtrString(f.Lock.LockedByID),
		CreatedAt:          formatTime(f.CreatedAt),
		UpdatedAt:          formatTime(f.UpdatedAt),
	}
}

func parseID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.BadRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func parseOptionalID(c *gin.Context, raw *string, name string) (*uuid.UUID, bool) {
	if raw == nil || *raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		response.BadRequest(c, "invalid "+name)
		return nil, false
	}
	return &id, true
}

func formatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func uuidPtrString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

// RegisterRoutes 注册路由
func (s *FolderService) RegisterRoutes(r *gin.RouterGroup) {
	folders := r.Group("/folders")
	{
		folders.POST("", s.CreateFolder)
		folders.GET("", s.ListFolders)
		folders.GET("/:id", s.GetFolder)
		folders.PUT("/:id", s.UpdateFolder)
		folders.POST("/:id/storage", s.AssignStorage)
		folders.POST("/:id/lock", s.LockFolder)
		folders.DELETE("/:id/lock", s.UnlockFolder)
	}
}
