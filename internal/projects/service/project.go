package service

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/auth/middleware"
	"github.com/rdm-platform/rdm-backend/internal/pkg/response"
	"github.com/rdm-platform/rdm-backend/internal/projects/biz"
	settingsbiz "github.com/rdm-platform/rdm-backend/internal/settings/biz"
)

// ProjectService 项目管理接口
type ProjectService struct {
	uc       *biz.ProjectUseCase
	settings *settingsbiz.SettingUseCase
	logger   *zap.Logger
}

// NewProjectService 创建项目服务
func NewProjectService(uc *biz.ProjectUseCase, settings *settingsbiz.SettingUseCase, logger *zap.Logger) *ProjectService {
	return &ProjectService{uc: uc, settings: settings, logger: logger}
}

// ProjectRequest 创建/更新项目请求
type ProjectRequest struct {
	Name               string  `json:"name" binding:"required"`
	Description        string  `json:"description"`
	MetadataTemplateID *string `json:"metadata_template_id"`
}

// ProjectResponse 项目响应
type ProjectResponse struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Description        string  `json:"description"`
	MetadataTemplateID *string `json:"metadata_template_id"`
	Locked             bool    `json:"locked"`
	LockedByID         *string `json:"locked_by_id"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

// CreateProject 创建项目
func (s *ProjectService) CreateProject(c *gin.Context) {
	var req ProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	templateID, ok := parseOptionalID(c, req.MetadataTemplateID, "metadata_template_id")
	if !ok {
		return
	}

	actor, _ := middleware.GetActor(c)
	p := &biz.Project{
		Name:               req.Name,
		Description:        req.Description,
		MetadataTemplateID: templateID,
	}
	if err := s.uc.Create(c.Request.Context(), actor, p); err != nil {
		s.logger.Error("failed to create project", zap.Error(err))
		response.HandleError(c, err)
		return
	}
	response.Created(c, toProjectResponse(p))
}

// GetProject 获取项目
func (s *ProjectService) GetProject(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	p, err := s.uc.Get(c.Request.Context(), id)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toProjectResponse(p))
}

// ListProjects 列出全部项目
func (s *ProjectService) ListProjects(c *gin.Context) {
	projects, err := s.uc.List(c.Request.Context())
	if err != nil {
		response.HandleError(c, err)
		return
	}
	out := make([]*ProjectResponse, 0, len(projects))
	for _, p := range projects {
		out = append(out, toProjectResponse(p))
	}
	response.Success(c, out)
}

// UpdateProject 按锁协议保存项目
func (s *ProjectService) UpdateProject(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req ProjectRequest
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
	p, err := s.uc.Get(ctx, id)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	p.Name = req.Name
	p.Description = req.Description
	p.MetadataTemplateID = templateID
	if err := s.uc.Save(ctx, actor, p, s.settings.MaxLockTime(ctx)); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toProjectResponse(p))
}

// LockProject 加锁项目
func (s *ProjectService) LockProject(c *gin.Context) {
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

// UnlockProject 解锁项目
func (s *ProjectService) UnlockProject(c *gin.Context) {
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

func toProjectResponse(p *biz.Project) *ProjectResponse {
	return &ProjectResponse{
		ID:                 p.ID.String(),
		Name:               p.Name,
		Description:        p.Description,
		MetadataTemplateID: uuidPtrString(p.MetadataTemplateID),
		Locked:             p.Lock.Locked,
		LockedByID:         uuidPtrString(p.Lock.LockedByID),
		CreatedAt:          formatTime(p.CreatedAt),
		UpdatedAt:          formatTime(p.UpdatedAt),
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
func (s *ProjectService) RegisterRoutes(r *gin.RouterGroup) {
	projects := r.Group("/projects")
	{
		projects.POST("", s.CreateProject)
		projects.GET("", s.ListProjects)
		projects.GET("/:id", s.GetProject)
		projects.PUT("/:id", s.UpdateProject)
		projects.POST("/:id/lock", s.LockProject)
		projects.DELETE("/:id/lock", s.UnlockProject)
	}
}
