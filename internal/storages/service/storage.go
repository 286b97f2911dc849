package service

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/auth/middleware"
	"github.com/rdm-platform/rdm-backend/internal/pkg/crypto"
	apperrors "github.com/rdm-platform/rdm-backend/internal/pkg/errors"
	"github.com/rdm-platform/rdm-backend/internal/pkg/response"
	"github.com/rdm-platform/rdm-backend/internal/storages/biz"
)

// StorageService 存储管理接口
type StorageService struct {
	uc     *biz.StorageUseCase
	box    *crypto.SecretBox
	logger *zap.Logger
}

// NewStorageService 创建存储服务
func NewStorageService(uc *biz.StorageUseCase, box *crypto.SecretBox, logger *zap.Logger) *StorageService {
	return &StorageService{uc: uc, box: box, logger: logger}
}

// StorageRequest 创建/更新存储请求。私有挂载存储的子路径以明文提交,
// 入库前加密
type StorageRequest struct {
	Name        string `json:"name" binding:"required"`
	Kind        string `json:"kind" binding:"required"`
	Default     bool   `json:"default"`
	PrivatePath string `json:"private_path"`
}

// StorageResponse 存储响应,私有子路径不回传
type StorageResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Default   bool   `json:"default"`
	Approved  bool   `json:"approved"`
	Mounted   bool   `json:"mounted"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// CreateStorage 创建存储,私有挂载存储创建后进入审批队列
func (s *StorageService) CreateStorage(c *gin.Context) {
	var req StorageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	st := &biz.Storage{
		Name:    req.Name,
		Kind:    biz.Kind(req.Kind),
		Default: req.Default,
	}
	if req.PrivatePath != "" {
		sealed, err := s.box.Seal(req.PrivatePath)
		if err != nil {
			s.logger.Error("failed to seal private path", zap.Error(err))
			response.HandleError(c, apperrors.Wrap(err, apperrors.ErrInternalServer))
			return
		}
		st.PrivatePathSealed = sealed
	}

	actor, _ := middleware.GetActor(c)
	if err := s.uc.Create(c.Request.Context(), actor, st); err != nil {
		s.logger.Error("failed to create storage", zap.String("kind", req.Kind), zap.Error(err))
		response.HandleError(c, err)
		return
	}
	response.Created(c, toStorageResponse(st))
}

// GetStorage 获取存储
func (s *StorageService) GetStorage(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	st, err := s.uc.Get(c.Request.Context(), id)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toStorageResponse(st))
}

// ListStorages 列出全部存储
func (s *StorageService) ListStorages(c *gin.Context) {
	storages, err := s.uc.List(c.Request.Context())
	if err != nil {
		response.HandleError(c, err)
		return
	}
	out := make([]*StorageResponse, 0, len(storages))
	for _, st := range storages {
		out = append(out, toStorageResponse(st))
	}
	response.Success(c, out)
}

// UpdateStorage 更新存储
func (s *StorageService) UpdateStorage(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req StorageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	actor, _ := middleware.GetActor(c)
	ctx := c.Request.Context()
	st, err := s.uc.Get(ctx, id)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	st.Name = req.Name
	st.Kind = biz.Kind(req.Kind)
	st.Default = req.Default
	if req.PrivatePath != "" {
		sealed, err := s.box.Seal(req.PrivatePath)
		if err != nil {
			s.logger.Error("failed to seal private path", zap.Error(err))
			response.HandleError(c, apperrors.Wrap(err, apperrors.ErrInternalServer))
			return
		}
		st.PrivatePathSealed = sealed
	}
	if err := s.uc.Update(ctx, actor, st); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toStorageResponse(st))
}

// DeleteStorage 删除存储,默认存储或仍被引用的存储拒绝删除
func (s *StorageService) DeleteStorage(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor, _ := middleware.GetActor(c)
	if err := s.uc.Delete(c.Request.Context(), actor, id); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}

func toStorageResponse(st *biz.Storage) *StorageResponse {
	return &StorageResponse{
		ID:        st.ID.String(),
		Name:      st.Name,
		Kind:      string(st.Kind),
		Default:   st.Default,
		Approved:  st.Approved,
		Mounted:   st.Mounted,
		CreatedAt: st.CreatedAt.Format("2006-01-02 15:04:05"),
		UpdatedAt: st.UpdatedAt.Format("2006-01-02 15:04:05"),
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

// RegisterRoutes 注册路由
func (s *StorageService) RegisterRoutes(r *gin.RouterGroup) {
	storages := r.Group("/storages")
	{
		storages.POST("", s.CreateStorage)
		storages.GET("", s.ListStorages)
		storages.GET("/:id", s.GetStorage)
		storages.PUT("/:id", s.UpdateStorage)
		storages.DELETE("/:id", s.DeleteStorage)
	}
}
