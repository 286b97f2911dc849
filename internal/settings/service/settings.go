package service

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/pkg/response"
	"github.com/rdm-platform/rdm-backend/internal/settings/biz"
)

// SettingService 运行时设置接口
type SettingService struct {
	uc     *biz.SettingUseCase
	logger *zap.Logger
}

// NewSettingService 创建设置服务
func NewSettingService(uc *biz.SettingUseCase, logger *zap.Logger) *SettingService {
	return &SettingService{uc: uc, logger: logger}
}

// SetSettingRequest 写入设置请求
type SetSettingRequest struct {
	Value string `json:"value" binding:"required"`
}

// SettingResponse 设置响应
type SettingResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// GetSetting 读取设置,不存在时返回空值
func (s *SettingService) GetSetting(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		response.BadRequest(c, "key is required")
		return
	}
	value := s.uc.GetString(c.Request.Context(), key, "")
	response.Success(c, SettingResponse{Key: key, Value: value})
}

// SetSetting 写入设置
func (s *SettingService) SetSetting(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		response.BadRequest(c, "key is required")
		return
	}
	var req SetSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := s.uc.Set(c.Request.Context(), key, req.Value); err != nil {
		s.logger.Error("failed to set setting", zap.String("key", key), zap.Error(err))
		response.HandleError(c, err)
		return
	}
	response.Success(c, SettingResponse{Key: key, Value: req.Value})
}

// RegisterRoutes 注册路由
func (s *SettingService) RegisterRoutes(r *gin.RouterGroup) {
	settings := r.Group("/settings")
	{
		settings.GET("/:key", s.GetSetting)
		settings.PUT("/:key", s.SetSetting)
	}
}
