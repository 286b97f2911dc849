package service

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/approval/biz"
	"github.com/rdm-platform/rdm-backend/internal/auth/middleware"
	"github.com/rdm-platform/rdm-backend/internal/pkg/response"
)

// ApprovalService 存储审批队列接口
type ApprovalService struct {
	uc     *biz.ApprovalUseCase
	logger *zap.Logger
}

// NewApprovalService 创建审批服务
func NewApprovalService(uc *biz.ApprovalUseCase, logger *zap.Logger) *ApprovalService {
	return &ApprovalService{uc: uc, logger: logger}
}

// DecideRequest 审批决定请求
type DecideRequest struct {
	Comment string `json:"comment"`
}

// ItemResponse 审批项响应
type ItemResponse struct {
	ID          string  `json:"id"`
	StorageID   string  `json:"storage_id"`
	Status      string  `json:"status"`
	RequestedBy *string `json:"requested_by"`
	DecidedBy   *string `json:"decided_by"`
	DecidedAt   *string `json:"decided_at"`
	Comment     string  `json:"comment,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

// ListPending 列出待审批项
func (s *ApprovalService) ListPending(c *gin.Context) {
	items, err := s.uc.ListPending(c.Request.Context())
	if err != nil {
		response.HandleError(c, err)
		return
	}
	out := make([]*ItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, toItemResponse(it))
	}
	response.Success(c, out)
}

// Approve 审批通过,存储标记为已批准
func (s *ApprovalService) Approve(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.BadRequest(c, err.Error())
		return
	}
	actor, _ := middleware.GetActor(c)
	if err := s.uc.Approve(c.Request.Context(), actor, id, req.Comment); err != nil {
		s.logger.Error("failed to approve storage request", zap.String("id", id.String()), zap.Error(err))
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}

// Reject 审批驳回,存储保持未批准
func (s *ApprovalService) Reject(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.BadRequest(c, err.Error())
		return
	}
	actor, _ := middleware.GetActor(c)
	if err := s.uc.Reject(c.Request.Context(), actor, id, req.Comment); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}

func toItemResponse(it *biz.Item) *ItemResponse {
	return &ItemResponse{
		ID:          it.ID.String(),
		StorageID:   it.StorageID.String(),
		Status:      string(it.Status),
		RequestedBy: uuidPtrString(it.RequestedBy),
		DecidedBy:   uuidPtrString(it.DecidedBy),
		DecidedAt:   timePtrString(it.DecidedAt),
		Comment:     it.Comment,
		CreatedAt:   it.CreatedAt.Format("2006-01-02 15:04:05"),
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

func timePtrString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format("2006-01-02 15:04:05")
	return &s
}

func uuidPtrString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

// RegisterRoutes 注册路由
func (s *ApprovalService) RegisterRoutes(r *gin.RouterGroup) {
	approvals := r.Group("/storage-approvals")
	{
		approvals.GET("", s.ListPending)
		approvals.POST("/:id/approve", s.Approve)
		approvals.POST("/:id/reject", s.Reject)
	}
}
