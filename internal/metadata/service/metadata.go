package service

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/auth/middleware"
	"github.com/rdm-platform/rdm-backend/internal/metadata/biz"
	"github.com/rdm-platform/rdm-backend/internal/pkg/response"
	settingsbiz "github.com/rdm-platform/rdm-backend/internal/settings/biz"
)

// MetadataService 元数据与模板管理接口
type MetadataService struct {
	metadata  *biz.MetadataUseCase
	templates *biz.TemplateUseCase
	settings  *settingsbiz.SettingUseCase
	logger    *zap.Logger
}

// NewMetadataService 创建元数据服务
func NewMetadataService(metadata *biz.MetadataUseCase, templates *biz.TemplateUseCase, settings *settingsbiz.SettingUseCase, logger *zap.Logger) *MetadataService {
	return &MetadataService{metadata: metadata, templates: templates, settings: settings, logger: logger}
}

// CreateFieldRequest 创建全局字段请求
type CreateFieldRequest struct {
	Key       string `json:"key" binding:"required"`
	FieldType string `json:"field_type" binding:"required"`
	ReadOnly  bool   `json:"read_only"`
}

// SetMetadataRequest 写入元数据请求,field_id 与 custom_key 互斥
type SetMetadataRequest struct {
	TargetKind string  `json:"target_kind" binding:"required"`
	TargetID   string  `json:"target_id" binding:"required"`
	FieldID    *string `json:"field_id"`
	CustomKey  string  `json:"custom_key"`
	FieldType  string  `json:"field_type"`
	Value      any     `json:"value"`
}

// TemplateRequest 创建/更新模板请求
type TemplateRequest struct {
	Name string `json:"name" binding:"required"`
}

// AddTemplateFieldRequest 向模板追加字段请求
type AddTemplateFieldRequest struct {
	FieldID      *string         `json:"field_id"`
	CustomKey    string          `json:"custom_key"`
	FieldType    string          `json:"field_type"`
	Mandatory    bool            `json:"mandatory"`
	DefaultValue json.RawMessage `json:"default_value"`
	Config       json.RawMessage `json:"config"`
}

// ApplyTemplateRequest 将模板字段落到目标实体请求
type ApplyTemplateRequest struct {
	TargetKind     string `json:"target_kind" binding:"required"`
	TargetID       string `json:"target_id" binding:"required"`
	RetainExisting bool   `json:"retain_existing"`
}

// FieldResponse 全局字段响应
type FieldResponse struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	FieldType string `json:"field_type"`
	ReadOnly  bool   `json:"read_only"`
	CreatedAt string `json:"created_at"`
}

// MetadataResponse 元数据条目响应
type MetadataResponse struct {
	ID         string          `json:"id"`
	FieldID    *string         `json:"field_id"`
	CustomKey  string          `json:"custom_key,omitempty"`
	FieldType  string          `json:"field_type"`
	ReadOnly   bool            `json:"read_only"`
	Value      json.RawMessage `json:"value"`
	TargetKind string          `json:"target_kind"`
	TargetID   string          `json:"target_id"`
	UpdatedAt  string          `json:"updated_at"`
}

// TemplateResponse 模板响应
type TemplateResponse struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Locked     bool    `json:"locked"`
	LockedByID *string `json:"locked_by_id"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

// TemplateFieldResponse 模板字段响应
type TemplateFieldResponse struct {
	ID           string          `json:"id"`
	FieldID      *string         `json:"field_id"`
	CustomKey    string          `json:"custom_key,omitempty"`
	FieldType    string          `json:"field_type"`
	Mandatory    bool            `json:"mandatory"`
	DefaultValue json.RawMessage `json:"default_value,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
}

// CreateField 创建全局字段
func (s *MetadataService) CreateField(c *gin.Context) {
	var req CreateFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	f, err := s.metadata.CreateField(c.Request.Context(), req.Key, biz.FieldType(req.FieldType), req.ReadOnly)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Created(c, toFieldResponse(f))
}

// ListFields 列出全局字段
func (s *MetadataService) ListFields(c *gin.Context) {
	fields, err := s.metadata.ListFields(c.Request.Context())
	if err != nil {
		response.HandleError(c, err)
		return
	}
	out := make([]*FieldResponse, 0, len(fields))
	for _, f := range fields {
		out = append(out, toFieldResponse(f))
	}
	response.Success(c, out)
}

// SetMetadata 在目标实体上写入一条元数据
func (s *MetadataService) SetMetadata(c *gin.Context) {
	var req SetMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	target, ok := parseTarget(c, req.TargetKind, req.TargetID)
	if !ok {
		return
	}

	p := biz.SetParams{
		Target:    target,
		CustomKey: req.CustomKey,
		FieldType: biz.FieldType(req.FieldType),
		Value:     req.Value,
	}
	if req.FieldID != nil && *req.FieldID != "" {
		fieldID, err := uuid.Parse(*req.FieldID)
		if err != nil {
			response.BadRequest(c, "invalid field_id")
			return
		}
		p.FieldID = &fieldID
	}

	actor, _ := middleware.GetActor(c)
	m, err := s.metadata.Set(c.Request.Context(), actor, p)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toMetadataResponse(m))
}

// ListMetadata 列出目标实体上的元数据
func (s *MetadataService) ListMetadata(c *gin.Context) {
	target, ok := parseTarget(c, c.Query("target_kind"), c.Query("target_id"))
	if !ok {
		return
	}
	entries, err := s.metadata.ListForTarget(c.Request.Context(), target)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	out := make([]*MetadataResponse, 0, len(entries))
	for _, m := range entries {
		out = append(out, toMetadataResponse(m))
	}
	response.Success(c, out)
}

// DeleteMetadata 删除一条元数据,只读条目拒绝删除
func (s *MetadataService) DeleteMetadata(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor, _ := middleware.GetActor(c)
	if err := s.metadata.Delete(c.Request.Context(), actor, id); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}

// CreateTemplate 创建模板
func (s *MetadataService) CreateTemplate(c *gin.Context) {
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	actor, _ := middleware.GetActor(c)
	t, err := s.templates.Create(c.Request.Context(), actor, req.Name)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Created(c, toTemplateResponse(t))
}

// GetTemplate 获取模板
func (s *MetadataService) GetTemplate(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	t, err := s.templates.Get(c.Request.Context(), id)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toTemplateResponse(t))
}

// ListTemplates 列出全部模板
func (s *MetadataService) ListTemplates(c *gin.Context) {
	templates, err := s.templates.List(c.Request.Context())
	if err != nil {
		response.HandleError(c, err)
		return
	}
	out := make([]*TemplateResponse, 0, len(templates))
	for _, t := range templates {
		out = append(out, toTemplateResponse(t))
	}
	response.Success(c, out)
}

// UpdateTemplate 按锁协议保存模板
func (s *MetadataService) UpdateTemplate(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	actor, _ := middleware.GetActor(c)
	ctx := c.Request.Context()
	t, err := s.templates.Get(ctx, id)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	t.Name = req.Name
	if err := s.templates.Save(ctx, actor, t, s.settings.MaxLockTime(ctx)); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toTemplateResponse(t))
}

// ListTemplateFields 列出模板字段
func (s *MetadataService) ListTemplateFields(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	fields, err := s.templates.Fields(c.Request.Context(), id)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	out := make([]*TemplateFieldResponse, 0, len(fields))
	for _, f := range fields {
		out = append(out, toTemplateFieldResponse(f))
	}
	response.Success(c, out)
}

// AddTemplateField 向模板追加字段
func (s *MetadataService) AddTemplateField(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req AddTemplateFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	f := &biz.TemplateField{
		TemplateID:   id,
		CustomKey:    req.CustomKey,
		FieldType:    biz.FieldType(req.FieldType),
		Mandatory:    req.Mandatory,
		DefaultValue: req.DefaultValue,
		Config:       req.Config,
	}
	if req.FieldID != nil && *req.FieldID != "" {
		fieldID, err := uuid.Parse(*req.FieldID)
		if err != nil {
			response.BadRequest(c, "invalid field_id")
			return
		}
		f.FieldID = &fieldID
	}

	actor, _ := middleware.GetActor(c)
	if err := s.templates.AddField(c.Request.Context(), actor, f); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Created(c, toTemplateFieldResponse(f))
}

// ApplyTemplate 将模板字段落到目标实体
func (s *MetadataService) ApplyTemplate(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req ApplyTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	target, ok := parseTarget(c, req.TargetKind, req.TargetID)
	if !ok {
		return
	}
	actor, _ := middleware.GetActor(c)
	if err := s.templates.ApplyToTarget(c.Request.Context(), actor, id, target, req.RetainExisting); err != nil {
		s.logger.Error("failed to apply template",
			zap.String("template_id", id.String()),
			zap.String("target_id", target.ID.String()),
			zap.Error(err))
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}

// LockTemplate 加锁模板
func (s *MetadataService) LockTemplate(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor, _ := middleware.GetActor(c)
	ctx := c.Request.Context()
	if err := s.templates.Lock(ctx, actor, id, s.settings.MaxLockTime(ctx)); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}

// UnlockTemplate 解锁模板
func (s *MetadataService) UnlockTemplate(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor, _ := middleware.GetActor(c)
	if err := s.templates.Unlock(c.Request.Context(), actor, id); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}

func toFieldResponse(f *biz.Field) *FieldResponse {
	return &FieldResponse{
		ID:        f.ID.String(),
		Key:       f.Key,
		FieldType: string(f.FieldType),
		ReadOnly:  f.ReadOnly,
		CreatedAt: formatTime(f.CreatedAt),
	}
}

func toMetadataResponse(m *biz.Metadata) *MetadataResponse {
	return &MetadataResponse{
		ID:         m.ID.String(),
		FieldID:    uuidPtrString(m.FieldID),
		CustomKey:  m.CustomKey,
		FieldType:  string(m.FieldType),
		ReadOnly:   m.ReadOnly,
		Value:      m.Value,
		TargetKind: string(m.Target.Kind),
		TargetID:   m.Target.ID.String(),
		UpdatedAt:  formatTime(m.UpdatedAt),
	}
}

func toTemplateResponse(t *biz.Template) *TemplateResponse {
	return &TemplateResponse{
		ID:         t.ID.String(),
		Name:       t.Name,
		Locked:     t.Lock.Locked,
		LockedByID: uuidPtrString(t.Lock.LockedByID),
		CreatedAt:  formatTime(t.CreatedAt),
		UpdatedAt:  formatTime(t.UpdatedAt),
	}
}

func toTemplateFieldResponse(f *biz.TemplateField) *TemplateFieldResponse {
	return &TemplateFieldResponse{
		ID:           f.ID.String(),
		FieldID:      uuidPtrString(f.FieldID),
		CustomKey:    f.CustomKey,
		FieldType:    string(f.FieldType),
		Mandatory:    f.Mandatory,
		DefaultValue: f.DefaultValue,
		Config:       f.Config,
	}
}

func parseTarget(c *gin.Context, kind, id string) (biz.TargetRef, bool) {
	targetID, err := uuid.Parse(id)
	if err != nil {
		response.BadRequest(c, "invalid target_id")
		return biz.TargetRef{}, false
	}
	return biz.TargetRef{Kind: biz.TargetKind(kind), ID: targetID}, true
}

func parseID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.BadRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
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
func (s *MetadataService) RegisterRoutes(r *gin.RouterGroup) {
	fields := r.Group("/metadata-fields")
	{
		fields.POST("", s.CreateField)
		fields.GET("", s.ListFields)
	}
	metadata := r.Group("/metadata")
	{
		metadata.POST("", s.SetMetadata)
		metadata.GET("", s.ListMetadata)
		metadata.DELETE("/:id", s.DeleteMetadata)
	}
	templates := r.Group("/metadata-templates")
	{
		templates.POST("", s.CreateTemplate)
		templates.GET("", s.ListTemplates)
		templates.GET("/:id", s.GetTemplate)
		templates.PUT("/:id", s.UpdateTemplate)
		templates.GET("/:id/fields", s.ListTemplateFields)
		templates.POST("/:id/fields", s.AddTemplateField)
		templates.POST("/:id/apply", s.ApplyTemplate)
		templates.POST("/:id/lock", s.LockTemplate)
		templates.DELETE("/:id/lock", s.UnlockTemplate)
	}
}
