package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/auth/middleware"
	"github.com/rdm-platform/rdm-backend/internal/pkg/response"
	"github.com/rdm-platform/rdm-backend/internal/pkg/sse"
	"github.com/rdm-platform/rdm-backend/internal/pkg/workerpool"
	"github.com/rdm-platform/rdm-backend/internal/uploads/biz"
)

// UploadService 数据集上传与版本管理接口
type UploadService struct {
	uc         *biz.UploadUseCase
	sseHub     *sse.Hub
	uploadPool *workerpool.Pool
	logger     *zap.Logger
}

// NewUploadService 创建上传服务
func NewUploadService(uc *biz.UploadUseCase, hub *sse.Hub, uploadPool *workerpool.Pool, logger *zap.Logger) *UploadService {
	return &UploadService{uc: uc, sseHub: hub, uploadPool: uploadPool, logger: logger}
}

// maxBatchFiles 单次批量上传的文件数上限
const maxBatchFiles = 50

// poolSubmitter 适配工作池的带 context 提交接口
type poolSubmitter struct {
	pool *workerpool.Pool
}

func (p poolSubmitter) Submit(task func()) error {
	return p.pool.Submit(context.Background(), func(context.Context) error {
		task()
		return nil
	})
}

// CreateDatasetRequest 创建数据集请求
type CreateDatasetRequest struct {
	Name     string  `json:"name"`
	FolderID *string `json:"folder_id"`
}

// UpdateDatasetRequest 更新数据集请求
type UpdateDatasetRequest struct {
	Name     string  `json:"name"`
	FolderID *string `json:"folder_id"`
}

// PublishDatasetRequest 发布数据集请求
type PublishDatasetRequest struct {
	FolderID *string `json:"folder_id"`
}

// CreateVersionMetadataRequest 新建仅元数据版本请求
type CreateVersionMetadataRequest struct {
	Name string `json:"name"`
}

// UpdateVersionRequest 更新版本请求
type UpdateVersionRequest struct {
	Name string `json:"name" binding:"required"`
}

// DatasetResponse 数据集响应
type DatasetResponse struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	DisplayName     string  `json:"display_name"`
	FolderID        *string `json:"folder_id"`
	PublicationDate *string `json:"publication_date"`
	ExpiryDate      *string `json:"expiry_date"`
	Locked          bool    `json:"locked"`
	LockedByID      *string `json:"locked_by_id"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

// VersionResponse 版本响应
type VersionResponse struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	DatasetID          string  `json:"dataset_id"`
	VersionFileID      *string `json:"version_file_id"`
	PublicationDate    *string `json:"publication_date"`
	Status             string  `json:"status"`
	MetadataIsComplete bool    `json:"metadata_is_complete"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

// FileResponse 文件响应
type FileResponse struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Referenced        bool    `json:"referenced"`
	OriginalPath      string  `json:"original_path,omitempty"`
	UploadedUsingTus  bool    `json:"uploaded_using_tus"`
	Status            string  `json:"status"`
	StorageRelocating string  `json:"storage_relocating"`
	PublicationDate   *string `json:"publication_date"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

// CreateDataset 创建草稿数据集
func (s *UploadService) CreateDataset(c *gin.Context) {
	var req CreateDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	folderID, ok := parseOptionalID(c, req.FolderID, "folder_id")
	if !ok {
		return
	}

	actor, _ := middleware.GetActor(c)
	d, err := s.uc.CreateDataset(c.Request.Context(), actor, req.Name, folderID)
	if err != nil {
		s.logger.Error("failed to create dataset", zap.Error(err))
		response.HandleError(c, err)
		return
	}
	response.Created(c, toDatasetResponse(d))
}

// GetDataset 获取数据集
func (s *UploadService) GetDataset(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	d, err := s.uc.GetDataset(c.Request.Context(), id)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toDatasetResponse(d))
}

// ListDatasets 列出文件夹下的数据集
func (s *UploadService) ListDatasets(c *gin.Context) {
	folderID, err := uuid.Parse(c.Query("folder_id"))
	if err != nil {
		response.BadRequest(c, "invalid folder_id")
		return
	}
	datasets, err := s.uc.ListDatasets(c.Request.Context(), folderID)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	out := make([]*DatasetResponse, 0, len(datasets))
	for _, d := range datasets {
		out = append(out, toDatasetResponse(d))
	}
	response.Success(c, out)
}

// UpdateDataset 按锁协议保存数据集
func (s *UploadService) UpdateDataset(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req UpdateDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	folderID, ok := parseOptionalID(c, req.FolderID, "folder_id")
	if !ok {
		return
	}

	actor, _ := middleware.GetActor(c)
	d, err := s.uc.GetDataset(c.Request.Context(), id)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	d.Name = req.Name
	if folderID != nil {
		d.FolderID = folderID
	}
	if err := s.uc.SaveDataset(c.Request.Context(), actor, d); err != nil {
		s.logger.Error("failed to save dataset", zap.String("id", id.String()), zap.Error(err))
		response.HandleError(c, err)
		return
	}
	response.Success(c, toDatasetResponse(d))
}

// PublishDataset 发布数据集及其全部版本
func (s *UploadService) PublishDataset(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req PublishDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		response.BadRequest(c, err.Error())
		return
	}
	folderID, ok := parseOptionalID(c, req.FolderID, "folder_id")
	if !ok {
		return
	}

	actor, _ := middleware.GetActor(c)
	d, err := s.uc.PublishDataset(c.Request.Context(), actor, id, folderID)
	if err != nil {
		s.logger.Error("failed to publish dataset", zap.String("id", id.String()), zap.Error(err))
		response.HandleError(c, err)
		return
	}
	response.Success(c, toDatasetResponse(d))
}

// LockDataset 加锁数据集
func (s *UploadService) LockDataset(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor, _ := middleware.GetActor(c)
	if err := s.uc.LockDataset(c.Request.Context(), actor, id); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}

// UnlockDataset 解锁数据集
func (s *UploadService) UnlockDataset(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor, _ := middleware.GetActor(c)
	if err := s.uc.UnlockDataset(c.Request.Context(), actor, id); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}

// DeleteDataset 级联删除数据集
func (s *UploadService) DeleteDataset(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor, _ := middleware.GetActor(c)
	if err := s.uc.DeleteDataset(c.Request.Context(), actor, id); err != nil {
		s.logger.Error("failed to delete dataset", zap.String("id", id.String()), zap.Error(err))
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}

// ListVersions 列出数据集的版本,按创建时间升序
func (s *UploadService) ListVersions(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	versions, err := s.uc.ListVersions(c.Request.Context(), id)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	out := make([]*VersionResponse, 0, len(versions))
	for _, v := range versions {
		out = append(out, toVersionResponse(v))
	}
	response.Success(c, out)
}

// CreateVersion 以 multipart 上传新文件创建版本。dataset_id 缺省时
// 自动创建草稿数据集;referenced=true 时不接收文件内容,只登记
// original_path 指向的挂载存储路径
func (s *UploadService) CreateVersion(c *gin.Context) {
	actor, _ := middleware.GetActor(c)
	p := biz.CreateVersionParams{Name: c.PostForm("name")}

	if raw := c.PostForm("dataset_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid dataset_id")
			return
		}
		p.DatasetID = &id
	}

	if c.PostForm("referenced") == "true" {
		p.Referenced = true
		p.OriginalPath = c.PostForm("original_path")
		if p.OriginalPath == "" {
			response.BadRequest(c, "original_path is required for referenced files")
			return
		}
		p.FileName = filepath.Base(p.OriginalPath)
	} else {
		fh, err := c.FormFile("file")
		if err != nil {
			response.BadRequest(c, "file is required")
			return
		}
		src, err := fh.Open()
		if err != nil {
			response.BadRequest(c, "failed to read uploaded file")
			return
		}
		defer src.Close()
		p.FileName = fh.Filename
		p.Content = src
	}

	v, err := s.uc.CreateVersionWithNewFile(c.Request.Context(), actor, p)
	if err != nil {
		s.logger.Error("failed to create version", zap.String("file", p.FileName), zap.Error(err))
		response.HandleError(c, err)
		return
	}
	response.Created(c, toVersionResponse(v))
}

// batchFile 批量上传中的单个文件,先读入内存再并发处理
type batchFile struct {
	Name string
	Data []byte
}

// UploadBatch 批量上传文件。每个文件生成独立的草稿数据集和版本,
// 处理进度通过 SSE 实时推送给调用方
func (s *UploadService) UploadBatch(c *gin.Context) {
	actor, _ := middleware.GetActor(c)

	if err := c.Request.ParseMultipartForm(64 << 20); err != nil {
		response.BadRequest(c, "invalid multipart form")
		return
	}
	form := c.Request.MultipartForm
	if form == nil || form.File == nil {
		response.BadRequest(c, "no files uploaded")
		return
	}

	// 优先使用 "files" 字段,否则收集所有字段的文件
	var headers []*multipart.FileHeader
	if hs, ok := form.File["files"]; ok && len(hs) > 0 {
		headers = hs
	} else {
		for _, hs := range form.File {
			headers = append(headers, hs...)
		}
	}
	if len(headers) == 0 {
		response.BadRequest(c, "no files uploaded")
		return
	}
	if len(headers) > maxBatchFiles {
		response.BadRequest(c, fmt.Sprintf("too many files: maximum %d files per batch", maxBatchFiles))
		return
	}

	files := make([]*batchFile, 0, len(headers))
	for _, fh := range headers {
		src, err := fh.Open()
		if err != nil {
			response.BadRequest(c, "failed to open file: "+fh.Filename)
			return
		}
		data, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			response.BadRequest(c, "failed to read file: "+fh.Filename)
			return
		}
		files = append(files, &batchFile{Name: fh.Filename, Data: data})
	}

	stream := sse.NewStream(c, s.sseHub).
		WithResource("batch-upload").
		WithBufferSize(50).
		WithHeartbeat(30 * time.Second).
		OnConnect(func() {
			s.logger.Info("batch upload started",
				zap.String("actor_id", actor.ID.String()),
				zap.Int("file_count", len(files)))
		}).
		OnDisconnect(func() {
			s.logger.Info("batch upload connection closed",
				zap.String("actor_id", actor.ID.String()))
		}).
		Build()
	defer stream.Close()

	go sse.NewBatchUploader[*batchFile](stream, len(files)).
		WithEventPrefix("file").
		Process(files, func(ctx context.Context, f *batchFile) (interface{}, error) {
			v, err := s.uc.CreateVersionWithNewFile(ctx, actor, biz.CreateVersionParams{
				Name:     f.Name,
				FileName: f.Name,
				Content:  bytes.NewReader(f.Data),
			})
			if err != nil {
				return nil, err
			}
			return toVersionResponse(v), nil
		}).
		WithWorkerPool(poolSubmitter{pool: s.uploadPool}).
		WithItemNamer(func(f *batchFile) string { return f.Name }).
		OnFailure(func(index int, f *batchFile, err error) error {
			s.logger.Error("batch upload item failed",
				zap.String("file", f.Name), zap.Error(err))
			return nil
		}).
		Run(c.Request.Context())

	stream.StartStreaming()
}

// CreateVersionWithMetadata 基于最新版本的文件新建仅元数据版本
func (s *UploadService) CreateVersionWithMetadata(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req CreateVersionMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		response.BadRequest(c, err.Error())
		return
	}
	actor, _ := middleware.GetActor(c)
	v, err := s.uc.CreateVersionWithNewMetadata(c.Request.Context(), actor, id, req.Name)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Created(c, toVersionResponse(v))
}

// GetVersion 获取版本
func (s *UploadService) GetVersion(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	v, err := s.uc.GetVersion(c.Request.Context(), id)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toVersionResponse(v))
}

// UpdateVersion 更新版本。已发布的历史版本只允许改名
func (s *UploadService) UpdateVersion(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req UpdateVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	actor, _ := middleware.GetActor(c)
	v, err := s.uc.GetVersion(c.Request.Context(), id)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	v.Name = req.Name
	if err := s.uc.UpdateVersion(c.Request.Context(), actor, v); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toVersionResponse(v))
}

// RestoreVersion 恢复历史版本为最新版本
func (s *UploadService) RestoreVersion(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor, _ := middleware.GetActor(c)
	v, err := s.uc.RestoreVersion(c.Request.Context(), actor, id)
	if err != nil {
		s.logger.Error("failed to restore version", zap.String("id", id.String()), zap.Error(err))
		response.HandleError(c, err)
		return
	}
	response.Created(c, toVersionResponse(v))
}

// DeleteVersion 删除单个版本
func (s *UploadService) DeleteVersion(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	actor, _ := middleware.GetActor(c)
	if err := s.uc.DeleteVersion(c.Request.Context(), actor, id); err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, nil)
}

// GetFile 获取文件元信息
func (s *UploadService) GetFile(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	f, err := s.uc.GetFile(c.Request.Context(), id)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toFileResponse(f))
}

// DownloadFile 下载文件内容
func (s *UploadService) DownloadFile(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	f, err := s.uc.GetFile(c.Request.Context(), id)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	rc, err := s.uc.OpenFile(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("failed to open file", zap.String("id", id.String()), zap.Error(err))
		response.HandleError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", f.Name))
	c.Header("Content-Type", "application/octet-stream")
	if _, err := io.Copy(c.Writer, rc); err != nil {
		// 响应头已发出,只能记录日志
		s.logger.Warn("download interrupted", zap.String("id", id.String()), zap.Error(err))
	}
}

func toDatasetResponse(d *biz.Dataset) *DatasetResponse {
	return &DatasetResponse{
		ID:              d.ID.String(),
		Name:            d.Name,
		DisplayName:     d.DisplayName,
		FolderID:        uuidPtrString(d.FolderID),
		PublicationDate: timePtrString(d.PublicationDate),
		ExpiryDate:      timePtrString(d.ExpiryDate),
		Locked:          d.Lock.Locked,
		LockedByID:      uuidPtrString(d.Lock.LockedByID),
		CreatedAt:       formatTime(d.CreatedAt),
		UpdatedAt:       formatTime(d.UpdatedAt),
	}
}

func toVersionResponse(v *biz.Version) *VersionResponse {
	return &VersionResponse{
		ID:                 v.ID.String(),
		Name:               v.Name,
		DatasetID:          v.DatasetID.String(),
		VersionFileID:      uuidPtrString(v.VersionFileID),
		PublicationDate:    timePtrString(v.PublicationDate),
		Status:             string(v.Status),
		MetadataIsComplete: v.MetadataIsComplete,
		CreatedAt:          formatTime(v.CreatedAt),
		UpdatedAt:          formatTime(v.UpdatedAt),
	}
}

func toFileResponse(f *biz.VersionFile) *FileResponse {
	return &FileResponse{
		ID:                f.ID.String(),
		Name:              f.Name,
		Referenced:        f.Referenced,
		OriginalPath:      f.OriginalPath,
		UploadedUsingTus:  f.UploadedUsingTus,
		Status:            string(f.Status),
		StorageRelocating: string(f.StorageRelocating),
		PublicationDate:   timePtrString(f.PublicationDate),
		CreatedAt:         formatTime(f.CreatedAt),
		UpdatedAt:         formatTime(f.UpdatedAt),
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

func timePtrString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
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
func (s *UploadService) RegisterRoutes(r *gin.RouterGroup) {
	datasets := r.Group("/datasets")
	{
		datasets.POST("", s.CreateDataset)
		datasets.GET("", s.ListDatasets)
		datasets.GET("/:id", s.GetDataset)
		datasets.PUT("/:id", s.UpdateDataset)
		datasets.DELETE("/:id", s.DeleteDataset)
		datasets.POST("/:id/publish", s.PublishDataset)
		datasets.POST("/:id/lock", s.LockDataset)
		datasets.DELETE("/:id/lock", s.UnlockDataset)
		datasets.GET("/:id/versions", s.ListVersions)
		datasets.POST("/:id/versions", s.CreateVersionWithMetadata)
	}
	versions := r.Group("/versions")
	{
		versions.POST("", s.CreateVersion)
		versions.POST("/batch", s.UploadBatch)
		versions.GET("/:id", s.GetVersion)
		versions.PUT("/:id", s.UpdateVersion)
		versions.POST("/:id/restore", s.RestoreVersion)
		versions.DELETE("/:id", s.DeleteVersion)
	}
	files := r.Group("/files")
	{
		files.GET("/:id", s.GetFile)
		files.GET("/:id/download", s.DownloadFile)
	}
}
