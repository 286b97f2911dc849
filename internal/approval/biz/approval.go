package biz

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/core"
	apperrors "github.com/rdm-platform/rdm-backend/internal/pkg/errors"
)

// ItemStatus 审批项状态
type ItemStatus string

const (
	ItemPending  ItemStatus = "pending"
	ItemApproved ItemStatus = "approved"
	ItemRejected ItemStatus = "rejected"
)

// Item 一条待人工审批的存储接入申请
type Item struct {
	ID          uuid.UUID
	StorageID   uuid.UUID
	Status      ItemStatus
	RequestedBy *uuid.UUID
	DecidedBy   *uuid.UUID
	DecidedAt   *time.Time
	Comment     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ItemRepo 审批项仓储接口
type ItemRepo interface {
	Create(ctx context.Context, it *Item) error
	Update(ctx context.Context, it *Item) error
	GetByID(ctx context.Context, id uuid.UUID) (*Item, error)
	GetPendingByStorage(ctx context.Context, storageID uuid.UUID) (*Item, error)
	ListPending(ctx context.Context) ([]*Item, error)
}

// StorageApprover 审批通过后回写存储状态
type StorageApprover interface {
	Approve(ctx context.Context, actor core.Actor, storageID uuid.UUID) error
}

// ApprovalUseCase 存储审批队列用例
type ApprovalUseCase struct {
	repo     ItemRepo
	storages StorageApprover
	logger   *zap.Logger
}

// NewApprovalUseCase 创建审批用例
func NewApprovalUseCase(repo ItemRepo, storages StorageApprover, logger *zap.Logger) *ApprovalUseCase {
	return &ApprovalUseCase{repo: repo, storages: storages, logger: logger}
}

// RequestStorageApproval 为存储排入审批项,已有待审项时复用
func (uc *ApprovalUseCase) RequestStorageApproval(ctx context.Context, actor core.Actor, storageID uuid.UUID) error {
	existing, err := uc.repo.GetPendingByStorage(ctx, storageID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	now := time.Now()
	it := &Item{
		ID:        uuid.New(),
		StorageID: storageID,
		Status:    ItemPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !actor.IsZero() {
		id := actor.ID
		it.RequestedBy = &id
	}
	return uc.repo.Create(ctx, it)
}

// ListPending 列出全部待审项
func (uc *ApprovalUseCase) ListPending(ctx context.Context) ([]*Item, error) {
	return uc.repo.ListPending(ctx)
}

// Approve 通过审批并放行对应存储
func (uc *ApprovalUseCase) Approve(ctx context.Context, actor core.Actor, itemID uuid.UUID, comment string) error {
	it, err := uc.get(ctx, itemID)
	if err != nil {
		return err
	}
	if it.Status != ItemPending {
		return apperrors.New(apperrors.ErrInvalidParams, "approval item already decided")
	}

	if err := uc.storages.Approve(ctx, actor, it.StorageID); err != nil {
		return err
	}
	uc.decide(it, actor, ItemApproved, comment)
	return uc.repo.Update(ctx, it)
}

// Reject 驳回审批,存储保持不可用
func (uc *ApprovalUseCase) Reject(ctx context.Context, actor core.Actor, itemID uuid.UUID, comment string) error {
	it, err := uc.get(ctx, itemID)
	if err != nil {
		return err
	}
	if it.Status != ItemPending {
		return apperrors.New(apperrors.ErrInvalidParams, "approval item already decided")
	}
	uc.decide(it, actor, ItemRejected, comment)
	return uc.repo.Update(ctx, it)
}

func (uc *ApprovalUseCase) get(ctx context.Context, id uuid.UUID) (*Item, error) {
	it, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, apperrors.New(apperrors.ErrNotFound, "approval item")
	}
	return it, nil
}

func (uc *ApprovalUseCase) decide(it *Item, actor core.Actor, status ItemStatus, comment string) {
	now := time.Now()
	it.Status = status
	it.Comment = comment
	it.DecidedAt = &now
	it.UpdatedAt = now
	if !actor.IsZero() {
		id := actor.ID
		it.DecidedBy = &id
	}
}
