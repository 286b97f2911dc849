package data

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rdm-platform/rdm-backend/internal/approval/biz"
	"github.com/rdm-platform/rdm-backend/internal/pkg/database"
)

// ItemPO 审批项数据库模型
type ItemPO struct {
	ID          uuid.UUID  `gorm:"type:uuid;primarykey"`
	StorageID   uuid.UUID  `gorm:"column:storage_id;type:uuid;not null;index:idx_approval_storage"`
	Status      string     `gorm:"column:status;size:32;not null;default:'pending';index:idx_approval_status"`
	RequestedBy *uuid.UUID `gorm:"column:requested_by;type:uuid"`
	DecidedBy   *uuid.UUID `gorm:"column:decided_by;type:uuid"`
	DecidedAt   *time.Time `gorm:"column:decided_at"`
	Comment     string     `gorm:"column:comment;type:text"`
	CreatedAt   time.Time  `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

func (ItemPO) TableName() string {
	return "storage_approvals"
}

// ItemRepo 审批项仓储实现
type ItemRepo struct {
	db *database.DB
}

// NewItemRepo 创建审批项仓储
func NewItemRepo(db *database.DB) *ItemRepo {
	return &ItemRepo{db: db}
}

// Create 创建审批项
func (r *ItemRepo) Create(ctx context.Context, it *biz.Item) error {
	if err := r.db.WithContext(ctx).GetDB().Create(itemToPO(it)).Error; err != nil {
		return fmt.Errorf("failed to create approval item: %w", err)
	}
	return nil
}

// Update 更新审批项
func (r *ItemRepo) Update(ctx context.Context, it *biz.Item) error {
	po := itemToPO(it)
	po.UpdatedAt = time.Now()
	err := r.db.WithContext(ctx).GetDB().Model(&ItemPO{}).Where("id = ?", po.ID).
		Updates(map[string]interface{}{
			"status":     po.Status,
			"decided_by": po.DecidedBy,
			"decided_at": po.DecidedAt,
			"comment":    po.Comment,
			"updated_at": po.UpdatedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update approval item: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取审批项
func (r *ItemRepo) GetByID(ctx context.Context, id uuid.UUID) (*biz.Item, error) {
	var po ItemPO
	err := r.db.WithContext(ctx).GetDB().Where("id = ?", id).First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get approval item: %w", err)
	}
	return itemToDomain(&po), nil
}

// GetPendingByStorage 获取存储的待审项
func (r *ItemRepo) GetPendingByStorage(ctx context.Context, storageID uuid.UUID) (*biz.Item, error) {
	var po ItemPO
	err := r.db.WithContext(ctx).GetDB().
		Where("storage_id = ?", storageID).
		Where("status = ?", string(biz.ItemPending)).
		First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pending approval: %w", err)
	}
	return itemToDomain(&po), nil
}

// ListPending 按创建顺序列出待审项
func (r *ItemRepo) ListPending(ctx context.Context) ([]*biz.Item, error) {
	var pos []ItemPO
	err := r.db.WithContext(ctx).GetDB().
		Where("status = ?", string(biz.ItemPending)).
		Order("created_at ASC").
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	out := make([]*biz.Item, len(pos))
	for i, po := range pos {
		out[i] = itemToDomain(&po)
	}
	return out, nil
}

func itemToPO(it *biz.Item) *ItemPO {
	return &ItemPO{
		ID:          it.ID,
		StorageID:   it.StorageID,
		Status:      string(it.Status),
		RequestedBy: it.RequestedBy,
		DecidedBy:   it.DecidedBy,
		DecidedAt:   it.DecidedAt,
		Comment:     it.Comment,
		CreatedAt:   it.CreatedAt,
		UpdatedAt:   it.UpdatedAt,
	}
}

func itemToDomain(po *ItemPO) *biz.Item {
	return &biz.Item{
		ID:          po.ID,
		StorageID:   po.StorageID,
		Status:      biz.ItemStatus(po.Status),
		RequestedBy: po.RequestedBy,
		DecidedBy:   po.DecidedBy,
		DecidedAt:   po.DecidedAt,
		Comment:     po.Comment,
		CreatedAt:   po.CreatedAt,
		UpdatedAt:   po.UpdatedAt,
	}
}
