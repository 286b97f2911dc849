package biz

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rdm-platform/rdm-backend/internal/core"
	apperrors "github.com/rdm-platform/rdm-backend/internal/pkg/errors"
)

type memItemRepo struct {
	items map[uuid.UUID]*Item
}

func (r *memItemRepo) Create(ctx context.Context, it *Item) error {
	c := *it
	r.items[it.ID] = &c
	return nil
}
func (r *memItemRepo) Update(ctx context.Context, it *Item) error {
	c := *it
	r.items[it.ID] = &c
	return nil
}
func (r *memItemRepo) GetByID(ctx context.Context, id uuid.UUID) (*Item, error) {
	if it, ok := r.items[id]; ok {
		c := *it
		return &c, nil
	}
	return nil, nil
}
func (r *memItemRepo) GetPendingByStorage(ctx context.Context, storageID uuid.UUID) (*Item, error) {
	for _, it := range r.items {
		if it.StorageID == storageID && it.Status == ItemPending {
			c := *it
			return &c, nil
		}
	}
	return nil, nil
}
func (r *memItemRepo) ListPending(ctx context.Context) ([]*Item, error) {
	var out []*Item
	for _, it := range r.items {
		if it.Status == ItemPending {
			c := *it
			out = append(out, &c)
		}
	}
	return out, nil
}

type recordingApprover struct {
	approved []uuid.UUID
}

func (r *recordingApprover) Approve(ctx context.Context, actor core.Actor, storageID uuid.UUID) error {
	r.approved = append(r.approved, storageID)
	return nil
}

func newApprovalFixture() (*ApprovalUseCase, *memItemRepo, *recordingApprover) {
	repo := &memItemRepo{items: map[uuid.UUID]*Item{}}
	approver := &recordingApprover{}
	return NewApprovalUseCase(repo, approver, zap.NewNop()), repo, approver
}

func TestRequestStorageApprovalDeduplicates(t *testing.T) {
	uc, repo, _ := newApprovalFixture()
	ctx := context.Background()
	actor := core.Actor{ID: uuid.New()}
	storageID := uuid.New()

	require.NoError(t, uc.RequestStorageApproval(ctx, actor, storageID))
	require.NoError(t, uc.RequestStorageApproval(ctx, actor, storageID))
	assert.Len(t, repo.items, 1)
}

func TestApproveFlipsStorage(t *testing.T) {
	uc, repo, approver := newApprovalFixture()
	ctx := context.Background()
	requester := core.Actor{ID: uuid.New()}
	admin := core.Actor{ID: uuid.New()}
	storageID := uuid.New()

	require.NoError(t, uc.RequestStorageApproval(ctx, requester, storageID))
	pending, err := uc.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, uc.Approve(ctx, admin, pending[0].ID, "looks good"))
	require.Len(t, approver.approved, 1)
	assert.Equal(t, storageID, approver.approved[0])

	it, err := repo.GetByID(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, ItemApproved, it.Status)
	require.NotNil(t, it.DecidedBy)
	assert.Equal(t, admin.ID, *it.DecidedBy)

	// 已裁决的审批项不可重复裁决
	err = uc.Approve(ctx, admin, pending[0].ID, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidParams))
}

func TestRejectKeepsStorageUnapproved(t *testing.T) {
	uc, repo, approver := newApprovalFixture()
	ctx := context.Background()
	admin := core.Actor{ID: uuid.New()}
	storageID := uuid.New()

	require.NoError(t, uc.RequestStorageApproval(ctx, core.Actor{}, storageID))
	pending, err := uc.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Nil(t, pending[0].RequestedBy)

	require.NoError(t, uc.Reject(ctx, admin, pending[0].ID, "path outside quota"))
	assert.Empty(t, approver.approved)

	it, err := repo.GetByID(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, ItemRejected, it.Status)
	assert.Equal(t, "path outside quota", it.Comment)
}
