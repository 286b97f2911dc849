package core

import "github.com/google/uuid"

// Actor 执行操作的用户身份
type Actor struct {
	ID    uuid.UUID
	Email string
	// CanHardDeleteDatasets 是否允许删除他人或已发布的数据集
	CanHardDeleteDatasets bool
}

// IsZero 判断是否为空身份
func (a Actor) IsZero() bool {
	return a.ID == uuid.Nil
}

// Impersonate 以指定用户身份构造 Actor,用于后台任务代替创建者执行清理
func Impersonate(userID uuid.UUID) Actor {
	return Actor{ID: userID}
}

// AuditInfo 记录创建者与最后修改者
type AuditInfo struct {
	CreatedByID *uuid.UUID
	UpdatedByID *uuid.UUID
}

// Touch 更新审计信息,首次写入时同时记录创建者
func (a *AuditInfo) Touch(actor Actor) {
	if actor.IsZero() {
		return
	}
	id := actor.ID
	if a.CreatedByID == nil {
		a.CreatedByID = &id
	}
	a.UpdatedByID = &id
}
