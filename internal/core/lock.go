package core

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/rdm-platform/rdm-backend/internal/pkg/errors"
)

// DefaultMaxLockMinutes 未配置时的锁有效期(分钟)
const DefaultMaxLockMinutes = 20

// LockState 乐观编辑锁状态
type LockState struct {
	Locked     bool
	LockedByID *uuid.UUID
	LockedAt   *time.Time
}

// Acquire 以指定用户加锁,重复加锁会刷新时间戳
func (l *LockState) Acquire(actor Actor, now time.Time) {
	id := actor.ID
	l.Locked = true
	l.LockedByID = &id
	l.LockedAt = &now
}

// Release 解锁并清空持有者信息
func (l *LockState) Release() {
	l.Locked = false
	l.LockedByID = nil
	l.LockedAt = nil
}

// HeldBy 判断锁是否由指定用户持有
func (l LockState) HeldBy(actor Actor) bool {
	return l.Locked && l.LockedByID != nil && *l.LockedByID == actor.ID
}

// Expired 判断锁是否已超过有效期,maxLock 为 0 时视为立即过期
func (l LockState) Expired(now time.Time, maxLock time.Duration) bool {
	if !l.Locked || l.LockedAt == nil {
		return false
	}
	return now.Sub(*l.LockedAt) >= maxLock
}

// ReleaseExpired 释放已过期的锁,返回是否发生了释放
func (l *LockState) ReleaseExpired(now time.Time, maxLock time.Duration) bool {
	if !l.Expired(now, maxLock) {
		return false
	}
	l.Release()
	return true
}

// PrepareWrite 按保存协议处理锁:先释放过期锁,再拒绝他人持有的锁,
// 最后按 autoRelease 决定是否在保存时自动解锁。返回值表示本次调用
// 是否发生了解锁,调用方据此广播锁状态变更
func (l *LockState) PrepareWrite(actor Actor, now time.Time, maxLock time.Duration, autoRelease bool) (bool, error) {
	if !l.Locked {
		return false, nil
	}

	released := l.ReleaseExpired(now, maxLock)

	if l.Locked && !l.HeldBy(actor) {
		return released, apperrors.New(apperrors.ErrLocked)
	}

	if l.Locked && autoRelease {
		l.Release()
		released = true
	}

	return released, nil
}
