package sse

import (
	"fmt"
	"sync/atomic"
)

// ProgressTracker 批量任务进度跟踪器
type ProgressTracker struct {
	stream       *Stream
	total        int
	completed    atomic.Int32
	successCount atomic.Int32
	failedCount  atomic.Int32
}

// NewProgressTracker 创建进度跟踪器
func NewProgressTracker(stream *Stream, total int) *ProgressTracker {
	return &ProgressTracker{
		stream: stream,
		total:  total,
	}
}

// Start 发送开始事件
func (t *ProgressTracker) Start() error {
	return t.stream.Send("batch-start", map[string]interface{}{
		"total_count": t.total,
		"message":     fmt.Sprintf("Starting batch processing of %d items", t.total),
	})
}

// Complete 发送完成事件
func (t *ProgressTracker) Complete() error {
	success := int(t.successCount.Load())
	failed := int(t.failedCount.Load())

	return t.stream.Send("batch-complete", map[string]interface{}{
		"total_count":   t.total,
		"success_count": success,
		"failed_count":  failed,
		"message":       fmt.Sprintf("Batch processing completed: %d succeeded, %d failed", success, failed),
	})
}
