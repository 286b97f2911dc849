package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("worker pool is closed")

// Statistics 运行统计
type Statistics struct {
	Submitted int64
	Completed int64
	Failed    int64
}

// Pool 基于 ants 的固定容量协程池,封装等待与统计
type Pool struct {
	pool   *ants.Pool
	wg     sync.WaitGroup
	logger *zap.Logger
	closed atomic.Bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// New 创建协程池,size 不大于 0 时使用 ants 默认容量
func New(size int, logger *zap.Logger) (*Pool, error) {
	p, err := ants.NewPool(size, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	return &Pool{pool: p, logger: logger}, nil
}

// Submit 提交任务。任务返回的错误只计入统计并记录日志
func (p *Pool) Submit(ctx context.Context, task func(ctx context.Context) error) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.submitted.Add(1)
	p.wg.Add(1)
	err := p.pool.Submit(func() {
		defer p.wg.Done()
		if err := task(ctx); err != nil {
			p.failed.Add(1)
			p.logger.Error("worker task failed", zap.Error(err))
			return
		}
		p.completed.Add(1)
	})
	if err != nil {
		p.wg.Done()
		p.submitted.Add(-1)
		return err
	}
	return nil
}

// Wait 阻塞直到所有已提交任务结束
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Stats 返回统计快照
func (p *Pool) Stats() Statistics {
	return Statistics{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Running 当前正在执行的任务数
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Release 关闭池并等待尚未完成的任务
func (p *Pool) Release() {
	if p.closed.Swap(true) {
		return
	}
	p.wg.Wait()
	p.pool.Release()
}
