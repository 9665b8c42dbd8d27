package workerpool

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var (
	ErrPoolClosed   = errors.New("worker pool is closed")
	ErrPoolOverload = errors.New("worker pool is overloaded")
)

// Config Worker Pool 配置
type Config struct {
	Size      int `mapstructure:"size"`       // worker 数量
	QueueSize int `mapstructure:"queue_size"` // 等待队列上限，超过后 Submit 返回 ErrPoolOverload
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Size:      16,
		QueueSize: 1024,
	}
}

// Statistics 统计信息
type Statistics struct {
	Submitted int64 // 已提交
	Completed int64 // 已完成
	Failed    int64 // panic 的任务
	Rejected  int64 // 被拒绝
}

// Pool 基于 ants 的后台任务池，用于请求之外的异步工作
type Pool struct {
	pool   *ants.Pool
	logger *zap.Logger

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// New 创建 Worker Pool
func New(config *Config, logger *zap.Logger) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Size <= 0 {
		return nil, fmt.Errorf("worker pool size must be > 0, got %d", config.Size)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{logger: logger}

	antsPool, err := ants.NewPool(config.Size,
		ants.WithMaxBlockingTasks(config.QueueSize),
		ants.WithPanicHandler(func(err any) {
			p.failed.Add(1)
			logger.Error("worker panic", zap.Any("error", err), zap.Stack("stacktrace"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}
	p.pool = antsPool
	return p, nil
}

// Submit 提交任务；池已关闭或队列已满时返回错误，任务不会执行
func (p *Pool) Submit(task func()) error {
	err := p.pool.Submit(func() {
		task()
		p.completed.Add(1)
	})
	switch {
	case err == nil:
		p.submitted.Add(1)
		return nil
	case errors.Is(err, ants.ErrPoolClosed):
		p.rejected.Add(1)
		return ErrPoolClosed
	case errors.Is(err, ants.ErrPoolOverload):
		p.rejected.Add(1)
		return ErrPoolOverload
	default:
		p.rejected.Add(1)
		return err
	}
}

// Running 正在运行的 worker 数
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Stats 统计信息快照
func (p *Pool) Stats() Statistics {
	return Statistics{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Shutdown 停止接收新任务并等待已提交任务完成，最多等待 timeout
func (p *Pool) Shutdown(timeout time.Duration) error {
	err := p.pool.ReleaseTimeout(timeout)
	stats := p.Stats()
	p.logger.Info("worker pool stopped",
		zap.Int64("submitted", stats.Submitted),
		zap.Int64("completed", stats.Completed),
		zap.Int64("failed", stats.Failed),
		zap.Int64("rejected", stats.Rejected),
	)
	return err
}
