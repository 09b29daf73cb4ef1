package core

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"deploy-server/internal/core/deploy"
	"deploy-server/internal/core/payload"
)

var (
	// ErrUnknownRepository 没有实例配置了该仓库
	ErrUnknownRepository = errors.New("unknown repository")
	// ErrEngineStopped 引擎已停止, 不再接收事件
	ErrEngineStopped = errors.New("core engine stopped")
)

// CoreEngine CD核心引擎, 每个事件在独立的 goroutine 上交给对应的编排器
type CoreEngine struct {
	registry *deploy.Registry
	logger   *zap.Logger

	// 流水线不随停止而中断, 取消只在阶段检查点生效
	ctx context.Context

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewCoreEngine 创建核心引擎
func NewCoreEngine(registry *deploy.Registry, logger *zap.Logger) *CoreEngine {
	return &CoreEngine{
		registry: registry,
		logger:   logger,
		ctx:      context.Background(),
	}
}

// Registry 编排器注册表
func (e *CoreEngine) Registry() *deploy.Registry {
	return e.registry
}

// Submit 把 webhook 事件分发给仓库的所有实例, 返回匹配的实例数
func (e *CoreEngine) Submit(ev *payload.Event) (int, error) {
	targets := e.registry.ForRepository(ev.Repository)
	if len(targets) == 0 {
		return 0, ErrUnknownRepository
	}
	for _, o := range targets {
		o := o
		if err := e.spawn(func(ctx context.Context) { o.HandleEvent(ctx, ev) }); err != nil {
			return 0, err
		}
	}
	e.logger.Info("事件已分发",
		zap.String("event_id", ev.ID),
		zap.String("repository", ev.Repository),
		zap.String("ref", ev.Ref()),
		zap.Int("targets", len(targets)))
	return len(targets), nil
}

// SubmitTo 把事件交给指定实例, 用于手工回滚
func (e *CoreEngine) SubmitTo(name string, ev *payload.Event) error {
	o, ok := e.registry.Get(name)
	if !ok {
		return ErrUnknownRepository
	}
	return e.spawn(func(ctx context.Context) { o.HandleEvent(ctx, ev) })
}

// spawn 在独立 goroutine 上执行, 停止后拒绝
func (e *CoreEngine) spawn(fn func(ctx context.Context)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrEngineStopped
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("部署流水线 panic", zap.Any("panic", r), zap.Stack("stack"))
			}
		}()
		fn(e.ctx)
	}()
	return nil
}

// Stop 停止接收事件并等待进行中的流水线
func (e *CoreEngine) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	e.logger.Info("正在停止核心引擎...")
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("核心引擎已停止")
		return nil
	case <-ctx.Done():
		e.logger.Warn("等待部署流水线超时, 强制退出")
		return ctx.Err()
	}
}
