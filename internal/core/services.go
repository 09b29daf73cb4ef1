package core

import (
	"deploy-server/internal/core/deploy"
)

func (e *CoreEngine) get(name string) (*deploy.Orchestrator, error) {
	o, ok := e.registry.Get(name)
	if !ok {
		return nil, ErrUnknownRepository
	}
	return o, nil
}

// Cancel 取消实例当前的部署
func (e *CoreEngine) Cancel(name, operator string) error {
	o, err := e.get(name)
	if err != nil {
		return err
	}
	return o.Cancel(operator)
}

// EnableAutoDeploy 开启自动部署, 空闲时继续执行等待队列
func (e *CoreEngine) EnableAutoDeploy(name string) error {
	o, err := e.get(name)
	if err != nil {
		return err
	}
	o.EnableAutoDeploy()
	return e.spawn(o.Resume)
}

// DisableAutoDeploy 关闭自动部署
func (e *CoreEngine) DisableAutoDeploy(name string) error {
	o, err := e.get(name)
	if err != nil {
		return err
	}
	o.DisableAutoDeploy()
	return nil
}

// GetStatus 实例状态快照
func (e *CoreEngine) GetStatus(name string) (*deploy.Snapshot, error) {
	o, err := e.get(name)
	if err != nil {
		return nil, err
	}
	snap := o.Snapshot()
	return &snap, nil
}
