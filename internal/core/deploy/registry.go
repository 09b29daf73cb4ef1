package deploy

import (
	"context"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"deploy-server/internal/core/source"
	"deploy-server/internal/pkg/config"
	"deploy-server/internal/pkg/shell"
)

// Registry 实例名到编排器的映射, 启动时构建一次
type Registry struct {
	items map[string]*Orchestrator
	names []string
}

// NewRegistry 由编排器列表创建注册表, 保持传入顺序
func NewRegistry(orchestrators ...*Orchestrator) *Registry {
	r := &Registry{items: make(map[string]*Orchestrator, len(orchestrators))}
	for _, o := range orchestrators {
		if _, ok := r.items[o.Name()]; ok {
			continue
		}
		r.items[o.Name()] = o
		r.names = append(r.names, o.Name())
	}
	return r
}

// BuildRegistry 按配置为每个仓库创建源码执行器与编排器
func BuildRegistry(cfg *config.Config, runner shell.Runner, fs afero.Fs, audit AuditSink, notifier Notifier, logger *zap.Logger) (*Registry, error) {
	opts := source.OptionsFrom(&cfg.Core.Deploy)

	orchestrators := make([]*Orchestrator, 0, len(cfg.Repositories))
	for i := range cfg.Repositories {
		repoCfg := &cfg.Repositories[i]
		src, err := source.New(repoCfg, opts, runner, fs, logger)
		if err != nil {
			return nil, errors.Wrapf(err, "repository %s", repoCfg.Name)
		}
		orchestrators = append(orchestrators, New(Options{
			Name:       repoCfg.Name,
			Repository: repoCfg.Repository,
			Instance:   cfg.Server.InstanceName,
			Strategy:   repoCfg.Strategy,
			Branch:     repoCfg.Branch,
			AutoDeploy: repoCfg.AutoDeployEnabled(),
		}, src, audit, notifier, logger))
	}
	return NewRegistry(orchestrators...), nil
}

// Get 按实例名查找
func (r *Registry) Get(name string) (*Orchestrator, bool) {
	o, ok := r.items[name]
	return o, ok
}

// ForRepository github 仓库对应的所有实例(同一仓库可按分支配置多个)
func (r *Registry) ForRepository(repo string) []*Orchestrator {
	return lo.Filter(r.All(), func(o *Orchestrator, _ int) bool {
		return o.Repository() == repo
	})
}

// Names 所有实例名, 按配置顺序
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// All 所有编排器, 按配置顺序
func (r *Registry) All() []*Orchestrator {
	return lo.Map(r.names, func(n string, _ int) *Orchestrator {
		return r.items[n]
	})
}

// RefreshAll 刷新所有空闲实例的提交与 tag 快照
func (r *Registry) RefreshAll(ctx context.Context) int {
	n := 0
	for _, o := range r.All() {
		if o.Refresh(ctx) {
			n++
		}
	}
	return n
}
