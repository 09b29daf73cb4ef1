package deploy

import (
	"context"

	"deploy-server/internal/core/payload"
)

// deployGit 分支推送的持续部署
//
// clean 20 -> pull 30 -> diff 40 -> install 60 -> post actions 70 -> 逐台同步 80~100.
func (o *Orchestrator) deployGit(ctx context.Context, ev *payload.Event, prev string) StageResult {
	if r := o.stage(ctx, ev, "清理工作区", 20); !r.Continue() {
		return r
	}
	if err := o.src.Clean(ctx); err != nil {
		return Failed(err)
	}

	if r := o.stage(ctx, ev, "拉取代码", 30); !r.Continue() {
		return r
	}
	if err := o.src.Pull(ctx); err != nil {
		return Failed(err)
	}

	if r := o.stage(ctx, ev, "对比变更", 40); !r.Continue() {
		return r
	}
	head, err := o.src.LastCommit(ctx)
	if err != nil {
		return Failed(err)
	}
	files, err := o.src.ChangedFiles(ctx, prev, head)
	if err != nil {
		return Failed(err)
	}
	if len(files) == 0 {
		o.logger.Infof("[Deploy: %s] %s..%s 没有变更", o.opts.Name, prev, head)
		return o.stage(ctx, ev, "完成", 100)
	}

	if r := o.stage(ctx, ev, "安装依赖", 60); !r.Continue() {
		return r
	}
	if err := o.src.InstallPackages(ctx, files); err != nil {
		return Failed(err)
	}

	if r := o.stage(ctx, ev, "执行后置命令", 70); !r.Continue() {
		return r
	}
	if err := o.src.RunPostActions(ctx); err != nil {
		return Failed(err)
	}

	services := o.src.RestartSet(files)
	o.logger.Infof("[Deploy: %s] 变更文件 %d 个, 需要重启 %v", o.opts.Name, len(files), services)
	if r := o.releaseHosts(ctx, 80, 100, services, o.src.Sync, o.deployCheckpoint(ctx, ev)); !r.Continue() {
		return r
	}
	return o.stage(ctx, ev, "完成", 100)
}

// rollbackGit 重置到部署前的提交, 然后逐台同步并重启受影响的服务
func (o *Orchestrator) rollbackGit(ctx context.Context, ev *payload.Event, base string) error {
	o.progress("回滚: 对比变更", 20)
	files, err := o.src.ChangedFiles(ctx, base, ev.HeadCommit)
	if err != nil {
		o.logger.Warnf("[Deploy: %s] 回滚时无法对比 %s..%s, 视为无变更: %v", o.opts.Name, base, ev.HeadCommit, err)
		files = nil
	}

	o.progress("回滚: 计算重启服务", 40)
	services := o.src.RestartSet(files)

	o.progress("回滚: 重置代码", 60)
	if err := o.resetTo(ctx, base); err != nil {
		return err
	}

	r := o.releaseHosts(ctx, 80, 100, services, o.src.Sync, o.rollbackCheckpoint())
	return r.Err
}
