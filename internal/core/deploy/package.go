package deploy

import (
	"context"

	"deploy-server/internal/core/payload"
)

// deployPackage 发布 tag 的打包部署
//
// clean 10 -> fetch 20 -> reset 30 -> install 40 -> post actions 50 -> backup 60 -> package 70 -> 逐台发布 80~100.
func (o *Orchestrator) deployPackage(ctx context.Context, ev *payload.Event, prev string) StageResult {
	if r := o.stage(ctx, ev, "清理工作区", 10); !r.Continue() {
		return r
	}
	if err := o.src.Clean(ctx); err != nil {
		return Failed(err)
	}

	if r := o.stage(ctx, ev, "拉取 tag", 20); !r.Continue() {
		return r
	}
	if err := o.src.Fetch(ctx); err != nil {
		return Failed(err)
	}

	if r := o.stage(ctx, ev, "重置到 "+ev.Tag, 30); !r.Continue() {
		return r
	}
	if err := o.src.Reset(ctx, ev.Tag); err != nil {
		return Failed(err)
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

	if r := o.stage(ctx, ev, "安装依赖", 40); !r.Continue() {
		return r
	}
	if err := o.src.InstallPackages(ctx, files); err != nil {
		return Failed(err)
	}

	if r := o.stage(ctx, ev, "执行后置命令", 50); !r.Continue() {
		return r
	}
	if err := o.src.RunPostActions(ctx); err != nil {
		return Failed(err)
	}

	if r := o.stage(ctx, ev, "备份", 60); !r.Continue() {
		return r
	}
	backup, err := o.src.Backup(ctx)
	if err != nil {
		return Failed(err)
	}
	o.mu.Lock()
	o.st.backupFile = backup
	o.mu.Unlock()

	if r := o.stage(ctx, ev, "打包", 70); !r.Continue() {
		return r
	}
	pkg, err := o.src.Package(ctx, ev.Tag)
	if err != nil {
		return Failed(err)
	}
	o.mu.Lock()
	o.st.packageFile = pkg
	o.mu.Unlock()

	services := o.src.RestartSet(files)
	o.logger.Infof("[Deploy: %s] 变更文件 %d 个, 需要重启 %v", o.opts.Name, len(files), services)
	release := func(ctx context.Context, host string) error {
		return o.src.Release(ctx, pkg, host)
	}
	if r := o.releaseHosts(ctx, 80, 100, services, release, o.deployCheckpoint(ctx, ev)); !r.Continue() {
		return r
	}
	return o.stage(ctx, ev, "完成", 100)
}

// rollbackPackage 有备份与发布包时把备份发布到所有主机, 最后重置到部署前的提交
func (o *Orchestrator) rollbackPackage(ctx context.Context, ev *payload.Event, base, backup, pkg string) error {
	o.progress("回滚: 对比变更", 20)
	files, err := o.src.ChangedFiles(ctx, base, ev.HeadCommit)
	if err != nil {
		o.logger.Warnf("[Deploy: %s] 回滚时无法对比 %s..%s, 视为无变更: %v", o.opts.Name, base, ev.HeadCommit, err)
		files = nil
	}

	o.progress("回滚: 计算重启服务", 40)
	services := o.src.RestartSet(files)

	if backup != "" && pkg != "" {
		release := func(ctx context.Context, host string) error {
			return o.src.Release(ctx, backup, host)
		}
		if r := o.releaseHosts(ctx, 50, 90, services, release, o.rollbackCheckpoint()); !r.Continue() {
			return r.Err
		}
	} else {
		o.logger.Infof("[Deploy: %s] 没有备份与发布包, 跳过主机回滚", o.opts.Name)
	}

	o.progress("回滚: 重置代码", 90)
	return o.resetTo(ctx, base)
}
