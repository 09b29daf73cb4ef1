package deploy

import (
	"context"
	"time"

	"deploy-server/internal/core/payload"
	"deploy-server/pkg/constants"
)

// rollback 部署失败或取消后的补偿
//
// 开始时关闭自动部署并重置主机状态. 无论成功与否都回到 idle,
// 自动部署保持关闭直到运维重新开启. 回滚错误不重试.
func (o *Orchestrator) rollback(ctx context.Context, ev *payload.Event) error {
	o.mu.Lock()
	o.st.autoDeploy = false
	o.st.status = constants.DeployStatusRollingBack
	o.st.resetHosts()
	base := o.st.baseCommit
	backup, pkg := o.st.backupFile, o.st.packageFile
	o.mu.Unlock()

	o.logger.Warnf("[Deploy: %s] 开始回滚 %s 到 %s", o.opts.Name, ev.Identity(), base)
	started := o.now()

	var err error
	switch o.opts.Strategy {
	case constants.StrategyPackage:
		err = o.rollbackPackage(ctx, ev, base, backup, pkg)
	default:
		err = o.rollbackGit(ctx, ev, base)
	}

	if err != nil {
		o.logger.Errorf("[Deploy: %s] 回滚失败: %+v", o.opts.Name, err)
		o.record(ctx, ev, constants.AuditTypeRollback, constants.AuditResultFail, started, err, nil)
	} else {
		o.logger.Infof("[Deploy: %s] 回滚完成, 耗时 %s", o.opts.Name, o.now().Sub(started).Round(time.Millisecond))
	}

	o.finishRollback(ctx)
	return err
}

// finishRollback 刷新快照后回到 idle, 清空本次的备份与发布包
func (o *Orchestrator) finishRollback(ctx context.Context) {
	o.refreshSnapshot(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.st.toIdle()
	o.st.backupFile = ""
	o.st.packageFile = ""
}

// resetTo 重置到部署前的提交, 未知时跳过
func (o *Orchestrator) resetTo(ctx context.Context, base string) error {
	if base == "" {
		o.logger.Warnf("[Deploy: %s] 没有已知的部署前提交, 跳过重置", o.opts.Name)
		return nil
	}
	return o.src.Reset(ctx, base)
}
