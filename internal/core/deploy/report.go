package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"deploy-server/internal/adapter/notification"
	"deploy-server/internal/core/payload"
	"deploy-server/internal/model"
	"deploy-server/internal/pkg/metrics"
)

// record 写入审计日志, 失败只记录日志
func (o *Orchestrator) record(ctx context.Context, ev *payload.Event, typ, result string, started time.Time, err, rbErr error) {
	now := o.now()
	entry := &model.DeployLog{
		EventID:          ev.ID,
		Repository:       o.opts.Name,
		Type:             typ,
		Result:           result,
		CostTime:         now.Sub(started).Seconds(),
		CreatedTimestamp: now.Unix(),
	}
	if err != nil {
		entry.Exception = err.Error()
		entry.Trace = fmt.Sprintf("%+v", err)
	}
	if rbErr != nil {
		entry.RollbackException = rbErr.Error()
		entry.RollbackTrace = fmt.Sprintf("%+v", rbErr)
	}

	snap, jerr := json.Marshal(o.Snapshot())
	if jerr != nil {
		o.logger.Warnf("[Deploy: %s] 序列化状态快照失败: %v", o.opts.Name, jerr)
	} else {
		entry.StatusSnapshot = datatypes.JSON(snap)
	}

	metrics.ObserveOutcome(o.opts.Name, typ, result)
	metrics.ObserveDuration(o.opts.Name, typ, now.Sub(started))

	if o.audit == nil {
		return
	}
	if aerr := o.audit.Create(ctx, entry); aerr != nil {
		o.logger.Errorf("[Deploy: %s] 写入审计日志失败: %v", o.opts.Name, aerr)
	}
}

// notify 发送通知, 错误与 panic 都不会传回流水线
func (o *Orchestrator) notify(ctx context.Context, typ notification.NotificationType, ev *payload.Event, started time.Time, err, rbErr error) {
	if o.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Errorf("[Deploy: %s] 发送通知 panic: %v", o.opts.Name, r)
		}
	}()

	o.mu.Lock()
	notice := &notification.DeployNotice{
		Type:        typ,
		Instance:    o.opts.Instance,
		Repository:  o.opts.Name,
		Event:       ev,
		Tag:         o.st.lastCommitTag,
		StartedAt:   started,
		FinishedAt:  o.now(),
		CancelledBy: o.st.cancelledBy,
		CancelledAt: o.st.cancelledAt,
	}
	o.mu.Unlock()

	if err != nil {
		notice.Trace = fmt.Sprintf("%+v", err)
	}
	if rbErr != nil {
		notice.RollbackTrace = fmt.Sprintf("%+v", rbErr)
	}

	if nerr := o.notifier.SendDeployNotification(ctx, notice); nerr != nil {
		o.logger.Errorf("[Deploy: %s] 发送通知失败: %v", o.opts.Name, nerr)
	}
}
