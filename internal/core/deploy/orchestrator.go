package deploy

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"deploy-server/internal/adapter/notification"
	"deploy-server/internal/core/payload"
	"deploy-server/internal/core/tag"
	"deploy-server/internal/core/topology"
	"deploy-server/internal/model"
	"deploy-server/internal/pkg/metrics"
	"deploy-server/pkg/constants"
)

// ErrNotRunning 当前没有运行中的部署
var ErrNotRunning = errors.New("deploy is not running")

// Source 部署流水线依赖的源码操作
type Source interface {
	Hosts() []string
	RestartSet(files []string) []topology.ServiceID

	Clean(ctx context.Context) error
	Fetch(ctx context.Context) error
	Pull(ctx context.Context) error
	Reset(ctx context.Context, ref string) error
	ChangedFiles(ctx context.Context, from, to string) ([]string, error)
	LastCommit(ctx context.Context) (string, error)
	CommitTag(ctx context.Context, commit string) *tag.Tag
	ReleaseTags(ctx context.Context) ([]*tag.Tag, error)

	InstallPackages(ctx context.Context, files []string) error
	RunPostActions(ctx context.Context) error

	Sync(ctx context.Context, host string) error
	Backup(ctx context.Context) (string, error)
	Package(ctx context.Context, tagName string) (string, error)
	Release(ctx context.Context, archive, host string) error
	RestartServices(ctx context.Context, ids []topology.ServiceID, host string) error
	PruneArtifacts() ([]string, error)
}

// AuditSink 审计日志, 只追加
type AuditSink interface {
	Create(ctx context.Context, log *model.DeployLog) error
}

// Notifier 部署结果通知
type Notifier interface {
	SendDeployNotification(ctx context.Context, notice *notification.DeployNotice) error
}

// Options 编排器参数
type Options struct {
	Name       string             // 配置中的实例名
	Repository string             // github 仓库名
	Instance   string             // 服务实例名, 用于通知标题
	Strategy   constants.Strategy // git / package
	Branch     string             // git 策略跟踪的分支
	AutoDeploy bool
}

// Orchestrator 单个仓库的部署状态机
//
// mu 只在状态迁移时持有, 流水线执行期间释放, 使新事件可以在部署进行中排队.
type Orchestrator struct {
	opts     Options
	src      Source
	audit    AuditSink
	notifier Notifier
	logger   *zap.SugaredLogger

	mu sync.Mutex
	st state

	now func() time.Time
}

// New 创建编排器
func New(opts Options, src Source, audit AuditSink, notifier Notifier, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		opts:     opts,
		src:      src,
		audit:    audit,
		notifier: notifier,
		logger:   logger.Sugar().With(zap.String("repo", opts.Name)),
		st:       newState(src.Hosts(), opts.AutoDeploy),
		now:      time.Now,
	}
}

// Name 实例名
func (o *Orchestrator) Name() string {
	return o.opts.Name
}

// Repository github 仓库名
func (o *Orchestrator) Repository() string {
	return o.opts.Repository
}

// Strategy 部署策略
func (o *Orchestrator) Strategy() constants.Strategy {
	return o.opts.Strategy
}

// HandleEvent 接收事件
//
// 自动部署关闭或准入失败时静默丢弃. 空闲时在调用方 goroutine 上执行流水线,
// 忙碌时追加到等待队列. 空闲但队列非空时新事件排到队尾, 先执行队首.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev *payload.Event) {
	o.mu.Lock()
	if !o.st.autoDeploy {
		o.mu.Unlock()
		o.logger.Infof("[Deploy: %s] 自动部署已关闭, 丢弃事件 %s(%s)", o.opts.Name, ev.ID, ev.Identity())
		return
	}
	if !o.admit(ev) {
		o.mu.Unlock()
		return
	}
	if o.st.status != constants.DeployStatusIdle {
		o.st.waiting = append(o.st.waiting, ev)
		o.mu.Unlock()
		o.logger.Infof("[Deploy: %s] 部署进行中, 事件 %s(%s) 进入等待队列", o.opts.Name, ev.ID, ev.Identity())
		return
	}
	if len(o.st.waiting) > 0 {
		o.st.waiting = append(o.st.waiting, ev)
		ev = o.st.dequeue()
	}
	o.beginLocked(ev)
	o.mu.Unlock()

	o.run(ctx, ev)
}

// Resume 空闲且自动部署开启时执行等待队列的队首
func (o *Orchestrator) Resume(ctx context.Context) {
	o.mu.Lock()
	if !o.st.autoDeploy || o.st.status != constants.DeployStatusIdle || len(o.st.waiting) == 0 {
		o.mu.Unlock()
		return
	}
	ev := o.st.dequeue()
	o.beginLocked(ev)
	o.mu.Unlock()

	o.run(ctx, ev)
}

// admit 策略准入, 调用方持有锁
func (o *Orchestrator) admit(ev *payload.Event) bool {
	switch o.opts.Strategy {
	case constants.StrategyGit:
		if ev.Kind != payload.KindBranch || ev.Branch != o.opts.Branch {
			o.logger.Debugf("[Deploy: %s] 忽略非 %s 分支事件 %s", o.opts.Name, o.opts.Branch, ev.Ref())
			return false
		}
		return true
	case constants.StrategyPackage:
		if !ev.IsTag() {
			o.logger.Debugf("[Deploy: %s] 忽略非 tag 事件 %s", o.opts.Name, ev.Ref())
			return false
		}
		if !tag.IsRelease(ev.Tag) {
			o.logger.Infof("[Deploy: %s] tag %s 不符合发布格式, 忽略", o.opts.Name, ev.Tag)
			return false
		}
		return true
	}
	return false
}

// beginLocked 进入 running, 调用方持有锁
func (o *Orchestrator) beginLocked(ev *payload.Event) {
	o.st.status = constants.DeployStatusRunning
	o.st.running = ev
	o.st.clearCancel()
	o.st.resetHosts()
	o.st.backupFile = ""
	o.st.packageFile = ""
	o.st.stage = ""
	o.st.percent = 0
	o.st.startedAt = o.now()
	o.st.baseCommit = o.st.lastCommit
	o.st.generation++
}

// run 依次执行事件及部署成功后排队的事件
func (o *Orchestrator) run(ctx context.Context, ev *payload.Event) {
	for ev != nil {
		ev = o.deployOne(ctx, ev)
	}
}

// deployOne 执行一次部署并处理结果, 返回下一个要执行的事件
func (o *Orchestrator) deployOne(ctx context.Context, ev *payload.Event) *payload.Event {
	o.mu.Lock()
	started := o.st.startedAt
	prev := o.st.baseCommit
	o.mu.Unlock()

	o.logger.Infof("[Deploy: %s] 开始部署 %s, 事件 %s, 上次提交 %s", o.opts.Name, ev.Identity(), ev.ID, prev)

	var res StageResult
	switch o.opts.Strategy {
	case constants.StrategyPackage:
		res = o.deployPackage(ctx, ev, prev)
	default:
		res = o.deployGit(ctx, ev, prev)
	}

	switch {
	case res.Continue():
		return o.complete(ctx, ev, started)
	case res.Cancelled():
		o.reportCancel(ctx, ev, started, res.Err)
	case res.Failed():
		o.handleFailure(ctx, ev, started, res.Err)
	}
	return nil
}

// complete 部署成功: 刷新快照, 记录并通知, 然后取等待队列的队首或回到空闲
func (o *Orchestrator) complete(ctx context.Context, ev *payload.Event, started time.Time) *payload.Event {
	o.refreshSnapshot(ctx)

	auditType := constants.AuditTypeDeploy
	if ev.Kind == payload.KindRollback {
		auditType = constants.AuditTypeRollback
	}
	o.record(ctx, ev, auditType, constants.AuditResultSuccess, started, nil, nil)
	o.notify(ctx, notification.NotifyDeploySuccess, ev, started, nil, nil)
	o.logger.Infof("[Deploy: %s] 部署 %s 完成, 耗时 %s", o.opts.Name, ev.Identity(), o.now().Sub(started).Round(time.Millisecond))

	o.mu.Lock()
	defer o.mu.Unlock()
	next := o.st.dequeue()
	if next == nil {
		o.st.toIdle()
		return nil
	}
	o.beginLocked(next)
	return next
}

// handleFailure 部署出错后记录, 通知并回滚
func (o *Orchestrator) handleFailure(ctx context.Context, ev *payload.Event, started time.Time, err error) {
	o.logger.Errorf("[Deploy: %s] 部署 %s 出错: %+v", o.opts.Name, ev.Identity(), err)
	o.record(ctx, ev, constants.AuditTypeDeploy, constants.AuditResultException, started, err, nil)
	o.notify(ctx, notification.NotifyDeployError, ev, started, err, nil)

	rbErr := o.rollback(ctx, ev)
	if rbErr != nil {
		o.record(ctx, ev, constants.AuditTypeDeployRollback, constants.AuditResultFail, started, err, rbErr)
		o.notify(ctx, notification.NotifyRollbackFailed, ev, started, err, rbErr)
		return
	}
	o.record(ctx, ev, constants.AuditTypeDeployRollback, constants.AuditResultSuccess, started, err, nil)
	o.notify(ctx, notification.NotifyRollbackSuccess, ev, started, err, nil)
}

// reportCancel 取消触发的回滚已结束
func (o *Orchestrator) reportCancel(ctx context.Context, ev *payload.Event, started time.Time, rbErr error) {
	if rbErr != nil {
		o.record(ctx, ev, constants.AuditTypeDeployCancel, constants.AuditResultFail, started, nil, rbErr)
		o.notify(ctx, notification.NotifyCancelFailed, ev, started, nil, rbErr)
		return
	}
	o.record(ctx, ev, constants.AuditTypeDeployCancel, constants.AuditResultSuccess, started, nil, nil)
	o.notify(ctx, notification.NotifyCancelSuccess, ev, started, nil, nil)
}

// stage 记录进度, 同时是取消检查点
//
// 运行中发现取消标记时同步执行回滚并返回 Cancelled.
func (o *Orchestrator) stage(ctx context.Context, ev *payload.Event, label string, percent int) StageResult {
	o.mu.Lock()
	o.st.stage = label
	o.st.percent = percent
	cancelled := o.st.cancelFlag && o.st.status == constants.DeployStatusRunning
	by := o.st.cancelledBy
	o.mu.Unlock()

	metrics.SetStage(o.opts.Name, percent)
	if !cancelled {
		o.logger.Infof("[Deploy: %s] %s (%d%%)", o.opts.Name, label, percent)
		return Continue()
	}

	o.logger.Warnf("[Deploy: %s] 部署 %s 在阶段 %s 被 %s 取消, 开始回滚", o.opts.Name, ev.Identity(), label, by)
	return Cancelled(o.rollback(ctx, ev))
}

// progress 只记录进度, 回滚阶段使用
func (o *Orchestrator) progress(label string, percent int) {
	o.mu.Lock()
	o.st.stage = label
	o.st.percent = percent
	o.mu.Unlock()

	metrics.SetStage(o.opts.Name, percent)
	o.logger.Infof("[Deploy: %s] %s (%d%%)", o.opts.Name, label, percent)
}

func (o *Orchestrator) setHost(host string, status constants.HostStatus) {
	o.mu.Lock()
	o.st.hostStatus[host] = status
	o.mu.Unlock()
}

// checkpoint 发布阶段的进度回调
type checkpoint func(label string, percent int) StageResult

// releaseHosts 按固定顺序逐台发布并重启服务, 某台失败时标记 fault 并中止后续主机
func (o *Orchestrator) releaseHosts(ctx context.Context, from, to int, services []topology.ServiceID,
	push func(ctx context.Context, host string) error, check checkpoint) StageResult {
	hosts := o.src.Hosts()
	if len(hosts) == 0 {
		return Continue()
	}

	const steps = 2
	inc := (to - from) / (len(hosts) * steps)
	percent := from

	for _, host := range hosts {
		if r := check("同步到 "+host, percent); !r.Continue() {
			return r
		}
		o.setHost(host, constants.HostStatusDeploying)
		if err := push(ctx, host); err != nil {
			o.setHost(host, constants.HostStatusFault)
			return Failed(err)
		}
		percent += inc

		if r := check("重启 "+host+" 服务", percent); !r.Continue() {
			return r
		}
		if err := o.src.RestartServices(ctx, services, host); err != nil {
			o.setHost(host, constants.HostStatusFault)
			return Failed(err)
		}
		percent += inc
		o.setHost(host, constants.HostStatusSuccess)
	}
	return Continue()
}

// deployCheckpoint 部署流水线的检查点
func (o *Orchestrator) deployCheckpoint(ctx context.Context, ev *payload.Event) checkpoint {
	return func(label string, percent int) StageResult {
		return o.stage(ctx, ev, label, percent)
	}
}

// rollbackCheckpoint 回滚不可取消, 只记录进度
func (o *Orchestrator) rollbackCheckpoint() checkpoint {
	return func(label string, percent int) StageResult {
		o.progress(label, percent)
		return Continue()
	}
}

type commitSnapshot struct {
	commit    string
	commitTag *tag.Tag
	tags      []*tag.Tag
	tagsErr   error
}

// readSnapshot 读取最近提交, 提交 tag 与发布 tag 列表, 不持锁
func (o *Orchestrator) readSnapshot(ctx context.Context) (*commitSnapshot, bool) {
	commit, err := o.src.LastCommit(ctx)
	if err != nil {
		o.logger.Warnf("[Deploy: %s] 读取最近提交失败: %v", o.opts.Name, err)
		return nil, false
	}
	snap := &commitSnapshot{commit: commit, commitTag: o.src.CommitTag(ctx, commit)}
	snap.tags, snap.tagsErr = o.src.ReleaseTags(ctx)
	if snap.tagsErr != nil {
		o.logger.Warnf("[Deploy: %s] 读取发布 tag 失败: %v", o.opts.Name, snap.tagsErr)
	}
	return snap, true
}

// applySnapshotLocked 写回快照, 调用方持有锁
func (o *Orchestrator) applySnapshotLocked(snap *commitSnapshot) {
	o.st.lastCommit = snap.commit
	o.st.lastCommitTag = snap.commitTag
	if snap.tagsErr == nil {
		o.st.lastTags = snap.tags
	}
}

// refreshSnapshot 部署或回滚结束前刷新快照
func (o *Orchestrator) refreshSnapshot(ctx context.Context) {
	snap, ok := o.readSnapshot(ctx)
	if !ok {
		return
	}
	o.mu.Lock()
	o.applySnapshotLocked(snap)
	o.mu.Unlock()
}

// Cancel 设置取消标记, 在下一个阶段检查点生效
func (o *Orchestrator) Cancel(operator string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.st.status != constants.DeployStatusRunning {
		return ErrNotRunning
	}
	o.st.cancelFlag = true
	o.st.cancelledBy = operator
	o.st.cancelledAt = o.now()
	o.logger.Infof("[Deploy: %s] %s 取消部署 %s", o.opts.Name, operator, o.st.running.Identity())
	return nil
}

// EnableAutoDeploy 开启自动部署, 等待队列需要调用 Resume 继续
func (o *Orchestrator) EnableAutoDeploy() {
	o.mu.Lock()
	o.st.autoDeploy = true
	o.mu.Unlock()
	o.logger.Infof("[Deploy: %s] 自动部署已开启", o.opts.Name)
}

// DisableAutoDeploy 关闭自动部署
func (o *Orchestrator) DisableAutoDeploy() {
	o.mu.Lock()
	o.st.autoDeploy = false
	o.mu.Unlock()
	o.logger.Infof("[Deploy: %s] 自动部署已关闭", o.opts.Name)
}

// Snapshot 当前状态快照
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.st.snapshot(o.opts.Name, o.opts.Strategy)
}

// Tags 最近的发布 tag
func (o *Orchestrator) Tags() []*tag.Tag {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*tag.Tag(nil), o.st.lastTags...)
}

// Refresh 空闲时刷新提交与 tag 快照
//
// 读取期间若有部署开始过, 读到的结果可能早于该次部署, 丢弃不写回.
func (o *Orchestrator) Refresh(ctx context.Context) bool {
	o.mu.Lock()
	idle := o.st.status == constants.DeployStatusIdle
	generation := o.st.generation
	o.mu.Unlock()
	if !idle {
		return false
	}

	snap, ok := o.readSnapshot(ctx)
	if !ok {
		return false
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.st.status != constants.DeployStatusIdle || o.st.generation != generation {
		return false
	}
	o.applySnapshotLocked(snap)
	return true
}

// Maintain 空闲时清理旧的备份与发布包
//
// 清理全程持锁, 期间到达的事件等清理结束后才受理, 部署不会与清理并发操作归档目录.
func (o *Orchestrator) Maintain() ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.st.status != constants.DeployStatusIdle {
		return nil, nil
	}
	removed, err := o.src.PruneArtifacts()
	if len(removed) > 0 {
		o.logger.Infof("[Deploy: %s] 清理归档 %v", o.opts.Name, removed)
	}
	return removed, err
}
