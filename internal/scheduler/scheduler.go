package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"deploy-server/internal/core/deploy"
	"deploy-server/internal/pkg/config"
)

const (
	JobRefreshSnapshots = "refresh_snapshots"
	JobPruneArtifacts   = "prune_artifacts"
)

// Scheduler 调度器
type Scheduler struct {
	cron          *cron.Cron
	logger        *zap.Logger
	registry      *deploy.Registry
	cronSchedules map[string]cron.EntryID // 存储任务ID，便于管理
}

// NewScheduler 创建调度器
func NewScheduler(registry *deploy.Registry, logger *zap.Logger) *Scheduler {
	// 创建 cron 实例（带秒级支持）
	c := cron.New(cron.WithSeconds())

	return &Scheduler{
		cron:          c,
		logger:        logger,
		registry:      registry,
		cronSchedules: make(map[string]cron.EntryID),
	}
}

// Start 注册任务并启动调度器
func (s *Scheduler) Start(cfg *config.SchedulerConfig) error {
	log := s.logger.Sugar()

	log.Info("启动定时任务调度器...")

	// cron 表达式格式: 秒 分 时 日 月 周
	if err := s.register(JobRefreshSnapshots, cfg.RefreshCron, "0 */5 * * * *", s.RefreshSnapshots); err != nil {
		return err
	}
	if err := s.register(JobPruneArtifacts, cfg.PruneCron, "0 30 3 * * *", s.PruneArtifacts); err != nil {
		return err
	}

	s.cron.Start()
	log.Info("定时任务调度器启动成功")

	return nil
}

func (s *Scheduler) register(name, expr, fallback string, job func()) error {
	log := s.logger.Sugar()
	if expr == "" {
		expr = fallback
		log.Warnf("未配置 %s 的 cron, 使用默认值 %s", name, expr)
	}

	entryID, err := s.cron.AddFunc(expr, job)
	if err != nil {
		log.Errorf("注册定时任务 %s: %v 失败: %v", name, expr, err)
		return err
	}

	s.cronSchedules[name] = entryID
	log.Infof("定时任务已注册: %s %s entry_id=%d", name, expr, entryID)
	return nil
}

// Stop 停止调度器
func (s *Scheduler) Stop() {
	s.logger.Info("正在停止定时任务调度器...")

	// 停止 cron（等待正在执行的任务完成）
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.logger.Info("定时任务调度器已停止")
}

// Entries 已注册的任务
func (s *Scheduler) Entries() map[string]cron.EntryID {
	out := make(map[string]cron.EntryID, len(s.cronSchedules))
	for k, v := range s.cronSchedules {
		out[k] = v
	}
	return out
}

// RefreshSnapshots 刷新空闲实例的提交与发布 tag 快照
func (s *Scheduler) RefreshSnapshots() {
	refreshed := s.registry.RefreshAll(context.Background())
	s.logger.Debug("执行定时任务: 刷新状态快照", zap.Int("refreshed", refreshed))
}

// PruneArtifacts 清理过期的备份包与发布包, 只在实例空闲时执行
func (s *Scheduler) PruneArtifacts() {
	log := s.logger.Sugar()
	for _, o := range s.registry.All() {
		if _, err := o.Maintain(); err != nil {
			log.Errorf("[Deploy: %s] 清理归档失败: %v", o.Name(), err)
		}
	}
}
