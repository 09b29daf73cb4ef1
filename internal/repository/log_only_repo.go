package repository

import (
	"context"

	"go.uber.org/zap"

	"deploy-server/internal/model"
)

// 数据库关闭时的审计实现, 只输出日志

type logDeployLogRepository struct {
	logger *zap.Logger
}

func NewLogDeployLogRepository(logger *zap.Logger) DeployLogRepository {
	return &logDeployLogRepository{logger: logger.Named("audit")}
}

func (r *logDeployLogRepository) Create(ctx context.Context, log *model.DeployLog) error {
	r.logger.Info("deploy log",
		zap.String("event_id", log.EventID),
		zap.String("repository", log.Repository),
		zap.String("type", log.Type),
		zap.String("result", log.Result),
		zap.Float64("cost_time", log.CostTime),
		zap.String("exception", log.Exception),
		zap.String("rollback_exception", log.RollbackException),
		zap.ByteString("status_snapshot", log.StatusSnapshot))
	return nil
}

func (r *logDeployLogRepository) List(ctx context.Context, repo string, page, size int) ([]*model.DeployLog, int64, error) {
	return []*model.DeployLog{}, 0, nil
}

func (r *logDeployLogRepository) FindByEventID(ctx context.Context, eventID string) ([]*model.DeployLog, error) {
	return []*model.DeployLog{}, nil
}

type logWebhookLogRepository struct {
	logger *zap.Logger
}

func NewLogWebhookLogRepository(logger *zap.Logger) WebhookLogRepository {
	return &logWebhookLogRepository{logger: logger.Named("audit")}
}

func (r *logWebhookLogRepository) Create(ctx context.Context, log *model.WebhookLog) error {
	r.logger.Info("webhook log",
		zap.String("event", log.Event),
		zap.String("event_id", log.EventID),
		zap.String("repository", log.Repository))
	return nil
}

type logOperationLogRepository struct {
	logger *zap.Logger
}

func NewLogOperationLogRepository(logger *zap.Logger) OperationLogRepository {
	return &logOperationLogRepository{logger: logger.Named("audit")}
}

func (r *logOperationLogRepository) Create(ctx context.Context, log *model.OperationLog) error {
	r.logger.Info("operation log",
		zap.String("username", log.Username),
		zap.String("repository", log.Repository),
		zap.String("operation", log.Operation),
		zap.String("event_id", log.EventID),
		zap.String("rollback_to_tag", log.RollbackToTag))
	return nil
}
