package repository

import (
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Audit 审计相关的三个仓储
type Audit struct {
	DeployLogs    DeployLogRepository
	WebhookLogs   WebhookLogRepository
	OperationLogs OperationLogRepository
}

// NewAudit db 为 nil 时使用只写日志的实现
func NewAudit(db *gorm.DB, logger *zap.Logger) *Audit {
	if db == nil {
		return &Audit{
			DeployLogs:    NewLogDeployLogRepository(logger),
			WebhookLogs:   NewLogWebhookLogRepository(logger),
			OperationLogs: NewLogOperationLogRepository(logger),
		}
	}
	return &Audit{
		DeployLogs:    NewDeployLogRepository(db),
		WebhookLogs:   NewWebhookLogRepository(db),
		OperationLogs: NewOperationLogRepository(db),
	}
}
