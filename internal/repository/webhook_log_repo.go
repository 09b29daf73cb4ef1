package repository

import (
	"context"

	"gorm.io/gorm"

	"deploy-server/internal/model"
	pkgErrors "deploy-server/pkg/errors"
)

type WebhookLogRepository interface {
	Create(ctx context.Context, log *model.WebhookLog) error
}

type webhookLogRepository struct {
	db *gorm.DB
}

func NewWebhookLogRepository(db *gorm.DB) WebhookLogRepository {
	return &webhookLogRepository{db: db}
}

func (r *webhookLogRepository) Create(ctx context.Context, log *model.WebhookLog) error {
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "写入webhook日志失败", err)
	}
	return nil
}
