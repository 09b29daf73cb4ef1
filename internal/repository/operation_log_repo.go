package repository

import (
	"context"

	"gorm.io/gorm"

	"deploy-server/internal/model"
	pkgErrors "deploy-server/pkg/errors"
)

// OperationLogRepository 运维操作记录
type OperationLogRepository interface {
	Create(ctx context.Context, log *model.OperationLog) error
}

type operationLogRepository struct {
	db *gorm.DB
}

func NewOperationLogRepository(db *gorm.DB) OperationLogRepository {
	return &operationLogRepository{db: db}
}

func (r *operationLogRepository) Create(ctx context.Context, log *model.OperationLog) error {
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "写入操作日志失败", err)
	}
	return nil
}
