package repository

import (
	"context"

	"gorm.io/gorm"

	"deploy-server/internal/model"
	pkgErrors "deploy-server/pkg/errors"
)

// DeployLogRepository 部署审计日志, 只追加
type DeployLogRepository interface {
	Create(ctx context.Context, log *model.DeployLog) error
	List(ctx context.Context, repo string, page, size int) ([]*model.DeployLog, int64, error)
	FindByEventID(ctx context.Context, eventID string) ([]*model.DeployLog, error)
}

type deployLogRepository struct {
	db *gorm.DB
}

func NewDeployLogRepository(db *gorm.DB) DeployLogRepository {
	return &deployLogRepository{db: db}
}

func (r *deployLogRepository) Create(ctx context.Context, log *model.DeployLog) error {
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "写入部署日志失败", err)
	}
	return nil
}

// List 按时间倒序分页
func (r *deployLogRepository) List(ctx context.Context, repo string, page, size int) ([]*model.DeployLog, int64, error) {
	var logs []*model.DeployLog
	var total int64

	query := r.db.WithContext(ctx).Model(&model.DeployLog{}).Where("repository = ?", repo)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "统计部署日志失败", err)
	}

	offset := (page - 1) * size
	if err := query.Order("created_timestamp DESC, id DESC").Limit(size).Offset(offset).Find(&logs).Error; err != nil {
		return nil, 0, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询部署日志失败", err)
	}
	return logs, total, nil
}

func (r *deployLogRepository) FindByEventID(ctx context.Context, eventID string) ([]*model.DeployLog, error) {
	var logs []*model.DeployLog
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Order("id").Find(&logs).Error; err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeDatabaseError, "查询部署日志失败", err)
	}
	return logs, nil
}
