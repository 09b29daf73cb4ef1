package dto

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"deploy-server/internal/core/deploy"
	"deploy-server/internal/core/tag"
	"deploy-server/pkg/constants"
)

var registerOnce sync.Once

// RegisterValidations 注册请求绑定用到的自定义校验, 可重复调用
func RegisterValidations() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("release_tag", func(fl validator.FieldLevel) bool {
			return tag.IsRelease(fl.Field().String())
		})
	})
}

// RollbackRequest 手工回滚请求, 仅 package 策略支持
type RollbackRequest struct {
	Tag    string `json:"tag" binding:"required,release_tag"`
	Commit string `json:"commit" binding:"omitempty,hexadecimal,min=7,max=40"`
}

// OperationParam 运维操作路径参数
type OperationParam struct {
	Name      string `uri:"name" binding:"required"`
	Operation string `uri:"operation" binding:"required"`
}

// WebhookResponse webhook 受理结果
type WebhookResponse struct {
	EventID string `json:"event_id"`
	Targets int    `json:"targets"`
}

// RepoItem 仓库列表项
type RepoItem struct {
	Name          string                 `json:"name"`
	Repository    string                 `json:"repository"`
	Strategy      constants.Strategy     `json:"strategy"`
	StrategyLabel string                 `json:"strategy_label"`
	Status        constants.DeployStatus `json:"status"`
	AutoDeploy    bool                   `json:"auto_deploy_enable"`
	Percent       int                    `json:"process_percent"`
}

// NewRepoItem 由编排器快照构造列表项
func NewRepoItem(o *deploy.Orchestrator) *RepoItem {
	snap := o.Snapshot()
	return &RepoItem{
		Name:          o.Name(),
		Repository:    o.Repository(),
		Strategy:      o.Strategy(),
		StrategyLabel: constants.StrategyLabel(o.Strategy()),
		Status:        snap.Status,
		AutoDeploy:    snap.AutoDeploy,
		Percent:       snap.Percent,
	}
}

// TagItem 发布 tag
type TagItem struct {
	Name     string `json:"name"`
	Author   string `json:"author"`
	CommitID string `json:"commit_id"`
	Message  string `json:"message"`
	Time     string `json:"time"`
}

// NewTagItems 转换 tag 列表
func NewTagItems(tags []*tag.Tag) []*TagItem {
	items := make([]*TagItem, 0, len(tags))
	for _, t := range tags {
		items = append(items, &TagItem{
			Name:     t.Name,
			Author:   t.Author,
			CommitID: t.CommitID,
			Message:  t.Message,
			Time:     t.Time.Format(tag.TimeLayout),
		})
	}
	return items
}
