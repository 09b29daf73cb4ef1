package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"deploy-server/internal/core"
	"deploy-server/internal/core/deploy"
	"deploy-server/internal/core/payload"
	"deploy-server/internal/dto"
	"deploy-server/internal/model"
	"deploy-server/internal/repository"
	"deploy-server/pkg/constants"
	pkgErrors "deploy-server/pkg/errors"
	"deploy-server/pkg/utils"
)

// RepoHandler 部署实例的状态查询与运维操作
type RepoHandler struct {
	engine        *core.CoreEngine
	deployLogs    repository.DeployLogRepository
	webhookLogs   repository.WebhookLogRepository
	operationLogs repository.OperationLogRepository
	logger        *zap.Logger
}

// NewRepoHandler 创建处理器
func NewRepoHandler(engine *core.CoreEngine, deployLogs repository.DeployLogRepository,
	webhookLogs repository.WebhookLogRepository, operationLogs repository.OperationLogRepository, logger *zap.Logger) *RepoHandler {
	return &RepoHandler{
		engine:        engine,
		deployLogs:    deployLogs,
		webhookLogs:   webhookLogs,
		operationLogs: operationLogs,
		logger:        logger,
	}
}

// List 部署实例列表
// @Summary 部署实例列表
// @Tags Repo
// @Produce json
// @Success 200 {object} utils.Response{data=[]dto.RepoItem}
// @Router /api/v1/repos [get]
func (h *RepoHandler) List(c *gin.Context) {
	items := lo.Map(h.engine.Registry().All(), func(o *deploy.Orchestrator, _ int) *dto.RepoItem {
		return dto.NewRepoItem(o)
	})
	utils.Success(c, items)
}

// GetStatus 实例状态快照
// @Summary 实例状态快照
// @Tags Repo
// @Produce json
// @Param name path string true "实例名"
// @Success 200 {object} utils.Response{data=deploy.Snapshot}
// @Router /api/v1/repos/{name}/status [get]
func (h *RepoHandler) GetStatus(c *gin.Context) {
	var req dto.RepoParam
	if err := c.ShouldBindUri(&req); err != nil {
		utils.ErrorWithDetail(c, pkgErrors.CodeBadRequest, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	snap, err := h.engine.GetStatus(req.Name)
	if err != nil {
		utils.Error(c, mapEngineError(err))
		return
	}
	utils.Success(c, snap)
}

// ListTags 实例最近的发布 tag
// @Summary 最近的发布 tag
// @Tags Repo
// @Produce json
// @Param name path string true "实例名"
// @Success 200 {object} utils.Response{data=[]dto.TagItem}
// @Router /api/v1/repos/{name}/tags [get]
func (h *RepoHandler) ListTags(c *gin.Context) {
	var req dto.RepoParam
	if err := c.ShouldBindUri(&req); err != nil {
		utils.ErrorWithDetail(c, pkgErrors.CodeBadRequest, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	o, ok := h.engine.Registry().Get(req.Name)
	if !ok {
		utils.Error(c, pkgErrors.ErrRepoNotFound)
		return
	}
	utils.Success(c, dto.NewTagItems(o.Tags()))
}

// Rollback 手工回滚到指定 tag
// @Summary 手工回滚
// @Description 仅 package 策略支持, 请求受理后异步执行, 结果见状态与通知
// @Tags Repo
// @Accept json
// @Produce json
// @Param name path string true "实例名"
// @Param request body dto.RollbackRequest true "回滚目标"
// @Success 200 {object} utils.Response{data=dto.WebhookResponse}
// @Router /api/v1/repos/{name}/rollback [put]
func (h *RepoHandler) Rollback(c *gin.Context) {
	var param dto.RepoParam
	if err := c.ShouldBindUri(&param); err != nil {
		utils.ErrorWithDetail(c, pkgErrors.CodeBadRequest, "请求参数错误", utils.FormatValidationError(err))
		return
	}
	var req dto.RollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorWithDetail(c, pkgErrors.CodeBadRequest, "请求参数错误", utils.FormatValidationError(err))
		return
	}

	o, ok := h.engine.Registry().Get(param.Name)
	if !ok {
		utils.Error(c, pkgErrors.ErrRepoNotFound)
		return
	}
	if o.Strategy() != constants.StrategyPackage {
		utils.Error(c, pkgErrors.ErrRollbackNotAdmit)
		return
	}

	username := c.GetString("username")
	ev := payload.NewRollback(o.Repository(), req.Tag, req.Commit, username)
	ctx := c.Request.Context()

	body, _ := json.Marshal(ev)
	now := time.Now().Unix()
	if err := h.webhookLogs.Create(ctx, &model.WebhookLog{
		Event:            payload.EventTypeRollback,
		EventID:          ev.ID,
		Repository:       o.Repository(),
		Payload:          datatypes.JSON(body),
		CreatedTimestamp: now,
	}); err != nil {
		h.logger.Warn("写入 webhook 日志失败", zap.String("repo", param.Name), zap.Error(err))
	}
	h.recordOperation(ctx, &model.OperationLog{
		Username:         username,
		Repository:       param.Name,
		Operation:        constants.OperationRollback,
		EventID:          ev.ID,
		RollbackToTag:    req.Tag,
		RollbackToCommit: req.Commit,
		CreatedTimestamp: now,
	})

	if err := h.engine.SubmitTo(param.Name, ev); err != nil {
		utils.Error(c, mapEngineError(err))
		return
	}

	h.logger.Sugar().Infof("[Deploy: %s] %s 发起回滚到 %s, event: %s", param.Name, username, req.Tag, ev.ID)
	utils.Accepted(c, "回滚已受理", &dto.WebhookResponse{EventID: ev.ID, Targets: 1})
}

// Operate 运维操作: cancel, enable_auto, disable_auto
// @Summary 运维操作
// @Tags Repo
// @Produce json
// @Param name path string true "实例名"
// @Param operation path string true "cancel/enable_auto/disable_auto"
// @Success 200 {object} utils.Response{data=deploy.Snapshot}
// @Router /api/v1/repos/{name}/ops/{operation} [put]
func (h *RepoHandler) Operate(c *gin.Context) {
	var req dto.OperationParam
	if err := c.ShouldBindUri(&req); err != nil {
		utils.ErrorWithDetail(c, pkgErrors.CodeBadRequest, "请求参数错误", utils.FormatValidationError(err))
		return
	}
	if !constants.IsValidOperation(req.Operation) {
		utils.Error(c, pkgErrors.ErrUnknownOperation)
		return
	}

	username := c.GetString("username")
	var err error
	switch req.Operation {
	case constants.OperationCancel:
		err = h.engine.Cancel(req.Name, username)
	case constants.OperationEnableAuto:
		err = h.engine.EnableAutoDeploy(req.Name)
	case constants.OperationDisableAuto:
		err = h.engine.DisableAutoDeploy(req.Name)
	}
	if err != nil {
		utils.Error(c, mapEngineError(err))
		return
	}

	snap, err := h.engine.GetStatus(req.Name)
	if err != nil {
		utils.Error(c, mapEngineError(err))
		return
	}

	entry := &model.OperationLog{
		Username:         username,
		Repository:       req.Name,
		Operation:        req.Operation,
		CreatedTimestamp: time.Now().Unix(),
	}
	if req.Operation == constants.OperationCancel {
		if raw, jerr := json.Marshal(snap); jerr == nil {
			entry.StatusSnapshot = datatypes.JSON(raw)
		}
		entry.EventID = snap.TaskRunningID
	}
	h.recordOperation(c.Request.Context(), entry)

	h.logger.Sugar().Infof("[Deploy: %s] %s 执行操作 %s", req.Name, username, req.Operation)
	utils.Success(c, snap)
}

// ListLogs 部署审计日志
// @Summary 部署审计日志
// @Tags Repo
// @Produce json
// @Param name path string true "实例名"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} utils.PageResponse{data=[]model.DeployLog}
// @Router /api/v1/repos/{name}/logs [get]
func (h *RepoHandler) ListLogs(c *gin.Context) {
	var param dto.RepoParam
	if err := c.ShouldBindUri(&param); err != nil {
		utils.ErrorWithDetail(c, pkgErrors.CodeBadRequest, "请求参数错误", utils.FormatValidationError(err))
		return
	}
	var query dto.PageQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		utils.ErrorWithDetail(c, pkgErrors.CodeBadRequest, "请求参数错误", utils.FormatValidationError(err))
		return
	}
	if _, ok := h.engine.Registry().Get(param.Name); !ok {
		utils.Error(c, pkgErrors.ErrRepoNotFound)
		return
	}

	logs, total, err := h.deployLogs.List(c.Request.Context(), param.Name, query.GetPage(), query.GetPageSize())
	if err != nil {
		utils.Error(c, err)
		return
	}
	utils.PageSuccess(c, logs, total, query.GetPage(), query.GetPageSize())
}

func (h *RepoHandler) recordOperation(ctx context.Context, entry *model.OperationLog) {
	if err := h.operationLogs.Create(ctx, entry); err != nil {
		h.logger.Warn("写入操作日志失败", zap.String("repo", entry.Repository), zap.Error(err))
	}
}

// mapEngineError 引擎错误转为业务错误码
func mapEngineError(err error) error {
	switch {
	case errors.Is(err, core.ErrUnknownRepository):
		return pkgErrors.ErrRepoNotFound
	case errors.Is(err, deploy.ErrNotRunning):
		return pkgErrors.ErrDeployNotRunning
	case errors.Is(err, core.ErrEngineStopped):
		return pkgErrors.Wrap(pkgErrors.CodeInternalError, "服务正在停止", err)
	}
	return err
}
