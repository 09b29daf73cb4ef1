package handler

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"deploy-server/internal/core"
	"deploy-server/internal/core/payload"
	"deploy-server/internal/dto"
	"deploy-server/internal/model"
	"deploy-server/internal/repository"
	"deploy-server/pkg/constants"
	pkgErrors "deploy-server/pkg/errors"
	"deploy-server/pkg/utils"
)

const (
	githubEventPing = "ping"
	githubEventPush = "push"
	signaturePrefix = "sha1="
)

// WebhookHandler github webhook 处理器
type WebhookHandler struct {
	engine      *core.CoreEngine
	webhookLogs repository.WebhookLogRepository
	secret      string
	logger      *zap.Logger
}

// NewWebhookHandler 创建 webhook 处理器
func NewWebhookHandler(engine *core.CoreEngine, webhookLogs repository.WebhookLogRepository, secret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		engine:      engine,
		webhookLogs: webhookLogs,
		secret:      secret,
		logger:      logger,
	}
}

// Receive 接收 github push 事件
// @Summary 接收 github webhook
// @Description 校验签名后把 push 事件分发给仓库的所有部署实例, 不等待部署完成
// @Tags Webhook
// @Accept json
// @Produce json
// @Param X-Github-Event header string true "事件类型"
// @Param X-Github-Delivery header string true "事件ID"
// @Param X-Hub-Signature header string true "sha1 签名"
// @Success 200 {object} utils.Response{data=dto.WebhookResponse}
// @Failure 401 {object} utils.Response
// @Router /event [post]
func (h *WebhookHandler) Receive(c *gin.Context) {
	event := c.GetHeader(constants.HeaderGithubEvent)
	delivery := c.GetHeader(constants.HeaderGithubDelivery)
	signature := c.GetHeader(constants.HeaderHubSignature)
	if event == "" || delivery == "" || signature == "" {
		utils.AbortWithStatus(c, http.StatusUnauthorized, pkgErrors.ErrInvalidSignature)
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		utils.ErrorWithDetail(c, pkgErrors.CodeBadRequest, "读取请求体失败", err.Error())
		return
	}

	if !VerifySignature(h.secret, body, signature) {
		h.logger.Warn("webhook 签名校验失败", zap.String("event_id", delivery), zap.String("ip", c.ClientIP()))
		utils.AbortWithStatus(c, http.StatusUnauthorized, pkgErrors.ErrInvalidSignature)
		return
	}

	if event == githubEventPing {
		utils.SuccessWithMessage(c, "pong", nil)
		return
	}
	if event != githubEventPush {
		utils.SuccessWithMessage(c, "忽略非 push 事件", nil)
		return
	}

	ev, err := payload.FromPush(delivery, event, body)
	if err != nil {
		utils.ErrorWithDetail(c, pkgErrors.CodeBadRequest, "请求参数错误", err.Error())
		return
	}
	if ev == nil {
		utils.SuccessWithMessage(c, "删除引用的推送, 已忽略", nil)
		return
	}

	log := h.logger.With(zap.String("repo", ev.Repository), zap.String("event_id", ev.ID))
	if len(h.engine.Registry().ForRepository(ev.Repository)) == 0 {
		log.Info("仓库未配置部署实例, 忽略 webhook")
		utils.SuccessWithMessage(c, "仓库未配置, 已忽略", nil)
		return
	}

	if err := h.webhookLogs.Create(c.Request.Context(), &model.WebhookLog{
		Event:            event,
		EventID:          ev.ID,
		Repository:       ev.Repository,
		Signature:        signature,
		Payload:          datatypes.JSON(body),
		CreatedTimestamp: time.Now().Unix(),
	}); err != nil {
		log.Warn("写入 webhook 日志失败", zap.Error(err))
	}

	n, err := h.engine.Submit(ev)
	if err != nil {
		if errors.Is(err, core.ErrUnknownRepository) {
			utils.SuccessWithMessage(c, "仓库未配置, 已忽略", nil)
			return
		}
		log.Error("分发 webhook 事件失败", zap.Error(err))
		utils.ErrorWithCode(c, pkgErrors.CodeInternalError, err.Error())
		return
	}

	log.Sugar().Infof("webhook %s 已受理, ref: %s, 实例数: %d", event, ev.Ref(), n)
	utils.Accepted(c, "事件已受理", &dto.WebhookResponse{EventID: ev.ID, Targets: n})
}

// VerifySignature 校验 X-Hub-Signature, 格式为 sha1=<hex>
func VerifySignature(secret string, body []byte, signature string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
