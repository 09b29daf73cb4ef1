package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deploy-server/internal/api/handler"
	"deploy-server/internal/api/middleware"
	"deploy-server/internal/core"
	"deploy-server/internal/dto"
	"deploy-server/internal/pkg/config"
	"deploy-server/internal/pkg/metrics"
	"deploy-server/internal/repository"
)

// Setup 设置路由
func Setup(cfg *config.Config, coreEngine *core.CoreEngine, audit *repository.Audit, logger *zap.Logger) *gin.Engine {
	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	dto.RegisterValidations()

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(logger))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "repos": len(coreEngine.Registry().Names())})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// 初始化Handler
	webhookHandler := handler.NewWebhookHandler(coreEngine, audit.WebhookLogs, cfg.Github.Secret, logger)
	repoHandler := handler.NewRepoHandler(coreEngine, audit.DeployLogs, audit.WebhookLogs, audit.OperationLogs, logger)

	// github webhook(签名校验, 无需token)
	r.POST("/event", webhookHandler.Receive)

	// API v1
	v1 := r.Group("/api/v1")
	authed := v1.Group("")
	authed.Use(middleware.AuthMiddleware(cfg.Auth.JWT.Secret))
	{
		authed.GET("/repos", repoHandler.List) // 实例列表

		groupRepo := authed.Group("/repos/:name")
		{
			groupRepo.GET("/status", repoHandler.GetStatus)       // 状态快照
			groupRepo.GET("/tags", repoHandler.ListTags)          // 最近的发布 tag
			groupRepo.GET("/logs", repoHandler.ListLogs)          // 部署审计日志
			groupRepo.PUT("/rollback", repoHandler.Rollback)      // 手工回滚(package 策略)
			groupRepo.PUT("/ops/:operation", repoHandler.Operate) // cancel/enable_auto/disable_auto
		}
	}

	return r
}
