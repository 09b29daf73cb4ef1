package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"deploy-server/internal/adapter/notification"
	"deploy-server/internal/api/router"
	"deploy-server/internal/core"
	"deploy-server/internal/core/deploy"
	"deploy-server/internal/pkg/config"
	"deploy-server/internal/pkg/database"
	"deploy-server/internal/pkg/jwt"
	"deploy-server/internal/pkg/logger"
	"deploy-server/internal/pkg/shell"
	"deploy-server/internal/repository"
	"deploy-server/internal/scheduler"
)

var (
	configFile = flag.String("config", "", "配置文件路径 (例如: -config=configs/config.yaml)")
	issueToken = flag.String("issue-token", "", "为指定运维人员签发访问Token后退出")
	version    = flag.Bool("version", false, "显示版本信息")
)

const (
	appVersion = "1.0.0"
	appName    = "deploy-server"

	shutdownTimeout = 10 * time.Minute
)

func main() {
	// 解析命令行参数
	flag.Parse()

	// 显示版本信息
	if *version {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}

	// 优先级: 命令行参数 > 环境变量 > 默认路径
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		fmt.Println("\n使用方式:")
		fmt.Println("  1. 命令行参数指定:")
		fmt.Println("     ./deploy-server -config=configs/config.yaml")
		fmt.Println("  2. 环境变量指定:")
		fmt.Println("     export CONFIG_FILE=configs/config.yaml")
		fmt.Println("     ./deploy-server")
		os.Exit(1)
	}

	if *issueToken != "" {
		ttl := time.Duration(cfg.Auth.JWT.AccessTokenExpire) * time.Second
		token, err := jwt.GenerateAccessToken(cfg.Auth.JWT.Secret, *issueToken, *issueToken, ttl)
		if err != nil {
			fmt.Printf("签发Token失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	// 初始化日志
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Close()
	}()
	logger.Info(fmt.Sprintf("Load config file: %s of %s", configPath, getConfigSource()))
	logger.Info(fmt.Sprintf("服务 %s 启动中...", appName), zap.String("version", appVersion))

	// 审计数据库, 未启用时审计只写日志
	var db *gorm.DB
	if cfg.Database.Enabled {
		if err := database.Init(&cfg.Database); err != nil {
			logger.Fatal("初始化数据库失败", zap.Error(err))
		}
		defer func() {
			_ = database.Close()
		}()
		db = database.GetDB()
		logger.Info(fmt.Sprintf("数据库连接成功 %s:%v", cfg.Database.Host, cfg.Database.Port), zap.String("database", cfg.Database.Database))
	} else {
		logger.Warn("数据库未启用, 审计日志仅输出到日志")
	}
	audit := repository.NewAudit(db, logger.Log)

	nc := cfg.Core.Notification
	notifier := notification.New(nc.Provider, nc.LarkWebhook, nc.Enabled, nc.RetryCount, logger.Log)

	// 每个仓库一个编排器
	registry, err := deploy.BuildRegistry(cfg, shell.NewRunner(logger.Log), afero.NewOsFs(), audit.DeployLogs, notifier, logger.Log)
	if err != nil {
		logger.Fatal("初始化部署实例失败", zap.Error(err))
	}
	refreshed := registry.RefreshAll(context.Background())
	logger.Info("部署实例初始化完成", zap.Strings("repos", registry.Names()), zap.Int("refreshed", refreshed))

	coreEngine := core.NewCoreEngine(registry, logger.Log)

	// 初始化并启动定时任务调度器
	taskScheduler := scheduler.NewScheduler(registry, logger.Log)
	if err := taskScheduler.Start(&cfg.Scheduler); err != nil {
		logger.Warn("定时任务调度器启动失败", zap.Error(err))
	}

	// 设置路由
	r := router.Setup(cfg, coreEngine, audit, logger.Log)

	// 创建HTTP服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// 启动服务器
	go func() {
		logger.Info(fmt.Sprintf("%s 服务启动成功", cfg.Server.Name),
			zap.String("address", addr),
			zap.String("mode", cfg.Server.Mode),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("服务器启动失败", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("服务正在关闭...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	// 关闭定时任务调度器
	taskScheduler.Stop()

	// 等待进行中的部署结束
	if err := coreEngine.Stop(ctx); err != nil {
		logger.Error("Core引擎关闭异常", zap.Error(err))
	}

	logger.Info("服务已关闭")
}

// getConfigPath 获取配置文件路径
// 优先级: 命令行参数 > 环境变量 > 默认路径
func getConfigPath() string {
	// 1. 命令行参数
	if *configFile != "" {
		return *configFile
	}

	// 2. 环境变量
	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		return envConfig
	}

	// 3. 默认路径
	return "configs/config.yaml"
}

// getConfigSource 获取配置来源说明
func getConfigSource() string {
	if *configFile != "" {
		return "命令行参数"
	}
	if os.Getenv("CONFIG_FILE") != "" {
		return "环境变量"
	}
	return "默认配置"
}
