package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"deploy-server/pkg/constants"
)

var GlobalConfig *Config

// Config 全局配置
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Github       GithubConfig       `mapstructure:"github"`
	Log          LogConfig          `mapstructure:"log"`
	Core         CoreConfig         `mapstructure:"core"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Repositories []RepositoryConfig `mapstructure:"repositories" validate:"required,min=1,unique=Name,dive"`
}

// ServerConfig 服务配置
type ServerConfig struct {
	Name         string `mapstructure:"name"`
	InstanceName string `mapstructure:"instance_name"` // 通知标题中的实例名
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release
}

// DatabaseConfig 数据库配置, 用于审计日志
type DatabaseConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Database        string `mapstructure:"database"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	LogLevel        string `mapstructure:"log_level"`         // SQL日志级别: silent/error/warn/info
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	JWT JWTConfig `mapstructure:"jwt"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret            string `mapstructure:"secret" validate:"required"`
	AccessTokenExpire int    `mapstructure:"access_token_expire"` // 秒, 用于 -issue-token 签发运维 token
}

// GithubConfig webhook 配置
type GithubConfig struct {
	Secret string `mapstructure:"secret" validate:"required"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level    string `mapstructure:"level"`  // debug, info, warn, error
	Format   string `mapstructure:"format"` // json, console
	Output   string `mapstructure:"output"` // stdout, file
	FilePath string `mapstructure:"file_path"`
}

// CoreConfig Core模块配置
type CoreConfig struct {
	Deploy       DeployConfig       `mapstructure:"deploy"`
	Notification NotificationConfig `mapstructure:"notification"`
}

// DeployConfig 部署配置
type DeployConfig struct {
	RetryCount     int    `mapstructure:"retry_count"`     // fetch/pull/重启 的重试次数
	SettleDelay    string `mapstructure:"settle_delay"`    // 重启后查询状态前的等待时间
	TagListSize    int    `mapstructure:"tag_list_size"`   // 状态中保留的发布 tag 数
	DeployUser     string `mapstructure:"deploy_user"`     // rsync 目标用户
	SupervisorPort int    `mapstructure:"supervisor_port"` // supervisord http 端口
	ScratchDir     string `mapstructure:"scratch_dir"`     // 解包临时目录
}

// NotificationConfig 通知配置
type NotificationConfig struct {
	Enabled     bool   `mapstructure:"enabled"`      // 是否启用
	Provider    string `mapstructure:"provider"`     // 通知渠道: lark, log
	LarkWebhook string `mapstructure:"lark_webhook"` // Lark Webhook
	RetryCount  int    `mapstructure:"retry_count"`
}

// SchedulerConfig 定时任务配置, cron 表达式带秒
type SchedulerConfig struct {
	RefreshCron string `mapstructure:"refresh_cron"`
	PruneCron   string `mapstructure:"prune_cron"`
}

// RepositoryConfig 单个部署实例配置
type RepositoryConfig struct {
	Name        string             `mapstructure:"name" validate:"required"`
	Repository  string             `mapstructure:"repository" validate:"required"` // github 仓库名
	Strategy    constants.Strategy `mapstructure:"strategy" validate:"required,oneof=git package"`
	Branch      string             `mapstructure:"branch"`
	GitPath     string             `mapstructure:"git_path" validate:"required"`
	DeployPath  string             `mapstructure:"deploy_path" validate:"required"`
	PackagePath string             `mapstructure:"package_path" validate:"required_if=Strategy package"`
	BackupPath  string             `mapstructure:"backup_path" validate:"required_if=Strategy package"`
	ExcludeFile string             `mapstructure:"exclude_file"`
	AutoDeploy  *bool              `mapstructure:"auto_deploy"`
	Services    []ServiceConfig    `mapstructure:"services" validate:"dive"`
	Routes      []RouteConfig      `mapstructure:"routes" validate:"dive"`
	Hosts       []HostConfig       `mapstructure:"hosts" validate:"required,min=1,dive"`
	Roles       []RoleConfig       `mapstructure:"roles" validate:"dive"`
	PostActions []PostActionConfig `mapstructure:"post_actions" validate:"dive"`
}

// ServiceConfig supervisor 程序及重启优先级, 数字越小越先重启
type ServiceConfig struct {
	ID       string `mapstructure:"id" validate:"required"`
	Priority int    `mapstructure:"priority" validate:"gte=0"`
}

// RouteConfig 顶层目录到服务的映射, project 为 * 时作为兜底
type RouteConfig struct {
	Project  string   `mapstructure:"project" validate:"required"`
	Services []string `mapstructure:"services"`
}

// HostConfig 主机及其角色
type HostConfig struct {
	Name  string   `mapstructure:"name" validate:"required"`
	Roles []string `mapstructure:"roles"`
}

// RoleConfig 角色下运行的服务
type RoleConfig struct {
	Name     string   `mapstructure:"name" validate:"required"`
	Services []string `mapstructure:"services"`
}

// PostActionConfig 依赖安装后执行的命令
type PostActionConfig struct {
	Cmd string `mapstructure:"cmd" validate:"required"`
	Cwd string `mapstructure:"cwd"`
}

// AutoDeployEnabled 默认开启自动部署
func (r *RepositoryConfig) AutoDeployEnabled() bool {
	return r.AutoDeploy == nil || *r.AutoDeploy
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	// 读取环境变量, 例如 GITHUB_SECRET 覆盖 github.secret
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 密钥允许只通过环境变量提供
	_ = v.BindEnv("github.secret")
	_ = v.BindEnv("auth.jwt.secret")

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	// 设置全局配置
	GlobalConfig = config

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "deploy-server")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 7722)
	v.SetDefault("server.mode", "release")
	v.SetDefault("auth.jwt.access_token_expire", 86400)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("core.deploy.retry_count", 3)
	v.SetDefault("core.deploy.settle_delay", "5s")
	v.SetDefault("core.deploy.tag_list_size", 10)
	v.SetDefault("core.deploy.deploy_user", "deploy")
	v.SetDefault("core.deploy.supervisor_port", 9001)
	v.SetDefault("core.deploy.scratch_dir", "/tmp")
	v.SetDefault("core.notification.provider", "log")
	v.SetDefault("core.notification.retry_count", 3)
	v.SetDefault("scheduler.refresh_cron", "0 */5 * * * *")
	v.SetDefault("scheduler.prune_cron", "0 30 3 * * *")
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	for _, repo := range c.Repositories {
		if repo.Strategy == constants.StrategyGit && repo.Branch == "" {
			return fmt.Errorf("配置校验失败: 仓库 %s 使用 git 策略但未配置 branch", repo.Name)
		}
	}
	if _, err := c.Core.Deploy.SettleDuration(); err != nil {
		return fmt.Errorf("配置校验失败: settle_delay: %w", err)
	}
	return nil
}

// SettleDuration 解析重启等待时间
func (d *DeployConfig) SettleDuration() (time.Duration, error) {
	if d.SettleDelay == "" {
		return 0, nil
	}
	return time.ParseDuration(d.SettleDelay)
}

// GetDSN 获取数据库DSN
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.Username,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}
