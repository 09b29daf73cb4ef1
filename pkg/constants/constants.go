package constants

import "fmt"

// Strategy 部署策略
type Strategy string

const (
	StrategyGit     Strategy = "git"     // 分支推送即部署
	StrategyPackage Strategy = "package" // 发布 tag 部署, 带备份与回滚包
)

// DeployStatus 仓库部署状态
type DeployStatus string

const (
	DeployStatusIdle        DeployStatus = "idle"
	DeployStatusRunning     DeployStatus = "running"
	DeployStatusRollingBack DeployStatus = "rolling_back"
)

// HostStatus 主机部署状态
type HostStatus string

const (
	HostStatusNormal    HostStatus = "normal"
	HostStatusDeploying HostStatus = "deploying"
	HostStatusSuccess   HostStatus = "success"
	HostStatusFault     HostStatus = "fault"
)

// 审计日志类型
const (
	AuditTypeDeploy         = "deploy"
	AuditTypeDeployCancel   = "deploy_cancel"
	AuditTypeDeployRollback = "deploy_rollback"
	AuditTypeRollback       = "rollback"
)

// 审计日志结果
const (
	AuditResultSuccess   = "success"
	AuditResultFail      = "fail"
	AuditResultException = "exception"
)

// 运维操作
const (
	OperationCancel      = "cancel"
	OperationEnableAuto  = "enable_auto"
	OperationDisableAuto = "disable_auto"
	OperationRollback    = "rollback"
)

// IsValidOperation 是否为支持的运维操作
func IsValidOperation(op string) bool {
	switch op {
	case OperationCancel, OperationEnableAuto, OperationDisableAuto:
		return true
	}
	return false
}

// StrategyLabel 策略显示名
func StrategyLabel(s Strategy) string {
	switch s {
	case StrategyGit:
		return "GitBased"
	case StrategyPackage:
		return "PackageBased"
	}
	return fmt.Sprintf("Unknown(%s)", string(s))
}

// 事件来源
const (
	OriginWebhook = "webhook"
	OriginManual  = "manual"
)

// JWT 相关
const (
	JWTContextKey = "jwt_user"
	JWTTypeAccess = "access"
)

// HTTP Header
const (
	HeaderAuthorization = "Authorization"
	HeaderBearerPrefix  = "Bearer "

	HeaderGithubEvent    = "X-Github-Event"
	HeaderGithubDelivery = "X-Github-Delivery"
	HeaderHubSignature   = "X-Hub-Signature"
)

// GithubEventPing github 建立 webhook 时的探测事件
const GithubEventPing = "ping"
