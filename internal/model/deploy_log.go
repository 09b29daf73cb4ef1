package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	DeployLogTableName    = "deploy_logs"
	WebhookLogTableName   = "webhook_logs"
	OperationLogTableName = "operation_logs"
)

// DeployLog 部署审计日志, 只追加
type DeployLog struct {
	ID         int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID    string `gorm:"column:event_id;size:64;not null;index" json:"event_id"`
	Repository string `gorm:"size:100;not null;index:idx_repo_type" json:"repository"`
	Type       string `gorm:"size:32;not null;index:idx_repo_type" json:"type"` // deploy/deploy_cancel/deploy_rollback/rollback
	Result     string `gorm:"size:16;not null" json:"result"`                   // success/fail/exception

	// 错误信息, 回滚失败时同时记录原始错误与回滚错误
	Exception         string `gorm:"type:text" json:"exception,omitempty"`
	Trace             string `gorm:"type:mediumtext" json:"trace,omitempty"`
	RollbackException string `gorm:"type:text" json:"rollback_exception,omitempty"`
	RollbackTrace     string `gorm:"type:mediumtext" json:"rollback_trace,omitempty"`

	CostTime         float64        `json:"cost_time"` // 秒
	CreatedTimestamp int64          `gorm:"not null;index" json:"created_timestamp"`
	StatusSnapshot   datatypes.JSON `gorm:"type:json" json:"status_snapshot,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定表名
func (DeployLog) TableName() string {
	return DeployLogTableName
}

// WebhookLog 收到的 webhook 及手工回滚请求
type WebhookLog struct {
	ID               int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Event            string         `gorm:"size:32;not null" json:"event"`
	EventID          string         `gorm:"column:event_id;size:64;not null;index" json:"event_id"`
	Repository       string         `gorm:"size:100;index" json:"repository"`
	Signature        string         `gorm:"size:128" json:"signature,omitempty"`
	Payload          datatypes.JSON `gorm:"type:json" json:"payload"`
	CreatedTimestamp int64          `gorm:"not null;index" json:"created_timestamp"`
	CreatedAt        time.Time      `json:"created_at"`
}

// TableName 指定表名
func (WebhookLog) TableName() string {
	return WebhookLogTableName
}

// OperationLog 运维操作记录
type OperationLog struct {
	ID               int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Username         string         `gorm:"size:100;not null;index" json:"username"`
	Repository       string         `gorm:"size:100;not null;index" json:"repository"`
	Operation        string         `gorm:"size:32;not null" json:"operation"`
	EventID          string         `gorm:"column:event_id;size:64" json:"event_id,omitempty"`
	RollbackToTag    string         `gorm:"size:64" json:"rollback_to_tag,omitempty"`
	RollbackToCommit string         `gorm:"size:64" json:"rollback_to_commit,omitempty"`
	StatusSnapshot   datatypes.JSON `gorm:"type:json" json:"status_snapshot,omitempty"`
	CreatedTimestamp int64          `gorm:"not null;index" json:"created_timestamp"`
	CreatedAt        time.Time      `json:"created_at"`
}

// TableName 指定表名
func (OperationLog) TableName() string {
	return OperationLogTableName
}
