package notification

import (
	"fmt"
	"strings"
	"time"

	"deploy-server/internal/core/payload"
	"deploy-server/internal/core/tag"
)

const timeLayout = "2006-01-02 15:04:05"

// DeployNotice 一次部署结果的通知参数
type DeployNotice struct {
	Type          NotificationType
	Instance      string
	Repository    string
	Event         *payload.Event
	Tag           *tag.Tag
	StartedAt     time.Time
	FinishedAt    time.Time
	CancelledBy   string
	CancelledAt   time.Time
	Trace         string // 原始错误堆栈
	RollbackTrace string // 回滚错误堆栈
}

type noticeStyle struct {
	title string
	color string
}

var noticeStyles = map[NotificationType]noticeStyle{
	NotifyDeploySuccess:   {"✅ %s部署%s成功", "green"},
	NotifyCancelSuccess:   {"↩️ %s部署%s时被取消, 回滚成功", "orange"},
	NotifyCancelFailed:    {"🚨 %s部署%s时被取消, 回滚失败", "red"},
	NotifyDeployError:     {"❌ %s部署%s时发生错误, 准备回滚", "red"},
	NotifyRollbackSuccess: {"↩️ %s部署%s时发生错误, 回滚成功", "orange"},
	NotifyRollbackFailed:  {"🚨 %s部署%s时发生错误, 回滚失败", "red"},
}

// Title 通知标题
func (d *DeployNotice) Title() string {
	style, ok := noticeStyles[d.Type]
	if !ok {
		style = noticeStyle{"📢 %s部署%s", "grey"}
	}
	title := fmt.Sprintf(style.title, d.Repository, d.Event.Identity())
	if d.Instance != "" {
		title = "[" + d.Instance + "] " + title
	}
	return title
}

// Content 通知正文
func (d *DeployNotice) Content() string {
	var b strings.Builder
	ev := d.Event

	b.WriteString("**部署相关**\n")
	fmt.Fprintf(&b, "部署者: %s\n", ev.Pusher)
	fmt.Fprintf(&b, "部署来源: %s\n", ev.Origin)
	fmt.Fprintf(&b, "部署仓库: %s\n", d.Repository)
	fmt.Fprintf(&b, "部署目标: %s\n", ev.Identity())
	fmt.Fprintf(&b, "部署开始时间: %s\n", d.StartedAt.Format(timeLayout))
	fmt.Fprintf(&b, "部署事件id: %s\n", ev.ID)

	switch d.Type {
	case NotifyDeploySuccess, NotifyRollbackSuccess, NotifyCancelSuccess:
		fmt.Fprintf(&b, "完成时间: %s\n", d.FinishedAt.Format(timeLayout))
		fmt.Fprintf(&b, "整体耗时: %s\n", d.FinishedAt.Sub(d.StartedAt).Round(time.Second))
	case NotifyRollbackFailed, NotifyCancelFailed:
		fmt.Fprintf(&b, "回滚出错时间: %s\n", d.FinishedAt.Format(timeLayout))
	}

	if d.Type == NotifyCancelSuccess || d.Type == NotifyCancelFailed {
		b.WriteString("\n**取消相关**\n")
		fmt.Fprintf(&b, "取消者: %s\n", d.CancelledBy)
		if !d.CancelledAt.IsZero() {
			fmt.Fprintf(&b, "取消时间: %s\n", d.CancelledAt.Format(timeLayout))
		}
	}
	if d.RollbackTrace != "" {
		b.WriteString("\n**回滚错误**\n")
		b.WriteString(d.RollbackTrace)
		b.WriteString("\n")
	}
	if d.Trace != "" {
		b.WriteString("\n**原始错误**\n")
		b.WriteString(d.Trace)
		b.WriteString("\n")
	}
	if d.Tag != nil {
		b.WriteString("\n**Tag相关**\n")
		b.WriteString(d.Tag.String())
		b.WriteString("\n")
	}
	return b.String()
}

// Message 转换为通用通知消息
func (d *DeployNotice) Message() *NotificationMessage {
	color := "grey"
	if style, ok := noticeStyles[d.Type]; ok {
		color = style.color
	}
	return &NotificationMessage{
		Type:      d.Type,
		Title:     d.Title(),
		Content:   d.Content(),
		Timestamp: d.FinishedAt,
		Extra: map[string]interface{}{
			"repository": d.Repository,
			"event_id":   d.Event.ID,
			"target":     d.Event.Identity(),
			"color":      color,
		},
	}
}
