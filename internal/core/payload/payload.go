package payload

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"deploy-server/pkg/constants"
)

// Kind 触发引用类型
type Kind string

const (
	KindBranch   Kind = "branch"
	KindTag      Kind = "tag"
	KindRollback Kind = "rollback"
)

// EventTypeRollback 手工回滚事件类型
const EventTypeRollback = "rollback"

// Event 部署触发事件, 创建后不再修改
type Event struct {
	ID         string `json:"event_id"`
	Type       string `json:"event_type"`
	Repository string `json:"repository_name"`
	Kind       Kind   `json:"ref_kind"`
	Branch     string `json:"branch,omitempty"`
	Tag        string `json:"tag,omitempty"`
	HeadCommit string `json:"head_commit"`
	Pusher     string `json:"pusher"`
	Origin     string `json:"origin"`
}

// pushPayload github push webhook 中用到的字段
type pushPayload struct {
	Ref        string `json:"ref"`
	Deleted    bool   `json:"deleted"`
	HeadCommit *struct {
		ID string `json:"id"`
	} `json:"head_commit"`
	Repository struct {
		Name string `json:"name"`
	} `json:"repository"`
	Pusher struct {
		Name string `json:"name"`
	} `json:"pusher"`
}

// FromPush 由 github push 事件构造, 删除引用的推送返回 nil
func FromPush(id, eventType string, body []byte) (*Event, error) {
	var p pushPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("解析 webhook payload 失败: %w", err)
	}
	if p.Deleted {
		return nil, nil
	}
	if p.Repository.Name == "" {
		return nil, fmt.Errorf("webhook payload 缺少 repository.name")
	}

	ev := &Event{
		ID:         id,
		Type:       eventType,
		Repository: p.Repository.Name,
		Pusher:     p.Pusher.Name,
		Origin:     constants.OriginWebhook,
	}
	if p.HeadCommit != nil {
		ev.HeadCommit = p.HeadCommit.ID
	}

	switch {
	case strings.HasPrefix(p.Ref, "refs/heads/"):
		ev.Kind = KindBranch
		ev.Branch = strings.TrimPrefix(p.Ref, "refs/heads/")
	case strings.HasPrefix(p.Ref, "refs/tags/"):
		ev.Kind = KindTag
		ev.Tag = strings.TrimPrefix(p.Ref, "refs/tags/")
	}

	return ev, nil
}

// NewRollback 手工回滚到指定 tag
func NewRollback(repository, tag, commit, user string) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Type:       EventTypeRollback,
		Repository: repository,
		Kind:       KindRollback,
		Tag:        tag,
		HeadCommit: commit,
		Pusher:     user,
		Origin:     constants.OriginManual,
	}
}

// IsTag 是否以 tag 为目标(推送 tag 或手工回滚)
func (e *Event) IsTag() bool {
	return e.Kind == KindTag || e.Kind == KindRollback
}

// Identity tag 优先, 否则为 head commit
func (e *Event) Identity() string {
	if e == nil {
		return ""
	}
	if e.Tag != "" {
		return e.Tag
	}
	return e.HeadCommit
}

// Ref 分支或 tag
func (e *Event) Ref() string {
	if e.Branch != "" {
		return e.Branch
	}
	return e.Tag
}

func (e *Event) String() string {
	if e == nil {
		return ""
	}
	return e.ID
}
