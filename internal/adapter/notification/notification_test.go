package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"deploy-server/internal/core/payload"
	"deploy-server/internal/core/tag"
	"deploy-server/pkg/constants"
)

func testNotice(typ NotificationType) *DeployNotice {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)
	return &DeployNotice{
		Type:       typ,
		Instance:   "prod",
		Repository: "shop",
		Event: &payload.Event{
			ID:     "evt-1",
			Kind:   payload.KindTag,
			Tag:    "r1.2.3",
			Pusher: "bob",
			Origin: constants.OriginWebhook,
		},
		StartedAt:  started,
		FinishedAt: started.Add(95 * time.Second),
	}
}

func TestDeployNotice_Title(t *testing.T) {
	assert.Equal(t, "[prod] ✅ shop部署r1.2.3成功", testNotice(NotifyDeploySuccess).Title())

	n := testNotice(NotifyRollbackFailed)
	n.Instance = ""
	assert.Equal(t, "🚨 shop部署r1.2.3时发生错误, 回滚失败", n.Title())
}

func TestDeployNotice_Content(t *testing.T) {
	n := testNotice(NotifyCancelFailed)
	n.CancelledBy = "alice"
	n.CancelledAt = n.StartedAt.Add(30 * time.Second)
	n.RollbackTrace = "rsync failed"
	n.Trace = "cancelled"
	n.Tag = &tag.Tag{Name: "r1.2.3", Author: "bob", Email: "bob@example.com", CommitID: "abc123", Message: "release"}

	content := n.Content()
	assert.Contains(t, content, "部署者: bob")
	assert.Contains(t, content, "部署事件id: evt-1")
	assert.Contains(t, content, "回滚出错时间: 2024-05-01 10:01:35")
	assert.Contains(t, content, "取消者: alice")
	assert.Contains(t, content, "取消时间: 2024-05-01 10:00:30")
	assert.Contains(t, content, "**回滚错误**\nrsync failed")
	assert.Contains(t, content, "**原始错误**\ncancelled")
	assert.Contains(t, content, "Commit:abc123")
	assert.NotContains(t, content, "整体耗时")

	success := testNotice(NotifyDeploySuccess).Content()
	assert.Contains(t, success, "整体耗时: 1m35s")
	assert.NotContains(t, success, "取消者")
}

func TestDeployNotice_Message(t *testing.T) {
	msg := testNotice(NotifyRollbackSuccess).Message()
	assert.Equal(t, NotifyRollbackSuccess, msg.Type)
	assert.Equal(t, "orange", msg.Extra["color"])
	assert.Equal(t, "evt-1", msg.Extra["event_id"])
}

func TestLarkNotifier_PostsCard(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewLarkNotifier(srv.URL, true, 0, zap.NewNop())
	require.NoError(t, n.SendDeployNotification(context.Background(), testNotice(NotifyDeploySuccess)))

	assert.Equal(t, "interactive", body["msg_type"])
	header := body["card"].(map[string]interface{})["header"].(map[string]interface{})
	assert.Equal(t, "green", header["template"])
	assert.Equal(t, "[prod] ✅ shop部署r1.2.3成功", header["title"].(map[string]interface{})["content"])
}

func TestLarkNotifier_Retries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewLarkNotifier(srv.URL, true, 3, zap.NewNop())
	require.NoError(t, n.Send(context.Background(), testNotice(NotifyDeployError).Message()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	atomic.StoreInt32(&calls, -10)
	n = NewLarkNotifier(srv.URL, true, 1, zap.NewNop())
	assert.Error(t, n.Send(context.Background(), testNotice(NotifyDeployError).Message()))
	assert.Equal(t, int32(-8), atomic.LoadInt32(&calls))
}

func TestLarkNotifier_DisabledOrUnconfigured(t *testing.T) {
	msg := testNotice(NotifyDeploySuccess).Message()
	assert.NoError(t, NewLarkNotifier("http://127.0.0.1:1", false, 0, zap.NewNop()).Send(context.Background(), msg))
	assert.NoError(t, NewLarkNotifier("", true, 0, zap.NewNop()).Send(context.Background(), msg))
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Send(ctx context.Context, msg *NotificationMessage) error {
	f.calls++
	return errors.New("boom")
}

func (f *failingNotifier) SendDeployNotification(ctx context.Context, notice *DeployNotice) error {
	return f.Send(ctx, notice.Message())
}

func TestMultiNotifier_ContinuesAfterFailure(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	failing := &failingNotifier{}
	m := NewMultiNotifier(zap.New(core), failing, NewLogNotifier(zap.New(core)))

	err := m.SendDeployNotification(context.Background(), testNotice(NotifyDeploySuccess))
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, logs.FilterMessage("📢 通知").Len())
}

func TestNew(t *testing.T) {
	assert.IsType(t, &LogNotifier{}, New("log", "", true, 0, zap.NewNop()))
	assert.IsType(t, &LogNotifier{}, New("lark", "http://x", false, 0, zap.NewNop()))
	assert.IsType(t, &MultiNotifier{}, New("lark", "http://x", true, 0, zap.NewNop()))
}
