package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deploy-server/internal/core"
	"deploy-server/internal/core/deploy"
	"deploy-server/internal/dto"
	"deploy-server/internal/model"
	"deploy-server/internal/pkg/config"
	"deploy-server/pkg/constants"
	pkgErrors "deploy-server/pkg/errors"
	"deploy-server/pkg/utils"
)

const testSecret = "s3cret"

// sign 按 github 的方式计算 X-Hub-Signature
func sign(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// okRunner 所有外部命令成功
type okRunner struct{}

func (okRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := name + " " + strings.Join(args, " ")
	switch {
	case strings.HasPrefix(cmd, "git rev-parse"):
		return "c1\n", nil
	case strings.Contains(cmd, " status "):
		return "svc RUNNING pid 1", nil
	}
	return "", nil
}

// memoryLogs 记录写入的审计
type memoryLogs struct {
	mu         sync.Mutex
	webhooks   []*model.WebhookLog
	operations []*model.OperationLog
	deploys    []*model.DeployLog
}

func (m *memoryLogs) Create(ctx context.Context, log *model.WebhookLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks = append(m.webhooks, log)
	return nil
}

type memoryOperations struct{ *memoryLogs }

func (m memoryOperations) Create(ctx context.Context, log *model.OperationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations = append(m.operations, log)
	return nil
}

type memoryDeploys struct{ *memoryLogs }

func (m memoryDeploys) Create(ctx context.Context, log *model.DeployLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deploys = append(m.deploys, log)
	return nil
}

func (m memoryDeploys) List(ctx context.Context, repo string, page, size int) ([]*model.DeployLog, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.DeployLog
	for _, l := range m.deploys {
		if l.Repository == repo {
			out = append(out, l)
		}
	}
	return out, int64(len(out)), nil
}

func (m memoryDeploys) FindByEventID(ctx context.Context, eventID string) ([]*model.DeployLog, error) {
	return nil, nil
}

func (m *memoryLogs) webhookCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.webhooks)
}

func (m *memoryLogs) lastOperation() *model.OperationLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.operations) == 0 {
		return nil
	}
	return m.operations[len(m.operations)-1]
}

func testRepos() []config.RepositoryConfig {
	base := config.RepositoryConfig{
		Services: []config.ServiceConfig{{ID: "svc", Priority: 1}},
		Routes:   []config.RouteConfig{{Project: "*", Services: []string{"svc"}}},
		Hosts:    []config.HostConfig{{Name: "web01", Roles: []string{"web"}}},
		Roles:    []config.RoleConfig{{Name: "web", Services: []string{"svc"}}},
	}
	git := base
	git.Name, git.Repository, git.Strategy, git.Branch = "api", "api", constants.StrategyGit, "main"
	git.GitPath, git.DeployPath = "/srv/_github/api", "/srv/_online"

	pkg := base
	pkg.Name, pkg.Repository, pkg.Strategy = "shop", "shop", constants.StrategyPackage
	pkg.GitPath, pkg.DeployPath = "/srv/_github/shop", "/srv/_online"
	pkg.PackagePath, pkg.BackupPath = "/srv/_package", "/srv/_backup"
	return []config.RepositoryConfig{git, pkg}
}

type fixture struct {
	engine *core.CoreEngine
	logs   *memoryLogs
	router *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dto.RegisterValidations()

	cfg := &config.Config{
		Core:         config.CoreConfig{Deploy: config.DeployConfig{SettleDelay: "0s"}},
		Repositories: testRepos(),
	}
	logs := &memoryLogs{}
	registry, err := deploy.BuildRegistry(cfg, okRunner{}, afero.NewMemMapFs(), memoryDeploys{logs}, nil, zap.NewNop())
	require.NoError(t, err)
	engine := core.NewCoreEngine(registry, zap.NewNop())

	webhook := NewWebhookHandler(engine, logs, testSecret, zap.NewNop())
	repo := NewRepoHandler(engine, memoryDeploys{logs}, logs, memoryOperations{logs}, zap.NewNop())

	r := gin.New()
	r.POST("/event", webhook.Receive)
	g := r.Group("/api/v1", func(c *gin.Context) { c.Set("username", "alice") })
	g.GET("/repos", repo.List)
	g.GET("/repos/:name/status", repo.GetStatus)
	g.GET("/repos/:name/tags", repo.ListTags)
	g.GET("/repos/:name/logs", repo.ListLogs)
	g.PUT("/repos/:name/rollback", repo.Rollback)
	g.PUT("/repos/:name/ops/:operation", repo.Operate)

	t.Cleanup(func() { _ = engine.Stop(context.Background()) })
	return &fixture{engine: engine, logs: logs, router: r}
}

func (f *fixture) do(method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, utils.Response) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp utils.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func webhookHeaders(event, body string) map[string]string {
	return map[string]string{
		constants.HeaderGithubEvent:    event,
		constants.HeaderGithubDelivery: "delivery-1",
		constants.HeaderHubSignature:   sign(testSecret, []byte(body)),
	}
}

const pushBody = `{"ref":"refs/heads/main","head_commit":{"id":"c2"},"repository":{"name":"api"},"pusher":{"name":"bob"}}`

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	assert.True(t, VerifySignature("k", body, sign("k", body)))
	assert.False(t, VerifySignature("other", body, sign("k", body)))
	assert.False(t, VerifySignature("k", body, "md5=abc"))
	assert.False(t, VerifySignature("k", body, "sha1=zz"))
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	f := newFixture(t)

	headers := webhookHeaders("push", pushBody)
	headers[constants.HeaderHubSignature] = sign("wrong", []byte(pushBody))
	w, resp := f.do(http.MethodPost, "/event", pushBody, headers)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, pkgErrors.CodeUnauthorized, resp.Code)

	headers = webhookHeaders("push", pushBody)
	delete(headers, constants.HeaderGithubDelivery)
	w, _ = f.do(http.MethodPost, "/event", pushBody, headers)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, f.logs.webhookCount())
}

func TestWebhook_Ping(t *testing.T) {
	f := newFixture(t)

	w, resp := f.do(http.MethodPost, "/event", `{}`, webhookHeaders("ping", `{}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", resp.Message)
}

func TestWebhook_AcceptsPush(t *testing.T) {
	f := newFixture(t)

	w, resp := f.do(http.MethodPost, "/event", pushBody, webhookHeaders("push", pushBody))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pkgErrors.CodeAccepted, resp.Code)
	assert.Equal(t, 1, f.logs.webhookCount())

	require.NoError(t, f.engine.Stop(context.Background()))
	snap, err := f.engine.GetStatus("api")
	require.NoError(t, err)
	assert.Equal(t, constants.DeployStatusIdle, snap.Status)
	assert.Equal(t, "c1", snap.LastCommit)
}

func TestWebhook_IgnoresDeletedAndUnknown(t *testing.T) {
	f := newFixture(t)

	deleted := `{"ref":"refs/heads/main","deleted":true,"repository":{"name":"api"}}`
	_, resp := f.do(http.MethodPost, "/event", deleted, webhookHeaders("push", deleted))
	assert.Equal(t, pkgErrors.CodeSuccess, resp.Code)

	unknown := `{"ref":"refs/heads/main","head_commit":{"id":"c2"},"repository":{"name":"nope"}}`
	_, resp = f.do(http.MethodPost, "/event", unknown, webhookHeaders("push", unknown))
	assert.Equal(t, pkgErrors.CodeSuccess, resp.Code)

	assert.Zero(t, f.logs.webhookCount())
}

func TestRepo_ListAndStatus(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(http.MethodGet, "/api/v1/repos", "", nil)
	var list struct {
		Data []dto.RepoItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 2)
	assert.Equal(t, "api", list.Data[0].Name)
	assert.Equal(t, "GitBased", list.Data[0].StrategyLabel)
	assert.Equal(t, constants.StrategyPackage, list.Data[1].Strategy)

	_, resp := f.do(http.MethodGet, "/api/v1/repos/api/status", "", nil)
	assert.Equal(t, pkgErrors.CodeSuccess, resp.Code)

	_, resp = f.do(http.MethodGet, "/api/v1/repos/missing/status", "", nil)
	assert.Equal(t, pkgErrors.CodeNotFound, resp.Code)
}

func TestRepo_RollbackRules(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		repo string
		body string
		code int
	}{
		{"git strategy", "api", `{"tag":"r1.0.0"}`, pkgErrors.CodeBadRequest},
		{"bad tag", "shop", `{"tag":"v1.0.0"}`, pkgErrors.CodeBadRequest},
		{"bad commit", "shop", `{"tag":"r1.0.0","commit":"xyz"}`, pkgErrors.CodeBadRequest},
		{"unknown repo", "missing", `{"tag":"r1.0.0"}`, pkgErrors.CodeNotFound},
		{"accepted", "shop", `{"tag":"r1.0.0","commit":"abcdef1"}`, pkgErrors.CodeAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp := f.do(http.MethodPut, "/api/v1/repos/"+tt.repo+"/rollback", tt.body, nil)
			assert.Equal(t, tt.code, resp.Code)
		})
	}

	op := f.logs.lastOperation()
	require.NotNil(t, op)
	assert.Equal(t, "alice", op.Username)
	assert.Equal(t, constants.OperationRollback, op.Operation)
	assert.Equal(t, "r1.0.0", op.RollbackToTag)
	assert.Equal(t, "abcdef1", op.RollbackToCommit)
	assert.Equal(t, 1, f.logs.webhookCount())
}

func TestRepo_Operations(t *testing.T) {
	f := newFixture(t)

	_, resp := f.do(http.MethodPut, "/api/v1/repos/api/ops/cancel", "", nil)
	assert.Equal(t, pkgErrors.CodeConflict, resp.Code)

	_, resp = f.do(http.MethodPut, "/api/v1/repos/api/ops/reboot", "", nil)
	assert.Equal(t, pkgErrors.CodeBadRequest, resp.Code)

	_, resp = f.do(http.MethodPut, "/api/v1/repos/api/ops/disable_auto", "", nil)
	require.Equal(t, pkgErrors.CodeSuccess, resp.Code)
	snap, err := f.engine.GetStatus("api")
	require.NoError(t, err)
	assert.False(t, snap.AutoDeploy)
	assert.Equal(t, constants.OperationDisableAuto, f.logs.lastOperation().Operation)

	_, resp = f.do(http.MethodPut, "/api/v1/repos/api/ops/enable_auto", "", nil)
	require.Equal(t, pkgErrors.CodeSuccess, resp.Code)
	snap, err = f.engine.GetStatus("api")
	require.NoError(t, err)
	assert.True(t, snap.AutoDeploy)
}

func TestRepo_ListLogs(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, memoryDeploys{f.logs}.Create(context.Background(), &model.DeployLog{EventID: "e1", Repository: "api", Type: "deploy", Result: "success"}))

	w, _ := f.do(http.MethodGet, "/api/v1/repos/api/logs?page=1&page_size=10", "", nil)
	var page utils.PageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, 10, page.Size)

	_, resp := f.do(http.MethodGet, "/api/v1/repos/api/logs?page_size=1000", "", nil)
	assert.Equal(t, pkgErrors.CodeBadRequest, resp.Code)
}
