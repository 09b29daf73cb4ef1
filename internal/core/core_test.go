package core

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deploy-server/internal/adapter/notification"
	"deploy-server/internal/core/deploy"
	"deploy-server/internal/core/payload"
	"deploy-server/internal/pkg/config"
	"deploy-server/pkg/constants"
)

// stubRunner 所有命令成功, git pull 可被阻塞
type stubRunner struct {
	mu      sync.Mutex
	pulls   int
	block   chan struct{}
	entered chan struct{}
}

func (r *stubRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := name + " " + strings.Join(args, " ")
	switch {
	case strings.HasPrefix(cmd, "git pull"):
		r.mu.Lock()
		r.pulls++
		r.mu.Unlock()
		if r.block != nil {
			r.entered <- struct{}{}
			<-r.block
		}
	case strings.HasPrefix(cmd, "git rev-parse"):
		return "c1\n", nil
	case strings.Contains(cmd, " status "):
		return "svc RUNNING pid 1", nil
	}
	return "", nil
}

func (r *stubRunner) pullCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pulls
}

func repoConfig(name, repo string) config.RepositoryConfig {
	return config.RepositoryConfig{
		Name:       name,
		Repository: repo,
		Strategy:   constants.StrategyGit,
		Branch:     "main",
		GitPath:    "/srv/_github/" + name,
		DeployPath: "/srv/_online",
		Services:   []config.ServiceConfig{{ID: "svc", Priority: 1}},
		Routes:     []config.RouteConfig{{Project: "*", Services: []string{"svc"}}},
		Hosts:      []config.HostConfig{{Name: "web01", Roles: []string{"web"}}},
		Roles:      []config.RoleConfig{{Name: "web", Services: []string{"svc"}}},
	}
}

func newTestEngine(t *testing.T, runner *stubRunner) *CoreEngine {
	t.Helper()
	cfg := &config.Config{
		Core: config.CoreConfig{Deploy: config.DeployConfig{SettleDelay: "0s"}},
		Repositories: []config.RepositoryConfig{
			repoConfig("api-main", "api"),
			repoConfig("api-hotfix", "api"),
			repoConfig("web", "web"),
		},
	}
	registry, err := deploy.BuildRegistry(cfg, runner, afero.NewMemMapFs(), nil, notification.NewLogNotifier(zap.NewNop()), zap.NewNop())
	require.NoError(t, err)
	return NewCoreEngine(registry, zap.NewNop())
}

func pushEvent(repo string) *payload.Event {
	return &payload.Event{ID: "evt-" + repo, Repository: repo, Kind: payload.KindBranch, Branch: "main", HeadCommit: "c2", Origin: constants.OriginWebhook}
}

func TestSubmit_UnknownRepository(t *testing.T) {
	e := newTestEngine(t, &stubRunner{})

	n, err := e.Submit(pushEvent("missing"))
	assert.ErrorIs(t, err, ErrUnknownRepository)
	assert.Zero(t, n)
}

func TestSubmit_DispatchesToEveryInstance(t *testing.T) {
	runner := &stubRunner{}
	e := newTestEngine(t, runner)

	n, err := e.Submit(pushEvent("api"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, e.Stop(context.Background()))
	assert.Equal(t, 2, runner.pullCount())

	snap, err := e.GetStatus("api-main")
	require.NoError(t, err)
	assert.Equal(t, constants.DeployStatusIdle, snap.Status)
	assert.Equal(t, "c1", snap.LastCommit)
}

func TestStop_WaitsForPipelines(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	e := newTestEngine(t, runner)

	_, err := e.Submit(pushEvent("web"))
	require.NoError(t, err)
	<-runner.entered

	snap, err := e.GetStatus("web")
	require.NoError(t, err)
	assert.Equal(t, constants.DeployStatusRunning, snap.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Stop(ctx), context.DeadlineExceeded)

	_, err = e.Submit(pushEvent("web"))
	assert.ErrorIs(t, err, ErrEngineStopped)

	close(runner.block)
	require.NoError(t, e.Stop(context.Background()))
}

func TestOperations(t *testing.T) {
	e := newTestEngine(t, &stubRunner{})

	assert.ErrorIs(t, e.Cancel("web", "ops"), deploy.ErrNotRunning)
	assert.ErrorIs(t, e.Cancel("missing", "ops"), ErrUnknownRepository)

	require.NoError(t, e.DisableAutoDeploy("web"))
	snap, err := e.GetStatus("web")
	require.NoError(t, err)
	assert.False(t, snap.AutoDeploy)

	require.NoError(t, e.EnableAutoDeploy("web"))
	require.NoError(t, e.Stop(context.Background()))
	snap, err = e.GetStatus("web")
	require.NoError(t, err)
	assert.True(t, snap.AutoDeploy)
}
