package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deploy-server/internal/pkg/config"
)

func sampleRepo() *config.RepositoryConfig {
	return &config.RepositoryConfig{
		Name: "repoA",
		Services: []config.ServiceConfig{
			{ID: "svc-api", Priority: 2},
			{ID: "svc-a", Priority: 3},
			{ID: "svc-b", Priority: 1},
			{ID: "svc-default", Priority: 5},
		},
		Routes: []config.RouteConfig{
			{Project: "api", Services: []string{"svc-api"}},
			{Project: "config", Services: []string{"svc-a", "svc-b"}},
			{Project: "docs", Services: nil},
			{Project: Wildcard, Services: []string{"svc-default"}},
		},
		Hosts: []config.HostConfig{
			{Name: "web02", Roles: []string{"web"}},
			{Name: "data01", Roles: []string{"data"}},
			{Name: "web01", Roles: []string{"web", "data"}},
		},
		Roles: []config.RoleConfig{
			{Name: "web", Services: []string{"svc-api", "svc-a"}},
			{Name: "data", Services: []string{"svc-b"}},
		},
	}
}

func TestRestartSet_ExactRoutesWithoutFallback(t *testing.T) {
	topo, err := New(sampleRepo())
	require.NoError(t, err)

	got := topo.RestartSet([]string{"api/server.py", "config/app.yaml"})
	assert.ElementsMatch(t, []ServiceID{"svc-api", "svc-a", "svc-b"}, got)
}

func TestRestartSet_WildcardAndEmptyRoute(t *testing.T) {
	topo, err := New(sampleRepo())
	require.NoError(t, err)

	assert.ElementsMatch(t, []ServiceID{"svc-default"}, topo.RestartSet([]string{"README.md", "misc/x.py"}))
	assert.Empty(t, topo.RestartSet([]string{"docs/index.md", "docs/a/b.md"}))
	assert.Empty(t, topo.RestartSet(nil))
}

func TestRestartSet_NoWildcardConfigured(t *testing.T) {
	cfg := sampleRepo()
	cfg.Routes = cfg.Routes[:2]
	topo, err := New(cfg)
	require.NoError(t, err)

	assert.Empty(t, topo.RestartSet([]string{"unknown/file.go"}))
}

func TestRestartOrder(t *testing.T) {
	cfg := &config.RepositoryConfig{
		Services: []config.ServiceConfig{{ID: "svc-a", Priority: 3}, {ID: "svc-b", Priority: 1}},
	}
	topo, err := New(cfg)
	require.NoError(t, err)

	ordered, err := topo.RestartOrder([]ServiceID{"svc-a", "svc-b"})
	require.NoError(t, err)
	require.Len(t, ordered, 2)
	assert.Equal(t, ServiceID("svc-b"), ordered[0].ID)
	assert.Equal(t, ServiceID("svc-a"), ordered[1].ID)
}

func TestRestartOrder_UnknownServiceIsConfigError(t *testing.T) {
	topo, err := New(sampleRepo())
	require.NoError(t, err)

	_, err = topo.RestartOrder([]ServiceID{"svc-missing"})
	assert.ErrorIs(t, err, ErrUnknownService)
}

func TestNew_RejectsUndeclaredService(t *testing.T) {
	cfg := sampleRepo()
	cfg.Routes = append(cfg.Routes, config.RouteConfig{Project: "web", Services: []string{"svc-ghost"}})
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrUnknownService)

	cfg = sampleRepo()
	cfg.Roles[0].Services = append(cfg.Roles[0].Services, "svc-ghost")
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrUnknownService)
}

func TestHostsAndRuns(t *testing.T) {
	topo, err := New(sampleRepo())
	require.NoError(t, err)

	assert.Equal(t, []string{"data01", "web01", "web02"}, topo.Hosts())
	assert.True(t, topo.Runs("web01", "svc-b"))
	assert.True(t, topo.Runs("web02", "svc-api"))
	assert.False(t, topo.Runs("web02", "svc-b"))
	assert.False(t, topo.Runs("data01", "svc-api"))
	assert.False(t, topo.Runs("nohost", "svc-api"))
}

func TestProject(t *testing.T) {
	assert.Equal(t, "api", Project("api/server.py"))
	assert.Equal(t, "README.md", Project("README.md"))
	assert.Equal(t, "api", Project("/api/x"))
}
