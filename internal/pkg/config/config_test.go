package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deploy-server/pkg/constants"
)

const secretsConfig = `
auth:
  jwt:
    secret: jwt-s3cret
github:
  secret: s3cret
`

const sampleConfig = `
server:
  port: 8080
auth:
  jwt:
    secret: jwt-s3cret
github:
  secret: s3cret
core:
  deploy:
    retry_count: 2
    settle_delay: 1s
repositories:
  - name: repoA
    repository: repoA
    strategy: package
    git_path: /home/deploy/_github/repoA/
    deploy_path: /home/deploy/_online/
    package_path: /home/deploy/_package/
    backup_path: /home/deploy/_backup/
    services:
      - {id: "api:api_2919", priority: 1}
      - {id: "Admin:admin_3377", priority: 3}
    routes:
      - {project: api, services: ["api:api_2919"]}
      - {project: dw, services: []}
      - {project: "*", services: ["Admin:admin_3377"]}
    hosts:
      - {name: web01.example.com, roles: [web]}
    roles:
      - {name: web, services: ["api:api_2919", "Admin:admin_3377"]}
    post_actions:
      - {cmd: "npm start", cwd: /home/deploy/foo}
  - name: repoB-master
    repository: repoB
    strategy: git
    branch: master
    auto_deploy: false
    git_path: /home/deploy/_github/repoB/
    deploy_path: /home/deploy/_online/
    hosts:
      - {name: web02}
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Github.Secret)
	assert.Equal(t, "jwt-s3cret", cfg.Auth.JWT.Secret)
	assert.Equal(t, 2, cfg.Core.Deploy.RetryCount)
	assert.Equal(t, 10, cfg.Core.Deploy.TagListSize)
	assert.Equal(t, 9001, cfg.Core.Deploy.SupervisorPort)

	d, err := cfg.Core.Deploy.SettleDuration()
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	require.Len(t, cfg.Repositories, 2)
	repoA := cfg.Repositories[0]
	assert.Equal(t, constants.StrategyPackage, repoA.Strategy)
	assert.True(t, repoA.AutoDeployEnabled())
	assert.Equal(t, "web01.example.com", repoA.Hosts[0].Name)
	assert.Equal(t, "Admin:admin_3377", repoA.Services[1].ID)
	assert.Empty(t, repoA.Routes[1].Services)
	assert.Equal(t, "npm start", repoA.PostActions[0].Cmd)

	repoB := cfg.Repositories[1]
	assert.Equal(t, constants.StrategyGit, repoB.Strategy)
	assert.False(t, repoB.AutoDeployEnabled())
}

func TestLoad_PackageStrategyRequiresArtifactPaths(t *testing.T) {
	_, err := Load(writeConfig(t, secretsConfig+`
repositories:
  - name: repoA
    repository: repoA
    strategy: package
    git_path: /g/
    deploy_path: /d/
    hosts: [{name: h1}]
`))
	assert.Error(t, err)
}

func TestLoad_GitStrategyRequiresBranch(t *testing.T) {
	_, err := Load(writeConfig(t, secretsConfig+`
repositories:
  - name: repoB
    repository: repoB
    strategy: git
    git_path: /g/
    deploy_path: /d/
    hosts: [{name: h1}]
`))
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownStrategyAndDuplicates(t *testing.T) {
	_, err := Load(writeConfig(t, secretsConfig+`
repositories:
  - {name: a, repository: a, strategy: svn, git_path: /g/, deploy_path: /d/, hosts: [{name: h1}]}
`))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, secretsConfig+`
repositories:
  - {name: a, repository: a, strategy: git, branch: master, git_path: /g/, deploy_path: /d/, hosts: [{name: h1}]}
  - {name: a, repository: a, strategy: git, branch: dev, git_path: /g/, deploy_path: /d/, hosts: [{name: h1}]}
`))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_RequiresSecrets(t *testing.T) {
	repos := `
repositories:
  - {name: a, repository: a, strategy: git, branch: master, git_path: /g/, deploy_path: /d/, hosts: [{name: h1}]}
`
	tests := []struct {
		name    string
		content string
	}{
		{"missing both", repos},
		{"missing github secret", "auth:\n  jwt:\n    secret: j\n" + repos},
		{"missing jwt secret", "github:\n  secret: g\n" + repos},
		{"empty github secret", "auth:\n  jwt:\n    secret: j\ngithub:\n  secret: \"\"\n" + repos},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "Secret")
		})
	}

	cfg, err := Load(writeConfig(t, secretsConfig+repos))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Github.Secret)
}

func TestLoad_SecretsFromEnv(t *testing.T) {
	t.Setenv("GITHUB_SECRET", "env-github")
	t.Setenv("AUTH_JWT_SECRET", "env-jwt")

	cfg, err := Load(writeConfig(t, `
repositories:
  - {name: a, repository: a, strategy: git, branch: master, git_path: /g/, deploy_path: /d/, hosts: [{name: h1}]}
`))
	require.NoError(t, err)
	assert.Equal(t, "env-github", cfg.Github.Secret)
	assert.Equal(t, "env-jwt", cfg.Auth.JWT.Secret)
}
