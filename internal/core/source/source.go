package source

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"deploy-server/internal/core/tag"
	"deploy-server/internal/core/topology"
	"deploy-server/internal/pkg/config"
	"deploy-server/internal/pkg/retry"
	"deploy-server/internal/pkg/shell"
)

// Options 执行参数, 来自全局部署配置
type Options struct {
	Retries        int
	SettleDelay    time.Duration
	TagListSize    int
	DeployUser     string
	SupervisorPort int
	ScratchDir     string
}

// OptionsFrom 由部署配置生成执行参数
func OptionsFrom(cfg *config.DeployConfig) Options {
	settle, _ := cfg.SettleDuration()
	return Options{
		Retries:        cfg.RetryCount,
		SettleDelay:    settle,
		TagListSize:    cfg.TagListSize,
		DeployUser:     cfg.DeployUser,
		SupervisorPort: cfg.SupervisorPort,
		ScratchDir:     cfg.ScratchDir,
	}
}

// Repository 对单个源码目录执行所有外部操作
type Repository struct {
	cfg    config.RepositoryConfig
	opts   Options
	topo   *topology.Topology
	runner shell.Runner
	fs     afero.Fs
	logger *zap.SugaredLogger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New 创建源码仓库执行器
func New(cfg *config.RepositoryConfig, opts Options, runner shell.Runner, fs afero.Fs, logger *zap.Logger) (*Repository, error) {
	topo, err := topology.New(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "build topology of %s", cfg.Name)
	}
	if opts.DeployUser == "" {
		opts.DeployUser = "deploy"
	}
	if opts.SupervisorPort == 0 {
		opts.SupervisorPort = 9001
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = "/tmp"
	}

	return &Repository{
		cfg:    *cfg,
		opts:   opts,
		topo:   topo,
		runner: runner,
		fs:     fs,
		logger: logger.Sugar().With(zap.String("repo", cfg.Name)),
		now:    time.Now,
		sleep:  sleepContext,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Name 实例名
func (r *Repository) Name() string {
	return r.cfg.Name
}

// Hosts 部署目标主机, 顺序固定
func (r *Repository) Hosts() []string {
	return r.topo.Hosts()
}

// RestartSet 变更文件影响的服务
func (r *Repository) RestartSet(files []string) []topology.ServiceID {
	return r.topo.RestartSet(files)
}

// dirName 源码目录名, 同时是部署目录与归档中的顶层目录
func (r *Repository) dirName() string {
	return filepath.Base(filepath.Clean(r.cfg.GitPath))
}

func (r *Repository) git(ctx context.Context, args ...string) (string, error) {
	return r.runner.Run(ctx, r.cfg.GitPath, "git", args...)
}

// Clean 清理工作区
func (r *Repository) Clean(ctx context.Context) error {
	if _, err := r.git(ctx, "clean", "-f"); err != nil {
		return err
	}
	_, err := r.git(ctx, "reset", "--hard", "HEAD")
	return err
}

// Fetch 拉取远端对象与 tag
func (r *Repository) Fetch(ctx context.Context) error {
	return retry.Do(ctx, r.opts.Retries, func(ctx context.Context) error {
		_, err := r.git(ctx, "fetch", "--tags", "origin")
		return err
	})
}

// Pull 以 rebase 方式拉取跟踪分支
func (r *Repository) Pull(ctx context.Context) error {
	return retry.Do(ctx, r.opts.Retries, func(ctx context.Context) error {
		_, err := r.git(ctx, "pull", "--rebase", "origin", r.cfg.Branch)
		return err
	})
}

// Reset 硬重置到指定提交或 tag
func (r *Repository) Reset(ctx context.Context, ref string) error {
	if ref == "" {
		return errors.New("reset target is empty")
	}
	_, err := r.git(ctx, "reset", "--hard", ref)
	return err
}

// ChangedFiles 两个提交之间变更的文件, 任一端为空时视为无变更
func (r *Repository) ChangedFiles(ctx context.Context, from, to string) ([]string, error) {
	if from == "" || to == "" {
		return nil, nil
	}
	out, err := r.git(ctx, "diff", "--name-only", from, to)
	if err != nil {
		return nil, err
	}
	return splitList(out), nil
}

// LastCommit 当前 HEAD
func (r *Repository) LastCommit(ctx context.Context) (string, error) {
	out, err := r.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CommitTag 提交上精确匹配的附注标签, 没有则返回 nil
func (r *Repository) CommitTag(ctx context.Context, commit string) *tag.Tag {
	if commit == "" {
		return nil
	}
	out, err := r.git(ctx, "describe", "--abbrev=0", "--exact-match", commit)
	if err != nil {
		return nil
	}
	t, err := r.TagInfo(ctx, strings.TrimSpace(out))
	if err != nil {
		return nil
	}
	return t
}

// TagInfo 解析 git show 输出
func (r *Repository) TagInfo(ctx context.Context, name string) (*tag.Tag, error) {
	out, err := r.git(ctx, "show", name)
	if err != nil {
		return nil, err
	}
	t := tag.Parse(out)
	if t == nil {
		return nil, errors.Errorf("%s is not an annotated tag", name)
	}
	return t, nil
}

// ReleaseTags 最近的发布标签, 解析失败的跳过
func (r *Repository) ReleaseTags(ctx context.Context) ([]*tag.Tag, error) {
	out, err := r.git(ctx, "tag", "-l", "r*.*.*")
	if err != nil {
		return nil, err
	}

	names := tag.SortReleases(splitList(out))
	if r.opts.TagListSize > 0 && len(names) > r.opts.TagListSize {
		names = names[:r.opts.TagListSize]
	}

	tags := make([]*tag.Tag, 0, len(names))
	for _, n := range names {
		t, err := r.TagInfo(ctx, n)
		if err != nil {
			r.logger.Debugf("skip tag %s: %v", n, err)
			continue
		}
		tags = append(tags, t)
	}
	return tags, nil
}

// InstallPackages 安装变更的依赖清单, 已被删除的清单跳过
func (r *Repository) InstallPackages(ctx context.Context, files []string) error {
	manifests := lo.Uniq(lo.Filter(files, func(f string, _ int) bool {
		base := filepath.Base(f)
		return base == "package.json" || base == "requirements.txt"
	}))

	for _, m := range manifests {
		full := filepath.Join(r.cfg.GitPath, m)
		exists, err := afero.Exists(r.fs, full)
		if err != nil {
			return errors.Wrapf(err, "stat %s", full)
		}
		if !exists {
			r.logger.Infof("manifest %s removed, skip install", m)
			continue
		}

		dir := filepath.Dir(full)
		switch filepath.Base(m) {
		case "package.json":
			r.logger.Infof("npm install in %s", dir)
			_, err = r.runner.Run(ctx, dir, "npm", "install")
		case "requirements.txt":
			r.logger.Infof("pip3 install -r %s", full)
			_, err = r.runner.Run(ctx, dir, "pip3", "install", "-r", "requirements.txt")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// RunPostActions 执行配置的后置命令
func (r *Repository) RunPostActions(ctx context.Context) error {
	for _, action := range r.cfg.PostActions {
		argv := strings.Fields(action.Cmd)
		if len(argv) == 0 {
			continue
		}
		dir := action.Cwd
		if dir == "" {
			dir = r.cfg.GitPath
		}
		r.logger.Infof("post action: %s (cwd %s)", action.Cmd, dir)
		if _, err := r.runner.Run(ctx, dir, argv[0], argv[1:]...); err != nil {
			return err
		}
	}
	return nil
}

// Sync 将工作区同步到主机, 排除 .git 与可选的排除文件
func (r *Repository) Sync(ctx context.Context, host string) error {
	args := []string{"-a", "--delete", "--exclude=.git"}
	if r.cfg.ExcludeFile != "" {
		args = append(args, "--exclude-from="+filepath.Join(r.cfg.GitPath, r.cfg.ExcludeFile))
	}
	args = append(args, filepath.Clean(r.cfg.GitPath), r.remote(host))
	_, err := r.runner.Run(ctx, "", "rsync", args...)
	return err
}

func (r *Repository) remote(host string) string {
	return r.opts.DeployUser + "@" + host + ":" + r.cfg.DeployPath
}

func splitList(s string) []string {
	out := strings.TrimSpace(s)
	if out == "" {
		return []string{}
	}
	lines := strings.Split(out, "\n")
	return lo.FilterMap(lines, func(l string, _ int) (string, bool) {
		l = strings.TrimSpace(l)
		return l, l != ""
	})
}
