package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

const (
	archiveSuffix    = ".tar.gz"
	backupTimeLayout = "2006_01_02_15_04_05"
)

// Backup 将当前部署目录打包到备份目录, 返回归档路径
func (r *Repository) Backup(ctx context.Context) (string, error) {
	if err := r.fs.MkdirAll(r.cfg.BackupPath, 0o755); err != nil {
		return "", errors.Wrapf(err, "mkdir %s", r.cfg.BackupPath)
	}

	dir := r.dirName()
	archive := filepath.Join(r.cfg.BackupPath, fmt.Sprintf("%s_%s%s", dir, r.now().Format(backupTimeLayout), archiveSuffix))
	if _, err := r.runner.Run(ctx, r.cfg.DeployPath, "tar", "-zcf", archive, "--exclude="+dir+"/.git", dir); err != nil {
		r.discard(archive)
		return "", err
	}
	r.logger.Infof("backup saved to %s", archive)
	return archive, nil
}

// PackagePath tag 对应的发布包路径
func (r *Repository) PackagePath(tagName string) string {
	return filepath.Join(r.cfg.PackagePath, fmt.Sprintf("%s_%s%s", r.dirName(), tagName, archiveSuffix))
}

// Package 打包源码目录, 同一 tag 的发布包已存在时直接复用
func (r *Repository) Package(ctx context.Context, tagName string) (string, error) {
	archive := r.PackagePath(tagName)
	exists, err := afero.Exists(r.fs, archive)
	if err != nil {
		return "", errors.Wrapf(err, "stat %s", archive)
	}
	if exists {
		r.logger.Infof("package %s exists, reuse it", archive)
		return archive, nil
	}

	if err := r.fs.MkdirAll(r.cfg.PackagePath, 0o755); err != nil {
		return "", errors.Wrapf(err, "mkdir %s", r.cfg.PackagePath)
	}

	dir := r.dirName()
	parent := filepath.Dir(filepath.Clean(r.cfg.GitPath))
	if _, err := r.runner.Run(ctx, parent, "tar", "-zcf", archive, "--exclude="+dir+"/.git", dir); err != nil {
		r.discard(archive)
		return "", err
	}
	r.logger.Infof("package saved to %s", archive)
	return archive, nil
}

// discard 删除 tar 失败时残留的半成品归档
func (r *Repository) discard(archive string) {
	if err := r.fs.Remove(archive); err != nil && !os.IsNotExist(err) {
		r.logger.Warnf("remove broken archive %s failed: %v", archive, err)
	}
}

// Release 解包归档并同步到主机
func (r *Repository) Release(ctx context.Context, archive, host string) error {
	scratch := filepath.Join(r.opts.ScratchDir, "deploy-"+r.cfg.Name)
	if err := r.fs.RemoveAll(scratch); err != nil {
		return errors.Wrapf(err, "clean %s", scratch)
	}
	if err := r.fs.MkdirAll(scratch, 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", scratch)
	}
	defer func() {
		if err := r.fs.RemoveAll(scratch); err != nil {
			r.logger.Warnf("remove %s failed: %v", scratch, err)
		}
	}()

	if _, err := r.runner.Run(ctx, "", "tar", "-zxf", archive, "-C", scratch); err != nil {
		return err
	}
	_, err := r.runner.Run(ctx, "", "rsync", "-a", "--delete", filepath.Join(scratch, r.dirName()), r.remote(host))
	return err
}

// PruneArtifacts 只保留最新的备份与发布包, 返回被删除的文件
func (r *Repository) PruneArtifacts() ([]string, error) {
	var removed []string
	for _, dir := range []string{r.cfg.BackupPath, r.cfg.PackagePath} {
		if dir == "" {
			continue
		}
		files, err := r.pruneDir(dir)
		removed = append(removed, files...)
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (r *Repository) pruneDir(dir string) ([]string, error) {
	entries, err := afero.ReadDir(r.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read %s", dir)
	}

	prefix := r.dirName() + "_"
	var archives []os.FileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), archiveSuffix) {
			continue
		}
		archives = append(archives, e)
	}
	if len(archives) <= 1 {
		return nil, nil
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].ModTime().After(archives[j].ModTime())
	})

	var removed []string
	for _, a := range archives[1:] {
		path := filepath.Join(dir, a.Name())
		if err := r.fs.Remove(path); err != nil {
			return removed, errors.Wrapf(err, "remove %s", path)
		}
		removed = append(removed, path)
	}
	return removed, nil
}
