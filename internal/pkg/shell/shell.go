package shell

import (
	"context"
	"fmt"
	"strings"

	sh "github.com/codeskyblue/go-sh"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Runner 执行外部命令并返回合并后的输出
type Runner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (string, error)
}

// OperationFailure 外部命令以非零状态退出
type OperationFailure struct {
	Command string
	Dir     string
	Output  string
	Err     error
}

func (e *OperationFailure) Error() string {
	return fmt.Sprintf("command %q failed: %v\n%s", e.Command, e.Err, strings.TrimSpace(e.Output))
}

func (e *OperationFailure) Unwrap() error {
	return e.Err
}

// NewOperationFailure 创建带堆栈的命令失败错误
func NewOperationFailure(dir, output string, err error, name string, args ...string) error {
	return errors.WithStack(&OperationFailure{
		Command: CommandLine(name, args...),
		Dir:     dir,
		Output:  output,
		Err:     err,
	})
}

// CommandLine 拼接命令行, 用于日志与错误信息
func CommandLine(name string, args ...string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}

type shRunner struct {
	logger *zap.Logger
}

// NewRunner 基于 go-sh 的命令执行器, 不设置超时
func NewRunner(logger *zap.Logger) Runner {
	return &shRunner{logger: logger}
}

// Run 执行命令, 捕获 stdout 与 stderr
func (r *shRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrapf(err, "skip %s", CommandLine(name, args...))
	}

	cargs := make([]interface{}, len(args))
	for i, a := range args {
		cargs[i] = a
	}

	session := sh.NewSession()
	if dir != "" {
		session.SetDir(dir)
	}
	out, err := session.Command(name, cargs...).CombinedOutput()

	r.logger.Debug("exec command",
		zap.String("cmd", CommandLine(name, args...)),
		zap.String("dir", dir),
		zap.Bool("ok", err == nil))

	if err != nil {
		return string(out), NewOperationFailure(dir, string(out), err, name, args...)
	}
	return string(out), nil
}
