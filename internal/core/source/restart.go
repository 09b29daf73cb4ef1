package source

import (
	"context"
	"fmt"
	"regexp"

	"github.com/pkg/errors"

	"deploy-server/internal/core/topology"
	"deploy-server/internal/pkg/metrics"
	"deploy-server/internal/pkg/retry"
	"deploy-server/internal/pkg/shell"
)

var runningPattern = regexp.MustCompile(`\bRUNNING\b`)

// ServiceRestartFailure 重启后状态检查未观察到 RUNNING
type ServiceRestartFailure struct {
	Service topology.ServiceID
	Host    string
	Failure *shell.OperationFailure
}

func (e *ServiceRestartFailure) Error() string {
	return fmt.Sprintf("service %s on %s is not running: %v", e.Service, e.Host, e.Failure)
}

func (e *ServiceRestartFailure) Unwrap() error {
	return e.Failure
}

// RestartServices 按优先级在主机上重启服务, 主机未运行的服务跳过
func (r *Repository) RestartServices(ctx context.Context, ids []topology.ServiceID, host string) error {
	ordered, err := r.topo.RestartOrder(ids)
	if err != nil {
		return errors.WithStack(err)
	}

	for _, svc := range ordered {
		if !r.topo.Runs(host, svc.ID) {
			r.logger.Debugf("host %s does not run %s, skip", host, svc.ID)
			continue
		}

		err := retry.Do(ctx, r.opts.Retries, func(ctx context.Context) error {
			return r.restartOnce(ctx, svc.ID, host)
		})
		metrics.ObserveRestart(r.cfg.Name, err == nil)
		if err != nil {
			r.logger.Errorf("restart %s at %s failed: %v", svc.ID, host, err)
			return err
		}
		r.logger.Infof("restart %s at %s ok", svc.ID, host)
	}
	return nil
}

func (r *Repository) restartOnce(ctx context.Context, id topology.ServiceID, host string) error {
	server := fmt.Sprintf("http://%s:%d", host, r.opts.SupervisorPort)

	if _, err := r.runner.Run(ctx, "", "supervisorctl", "-s", server, "restart", string(id)); err != nil {
		return err
	}
	if err := r.sleep(ctx, r.opts.SettleDelay); err != nil {
		return err
	}

	out, err := r.runner.Run(ctx, "", "supervisorctl", "-s", server, "status", string(id))
	if err == nil && runningPattern.MatchString(out) {
		return nil
	}

	failure := &shell.OperationFailure{
		Command: shell.CommandLine("supervisorctl", "-s", server, "status", string(id)),
		Output:  out,
		Err:     errors.New("status is not RUNNING"),
	}
	if err != nil && !errors.As(err, &failure) {
		failure.Err = err
	}
	return errors.WithStack(&ServiceRestartFailure{Service: id, Host: host, Failure: failure})
}
