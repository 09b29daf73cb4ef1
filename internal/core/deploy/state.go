package deploy

import (
	"time"

	"github.com/samber/lo"

	"deploy-server/internal/core/payload"
	"deploy-server/internal/core/tag"
	"deploy-server/pkg/constants"
)

// state 单个仓库的部署状态, 由 Orchestrator.mu 保护
//
// status 为 idle 时 running 为空且 cancelFlag 为 false.
type state struct {
	status  constants.DeployStatus
	running *payload.Event
	waiting []*payload.Event

	hosts      []string
	hostStatus map[string]constants.HostStatus

	stage   string
	percent int

	cancelFlag  bool
	cancelledBy string
	cancelledAt time.Time

	autoDeploy    bool
	lastCommit    string
	lastCommitTag *tag.Tag
	lastTags      []*tag.Tag

	backupFile  string
	packageFile string
	startedAt   time.Time
	baseCommit  string // 本次部署开始前的提交, 回滚目标
	generation  uint64 // 每次进入 running 加一
}

func newState(hosts []string, autoDeploy bool) state {
	st := state{
		status:     constants.DeployStatusIdle,
		hosts:      hosts,
		hostStatus: make(map[string]constants.HostStatus, len(hosts)),
		autoDeploy: autoDeploy,
	}
	st.resetHosts()
	return st
}

func (s *state) resetHosts() {
	for _, h := range s.hosts {
		s.hostStatus[h] = constants.HostStatusNormal
	}
}

// dequeue 取出最早的排队事件
func (s *state) dequeue() *payload.Event {
	if len(s.waiting) == 0 {
		return nil
	}
	ev := s.waiting[0]
	s.waiting[0] = nil
	s.waiting = s.waiting[1:]
	return ev
}

func (s *state) clearCancel() {
	s.cancelFlag = false
	s.cancelledBy = ""
	s.cancelledAt = time.Time{}
}

// toIdle 回到空闲, 保留排队事件与最近一次的取消者
func (s *state) toIdle() {
	s.status = constants.DeployStatusIdle
	s.running = nil
	s.cancelFlag = false
	s.stage = ""
	s.percent = 0
}

// Snapshot 部署状态快照, 事件与 tag 折叠为标识字符串
type Snapshot struct {
	Name          string                          `json:"repo_name"`
	Strategy      constants.Strategy              `json:"strategy"`
	Status        constants.DeployStatus          `json:"status"`
	HostsStatus   map[string]constants.HostStatus `json:"hosts_status"`
	Stage         string                          `json:"stage"`
	Percent       int                             `json:"process_percent"`
	LastCommit    string                          `json:"last_commit"`
	LastCommitTag string                          `json:"last_commit_tag"`
	LastTags      []string                        `json:"last_tags"`
	CancelFlag    bool                            `json:"cancel_flag"`
	CancelledBy   string                          `json:"cancelled_by,omitempty"`
	AutoDeploy    bool                            `json:"auto_deploy_enable"`
	TaskRunning   string                          `json:"task_running"`
	TaskRunningID string                          `json:"task_running_id"`
	TaskWaiting   []string                        `json:"task_waiting"`
	BackupFile    string                          `json:"backup_filename"`
	PackageFile   string                          `json:"package_filename"`
	StartedAt     *time.Time                      `json:"started_at,omitempty"`
}

func (s *state) snapshot(name string, strategy constants.Strategy) Snapshot {
	snap := Snapshot{
		Name:          name,
		Strategy:      strategy,
		Status:        s.status,
		HostsStatus:   make(map[string]constants.HostStatus, len(s.hostStatus)),
		Stage:         s.stage,
		Percent:       s.percent,
		LastCommit:    s.lastCommit,
		CancelFlag:    s.cancelFlag,
		CancelledBy:   s.cancelledBy,
		AutoDeploy:    s.autoDeploy,
		TaskRunning:   s.running.Identity(),
		TaskRunningID: s.running.String(),
		BackupFile:    s.backupFile,
		PackageFile:   s.packageFile,
	}
	for h, st := range s.hostStatus {
		snap.HostsStatus[h] = st
	}
	if s.lastCommitTag != nil {
		snap.LastCommitTag = s.lastCommitTag.Name
	}
	snap.LastTags = lo.Map(s.lastTags, func(t *tag.Tag, _ int) string { return t.Name })
	snap.TaskWaiting = lo.Map(s.waiting, func(ev *payload.Event, _ int) string { return ev.Identity() })
	if s.running != nil {
		started := s.startedAt
		snap.StartedAt = &started
	}
	return snap
}
