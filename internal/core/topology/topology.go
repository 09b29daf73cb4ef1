package topology

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"deploy-server/internal/pkg/config"
)

// Wildcard 未匹配到路由的顶层目录使用的兜底项目
const Wildcard = "*"

// ErrUnknownService 服务未声明, 属于配置错误
var ErrUnknownService = errors.New("unknown service")

// ServiceID supervisor 中的程序名, 例如 api:api_2919
type ServiceID string

// Service 服务身份及重启优先级
type Service struct {
	ID       ServiceID
	Priority int
}

// Topology 由配置预先计算的服务索引, 构造后只读
type Topology struct {
	services       map[ServiceID]Service
	routes         map[string][]ServiceID
	hosts          []string
	hostsByService map[ServiceID]map[string]struct{}
}

// New 根据仓库配置构造服务拓扑, 路由或角色引用未声明的服务时返回错误
func New(cfg *config.RepositoryConfig) (*Topology, error) {
	t := &Topology{
		services:       make(map[ServiceID]Service, len(cfg.Services)),
		routes:         make(map[string][]ServiceID, len(cfg.Routes)),
		hostsByService: make(map[ServiceID]map[string]struct{}),
	}

	for _, s := range cfg.Services {
		id := ServiceID(s.ID)
		if _, dup := t.services[id]; dup {
			return nil, fmt.Errorf("service %s declared twice", s.ID)
		}
		t.services[id] = Service{ID: id, Priority: s.Priority}
	}

	for _, r := range cfg.Routes {
		ids, err := t.resolve(r.Services)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", r.Project, err)
		}
		t.routes[r.Project] = ids
	}

	roles := make(map[string][]ServiceID, len(cfg.Roles))
	for _, r := range cfg.Roles {
		ids, err := t.resolve(r.Services)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", r.Name, err)
		}
		roles[r.Name] = ids
	}

	for _, h := range cfg.Hosts {
		t.hosts = append(t.hosts, h.Name)
		for _, role := range h.Roles {
			for _, id := range roles[role] {
				if t.hostsByService[id] == nil {
					t.hostsByService[id] = make(map[string]struct{})
				}
				t.hostsByService[id][h.Name] = struct{}{}
			}
		}
	}
	t.hosts = lo.Uniq(t.hosts)
	sort.Strings(t.hosts)

	return t, nil
}

func (t *Topology) resolve(names []string) ([]ServiceID, error) {
	ids := make([]ServiceID, 0, len(names))
	for _, n := range names {
		id := ServiceID(n)
		if _, ok := t.services[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownService, n)
		}
		ids = append(ids, id)
	}
	return lo.Uniq(ids), nil
}

// Hosts 按名称升序的主机列表
func (t *Topology) Hosts() []string {
	return append([]string(nil), t.hosts...)
}

// Runs 主机是否运行该服务
func (t *Topology) Runs(host string, id ServiceID) bool {
	_, ok := t.hostsByService[id][host]
	return ok
}

// Project 文件路径的顶层目录
func Project(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.Index(path, "/"); i >= 0 {
		return path[:i]
	}
	return path
}

// RestartSet 根据变更文件计算需要重启的服务集合.
// 路由存在但服务列表为空表示该目录无需重启, 不走兜底.
func (t *Topology) RestartSet(files []string) []ServiceID {
	projects := lo.Uniq(lo.FilterMap(files, func(f string, _ int) (string, bool) {
		p := Project(f)
		return p, p != ""
	}))

	set := make(map[ServiceID]struct{})
	for _, p := range projects {
		ids, ok := t.routes[p]
		if !ok {
			ids = t.routes[Wildcard]
		}
		for _, id := range ids {
			set[id] = struct{}{}
		}
	}

	result := lo.Keys(set)
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// RestartOrder 按优先级升序排列, 同优先级按名称排序
func (t *Topology) RestartOrder(ids []ServiceID) ([]Service, error) {
	ordered := make([]Service, 0, len(ids))
	for _, id := range lo.Uniq(ids) {
		s, ok := t.services[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownService, id)
		}
		ordered = append(ordered, s)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered, nil
}
