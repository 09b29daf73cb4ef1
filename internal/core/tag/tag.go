package tag

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TimeLayout git show 输出的 tagger 时间格式
const TimeLayout = "Mon Jan 2 15:04:05 2006 -0700"

var (
	releasePattern = regexp.MustCompile(`^r(\d+)\.(\d+)\.(\d+)$`)

	namePattern    = regexp.MustCompile(`(?m)^tag\s+(\S+)\s*$`)
	taggerPattern  = regexp.MustCompile(`(?m)^Tagger:\s(.+)\s<(.+)>\s*$`)
	datePattern    = regexp.MustCompile(`(?m)^Tagger:.+\nDate:\s+(.+?)\s*$`)
	messagePattern = regexp.MustCompile(`(?s)\nDate:[^\n]*\n\n(.*?)\n+commit\s`)
	commitPattern  = regexp.MustCompile(`(?m)^commit\s(\S+)`)
)

// Tag 附注标签信息
type Tag struct {
	Name     string    `json:"name"`
	Author   string    `json:"author"`
	Email    string    `json:"email"`
	CommitID string    `json:"commit_id"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// Parse 解析 `git show <tag>` 的输出.
// 轻量标签没有 tag/Tagger 头, 返回 nil.
func Parse(text string) *Tag {
	name := namePattern.FindStringSubmatch(text)
	if name == nil {
		return nil
	}
	tagger := taggerPattern.FindStringSubmatch(text)
	if tagger == nil {
		return nil
	}

	t := &Tag{
		Name:   name[1],
		Author: strings.TrimSpace(tagger[1]),
		Email:  tagger[2],
	}

	if m := datePattern.FindStringSubmatch(text); m != nil {
		if ts, err := time.Parse(TimeLayout, m[1]); err == nil {
			t.Time = ts
		}
	}
	if m := messagePattern.FindStringSubmatch(text); m != nil {
		t.Message = strings.TrimSpace(m[1])
	}
	if m := commitPattern.FindStringSubmatch(text); m != nil {
		t.CommitID = m[1]
	}

	return t
}

// String 多行摘要, 用于通知内容
func (t *Tag) String() string {
	if t == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Tag名称:%s\n", t.Name)
	fmt.Fprintf(&b, "Tag作者:%s <%s>\n", t.Author, t.Email)
	if !t.Time.IsZero() {
		fmt.Fprintf(&b, "Tag时间:%s\n", t.Time.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(&b, "Commit:%s\n", t.CommitID)
	fmt.Fprintf(&b, "Tag说明:%s", t.Message)
	return b.String()
}

// IsRelease 是否为 r<major>.<minor>.<patch> 形式的发布标签
func IsRelease(name string) bool {
	return releasePattern.MatchString(name)
}

// ReleaseKey 发布标签排序键: major*1e8 + minor*1e4 + patch
func ReleaseKey(name string) int64 {
	m := releasePattern.FindStringSubmatch(name)
	if m == nil {
		return -1
	}
	major, _ := strconv.ParseInt(m[1], 10, 64)
	minor, _ := strconv.ParseInt(m[2], 10, 64)
	patch, _ := strconv.ParseInt(m[3], 10, 64)
	return major*100000000 + minor*10000 + patch
}

// SortReleases 过滤出发布标签并按版本降序排列
func SortReleases(names []string) []string {
	releases := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if IsRelease(n) {
			releases = append(releases, n)
		}
	}
	sort.SliceStable(releases, func(i, j int) bool {
		return ReleaseKey(releases[i]) > ReleaseKey(releases[j])
	})
	return releases
}
