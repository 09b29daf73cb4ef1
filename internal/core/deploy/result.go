package deploy

type resultKind int

const (
	resultContinue resultKind = iota
	resultCancelled
	resultFailed
)

// StageResult 单个阶段的结果, 由直接调用方检查
//
// Cancelled 表示取消已触发回滚, Err 为回滚错误(回滚成功时为 nil).
// Failed 表示阶段失败, Err 为失败原因.
type StageResult struct {
	kind resultKind
	Err  error
}

// Continue 阶段完成, 继续执行
func Continue() StageResult {
	return StageResult{kind: resultContinue}
}

// Cancelled 部署被取消且已回滚
func Cancelled(rollbackErr error) StageResult {
	return StageResult{kind: resultCancelled, Err: rollbackErr}
}

// Failed 阶段失败
func Failed(err error) StageResult {
	return StageResult{kind: resultFailed, Err: err}
}

func (r StageResult) Continue() bool {
	return r.kind == resultContinue
}

func (r StageResult) Cancelled() bool {
	return r.kind == resultCancelled
}

func (r StageResult) Failed() bool {
	return r.kind == resultFailed
}
