package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// DefaultRetries 默认重试次数(不含首次执行)
const DefaultRetries = 3

// Op 可重试的操作
type Op func(ctx context.Context) error

// Do 执行 op, 失败后最多再重试 retries 次, 重试之间不退避.
// 全部失败时返回最后一次的错误; retries <= 0 时只执行一次.
func Do(ctx context.Context, retries int, op Op) error {
	if retries < 0 {
		retries = 0
	}

	backoff := goretry.WithMaxRetries(uint64(retries), goretry.BackoffFunc(func() (time.Duration, bool) {
		return 0, false
	}))

	return goretry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := op(ctx); err != nil {
			return goretry.RetryableError(err)
		}
		return nil
	})
}
