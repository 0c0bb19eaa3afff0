package llm

import (
	"context"
	"math/rand"
	"time"

	"github.com/BaSui01/neorag/types"
)

// RetryPolicy 网关调用的重试策略：指数退避 + 抖动。
// 只重试被标记为 Retryable 的错误（5xx、429、网络失败），
// 认证错误和格式错误立即上抛。
type RetryPolicy struct {
	MaxRetries     int           `json:"max_retries"`
	InitialBackoff time.Duration `json:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff"`
	Multiplier     float64       `json:"multiplier"`
	Jitter         bool          `json:"jitter"`
}

// DefaultRetryPolicy 返回合理默认值。
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
	}
}

// Do 以本策略执行 fn，直到成功、错误不可重试或尝试次数用尽。
// 总尝试次数是 MaxRetries+1；等待期间响应 ctx 取消。
func (rp *RetryPolicy) Do(ctx context.Context, fn func() error) error {
	backoff := rp.InitialBackoff

	var lastErr error
	for attempt := 0; attempt <= rp.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !types.IsRetryable(lastErr) || attempt == rp.MaxRetries {
			return lastErr
		}

		delay := backoff
		if rp.Jitter && delay > 0 {
			// 半固定半随机，避免并发调用方同步重试
			delay = delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		backoff = time.Duration(float64(backoff) * rp.Multiplier)
		if rp.MaxBackoff > 0 && backoff > rp.MaxBackoff {
			backoff = rp.MaxBackoff
		}
	}
	return lastErr
}
