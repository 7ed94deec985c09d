package notify

import (
	"context"
	stdErrors "errors"

	"crmkit/logging"
	"crmkit/patterns/retry"
)

// Retrying 失败时按退避策略重发；ctx 取消或超时不再重试
type Retrying struct {
	next   Publisher
	policy retry.Policy
	logger logging.Logger
}

// WithRetry 包装发布者。maxAttempts<=1 时原样返回 next
func WithRetry(next Publisher, maxAttempts int, logger logging.Logger) Publisher {
	if maxAttempts <= 1 {
		return next
	}
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	p := retry.DefaultPolicy()
	p.MaxAttempts = maxAttempts
	p.Retryable = func(err error) bool {
		return !stdErrors.Is(err, context.Canceled) && !stdErrors.Is(err, context.DeadlineExceeded)
	}
	return &Retrying{next: next, policy: p, logger: logger}
}

// Publish 发布，最多尝试 policy.MaxAttempts 次
func (r *Retrying) Publish(ctx context.Context, e Event) error {
	return retry.Do(ctx, r.policy, func(ctx context.Context, attempt int) error {
		err := r.next.Publish(ctx, e)
		if err != nil && attempt < r.policy.MaxAttempts {
			r.logger.Debug(ctx, "publish audit event retrying",
				logging.String("event_id", e.ID),
				logging.Int("attempt", attempt),
				logging.Error(err))
		}
		return err
	})
}

func (r *Retrying) Close() error { return r.next.Close() }
