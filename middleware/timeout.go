package middleware

import (
	"context"
	"time"

	"github.com/xraph/fairqueue"
)

// Timeout returns middleware that enforces a fixed processing deadline.
// Processing itself imposes no deadline; this middleware is the opt-in
// way to bound slow processors. A non-positive limit disables it.
func Timeout(limit time.Duration) Middleware {
	return func(ctx context.Context, _ *fairqueue.Item, next Handler) error {
		if limit > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}
		return next(ctx)
	}
}
