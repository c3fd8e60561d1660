package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/fairqueue"
)

// Logging returns middleware that logs item processing start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, it *fairqueue.Item, next Handler) error {
		logger.Info("item processing started",
			slog.String("item_id", it.ID.String()),
			slog.String("tier", it.Tier),
			slog.Float64("effective_priority", it.EffectivePriority),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("item processing failed",
				slog.String("item_id", it.ID.String()),
				slog.String("tier", it.Tier),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("item processed",
				slog.String("item_id", it.ID.String()),
				slog.String("tier", it.Tier),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
