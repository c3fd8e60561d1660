// Package middleware provides composable middleware for item processing.
//
// A [Middleware] is a function that wraps the processor. Middleware are
// composed into a chain using [Chain] and applied before each item is
// processed. They are applied right-to-left: the first middleware in the
// slice is the outermost wrapper.
//
//	// logging → recover → processor
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs item tier, duration, and outcome at each processing
//   - [Recover] — catches panics and converts them to errors
//   - [Timeout] — cancels the processing context after a fixed duration
//   - [Tracing] — wraps processing in an OpenTelemetry span
//   - [Metrics] — records per-item duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, it *fairqueue.Item, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
