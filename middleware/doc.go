// Package middleware provides composable middleware for job execution.
//
// A [Middleware] wraps a job handler. Middleware are composed with [Chain];
// the first middleware in the slice is the outermost wrapper.
//
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs job start, duration and outcome
//   - [Recover] turns panics into a [*PanicError]
//   - [Timeout] bounds each execution with a deadline
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records duration and outcome counters
//
// # Writing Custom Middleware
//
//	func Audit(w io.Writer) middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) error {
//	        fmt.Fprintln(w, "run", j.ID)
//	        return next(ctx)
//	    }
//	}
package middleware
