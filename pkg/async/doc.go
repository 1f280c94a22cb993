// Package async runs background work with panic recovery, per-task timeouts
// and bounded concurrency.
//
// SafeGo runs a single detached task:
//
//	async.SafeGo(ctx, log, 5*time.Second, "cache warm", func(ctx context.Context) error {
//		return warm(ctx)
//	})
//
// WorkerPool runs submitted tasks on a fixed number of workers and is used to
// deliver audit records off the request path:
//
//	pool := async.NewWorkerPool(ctx, log, 4, "audit delivery", 10*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//	pool.Submit(func(ctx context.Context) error { return sink.Log(ctx, event) })
package async
