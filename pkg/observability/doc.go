// Package observability provides logging, metrics, tracing, health checks and
// graceful shutdown for the gatekeeper service.
//
// Logging uses logrus with a JSON formatter by default:
//
//	log := observability.NewLogger("info", "json", os.Stdout)
//	observability.FromContext(ctx, log).Info("role assigned")
//
// Prometheus metrics are created once per registry and fed by the rbac
// service, checker and event bus hooks:
//
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveCheck("role", true, false)
//
// Tracing and OTel metrics are exported over OTLP gRPC when enabled:
//
//	providers, err := observability.InitOTel(ctx, cfg, log)
//	defer observability.ShutdownOTel(ctx, providers, log)
package observability
