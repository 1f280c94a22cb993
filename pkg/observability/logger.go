package observability

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
)

// NewLogger creates a logrus logger. Unknown levels fall back to info;
// format is "json" or "text".
func NewLogger(level, format string, output io.Writer) *logrus.Logger {
	if output == nil {
		output = os.Stdout
	}

	log := logrus.New()
	log.SetOutput(output)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if format == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

// FromContext returns base enriched with the request id, user id and trace
// ids found in ctx
func FromContext(ctx context.Context, base logrus.FieldLogger) logrus.FieldLogger {
	fields := logrus.Fields{}
	if id := contextkeys.GetRequestID(ctx); id != "" {
		fields["request_id"] = id
	}
	if id := contextkeys.GetUserID(ctx); id != "" {
		fields["user_id"] = id
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	if len(fields) == 0 {
		return base
	}
	return base.WithFields(fields)
}
