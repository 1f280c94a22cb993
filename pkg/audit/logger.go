package audit

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Logger is the interface implemented by audit sinks
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close flushes buffered events and releases resources
	Close() error
}

// NopLogger discards events
type NopLogger struct{}

func (NopLogger) Log(context.Context, *AuditEvent) error { return nil }
func (NopLogger) Close() error                          { return nil }

// LogrusLogger writes audit events as structured log entries
type LogrusLogger struct {
	log logrus.FieldLogger
}

// NewLogrusLogger creates a sink writing to log
func NewLogrusLogger(log logrus.FieldLogger) *LogrusLogger {
	return &LogrusLogger{log: log}
}

func (l *LogrusLogger) Log(_ context.Context, event *AuditEvent) error {
	fields := logrus.Fields{
		"audit_id":      event.ID,
		"event_type":    event.EventType,
		"status":        event.Status,
		"resource_type": event.ResourceType,
		"resource_id":   event.ResourceID,
	}
	if event.Actor != "" {
		fields["actor"] = event.Actor
	}
	if event.Subject != "" {
		fields["subject"] = event.Subject
	}
	if event.Reason != "" {
		fields["reason"] = event.Reason
	}
	if event.Ticket != "" {
		fields["ticket"] = event.Ticket
	}
	l.log.WithFields(fields).Info(event.Message)
	return nil
}

func (l *LogrusLogger) Close() error { return nil }
