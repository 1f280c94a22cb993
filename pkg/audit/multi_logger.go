package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/async"
)

// MultiLogger fans events out to several sinks. It is synchronous until
// SetAsync is called.
type MultiLogger struct {
	loggers []Logger
	log     logrus.FieldLogger
	pool    *async.WorkerPool
}

// NewMultiLogger creates a logger writing to every given sink
func NewMultiLogger(log logrus.FieldLogger, loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers, log: log}
}

// SetAsync moves delivery onto a worker pool so that Log returns once the
// event is queued. It must be called before the logger is shared.
func (m *MultiLogger) SetAsync(ctx context.Context, workers int) {
	m.pool = async.NewWorkerPool(ctx, m.log, workers, "audit delivery", 10*time.Second)
}

// Log logs an audit event to all configured loggers. In synchronous mode the
// first sink error is returned after every sink has been tried.
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	if m.pool != nil {
		return m.logAsync(event)
	}

	var firstErr error
	for _, l := range m.loggers {
		if err := l.Log(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiLogger) logAsync(event *AuditEvent) error {
	var errs []error
	for _, l := range m.loggers {
		l := l
		err := m.pool.Submit(func(ctx context.Context) error {
			if err := l.Log(ctx, event); err != nil {
				m.log.WithError(err).WithField("audit_id", event.ID).Warn("audit sink failed")
				return err
			}
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetErrors drains errors reported by asynchronous deliveries
func (m *MultiLogger) GetErrors() []error {
	if m.pool == nil {
		return nil
	}
	var errs []error
	for {
		select {
		case err := <-m.pool.Errors():
			errs = append(errs, err)
		default:
			return errs
		}
	}
}

// Close waits for queued deliveries and closes every sink
func (m *MultiLogger) Close() error {
	var errs []error
	if m.pool != nil {
		if err := m.pool.Shutdown(30 * time.Second); err != nil {
			errs = append(errs, err)
		}
	}
	for _, l := range m.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close logger: %w", err))
		}
	}
	return errors.Join(errs...)
}
