package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DBLogger writes audit events to the audit_logs table. The SQL runs on both
// PostgreSQL and SQLite.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger, creating its table if needed
func NewDBLogger(ctx context.Context, db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	l := &DBLogger{db: db}
	if err := l.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}
	return l, nil
}

func (l *DBLogger) ensureTable(ctx context.Context) error {
	stmts := []string{`
	CREATE TABLE IF NOT EXISTS audit_logs (
		id VARCHAR(36) PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		actor VARCHAR(255),
		reason TEXT,
		ticket VARCHAR(255),
		resource_type VARCHAR(50),
		resource_id VARCHAR(255),
		resource_name VARCHAR(255),
		subject VARCHAR(255),
		message TEXT,
		metadata TEXT,
		changes TEXT
	)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_subject ON audit_logs(subject)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id)`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func marshalOptional(v interface{}, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// Log inserts the event
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	metadata, err := marshalOptional(event.Metadata, len(event.Metadata) == 0)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	changes, err := marshalOptional(event.Changes, event.Changes == nil)
	if err != nil {
		return fmt.Errorf("failed to marshal changes: %w", err)
	}

	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, timestamp, event_type, status,
			actor, reason, ticket,
			resource_type, resource_id, resource_name, subject,
			message, metadata, changes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		id, event.Timestamp.UTC(), string(event.EventType), string(event.Status),
		event.Actor, event.Reason, event.Ticket,
		string(event.ResourceType), event.ResourceID, event.ResourceName, event.Subject,
		event.Message, metadata, changes,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Query returns events, newest first, optionally filtered by subject and
// event type. A limit <= 0 means 100.
func (l *DBLogger) Query(ctx context.Context, subject string, eventType EventType, limit int) ([]*AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, timestamp, event_type, status, actor, reason, ticket,
		       resource_type, resource_id, resource_name, subject, message, metadata, changes
		FROM audit_logs`
	var (
		conds []string
		args  []interface{}
	)
	if subject != "" {
		args = append(args, subject)
		conds = append(conds, fmt.Sprintf("subject = $%d", len(args)))
	}
	if eventType != "" {
		args = append(args, string(eventType))
		conds = append(conds, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		var (
			e                                      AuditEvent
			ts                                     time.Time
			actor, reason, ticket                  sql.NullString
			resourceType, resourceID, resourceName sql.NullString
			subj, message, metadata, changes       sql.NullString
			evType, status                         string
		)
		if err := rows.Scan(&e.ID, &ts, &evType, &status, &actor, &reason, &ticket,
			&resourceType, &resourceID, &resourceName, &subj, &message, &metadata, &changes); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		e.Timestamp = ts.UTC()
		e.EventType = EventType(evType)
		e.Status = EventStatus(status)
		e.Actor, e.Reason, e.Ticket = actor.String, reason.String, ticket.String
		e.ResourceType = ResourceType(resourceType.String)
		e.ResourceID, e.ResourceName = resourceID.String, resourceName.String
		e.Subject, e.Message = subj.String, message.String
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}
		if changes.Valid {
			e.Changes = &ChangeDetails{}
			if err := json.Unmarshal([]byte(changes.String), e.Changes); err != nil {
				return nil, fmt.Errorf("failed to decode changes: %w", err)
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Close is a no-op; the database handle is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}
