// Package contextkeys provides centralized context key definitions
//
// All context keys used across the service are defined here so that
// middleware, handlers and loggers agree on them.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithUserID(ctx, "user-123")
//	userID := contextkeys.GetUserID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains the request ID string (UUID)
	// Set by: httputil.RequestID
	// Used by: request logging, audit trail
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user ID string
	// Set by: rbac identity middleware
	// Used by: permission middleware, audit metadata
	UserIDKey Key = "user_id"

	// AuditReasonKey contains the free-form reason given for a mutation
	// Set by: rbac identity middleware from X-Audit-Reason
	AuditReasonKey Key = "audit_reason"

	// AuditTicketKey contains the change ticket reference for a mutation
	// Set by: rbac identity middleware from X-Audit-Ticket
	AuditTicketKey Key = "audit_ticket"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithAudit adds the audit reason and ticket to the context
func WithAudit(ctx context.Context, reason, ticket string) context.Context {
	ctx = context.WithValue(ctx, AuditReasonKey, reason)
	return context.WithValue(ctx, AuditTicketKey, ticket)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	return getString(ctx, UserIDKey)
}

// GetAudit retrieves the audit reason and ticket from context
func GetAudit(ctx context.Context) (reason, ticket string) {
	return getString(ctx, AuditReasonKey), getString(ctx, AuditTicketKey)
}

func getString(ctx context.Context, key Key) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
