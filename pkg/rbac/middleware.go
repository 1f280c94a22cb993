package rbac

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
)

// Identity and audit headers set by the upstream gateway
const (
	HeaderUserID      = "X-User-ID"
	HeaderAuditReason = "X-Audit-Reason"
	HeaderAuditTicket = "X-Audit-Ticket"
)

// IdentityFromHeaders copies the caller identity and audit headers into the
// request context
func IdentityFromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if userID := strings.TrimSpace(r.Header.Get(HeaderUserID)); userID != "" {
			ctx = contextkeys.WithUserID(ctx, userID)
		}
		reason := strings.TrimSpace(r.Header.Get(HeaderAuditReason))
		ticket := strings.TrimSpace(r.Header.Get(HeaderAuditTicket))
		if reason != "" || ticket != "" {
			ctx = contextkeys.WithAudit(ctx, reason, ticket)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PermissionMiddleware provides middleware for permission checking
type PermissionMiddleware struct {
	checker *Checker
	log     logrus.FieldLogger
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(checker *Checker, log logrus.FieldLogger) *PermissionMiddleware {
	if log == nil {
		log = logrus.New()
	}
	return &PermissionMiddleware{checker: checker, log: log}
}

// RequirePermission creates middleware that requires a specific permission
// through the caller's roles
func (pm *PermissionMiddleware) RequirePermission(perm Permission) func(http.Handler) http.Handler {
	return pm.RequireAnyPermission(perm)
}

// RequireAnyPermission creates middleware that requires any of the specified permissions
func (pm *PermissionMiddleware) RequireAnyPermission(perms ...Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := pm.identity(w, r)
			if !ok {
				return
			}

			for _, perm := range perms {
				result, err := pm.checker.CheckPermission(r.Context(), userID, perm)
				if err != nil {
					pm.fail(w, userID, err)
					return
				}
				if result.Allowed {
					next.ServeHTTP(w, r)
					return
				}
			}

			httputil.WriteErrorKind(w, http.StatusForbidden, "forbidden", "insufficient permissions")
		})
	}
}

// RequireResourcePermission creates middleware that requires perm either
// through a role or through a grant on the resource named by the idVar path
// variable
func (pm *PermissionMiddleware) RequireResourcePermission(perm Permission, resourceType, idVar string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := pm.identity(w, r)
			if !ok {
				return
			}

			result, err := pm.checker.CheckPermission(r.Context(), userID, perm)
			if err != nil {
				pm.fail(w, userID, err)
				return
			}
			if !result.Allowed {
				resourceID := strings.TrimSpace(mux.Vars(r)[idVar])
				if resourceID == "" {
					httputil.WriteBadRequest(w, idVar+" is required")
					return
				}
				result, err = pm.checker.CheckResourcePermission(r.Context(), userID, perm, strings.ToLower(resourceType), resourceID)
				if err != nil {
					pm.fail(w, userID, err)
					return
				}
			}

			if !result.Allowed {
				httputil.WriteErrorKind(w, http.StatusForbidden, "forbidden", "insufficient permissions for this resource")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// guard wraps fn with a permission requirement; a nil middleware leaves fn open
func (pm *PermissionMiddleware) guard(perm Permission, fn http.HandlerFunc) http.Handler {
	if pm == nil {
		return fn
	}
	return pm.RequirePermission(perm)(fn)
}

func (pm *PermissionMiddleware) identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := contextkeys.GetUserID(r.Context())
	if userID == "" {
		userID = strings.TrimSpace(r.Header.Get(HeaderUserID))
	}
	if userID == "" {
		httputil.WriteErrorKind(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return "", false
	}
	return userID, true
}

func (pm *PermissionMiddleware) fail(w http.ResponseWriter, userID string, err error) {
	pm.log.WithError(err).WithField("user_id", userID).Error("permission check failed")
	httputil.WriteError(w, http.StatusInternalServerError, "permission check failed")
}
