// Package httputil holds the JSON response helpers, request parsing helpers
// and request middleware shared by the HTTP handlers.
//
// Responses:
//
//	httputil.WriteJSON(w, http.StatusOK, roles)
//	httputil.WriteError(w, http.StatusNotFound, "role not found")
//
// Requests:
//
//	var req assignRoleRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // error response already written
//	}
//	userID := httputil.PathParam(r, "user_id")
//
// Middleware:
//
//	router.Use(httputil.RequestID, httputil.Logging(log), httputil.Recovery(log))
package httputil
