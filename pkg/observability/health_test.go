package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T, healthy bool) *HealthChecker {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if healthy {
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	} else {
		mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("connection refused"))
	}
	return NewHealthChecker(db, nil, "test")
}

func TestCheckHealthyDatabase(t *testing.T) {
	h := newMockDB(t, true)
	status := h.Check(context.Background())

	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, "test", status.Version)
	assert.Equal(t, StatusHealthy, status.Dependencies["database"].Status)
}

func TestCheckUnhealthyDatabase(t *testing.T) {
	h := newMockDB(t, false)
	status := h.Check(context.Background())

	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Contains(t, status.Dependencies["database"].Message, "connection refused")
}

func TestCheckRedisDownDegrades(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	h := newMockDB(t, true)
	h.redis = client
	assert.Equal(t, StatusHealthy, h.Check(context.Background()).Status)

	mr.Close()
	h2 := newMockDB(t, true)
	h2.redis = client
	status := h2.Check(context.Background())
	assert.Equal(t, StatusDegraded, status.Status)
	assert.Equal(t, StatusUnhealthy, status.Dependencies["redis"].Status)
}

func TestHealthRoutes(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		healthy bool
		want    int
	}{
		{"liveness ignores database", "/health/live", false, http.StatusOK},
		{"readiness healthy", "/health/ready", true, http.StatusOK},
		{"readiness unhealthy", "/health", false, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := mux.NewRouter()
			RegisterHealthRoutes(router, newMockDB(t, tt.healthy))

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["status"])
		})
	}
}
