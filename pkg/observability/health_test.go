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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_Check(t *testing.T) {
	ok := func(context.Context) error { return nil }
	failing := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name   string
		setup  func(h *HealthChecker)
		status string
	}{
		{"no checks", func(h *HealthChecker) {}, StatusHealthy},
		{"all healthy", func(h *HealthChecker) {
			h.AddCheck("database", true, ok)
			h.AddCheck("redis", false, ok)
		}, StatusHealthy},
		{"optional failure degrades", func(h *HealthChecker) {
			h.AddCheck("database", true, ok)
			h.AddCheck("redis", false, failing)
		}, StatusDegraded},
		{"required failure is unhealthy", func(h *HealthChecker) {
			h.AddCheck("database", true, failing)
			h.AddCheck("redis", false, failing)
		}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker("test")
			tt.setup(h)
			status := h.Check(context.Background())
			assert.Equal(t, tt.status, status.Status)
			assert.Equal(t, "test", status.Version)
		})
	}
}

func TestHealthChecker_Dependencies(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	h := NewHealthChecker("1.0.0")
	h.AddCheck("database", true, db.PingContext)
	h.AddCheck("redis", false, func(ctx context.Context) error { return client.Ping(ctx).Err() })

	status := h.Check(context.Background())
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, StatusHealthy, status.Dependencies["database"].Status)
	assert.Equal(t, StatusHealthy, status.Dependencies["redis"].Status)
	assert.NoError(t, mock.ExpectationsWereMet())

	mr.Close()
	mock.ExpectPing()
	status = h.Check(context.Background())
	assert.Equal(t, StatusDegraded, status.Status)
	assert.NotEmpty(t, status.Dependencies["redis"].Message)
}

func TestHealthChecker_Handlers(t *testing.T) {
	h := NewHealthChecker("1.0.0")
	h.AddCheck("database", true, func(context.Context) error { return errors.New("down") })

	t.Run("liveness", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("readiness", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var status HealthStatus
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
		assert.Equal(t, StatusUnhealthy, status.Status)
		assert.Equal(t, "down", status.Dependencies["database"].Message)
	})
}
