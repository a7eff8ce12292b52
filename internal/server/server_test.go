package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgtelemetry/backend/internal/database"
	"github.com/pgtelemetry/backend/internal/querycache"
	"github.com/pgtelemetry/backend/internal/testutil"
)

// newUnconfiguredServer builds a full server over a pool with no
// backing store, the degraded mode every endpoint must survive.
func newUnconfiguredServer(t *testing.T) *Server {
	t.Helper()

	log := testutil.NewTestLogger()

	pool := database.NewPool(log, testutil.NewTestConfig().Database)
	require.NoError(t, pool.Start(testutil.NewTestContext(t)))

	srv, err := New(log, testutil.NewTestConfig(), pool, querycache.Disabled())
	require.NoError(t, err)

	return srv
}

func TestServer_PingWithoutDatabase(t *testing.T) {
	srv := newUnconfiguredServer(t)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()

	srv.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var available bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &available))
	assert.False(t, available)
}

func TestServer_QueryWithoutDatabase(t *testing.T) {
	srv := newUnconfiguredServer(t)

	req := httptest.NewRequest(http.MethodGet, "/query/sensor/timestamp/value", nil)
	rec := httptest.NewRecorder()

	srv.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var points []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	assert.Empty(t, points)
}

func TestServer_CORSHeadersOnQueryRoutes(t *testing.T) {
	srv := newUnconfiguredServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/query/sensor/timestamp/value", nil)
	rec := httptest.NewRecorder()

	srv.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_MetricsEndpoint(t *testing.T) {
	srv := newUnconfiguredServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	srv.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
