package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      slog.New(slog.DiscardHandler),
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
	})
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, ts *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestLiveness(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t).getRouter())
	defer ts.Close()

	status, body := get(t, ts, "/livez")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"alive"}`, body)
}

func TestDrainTogglesReadiness(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t).getRouter())
	defer ts.Close()

	status, _ := get(t, ts, "/readyz")
	assert.Equal(t, http.StatusOK, status)

	status, body := get(t, ts, "/drain")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"draining"}`, body)

	status, _ = get(t, ts, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, body = get(t, ts, "/drain")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"already draining"}`, body)

	status, _ = get(t, ts, "/undrain")
	assert.Equal(t, http.StatusOK, status)

	status, _ = get(t, ts, "/readyz")
	assert.Equal(t, http.StatusOK, status)
}
