package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callzhang/hypo/internal/config"
	"github.com/callzhang/hypo/internal/pairing"
	"github.com/callzhang/hypo/internal/relay"
	"github.com/callzhang/hypo/internal/session"
	"github.com/callzhang/hypo/internal/stats"
)

type apiFixture struct {
	srv      *httptest.Server
	registry *session.Registry
	store    pairing.Store
}

func startAPI(t *testing.T, cfg *config.Config) *apiFixture {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	registry := session.NewRegistry()
	store := pairing.NewMemoryStore()
	collector := stats.NewCollector()
	relayHandler := relay.NewHandler(registry, session.NewKeyStore(), collector,
		relay.Options{}, zerolog.New(zerolog.NewTestWriter(t)))

	handler := NewRouter(Deps{
		Config:   cfg,
		Registry: registry,
		Pairing:  store,
		Stats:    collector,
		Relay:    relayHandler,
		Version:  "test",
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &apiFixture{srv: srv, registry: registry, store: store}
}

func getJSON(t *testing.T, url string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthEndpoint(t *testing.T) {
	f := startAPI(t, nil)
	f.registry.Register("mac-1")

	body := getJSON(t, f.srv.URL+"/health", http.StatusOK)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, float64(1), body["connections"])
	assert.NotEmpty(t, body["timestamp"])
	assert.GreaterOrEqual(t, body["uptime_seconds"], float64(0))
}

func TestStatusEndpoint(t *testing.T) {
	f := startAPI(t, nil)
	f.registry.Register("mac-1")
	f.registry.Register("ios-2")

	body := getJSON(t, f.srv.URL+"/status", http.StatusOK)
	assert.Equal(t, "ok", body["status"])

	conns, ok := body["connections"].(map[string]any)
	require.True(t, ok, "connections block missing")
	assert.Equal(t, float64(2), conns["active"])
	assert.ElementsMatch(t, []any{"mac-1", "ios-2"}, conns["devices"])

	pairingBlock, ok := body["pairing"].(map[string]any)
	require.True(t, ok, "pairing block missing")
	assert.Equal(t, true, pairingBlock["healthy"])

	_, ok = body["messages"].(map[string]any)
	assert.True(t, ok, "messages block missing")
	_, ok = body["errors"].(map[string]any)
	assert.True(t, ok, "errors block missing")
	_, ok = body["performance"].(map[string]any)
	assert.True(t, ok, "performance block missing")
}

func TestPeersEndpoint(t *testing.T) {
	f := startAPI(t, nil)
	f.registry.Register("mac-1")
	f.registry.Register("ios-2")

	t.Run("missing filter", func(t *testing.T) {
		body := getJSON(t, f.srv.URL+"/peers", http.StatusBadRequest)
		assert.Equal(t, "device_id query parameter is required", body["error"])
	})

	t.Run("comma separated filter", func(t *testing.T) {
		body := getJSON(t, f.srv.URL+"/peers?device_id=MAC-1,ghost-9", http.StatusOK)
		devices, ok := body["connected_devices"].([]any)
		require.True(t, ok)
		require.Len(t, devices, 1)
		entry := devices[0].(map[string]any)
		assert.Equal(t, "mac-1", entry["device_id"])
		assert.NotEmpty(t, entry["last_seen"])
	})

	t.Run("repeated params", func(t *testing.T) {
		body := getJSON(t, f.srv.URL+"/peers?device_id=mac-1&device_id=ios-2", http.StatusOK)
		devices, ok := body["connected_devices"].([]any)
		require.True(t, ok)
		assert.Len(t, devices, 2)
	})

	t.Run("no matches is empty not null", func(t *testing.T) {
		body := getJSON(t, f.srv.URL+"/peers?device_id=ghost-9", http.StatusOK)
		devices, ok := body["connected_devices"].([]any)
		require.True(t, ok, "connected_devices should be an array")
		assert.Empty(t, devices)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	f := startAPI(t, nil)

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# HELP")
}

// TestWebSocketRouteBypassesRecorder proves a device can upgrade
// through the router; the wrapper around the response writer must not
// get between the upgrader and the TCP connection.
func TestWebSocketRouteBypassesRecorder(t *testing.T) {
	f := startAPI(t, nil)

	headers := http.Header{}
	headers.Set("X-Device-Id", "mac-1")
	headers.Set("X-Device-Platform", "macos")
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, headers)
	require.NoError(t, err)
	defer conn.Close()
}

func TestMethodNotAllowed(t *testing.T) {
	f := startAPI(t, nil)

	for _, path := range []string{"/health", "/status", "/peers"} {
		resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader("{}"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, path)
	}
}

func TestCORSHeaders(t *testing.T) {
	f := startAPI(t, &config.Config{AllowedOrigins: "*"})

	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/health", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
