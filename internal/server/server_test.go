package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/screenhub/screen-hub-go/internal/config"
)

type testHub struct {
	server *httptest.Server
	client *http.Client
}

func setupHub(t *testing.T) *testHub {
	t.Helper()
	tempDir := t.TempDir()

	cfg := config.Config{
		Host:                     "127.0.0.1",
		Port:                     "0",
		SQLiteDBPath:             filepath.Join(tempDir, "hub.db"),
		AppEnv:                   "development",
		AllowTestMode:            true,
		JWTSecret:                "test-secret-test-secret-test-secret!",
		JWTAccessTokenExpirySec:  3600,
		JWTRefreshTokenExpirySec: 86400,
		HeartbeatStaleAfter:      5 * time.Minute,
		SweepInterval:            time.Minute,
		ReconcileInterval:        30 * time.Second,
		CommandPageSize:          10,
		RateLimitPerMinute:       6000,
		RateLimitBurst:           6000,
		AlertRetentionDays:       90,
		RebufferStormThreshold:   5,
		RebufferStormWindow:      time.Minute,
	}

	handler, shutdown, err := NewHandler(cfg, Options{DisableJobs: true})
	require.NoError(t, err)

	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		server.Close()
		_ = shutdown(nil)
	})

	return &testHub{server: server, client: server.Client()}
}

type requestOpts struct {
	sub   string
	role  string
	token string
}

func (h *testHub) do(t *testing.T, method, path string, body any, opts requestOpts) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	request, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(t, err)
	request.Header.Set("Content-Type", "application/json")

	if opts.token != "" {
		request.Header.Set("Authorization", "Bearer "+opts.token)
	} else if opts.sub != "" {
		request.Header.Set("x-test-mode", "true")
		request.Header.Set("x-test-sub", opts.sub)
		if opts.role != "" {
			request.Header.Set("x-test-role", opts.role)
		}
	}

	response, err := h.client.Do(request)
	require.NoError(t, err)
	t.Cleanup(func() { response.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(response.Body).Decode(&decoded)
	return response, decoded
}

func TestHealthIsPublic(t *testing.T) {
	hub := setupHub(t)

	response, body := hub.do(t, http.MethodGet, "/v1/health", nil, requestOpts{})
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.Equal(t, "ok", body["status"])

	response, _ = hub.do(t, http.MethodGet, "/v1/health/ready", nil, requestOpts{})
	require.Equal(t, http.StatusOK, response.StatusCode)
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	hub := setupHub(t)

	response, body := hub.do(t, http.MethodGet, "/v1/devices", nil, requestOpts{})
	require.Equal(t, http.StatusUnauthorized, response.StatusCode)
	require.NotNil(t, body["error"])
}

// TestDeviceLifecycle walks the full flow: an owner provisions a device, the
// device exchanges its token for credentials, gets bound to a screen, and
// then commands flow enqueue -> poll -> ack.
func TestDeviceLifecycle(t *testing.T) {
	hub := setupHub(t)
	owner := requestOpts{sub: "owner-1", role: "owner"}

	// Provision.
	response, body := hub.do(t, http.MethodPost, "/v1/devices/provision",
		map[string]any{"device_id": "device-1"}, owner)
	require.Equal(t, http.StatusCreated, response.StatusCode)
	provisioningToken, _ := body["provisioning_token"].(string)
	require.NotEmpty(t, provisioningToken)

	// Exchange the one-time token for device credentials.
	response, body = hub.do(t, http.MethodPost, "/v1/auth/device",
		map[string]any{"provisioning_token": provisioningToken}, requestOpts{})
	require.Equal(t, http.StatusOK, response.StatusCode)
	deviceToken, _ := body["access_token"].(string)
	require.NotEmpty(t, deviceToken)

	// The token is single-use.
	response, _ = hub.do(t, http.MethodPost, "/v1/auth/device",
		map[string]any{"provisioning_token": provisioningToken}, requestOpts{})
	require.Equal(t, http.StatusUnauthorized, response.StatusCode)

	// Bind to a screen.
	response, body = hub.do(t, http.MethodPost, "/v1/device-bind-screen",
		map[string]any{"device_id": "device-1", "screen_id": "screen-1", "screen_name": "Lobby"}, owner)
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.Equal(t, true, body["success"])
	require.Equal(t, "Lobby", body["screen_name"])

	// Owner enqueues; device polls with its own JWT.
	response, body = hub.do(t, http.MethodPost, "/v1/device-commands",
		map[string]any{"action": "enqueue", "device_id": "device-1", "command": "reload"}, owner)
	require.Equal(t, http.StatusCreated, response.StatusCode)
	commandID, _ := body["id"].(string)
	require.NotEmpty(t, commandID)

	response, body = hub.do(t, http.MethodPost, "/v1/device-commands",
		map[string]any{"action": "poll", "device_id": "device-1", "screen_id": "screen-1"},
		requestOpts{token: deviceToken})
	require.Equal(t, http.StatusOK, response.StatusCode)
	commands, _ := body["commands"].([]any)
	require.Len(t, commands, 1)

	response, _ = hub.do(t, http.MethodPost, "/v1/device-commands",
		map[string]any{"action": "ack", "device_id": "device-1", "ack_ids": []string{commandID}},
		requestOpts{token: deviceToken})
	require.Equal(t, http.StatusOK, response.StatusCode)

	_, body = hub.do(t, http.MethodPost, "/v1/device-commands",
		map[string]any{"action": "poll", "device_id": "device-1", "screen_id": "screen-1"},
		requestOpts{token: deviceToken})
	commands, _ = body["commands"].([]any)
	require.Empty(t, commands)
}

func TestDeviceCannotPollForeignQueue(t *testing.T) {
	hub := setupHub(t)
	owner := requestOpts{sub: "owner-1", role: "owner"}

	response, body := hub.do(t, http.MethodPost, "/v1/devices/provision",
		map[string]any{"device_id": "device-1"}, owner)
	require.Equal(t, http.StatusCreated, response.StatusCode)

	_, body = hub.do(t, http.MethodPost, "/v1/auth/device",
		map[string]any{"provisioning_token": body["provisioning_token"]}, requestOpts{})
	deviceToken, _ := body["access_token"].(string)

	response, _ = hub.do(t, http.MethodPost, "/v1/device-commands",
		map[string]any{"action": "poll", "device_id": "device-2"},
		requestOpts{token: deviceToken})
	require.Equal(t, http.StatusForbidden, response.StatusCode)
}

func TestSettingsRoundTrip(t *testing.T) {
	hub := setupHub(t)
	owner := requestOpts{sub: "owner-1", role: "owner"}

	_, body := hub.do(t, http.MethodPost, "/v1/devices/provision",
		map[string]any{"device_id": "device-1"}, owner)
	require.NotEmpty(t, body["provisioning_token"])
	response, _ := hub.do(t, http.MethodPost, "/v1/device-bind-screen",
		map[string]any{"device_id": "device-1", "screen_id": "screen-1"}, owner)
	require.Equal(t, http.StatusOK, response.StatusCode)

	response, _ = hub.do(t, http.MethodPost, "/v1/device-settings",
		map[string]any{"mode": "set", "screen_id": "screen-1", "settings": map[string]any{"brightness": 80}}, owner)
	require.Equal(t, http.StatusOK, response.StatusCode)

	_, body = hub.do(t, http.MethodPost, "/v1/device-settings",
		map[string]any{"mode": "get", "device_id": "device-1", "screen_id": "screen-1"}, owner)
	settings, _ := body["settings"].(map[string]any)
	require.Equal(t, float64(80), settings["brightness"])
}

func TestHeartbeatAndBroadcastFlow(t *testing.T) {
	hub := setupHub(t)
	owner := requestOpts{sub: "owner-1", role: "owner"}

	_, body := hub.do(t, http.MethodPost, "/v1/devices/provision",
		map[string]any{"device_id": "device-1"}, owner)
	require.NotEmpty(t, body["provisioning_token"])
	response, _ := hub.do(t, http.MethodPost, "/v1/device-bind-screen",
		map[string]any{"device_id": "device-1", "screen_id": "screen-1"}, owner)
	require.Equal(t, http.StatusOK, response.StatusCode)

	response, _ = hub.do(t, http.MethodPost, "/v1/heartbeat",
		map[string]any{"screen_id": "screen-1", "status": "online"}, owner)
	require.Equal(t, http.StatusOK, response.StatusCode)

	response, body = hub.do(t, http.MethodGet, "/v1/heartbeat/screen-1", nil, owner)
	require.Equal(t, http.StatusOK, response.StatusCode)
	record, _ := body["heartbeat"].(map[string]any)
	require.Equal(t, "online", record["status"])

	// Start without a booking, with explicit content.
	response, body = hub.do(t, http.MethodPost, "/v1/broadcast",
		map[string]any{"action": "start", "screen_id": "screen-1", "content_url": "https://cdn.example/a.mp4"}, owner)
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.Equal(t, true, body["changed"])
	require.NotEmpty(t, body["timestamp"])

	response, body = hub.do(t, http.MethodPost, "/v1/broadcast",
		map[string]any{"action": "status", "screen_id": "screen-1"}, owner)
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.Equal(t, "broadcasting", body["status"])

	response, body = hub.do(t, http.MethodPost, "/v1/broadcast",
		map[string]any{"action": "stop", "screen_id": "screen-1"}, owner)
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.Equal(t, true, body["changed"])
}

func TestBroadcastForbiddenForStranger(t *testing.T) {
	hub := setupHub(t)
	owner := requestOpts{sub: "owner-1", role: "owner"}
	stranger := requestOpts{sub: "owner-2", role: "owner"}

	_, body := hub.do(t, http.MethodPost, "/v1/devices/provision",
		map[string]any{"device_id": "device-1"}, owner)
	require.NotEmpty(t, body["provisioning_token"])
	response, _ := hub.do(t, http.MethodPost, "/v1/device-bind-screen",
		map[string]any{"device_id": "device-1", "screen_id": "screen-1"}, owner)
	require.Equal(t, http.StatusOK, response.StatusCode)

	response, _ = hub.do(t, http.MethodPost, "/v1/broadcast",
		map[string]any{"action": "start", "screen_id": "screen-1", "content_url": "https://cdn.example/x.mp4"}, stranger)
	require.Equal(t, http.StatusForbidden, response.StatusCode)
}

func TestTelemetryIngestion(t *testing.T) {
	hub := setupHub(t)
	owner := requestOpts{sub: "owner-1", role: "owner"}

	response, body := hub.do(t, http.MethodPost, "/v1/frontend-telemetry",
		map[string]any{"metrics": []map[string]any{
			{"metric_name": "startup_time_ms", "value": 812, "id_value": "screen-1"},
		}}, owner)
	require.Equal(t, http.StatusAccepted, response.StatusCode)
	require.Equal(t, float64(1), body["accepted"])
}

func TestSystemInfoAndDashboard(t *testing.T) {
	hub := setupHub(t)
	owner := requestOpts{sub: "owner-1", role: "owner"}

	response, body := hub.do(t, http.MethodGet, "/v1/system/info", nil, owner)
	require.Equal(t, http.StatusOK, response.StatusCode)
	info, _ := body["info"].(map[string]any)
	require.Equal(t, true, info["sqlite_connected"])

	response, body = hub.do(t, http.MethodGet, "/v1/dashboard", nil, owner)
	require.Equal(t, http.StatusOK, response.StatusCode)
	dashboard, _ := body["dashboard"].(map[string]any)
	require.NotNil(t, dashboard["attention_items"])
}

func TestRequestIDPropagation(t *testing.T) {
	hub := setupHub(t)
	owner := requestOpts{sub: "owner-1", role: "owner"}

	response, body := hub.do(t, http.MethodGet, "/v1/devices", nil, owner)
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.NotEmpty(t, response.Header.Get("x-request-id"))
	require.NotEmpty(t, body["request_id"])
}
