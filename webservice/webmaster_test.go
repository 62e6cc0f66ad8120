package webservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mirrorcore/adb"
	"mirrorcore/config"
	"mirrorcore/relay"
	"mirrorcore/session"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Relay = relay.Config{}
	cfg.Session.Params.Port = 0
	cfg.Session.ConnectTimeout = 5 * time.Second
	return cfg
}

type failingBoot struct{}

func (failingBoot) Bootstrap(context.Context, session.Params) error {
	return errors.New("device offline")
}

func (failingBoot) Close() error { return nil }

func newWebMaster(t *testing.T, cfg config.Config, boot BootstrapFunc, opts ...Option) *WebMaster {
	t.Helper()
	if boot == nil {
		boot = func(session.Params) session.Bootstrapper { return failingBoot{} }
	}
	wm, err := New(cfg, boot, opts...)
	require.NoError(t, err)
	t.Cleanup(wm.Close)
	return wm
}

func do(t *testing.T, h http.Handler, method, path string, body any, mods ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, mod := range mods {
		mod(req)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func from(ip string) func(*http.Request) {
	return func(r *http.Request) { r.RemoteAddr = ip + ":40000" }
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestAuthRequired(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.PIN = "2468"
	h := newWebMaster(t, cfg, nil).Handler()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/sessions", nil).Code)

	w := do(t, h, http.MethodGet, "/api/sessions", nil, func(r *http.Request) {
		r.Header.Set("Accept", "text/html")
	})
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/unlock", w.Header().Get("Location"))

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/sessions", nil, bearer("garbage")).Code)
}

func TestUnlock(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.PIN = "2468"
	cfg.HTTP.JWTSecret = "secret"
	h := newWebMaster(t, cfg, nil).Handler()

	w := do(t, h, http.MethodPost, "/api/unlock", gin.H{"pin": "2468"}, from("192.0.2.7"))
	require.Equal(t, http.StatusOK, w.Code)
	token, _ := decode(t, w)["token"].(string)
	require.NotEmpty(t, token)
	assert.Contains(t, w.Header().Get("Set-Cookie"), authCookie+"=")

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/sessions", nil, bearer(token)).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/sessions?token="+token, nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/sessions", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: authCookie, Value: token})
	}).Code)

	// a token signed with another secret is rejected
	other := testConfig()
	other.HTTP.PIN = "2468"
	other.HTTP.JWTSecret = "another"
	foreign, err := newWebMaster(t, other, nil).GenerateToken()
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/sessions", nil, bearer(foreign)).Code)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/unlock", nil).Code)
}

func TestUnlockLockout(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.PIN = "2468"
	h := newWebMaster(t, cfg, nil).Handler()

	for i := 1; i <= MAX_UNLOCK_ATTEMPTS; i++ {
		w := do(t, h, http.MethodPost, "/api/unlock", gin.H{"pin": "0000"}, from("192.0.2.1"))
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.EqualValues(t, MAX_UNLOCK_ATTEMPTS-i, decode(t, w)["leftTries"])
	}
	// locked, even with the right PIN
	w := do(t, h, http.MethodPost, "/api/unlock", gin.H{"pin": "2468"}, from("192.0.2.1"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// other clients are not affected
	w = do(t, h, http.MethodPost, "/api/unlock", gin.H{"pin": "2468"}, from("192.0.2.2"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNoPIN(t *testing.T) {
	h := newWebMaster(t, testConfig(), nil).Handler()
	w := do(t, h, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestDevices(t *testing.T) {
	ctrl := gomock.NewController(t)
	devices := NewMockDeviceManager(ctrl)
	h := newWebMaster(t, testConfig(), nil, WithDevices(devices)).Handler()

	devices.EXPECT().Devices(gomock.Any()).Return([]adb.Device{
		{Serial: "emulator-5554", Status: adb.StatusConnected},
		{Serial: "10.0.0.2:5555", Status: adb.StatusUnauthorized},
	}, nil)
	w := do(t, h, http.MethodGet, "/api/devices", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[
		{"device_id": "emulator-5554", "status": "connected"},
		{"device_id": "10.0.0.2:5555", "status": "unauthorized"}
	]`, w.Body.String())

	devices.EXPECT().Devices(gomock.Any()).Return(nil, nil)
	w = do(t, h, http.MethodGet, "/api/devices", nil)
	assert.JSONEq(t, "[]", w.Body.String())

	devices.EXPECT().Connect(gomock.Any(), "10.0.0.2:5555").Return(nil)
	w = do(t, h, http.MethodPost, "/api/devices/connect", gin.H{"ip": "10.0.0.2", "port": "5555"})
	assert.Equal(t, http.StatusOK, w.Code)

	devices.EXPECT().Connect(gomock.Any(), "10.0.0.3").Return(errors.New("adb connect: unable to connect"))
	w = do(t, h, http.MethodPost, "/api/devices/connect", gin.H{"ip": "10.0.0.3"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, decode(t, w)["error"], "unable to connect")

	w = do(t, h, http.MethodPost, "/api/devices/connect", gin.H{"port": "5555"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	devices.EXPECT().Pair(gomock.Any(), "10.0.0.2:37000", "123456").Return(nil)
	w = do(t, h, http.MethodPost, "/api/devices/pair", gin.H{"ip": "10.0.0.2", "port": "37000", "code": "123456"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodPost, "/api/devices/pair", gin.H{"ip": "10.0.0.2", "port": "37000"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDevicesWithoutADB(t *testing.T) {
	h := newWebMaster(t, testConfig(), nil).Handler()
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/devices", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable,
		do(t, h, http.MethodPost, "/api/devices/connect", gin.H{"ip": "10.0.0.2"}).Code)
}

func TestDiscoverDevices(t *testing.T) {
	var service string
	var deadline time.Duration
	discover := func(ctx context.Context, s string) ([]adb.Device, error) {
		service = s
		d, _ := ctx.Deadline()
		deadline = time.Until(d)
		return []adb.Device{{Serial: "adb-R58M-abc", IP: "10.0.0.9", Port: 41234, Status: adb.StatusOffline}}, nil
	}
	h := newWebMaster(t, testConfig(), nil, WithDiscovery(discover)).Handler()

	w := do(t, h, http.MethodGet, "/api/devices/discover?timeout=200ms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, adb.ServiceConnect, service)
	assert.LessOrEqual(t, deadline, 200*time.Millisecond)
	assert.JSONEq(t, `[{"device_id": "adb-R58M-abc", "ip": "10.0.0.9", "port": 41234, "status": "offline"}]`, w.Body.String())

	do(t, h, http.MethodGet, "/api/devices/discover?pairing=true&timeout=1h", nil)
	assert.Equal(t, adb.ServicePairing, service)
	assert.LessOrEqual(t, deadline, maxDiscoverTimeout)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/devices/discover?timeout=soon", nil).Code)
}
