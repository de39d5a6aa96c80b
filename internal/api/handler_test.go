package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"kiosk-device-backend/config"
	"kiosk-device-backend/internal/db"
	"kiosk-device-backend/internal/devicetrust"
	"kiosk-device-backend/internal/model"
	"kiosk-device-backend/internal/mw"
	"kiosk-device-backend/internal/notification"
	"kiosk-device-backend/internal/store"
	"kiosk-device-backend/internal/validate"
)

const (
	testRegistrationToken = "reg-token-test"
	testAdminToken        = "ops-token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []notification.Alert
}

func (r *recordingAlerter) TryDispatch(alert notification.Alert) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return true
}

func (r *recordingAlerter) all() []notification.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification.Alert(nil), r.alerts...)
}

type testServer struct {
	router *gin.Engine
	store  store.Store
	alerts *recordingAlerter
	cache  *mw.ResponseCache
}

func newTestServer(t *testing.T, webpushOptions *webpush.Options, opts ...func(*config.Config)) *testServer {
	t.Helper()
	gormDB, err := db.Init(&config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
	})
	require.NoError(t, err)

	cfg := &config.Config{
		Server: config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000, MaxBodyBytes: 16 << 10},
		Auth:   config.AuthConfig{RegistrationToken: testRegistrationToken, AdminToken: testAdminToken},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	st := store.NewGormStore(gormDB)
	alerts := &recordingAlerter{}
	cache := mw.NewResponseCache(time.Minute)
	h := NewHandler(Deps{
		Store:     st,
		Issuer:    devicetrust.NewIssuer(st, cfg.Auth.RegistrationToken),
		Ingestor:  devicetrust.NewIngestor(st),
		Validator: validate.New(),
		Cache:     cache,
		Alerts:    alerts,
		WebPush:   webpushOptions,
	})
	verifier := devicetrust.NewVerifier(st, 5*time.Minute)

	return &testServer{
		router: NewRouter(cfg, h, verifier),
		store:  st,
		alerts: alerts,
		cache:  cache,
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) seedDevice(t *testing.T, deviceID, secret, establishmentID string) {
	t.Helper()
	require.NoError(t, s.store.Create(context.Background(), &model.Device{
		DeviceID:        deviceID,
		SecretKey:       secret,
		EstablishmentID: establishmentID,
		Active:          true,
		LifecycleStatus: model.LifecycleDisabled,
	}))
}

func signedRequest(method, path, deviceID, secret, body string) *http.Request {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(devicetrust.HeaderDeviceID, deviceID)
	req.Header.Set(devicetrust.HeaderTimestamp, ts)
	req.Header.Set(devicetrust.HeaderSignature, devicetrust.SignRequest(secret, deviceID, ts, method, path, []byte(body)))
	return req
}

func adminRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(mw.HeaderAdminToken, testAdminToken)
	return req
}
