package httpapi

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-rental-funnel/internal/config"
	"github.com/tbourn/go-rental-funnel/internal/domain"
	"github.com/tbourn/go-rental-funnel/internal/notify"
	"github.com/tbourn/go-rental-funnel/internal/repo"
)

const (
	testSecret = "hook-secret"
	testAdmin  = "ops"
	testPass   = "pw"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		Webhook: config.WebhookConfig{
			Secret:          testSecret,
			DefaultProvider: "homereserve",
			MaxBodyBytes:    1 << 20,
		},
		Referral: config.ReferralConfig{
			AttributionWindow: 30 * 24 * time.Hour,
			PayoutMode:        config.PayoutModeFixed,
			PayoutFixed:       500,
		},
		Admin: config.AdminConfig{User: testAdmin, Password: testPass},
		OTEL:  config.OTELConfig{ServiceName: "test-svc"},
	}
}

type captureSender struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (c *captureSender) Send(_ context.Context, n notify.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

func newRouter(t *testing.T, cfg config.Config, sender notify.Sender) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	r := gin.New()
	RegisterRoutes(r, Deps{DB: db, Notifier: sender, Version: "test"}, cfg)
	return r, db
}

func TestRegisterRoutes_Health_Metrics_Fallbacks(t *testing.T) {
	r, _ := newRouter(t, testConfig(), nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"version":"test"`)) {
		t.Fatalf("GET /health = %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" || w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected request id and security headers: %v", w.Header())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("funnel_http_requests_total")) {
		t.Fatalf("GET /metrics bad: code=%d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	// Swagger is off by default.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("swagger should be disabled, got %d", w.Code)
	}
}

func TestRegisterRoutes_WebhookSecretAndEndToEnd(t *testing.T) {
	sender := &captureSender{}
	r, db := newRouter(t, testConfig(), sender)

	owner := &domain.User{TelegramID: 1}
	if err := repo.CreateUser(context.Background(), db, owner); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := repo.CreateReferralCode(context.Background(), db, &domain.ReferralCode{UserID: owner.ID, Code: "ABC123", IsActive: true}); err != nil {
		t.Fatalf("seed code: %v", err)
	}

	body := `{"booking_id":"BK-1","status":"paid","price":5000,"source_tag":"partner_ABC123"}`

	// Wrong secret: rejected, nothing recorded.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/booking", bytes.NewBufferString(body))
	req.Header.Set("X-Webhook-Secret", "nope")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad secret -> %d", w.Code)
	}
	var n int64
	db.Model(&domain.WebhookEvent{}).Count(&n)
	if n != 0 {
		t.Fatalf("rejected request must not be recorded, got %d events", n)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhooks/booking/homereserve", bytes.NewBufferString(body))
	req.Header.Set("X-Webhook-Secret", testSecret)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("webhook -> %d %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp["ok"] != true || resp["payout_created"] != true {
		t.Fatalf("unexpected webhook response: %v", resp)
	}
	if len(sender.sent) != 1 || sender.sent[0].Amount != 500 {
		t.Fatalf("expected one notification for 500, got %+v", sender.sent)
	}
}

func TestRegisterRoutes_ReportingRequiresAdmin(t *testing.T) {
	r, _ := newRouter(t, testConfig(), nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no credentials -> %d", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.SetBasicAuth(testAdmin, testPass)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("admin -> %d %s", w.Code, w.Body.String())
	}

	for _, path := range []string{"/api/v1/referrals/window", "/api/v1/referrals/codes/x/events"} {
		w = httptest.NewRecorder()
		req = httptest.NewRequest(http.MethodGet, path, nil)
		req.SetBasicAuth(testAdmin, testPass)
		r.ServeHTTP(w, req)
		if w.Code == http.StatusNotFound && bytes.Contains(w.Body.Bytes(), []byte("route not found")) {
			t.Fatalf("%s is not mounted", path)
		}
	}

	// Disabled admin API.
	cfg := testConfig()
	cfg.Admin.Password = ""
	r2, _ := newRouter(t, cfg, nil)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil)
	req.SetBasicAuth(testAdmin, "")
	r2.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("disabled admin API -> %d", w.Code)
	}
}

func TestRegisterRoutes_ReportingGzipAndRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 2
	r, _ := newRouter(t, cfg, nil)

	get := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings", nil)
		req.SetBasicAuth(testAdmin, testPass)
		req.Header.Set("Accept-Encoding", "gzip")
		r.ServeHTTP(w, req)
		return w
	}

	w := get()
	if w.Code != http.StatusOK || w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip 200, got %d enc=%q", w.Code, w.Header().Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	plain, _ := io.ReadAll(zr)
	if !bytes.Contains(plain, []byte(`"bookings"`)) {
		t.Fatalf("unexpected body: %s", plain)
	}

	_ = get()
	if w := get(); w.Code != http.StatusTooManyRequests {
		t.Fatalf("third request should be limited, got %d", w.Code)
	}

	// Webhooks are never rate limited.
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/booking",
			bytes.NewBufferString(fmt.Sprintf(`{"booking_id":"BK-%d","status":"confirmed"}`, i)))
		req.Header.Set("X-Webhook-Secret", testSecret)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("webhook %d -> %d", i, w.Code)
		}
	}
}

func TestRegisterRoutes_CORS(t *testing.T) {
	r, _ := newRouter(t, testConfig(), nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://dash.local")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-all expected '*', got %q", got)
	}

	cfg := testConfig()
	cfg.CORS.AllowedOrigins = []string{"http://example.com"}
	r2, _ := newRouter(t, cfg, nil)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r2.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	r2.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("disallowed origin expected 403, got %d", w.Code)
	}
}

func TestRegisterRoutes_SwaggerEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.SwaggerEnabled = true
	r, _ := newRouter(t, cfg, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("/webhooks/booking/{provider}")) {
		t.Fatalf("swagger doc: %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}
