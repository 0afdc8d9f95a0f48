package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"portfolioPro/internal/api/middleware"
	"portfolioPro/internal/auth"
	"portfolioPro/internal/config"
	"portfolioPro/internal/database"
	"portfolioPro/internal/dbtest"
	"portfolioPro/internal/metrics"
	"portfolioPro/internal/payment"
	"portfolioPro/internal/render"
	"portfolioPro/internal/storage"
	"portfolioPro/internal/tasks"
	"portfolioPro/internal/validation"
)

const (
	testInternalSecret = "internal-secret"
	testPaymentSecret  = "payment-secret"
)

type recordingQueue struct {
	mu      sync.Mutex
	emails  []tasks.EmailPayload
	invoice []tasks.InvoicePayload
	rosters []tasks.RosterPayload
	pdfs    []tasks.PortfolioPDFPayload
}

func (q *recordingQueue) Email(_ context.Context, p tasks.EmailPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.emails = append(q.emails, p)
	return nil
}

func (q *recordingQueue) Invoice(_ context.Context, p tasks.InvoicePayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.invoice = append(q.invoice, p)
	return nil
}

func (q *recordingQueue) Roster(_ context.Context, p tasks.RosterPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rosters = append(q.rosters, p)
	return nil
}

func (q *recordingQueue) PortfolioPDF(_ context.Context, p tasks.PortfolioPDFPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pdfs = append(q.pdfs, p)
	return nil
}

type testServer struct {
	router   *gin.Engine
	db       *gorm.DB
	auth     *auth.AuthService
	objects  *storage.MemoryStore
	queue    *recordingQueue
	gateway  *payment.FakeGateway
	recorder *metrics.Recorder
}

func newAuthService(t *testing.T) *auth.AuthService {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	svc, err := auth.NewAuthService(privPEM, pubPEM, time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	return svc
}

// newTestServer 组装完整路由；redis 指向不可达地址，登录限流在出错时放行。
func newTestServer(t *testing.T, limits config.LimitsConfig) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validation.MustSetup()

	cfg := &config.Config{
		API: config.APIConfig{
			SiteURL:        "https://portfolio.example",
			InternalSecret: testInternalSecret,
		},
		Auth: config.AuthConfig{
			LoginRateLimitPerHour: 10,
			LoginLockThreshold:    5,
			LoginLockTTL:          15 * time.Minute,
		},
		Limits: limits,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := dbtest.Open(t)
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })

	s := &testServer{
		db:       db,
		auth:     newAuthService(t),
		objects:  storage.NewMemoryStore(""),
		queue:    &recordingQueue{},
		gateway:  &payment.FakeGateway{},
		recorder: metrics.NewRecorder(metrics.DefaultCapacity),
	}
	s.router = NewRouter(cfg, logger, s.recorder)
	RegisterRoutes(s.router, Deps{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		Auth:   s.auth,
		Payments: payment.NewService(db, s.gateway, payment.Options{
			KeyID:      "key",
			KeySecret:  testPaymentSecret,
			Currency:   "INR",
			CouponCode: "FREE100",
		}),
		Objects:  s.objects,
		Queue:    s.queue,
		Renderer: render.MustNew(),
		Recorder: s.recorder,
		Logger:   logger,
	})
	return s
}

func (s *testServer) token(t *testing.T, user database.User, profile database.Profile) string {
	t.Helper()
	pair, err := s.auth.GenerateTokenPair(auth.IdentityFor(user, &profile))
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return pair.AccessToken
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, want, rec.Body.String())
	}
}

func fieldErrorKeys(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	errs, ok := decodeBody(t, rec)["errors"].(map[string]any)
	if !ok {
		t.Fatalf("missing errors object: %s", rec.Body.String())
	}
	return errs
}

// newUserContext 构造已登录用户的 gin 上下文，用于直接调用处理器。
func newUserContext(t *testing.T, userID uint, req *http.Request) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = req
	c.Set(middleware.ContextUserID, userID)
	return c, rec
}
