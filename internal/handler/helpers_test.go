package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/smap-gateway/internal/auth"
	"github.com/hitoshi/smap-gateway/internal/degrade"
	"github.com/hitoshi/smap-gateway/internal/kvstore"
	"github.com/hitoshi/smap-gateway/internal/metrics"
	"github.com/hitoshi/smap-gateway/internal/middleware"
	"github.com/hitoshi/smap-gateway/internal/security"
	"github.com/hitoshi/smap-gateway/internal/upstream"
	"github.com/hitoshi/smap-gateway/internal/verification"
)

const testSecret = "test-secret-for-handler"

// recordedRequest はテスト用バックエンドが受け取ったリクエスト。
type recordedRequest struct {
	Method        string
	Path          string
	Query         string
	Authorization string
	RequestID     string
	Body          []byte
}

// fakeBackend はルートごとに応答を差し替えられるテスト用バックエンド。
// 受信回数と受信内容を記録する。
type fakeBackend struct {
	*httptest.Server
	calls atomic.Int32

	mu       sync.Mutex
	routes   map[string]http.HandlerFunc
	requests []recordedRequest
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{routes: make(map[string]http.HandlerFunc)}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.Close)
	return b
}

func (b *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	b.calls.Add(1)
	body, _ := io.ReadAll(r.Body)

	b.mu.Lock()
	b.requests = append(b.requests, recordedRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		Query:         r.URL.RawQuery,
		Authorization: r.Header.Get("Authorization"),
		RequestID:     r.Header.Get(middleware.RequestIDHeader),
		Body:          body,
	})
	h, ok := b.routes[r.Method+" "+r.URL.Path]
	b.mu.Unlock()

	if !ok {
		writeBackendJSON(w, http.StatusNotFound, map[string]any{"detail": "Not Found"})
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	h(w, r)
}

// handle はバックエンドのルートを登録する。
func (b *fakeBackend) handle(method, path string, h http.HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[method+" "+path] = h
}

// lastRequest は最後に受け取ったリクエストを返す。
func (b *fakeBackend) lastRequest(t *testing.T) recordedRequest {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.requests) == 0 {
		t.Fatal("backend received no request")
	}
	return b.requests[len(b.requests)-1]
}

func writeBackendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondWith は固定の応答を返すバックエンドハンドラーを返す。
func respondWith(status int, v any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeBackendJSON(w, status, v)
	}
}

// closedServerURL は接続を拒否するURLを返す。
func closedServerURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL
	srv.Close()
	return u
}

// testEnv は実際の部品で組み立てたルーターと、テストから参照する部品を保持する。
type testEnv struct {
	router    http.Handler
	codec     *auth.TokenCodec
	verifier  *verification.Service
	snapshots *kvstore.MemoryStore
	logs      *bytes.Buffer
}

// newTestEnv はテスト用の環境を組み立てる。optsでレート制限の設定を上書きできる。
func newTestEnv(t *testing.T, backendURL string, opts ...func(*middleware.RateLimiterConfig)) *testEnv {
	t.Helper()

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	codec, err := auth.NewTokenCodec(testSecret)
	if err != nil {
		t.Fatalf("NewTokenCodec returned error: %v", err)
	}
	client, err := upstream.NewClient(upstream.Config{
		BaseURL: backendURL,
		Timeout: 2 * time.Second,
	}, logger, metrics.NopCollector{})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	verificationStore := kvstore.NewMemoryStore(time.Minute)
	snapshots := kvstore.NewMemoryStore(time.Minute)
	t.Cleanup(verificationStore.Stop)
	t.Cleanup(snapshots.Stop)

	rlConfig := middleware.RateLimiterConfig{
		GeneralRate:     1000,
		GeneralBurst:    1000,
		WriteRate:       1000,
		WriteBurst:      1000,
		LoginRequests:   1000,
		LoginWindow:     time.Minute,
		CleanupInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(&rlConfig)
	}
	rl := middleware.NewRateLimiter(rlConfig)
	t.Cleanup(rl.Stop)

	cookies := auth.NewCookieManager(auth.CookieConfig{Secure: true})
	verifier := verification.NewService(verificationStore, 3*time.Minute, 5)
	sanitizer := security.NewTextSanitizer()
	substituter := degrade.NewSubstituter(snapshots, time.Hour, metrics.NopCollector{}, logger)

	router := NewRouter(&RouterDeps{
		Logger:            logger,
		Resolver:          auth.NewResolver(codec),
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		Pipeline:          NewPipeline(client, substituter, cookies, logger),
		Auth: NewAuthHandler(codec, cookies, verifier, sanitizer, AuthHandlerConfig{
			SessionTTL:         7 * 24 * time.Hour,
			RegisterSessionTTL: 30 * 24 * time.Hour,
		}, logger),
		Groups:    NewGroupHandler(sanitizer),
		Locations: NewLocationHandler(),
		Schedules: NewScheduleHandler(sanitizer),
		Health:    NewHealthHandler(logger),
	})

	return &testEnv{
		router:    router,
		codec:     codec,
		verifier:  verifier,
		snapshots: snapshots,
		logs:      &logs,
	}
}

// tokenFor はテスト用の会員トークンを発行する。
func (e *testEnv) tokenFor(t *testing.T, memberID int64) string {
	t.Helper()
	token, _, err := e.codec.Issue(auth.Claims{
		MtIdx:  memberID,
		MtID:   "01012345678",
		MtName: "홍길동",
		MtHp:   "01012345678",
	}, time.Hour)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	return token
}

// do はルーターにリクエストを送り、レスポンスを返す。tokenが空の場合は匿名。
func (e *testEnv) do(t *testing.T, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := newJSONRequest(method, target, body)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	}
	return serve(e, req)
}

func newJSONRequest(method, target, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func serve(e *testEnv, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// envelope はテストでレスポンスを読むための形。
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Field   string          `json:"field"`
	Source  string          `json:"source"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return env
}

func decodeData(t *testing.T, env envelope, dst any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("failed to decode data %q: %v", string(env.Data), err)
	}
}

// sessionCookie はレスポンスに設定された主たる認証Cookieを返す。
func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	return nil
}

// backendMember はバックエンドの会員レコード（ラップ済み）を返す。
func backendMember(memberID int64) map[string]any {
	return map[string]any{
		"success": true,
		"data": map[string]any{
			"member": map[string]any{
				"mt_idx":      memberID,
				"mt_id":       "01012345678",
				"mt_pwd":      "$2b$12$hash",
				"mt_name":     "홍길동",
				"mt_hp":       "01012345678",
				"mt_token_id": "push-token",
				"mt_level":    2,
			},
		},
	}
}
