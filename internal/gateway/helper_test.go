package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/docstorage/pkg/middleware"
	"github.com/nao1215/docstorage/pkg/observability"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testJWTSecret はテスト用のJWT署名秘密鍵。
const testJWTSecret = "test-secret-key"

// testOrigin はテスト用のフロントエンドオリジン。
const testOrigin = "http://localhost:3000"

// recordedRequest はモックバックエンドが受け取ったリクエスト。
type recordedRequest struct {
	// Method はHTTPメソッド。
	Method string
	// Path はリクエストパス。
	Path string
	// RawQuery はクエリ文字列。
	RawQuery string
	// Header はリクエストヘッダー。
	Header http.Header
	// Body はリクエストボディ。
	Body []byte
}

// backendRecorder はモックバックエンドへのリクエストを記録する。
type backendRecorder struct {
	mu   sync.Mutex
	reqs []recordedRequest
}

// record はリクエストを記録して返す。ボディは読み切る。
func (b *backendRecorder) record(r *http.Request) recordedRequest {
	body, _ := io.ReadAll(r.Body)
	rec := recordedRequest{
		Method:   r.Method,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
		Header:   r.Header.Clone(),
		Body:     body,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reqs = append(b.reqs, rec)
	return rec
}

// all は記録済みのリクエストを返す。
func (b *backendRecorder) all() []recordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]recordedRequest, len(b.reqs))
	copy(out, b.reqs)
	return out
}

// count は指定パスへのリクエスト数を返す。
func (b *backendRecorder) count(path string) int {
	n := 0
	for _, r := range b.all() {
		if r.Path == path {
			n++
		}
	}
	return n
}

// closedURL は接続できないURLを返す。
func closedURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL
	srv.Close()
	return u
}

// newTestConfig はテスト用の設定を返す。
func newTestConfig(urls ServiceURLs) *Config {
	return &Config{
		Port:            "0",
		JWTSecret:       testJWTSecret,
		FrontendURL:     testOrigin,
		Services:        urls,
		BackendTimeout:  2 * time.Second,
		StreamTimeout:   5 * time.Second,
		ShutdownTimeout: time.Second,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// newTestGateway はモックバックエンドに接続したテスト用Gatewayを生成する。
// handlersに無いサービスは接続できないURLになる。
func newTestGateway(t *testing.T, handlers map[Service]http.Handler) (*Server, *observability.Metrics) {
	t.Helper()

	urlFor := func(s Service) string {
		h, ok := handlers[s]
		if !ok {
			return closedURL(t)
		}
		srv := httptest.NewServer(h)
		t.Cleanup(srv.Close)
		return srv.URL
	}
	urls := ServiceURLs{
		Auth:   urlFor(ServiceAuth),
		Docs:   urlFor(ServiceDocs),
		Search: urlFor(ServiceSearch),
		Share:  urlFor(ServiceShare),
	}

	metrics := observability.NewMetrics()
	s, err := NewServer(newTestConfig(urls), observability.NewDiscardLogger(), metrics)
	require.NoError(t, err)
	return s, metrics
}

// testToken はテスト用のトークンを署名して返す。
func testToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := middleware.SignClaims(testJWTSecret, claims)
	require.NoError(t, err)
	return signed
}

// userToken はuser_idだけを持つ有効なトークンを返す。
func userToken(t *testing.T, userID int) string {
	t.Helper()
	return testToken(t, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
}

// serve はGatewayにリクエストを送りレスポンスを返す。
func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// jsonHandler は固定のJSONを返しリクエストを記録するハンドラを返す。
func jsonHandler(rec *backendRecorder, status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

// counterValue はカウンターの現在値を返す。
func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	return testutil.ToFloat64(c)
}
