package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// testResolver はテスト用のCORSResolver。
func testResolver(path string) (CORSRule, bool) {
	switch path {
	case "/docs/upload":
		return CORSRule{
			Methods: []string{http.MethodPost},
			Headers: []string{"Authorization", "Content-Type"},
		}, true
	case "/docs/file/1":
		return CORSRule{
			Methods:       []string{http.MethodGet},
			Headers:       []string{"Authorization", "Content-Type"},
			ExposeHeaders: []string{"Content-Disposition", "Content-Type"},
		}, true
	default:
		return CORSRule{}, false
	}
}

// newCORSRouter はCORSミドルウェアを組み込んだテスト用ルーターを返す。
func newCORSRouter() *gin.Engine {
	router := gin.New()
	router.Use(CORS([]string{"http://localhost:3000", "https://example.com"}, testResolver))
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func TestCORS(t *testing.T) {
	t.Parallel()

	t.Run("アップロードのプリフライトはPOSTとOPTIONSのみを許可すること", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodOptions, "/docs/upload", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()
		newCORSRouter().ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Authorization, Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
	})

	t.Run("許可リストの2番目のオリジンでもCORSヘッダーが設定されること", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/docs/upload", nil)
		req.Header.Set("Origin", "https://example.com")
		w := httptest.NewRecorder()
		newCORSRouter().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("許可されていないオリジンにはAllow-Originを返さないこと", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/docs/upload", nil)
		req.Header.Set("Origin", "http://evil.example.com")
		w := httptest.NewRecorder()
		newCORSRouter().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("ダウンロードではContent-Dispositionを公開すること", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodGet, "/docs/file/1", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()
		newCORSRouter().ServeHTTP(w, req)

		assert.Equal(t, "Content-Disposition, Content-Type", w.Header().Get("Access-Control-Expose-Headers"))
	})

	t.Run("未知のパスへのプリフライトは404になること", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodOptions, "/unknown", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()
		newCORSRouter().ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"error":"Not found"}`, w.Body.String())
	})
}

func TestCORSRule_AllowMethods(t *testing.T) {
	t.Parallel()

	t.Run("OPTIONSが重複しないこと", func(t *testing.T) {
		t.Parallel()

		rule := CORSRule{Methods: []string{http.MethodGet, http.MethodOptions, http.MethodDelete}}
		assert.Equal(t, "GET, DELETE, OPTIONS", rule.AllowMethods())
	})
}
