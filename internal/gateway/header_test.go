package gateway

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutboundHeader(t *testing.T) {
	t.Parallel()

	t.Run("hop-by-hopヘッダーとクライアントのAuthorizationを送らないこと", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest(http.MethodGet, "http://gateway.example.com/docs/documents", nil)
		r.Header.Set("Authorization", "Bearer original")
		r.Header.Set("Connection", "keep-alive, X-Private")
		r.Header.Set("X-Private", "secret")
		r.Header.Set("Keep-Alive", "timeout=5")
		r.Header.Set("Content-Length", "10")
		r.Header.Set("Accept", "application/json")

		h := outboundHeader(r, "", "req-1", false)

		assert.Empty(t, h.Get("Authorization"))
		assert.Empty(t, h.Get("Connection"))
		assert.Empty(t, h.Get("X-Private"))
		assert.Empty(t, h.Get("Keep-Alive"))
		assert.Empty(t, h.Get("Content-Length"))
		assert.Equal(t, "application/json", h.Get("Accept"))
		assert.Equal(t, "req-1", h.Get("X-Request-ID"))
	})

	t.Run("変換済みトークンとX-Forwardedヘッダーを付けること", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest(http.MethodGet, "http://gateway.example.com/docs/documents", nil)
		r.RemoteAddr = "203.0.113.7:5555"
		r.Header.Set("X-Forwarded-For", "198.51.100.1")

		h := outboundHeader(r, "Bearer rewritten", "", false)

		assert.Equal(t, "Bearer rewritten", h.Get("Authorization"))
		assert.Equal(t, "198.51.100.1, 203.0.113.7", h.Get("X-Forwarded-For"))
		assert.Equal(t, "gateway.example.com", h.Get("X-Forwarded-Host"))
		assert.Equal(t, "http", h.Get("X-Forwarded-Proto"))
		assert.Empty(t, h.Get("X-Request-ID"))
	})

	t.Run("TLS接続ではX-Forwarded-Protoがhttpsになること", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest(http.MethodGet, "https://gateway.example.com/auth/profile", nil)
		r.TLS = &tls.ConnectionState{}

		h := outboundHeader(r, "", "", false)

		assert.Equal(t, "https", h.Get("X-Forwarded-Proto"))
	})

	t.Run("再エンコードする場合はContent-Typeを送らないこと", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest(http.MethodPost, "/docs/upload", nil)
		r.Header.Set("Content-Type", "multipart/form-data; boundary=abc")

		assert.Empty(t, outboundHeader(r, "", "", true).Get("Content-Type"))
		assert.Equal(t, "multipart/form-data; boundary=abc", outboundHeader(r, "", "", false).Get("Content-Type"))
	})

	t.Run("元のリクエストヘッダーを変更しないこと", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
		r.Header.Set("Authorization", "Bearer original")

		_ = outboundHeader(r, "Bearer rewritten", "", false)

		assert.Equal(t, "Bearer original", r.Header.Get("Authorization"))
	})
}

func TestCopyResponseHeader(t *testing.T) {
	t.Parallel()

	src := http.Header{}
	src.Set("Content-Type", "application/pdf")
	src.Set("Content-Disposition", `attachment; filename="a.pdf"`)
	src.Set("Content-Length", "100")
	src.Set("Transfer-Encoding", "chunked")
	src.Set("Access-Control-Allow-Origin", "*")
	src.Add("Set-Cookie", "a=1")
	src.Add("Set-Cookie", "b=2")

	dst := http.Header{}
	dst.Set("Access-Control-Allow-Origin", testOrigin)
	dst.Set("Content-Type", "text/plain")

	copyResponseHeader(dst, src)

	assert.Equal(t, "application/pdf", dst.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="a.pdf"`, dst.Get("Content-Disposition"))
	assert.Empty(t, dst.Get("Content-Length"))
	assert.Empty(t, dst.Get("Transfer-Encoding"))
	assert.Equal(t, []string{testOrigin}, dst.Values("Access-Control-Allow-Origin"))
	assert.Equal(t, []string{"a=1", "b=2"}, dst.Values("Set-Cookie"))
}

func TestCopyResponseHeader_Vary(t *testing.T) {
	t.Parallel()

	t.Run("バックエンドのVaryをGatewayのVaryに足し合わせること", func(t *testing.T) {
		t.Parallel()

		dst := http.Header{}
		dst.Add("Vary", "Origin")
		src := http.Header{}
		src.Add("Vary", "Accept-Encoding, origin")
		src.Add("Vary", "Accept")

		copyResponseHeader(dst, src)

		assert.Equal(t, []string{"Origin", "Accept-Encoding", "Accept"}, dst.Values("Vary"))
	})

	t.Run("バックエンドがVaryを返してもCORSのVary: Originが残ること", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestGateway(t, map[Service]http.Handler{
			ServiceDocs: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Vary", "Accept-Encoding")
				w.WriteHeader(http.StatusOK)
			}),
		})
		req := httptest.NewRequest(http.MethodGet, "/docs/documents", nil)
		req.Header.Set("Origin", testOrigin)

		w := serve(s, req)

		assert.Equal(t, []string{"Origin", "Accept-Encoding"}, w.Header().Values("Vary"))
	})
}
