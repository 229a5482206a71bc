package gateway

import (
	"net"
	"net/http"
	"strings"

	"github.com/nao1215/docstorage/pkg/httpclient"
)

// hopByHopHeaders は転送してはならないヘッダー（RFC 7230 6.1）。
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// removeHopByHop はhop-by-hopヘッダーとConnectionに列挙されたヘッダーを取り除く。
func removeHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// outboundHeader はクライアントのリクエストからバックエンドへ送るヘッダーを組み立てる。
// authorizationが空ならAuthorizationは送らない。
// multipartを再エンコードする場合はContent-Typeも落とす（境界文字列が変わるため）。
func outboundHeader(r *http.Request, authorization, requestID string, reencoded bool) http.Header {
	h := r.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	removeHopByHop(h)
	h.Del("Host")
	h.Del("Content-Length")
	h.Del("Authorization")
	if reencoded {
		h.Del("Content-Type")
	}

	if authorization != "" {
		h.Set("Authorization", authorization)
	}
	if requestID != "" {
		h.Set(httpclient.HeaderRequestID, requestID)
	}

	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := h.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		h.Set("X-Forwarded-For", clientIP)
	}
	if h.Get("X-Forwarded-Host") == "" && r.Host != "" {
		h.Set("X-Forwarded-Host", r.Host)
	}
	if h.Get("X-Forwarded-Proto") == "" {
		proto := "http"
		if r.TLS != nil {
			proto = "https"
		}
		h.Set("X-Forwarded-Proto", proto)
	}
	return h
}

// copyResponseHeader はバックエンドのレスポンスヘッダーをクライアント向けにコピーする。
// Content-Lengthは落としてチャンク転送にする。CORSヘッダーはGatewayが付与するので引き継がない。
// VaryはGatewayが付けた値に足し合わせる。
func copyResponseHeader(dst, src http.Header) {
	h := src.Clone()
	removeHopByHop(h)
	h.Del("Content-Length")
	for name := range h {
		if strings.HasPrefix(name, "Access-Control-") {
			delete(h, name)
		}
	}
	for name, values := range h {
		if name == "Vary" {
			mergeVary(dst, values)
			continue
		}
		dst.Del(name)
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

// mergeVary はdstのVaryに無いフィールド名だけを追加する。
func mergeVary(dst http.Header, values []string) {
	seen := make(map[string]struct{})
	for _, v := range dst.Values("Vary") {
		for _, name := range strings.Split(v, ",") {
			seen[http.CanonicalHeaderKey(strings.TrimSpace(name))] = struct{}{}
		}
	}
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			key := http.CanonicalHeaderKey(name)
			if _, ok := seen[key]; ok || name == "" {
				continue
			}
			seen[key] = struct{}{}
			dst.Add("Vary", name)
		}
	}
}
