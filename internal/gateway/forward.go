package gateway

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/docstorage/pkg/httpclient"
	"github.com/nao1215/docstorage/pkg/middleware"
)

// handleForward はルーティング表に従ってリクエストをバックエンドに転送するハンドラを返す。
// 専用ハンドラを持たないすべてのパスがここに来る。
func (s *Server) handleForward() gin.HandlerFunc {
	return func(c *gin.Context) {
		target, ok := s.routes.Resolve(c.Request.URL.Path, c.Request.URL.RawQuery)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": msgNotFound})
			return
		}

		endpoint, known := MatchEndpoint(target.Path)
		if known {
			c.Set(middleware.KeyRouteLabel, endpoint.Pattern)
		} else {
			c.Set(middleware.KeyRouteLabel, target.Route.Prefix+"/*")
		}

		var timeout time.Duration
		if known && endpoint.Streams(c.Request.Method) {
			timeout = s.cfg.StreamTimeout
		}

		var body io.Reader
		contentLength := c.Request.ContentLength
		reencoded := false
		var contentType string
		if isMultipartForm(c.Request) {
			rc, ct, err := reencodeMultipart(c.Request)
			if err != nil {
				s.requestLogger(c).WithError(err).Warn("multipartボディを解釈できません")
				c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidRequest})
				return
			}
			defer rc.Close()
			body, contentLength, reencoded, contentType = rc, -1, true, ct
		} else if c.Request.Body != nil && c.Request.Body != http.NoBody && c.Request.ContentLength != 0 {
			body = c.Request.Body
		}

		translation := middleware.GetTranslation(c)
		header := outboundHeader(c.Request, translation.Header, middleware.GetRequestID(c), reencoded)
		if reencoded {
			header.Set("Content-Type", contentType)
		}

		resp, err := s.clients[target.Route.Service].Do(c.Request.Context(), &httpclient.Request{
			Method:        c.Request.Method,
			Path:          target.Path,
			RawQuery:      target.RawQuery,
			Header:        header,
			Body:          body,
			ContentLength: contentLength,
			Timeout:       timeout,
		})
		if err != nil {
			s.respondError(c, err)
			return
		}
		defer resp.Body.Close()

		if known {
			if op := indexOperationFor(c.Request.Method, endpoint.Pattern); op != indexNone && isSuccess(resp.StatusCode) {
				s.relayAndSync(c, resp, op, target.Path)
				return
			}
		}
		s.relay(c, resp)
	}
}

// isSuccess はステータスが2xxかどうかを返す。
func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
