package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/docstorage/pkg/httpclient"
	"github.com/nao1215/docstorage/pkg/middleware"
)

// statusClientClosedRequest はクライアントが応答前に切断したことを表す（ログ用の非標準ステータス）。
const statusClientClosedRequest = 499

// relayBufferSize はレスポンスを中継するときのチャンクサイズ。
const relayBufferSize = 32 * 1024

// エラーレスポンスのメッセージ。
const (
	msgNotFound       = "Not found"
	msgInternalError  = "Internal server error"
	msgInvalidRequest = "Invalid request body"
)

// requestLogger はリクエスト単位のフィールドを付けたログエントリを返す。
func (s *Server) requestLogger(c *gin.Context) *logrus.Entry {
	return s.logger.WithFields(logrus.Fields{
		"request_id": middleware.GetRequestID(c),
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
	})
}

// respondError はバックエンド呼び出しのエラーをクライアント向けのレスポンスに変換する。
// バックエンドが返したエラーはそのまま返し、内部の詳細はログにだけ残す。
func (s *Server) respondError(c *gin.Context, err error) {
	var statusErr *httpclient.StatusError
	var unavailable *httpclient.UnavailableError
	switch {
	case errors.As(err, &statusErr):
		copyResponseHeader(c.Writer.Header(), statusErr.Header)
		c.Data(statusErr.StatusCode, statusErr.ContentType(), statusErr.Body)
	case errors.As(err, &unavailable):
		s.requestLogger(c).WithError(err).Warn("バックエンドに接続できません")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": unavailable.PublicMessage()})
	case errors.Is(err, context.Canceled) && c.Request.Context().Err() != nil:
		s.requestLogger(c).Info("クライアントが切断したため処理を中断しました")
		c.AbortWithStatus(statusClientClosedRequest)
	default:
		s.requestLogger(c).WithError(err).Error("リクエスト処理中にエラーが発生しました")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
	}
}

// writeHead はバックエンドのステータスとヘッダーをクライアントに書き出す。
func writeHead(c *gin.Context, resp *http.Response) {
	copyResponseHeader(c.Writer.Header(), resp.Header)
	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()
}

// streamBody はボディを届いた分ずつクライアントに書き出す。
func (s *Server) streamBody(c *gin.Context, body io.Reader) {
	buf := make([]byte, relayBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				s.requestLogger(c).WithError(werr).Debug("クライアントへの書き込みに失敗しました")
				return
			}
			c.Writer.Flush()
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			s.requestLogger(c).WithError(err).Warn("バックエンドからの読み込みが途中で失敗しました")
			return
		}
	}
}

// relay はバックエンドのレスポンスをステータス・ヘッダー・ボディともにそのまま中継する。
func (s *Server) relay(c *gin.Context, resp *http.Response) {
	writeHead(c, resp)
	s.streamBody(c, resp.Body)
}
