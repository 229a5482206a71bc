package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/docstorage/pkg/httpclient"
	"github.com/nao1215/docstorage/pkg/observability"
)

const (
	// keyRequestID はリクエストIDを格納するキー。
	keyRequestID = "request_id"
	// KeyRouteLabel はメトリクスのrouteラベルを上書きするキー。
	// ルーティングをGin外で行うハンドラ（転送など）が設定する。
	KeyRouteLabel = "route_label"
)

// RequestID はリクエストIDを採番するGinミドルウェアを返す。
// クライアントがX-Request-IDを送ってきた場合はそれを引き継ぐ。
// IDはレスポンスヘッダーに付与し、バックエンド呼び出しにも伝播する。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(httpclient.HeaderRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(keyRequestID, id)
		c.Header(httpclient.HeaderRequestID, id)
		c.Request = c.Request.WithContext(httpclient.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// GetRequestID はGinコンテキストからリクエストIDを取得する。
func GetRequestID(c *gin.Context) string {
	return c.GetString(keyRequestID)
}

// AccessLog はリクエストごとのアクセスログとメトリクスを記録するGinミドルウェアを返す。
func AccessLog(logger *logrus.Logger, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		route := c.FullPath()
		if label := c.GetString(KeyRouteLabel); label != "" {
			route = label
		}
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		if metrics != nil {
			metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(latency.Seconds())
		}

		entry := logger.WithFields(logrus.Fields{
			"request_id": GetRequestID(c),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"route":      route,
			"status":     status,
			"latency":    latency.String(),
			"client_ip":  c.ClientIP(),
		})
		switch {
		case status >= 500:
			entry.Warn("リクエスト処理完了")
		default:
			entry.Info("リクエスト処理完了")
		}
	}
}
