package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nao1215/docstorage/pkg/observability"
)

// ginキーの定義。
const (
	// keyTranslation はトークン変換結果を格納するキー。
	keyTranslation = "token_translation"
	// keyUserID は検証済みユーザーIDを格納するキー。
	keyUserID = "user_id"
)

// トークン変換結果のメトリクスラベル。
const (
	translationRewritten = "rewritten"
	translationUnchanged = "unchanged"
	translationMissing   = "missing"
	translationInvalid   = "invalid"
)

// TranslateToken はAuthorizationヘッダーを変換してコンテキストに保存するGinミドルウェアを返す。
// 検証に失敗してもリクエストは止めない。転送先のサービスが認証を判断する。
func TranslateToken(tr *Translator, logger *logrus.Logger, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		result := tr.Translate(c.GetHeader("Authorization"))

		label := translationUnchanged
		switch {
		case errors.Is(result.Err, ErrNoToken):
			label = translationMissing
		case result.Err != nil:
			label = translationInvalid
			logger.WithFields(logrus.Fields{
				"request_id": c.GetString(keyRequestID),
				"path":       c.Request.URL.Path,
				"error":      result.Err.Error(),
			}).Warn("トークンの検証に失敗したため元のヘッダーをそのまま転送します")
		case result.Rewritten:
			label = translationRewritten
		}
		if metrics != nil {
			metrics.TokenTranslationsTotal.WithLabelValues(label).Inc()
		}

		c.Set(keyTranslation, result)
		if result.Authenticated() {
			c.Set(keyUserID, result.UserID)
		}
		c.Next()
	}
}

// RequireUser は検証済みユーザーIDを必須とするGinミドルウェアを返す。
// Gateway自身がユーザーIDを使うエンドポイントにだけ適用する。TranslateTokenの後に置くこと。
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !GetTranslation(c).Authenticated() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// GetTranslation はGinコンテキストからトークン変換結果を取得する。
// TranslateTokenが適用されていない場合は未認証の結果を返す。
func GetTranslation(c *gin.Context) Translation {
	if v, ok := c.Get(keyTranslation); ok {
		if t, ok := v.(Translation); ok {
			return t
		}
	}
	return Translation{Header: c.GetHeader("Authorization"), Err: ErrNoToken}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// 検証済みトークンが無い場合は空文字列を返す。
func GetUserID(c *gin.Context) string {
	return c.GetString(keyUserID)
}
