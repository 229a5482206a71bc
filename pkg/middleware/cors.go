package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORSRule はエンドポイント1つ分のCORS許可内容。
type CORSRule struct {
	// Methods は許可するHTTPメソッド。OPTIONSは自動で追加される。
	Methods []string
	// Headers は許可するリクエストヘッダー。
	Headers []string
	// ExposeHeaders はブラウザに公開するレスポンスヘッダー。
	ExposeHeaders []string
}

// AllowMethods はAccess-Control-Allow-Methodsに設定する値を返す。
func (r CORSRule) AllowMethods() string {
	methods := make([]string, 0, len(r.Methods)+1)
	for _, m := range r.Methods {
		if m != http.MethodOptions {
			methods = append(methods, m)
		}
	}
	methods = append(methods, http.MethodOptions)
	return strings.Join(methods, ", ")
}

// CORSResolver はリクエストパスに対応するCORSRuleを返す。該当が無ければfalse。
type CORSResolver func(path string) (CORSRule, bool)

// CORS は指定されたオリジンからのクロスオリジンリクエストを許可するGinミドルウェアを返す。
// 許可メソッドはエンドポイントごとにresolveで決まる。
// OPTIONSリクエストはここで応答し、バックエンドには転送しない。
func CORS(allowedOrigins []string, resolve CORSResolver) gin.HandlerFunc {
	originsSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsSet[o] = struct{}{}
	}

	return func(c *gin.Context) {
		rule, found := resolve(c.Request.URL.Path)

		c.Writer.Header().Add("Vary", "Origin")
		origin := c.GetHeader("Origin")
		if _, ok := originsSet[origin]; ok {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			if found && len(rule.ExposeHeaders) > 0 {
				c.Header("Access-Control-Expose-Headers", strings.Join(rule.ExposeHeaders, ", "))
			}
		}

		if c.Request.Method != http.MethodOptions {
			c.Next()
			return
		}

		if !found {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		c.Header("Access-Control-Allow-Methods", rule.AllowMethods())
		c.Header("Access-Control-Allow-Headers", strings.Join(rule.Headers, ", "))
		c.Header("Access-Control-Max-Age", "86400")
		c.AbortWithStatus(http.StatusNoContent)
	}
}
