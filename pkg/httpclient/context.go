package httpclient

import "context"

// HeaderRequestID はリクエストIDを伝播するHTTPヘッダーキー。
const HeaderRequestID = "X-Request-ID"

// contextKey はコンテキストキーの型。
type contextKey string

const (
	// contextKeyAuthorization は転送するAuthorizationヘッダー値のキー。
	contextKeyAuthorization contextKey = "authorization"
	// contextKeyRequestID はリクエストIDのキー。
	contextKeyRequestID contextKey = "request_id"
)

// WithAuthorization はコンテキストにAuthorizationヘッダー値を設定する。
// Gatewayが集約のためにバックエンドを呼ぶとき、利用者の（変換済み）トークンを伝播するために使用する。
func WithAuthorization(ctx context.Context, value string) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, value)
}

// WithRequestID はコンテキストにリクエストIDを設定する。
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

func authorizationFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(contextKeyAuthorization).(string)
	return v, ok && v != ""
}

func requestIDFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(contextKeyRequestID).(string)
	return v, ok && v != ""
}
