package httpclient

import (
	"fmt"
	"net/http"
)

// UnavailableError はバックエンドに接続できなかった、またはタイムアウトしたことを表す。
type UnavailableError struct {
	// Service はサービス表示名。
	Service string
	// Err は元のエラー。
	Err error
}

// Error はエラーメッセージを返す。
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%sサービスに接続できません: %v", e.Service, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// PublicMessage はクライアントに返してよいエラーメッセージを返す。
func (e *UnavailableError) PublicMessage() string {
	return e.Service + " service unavailable"
}

// StatusError はバックエンドが2xx以外を返したことを表す。
// ステータスとボディはクライアントにそのまま返すために保持する。
type StatusError struct {
	// Service はサービス表示名。
	Service string
	// StatusCode はバックエンドのHTTPステータス。
	StatusCode int
	// Header はバックエンドのレスポンスヘッダー。
	Header http.Header
	// Body はバックエンドのレスポンスボディ。
	Body []byte
}

// Error はエラーメッセージを返す。
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTPエラー: service=%s, status=%d, body=%s", e.Service, e.StatusCode, string(e.Body))
}

// ContentType はバックエンドが返したContent-Type。空ならJSONとみなす。
func (e *StatusError) ContentType() string {
	if ct := e.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/json"
}

// DecodeError はバックエンドのレスポンスをJSONとして解釈できなかったことを表す。
type DecodeError struct {
	// Service はサービス表示名。
	Service string
	// Err は元のエラー。
	Err error
}

// Error はエラーメッセージを返す。
func (e *DecodeError) Error() string {
	return fmt.Sprintf("%sサービスのレスポンスのデシリアライズに失敗: %v", e.Service, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *DecodeError) Unwrap() error {
	return e.Err
}
