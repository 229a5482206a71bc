// Package middleware はGatewayで使用するGinミドルウェアとトークン変換を提供する。
//
// Bearerトークンの検証とクレーム正規化（user_id と sub の相互補完、再署名）、
// エンドポイント単位のCORS、リクエストID採番、アクセスログ、パニックリカバリを含む。
// クレームの正規化はHTTPに依存しない純粋関数として切り出している。
package middleware
