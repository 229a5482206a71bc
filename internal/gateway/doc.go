// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// Identity・Document・Search・Sharingの4サービスの前段に立ち、
// パスプレフィックスでリクエストを振り分けて転送する。
// Bearerトークンは検証・正規化したうえでバックエンドに渡し、
// 共有作成・共有一覧・検索では複数のサービスを呼び出して結果をまとめる。
package gateway
