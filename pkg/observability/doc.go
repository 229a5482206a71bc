// Package observability はGatewayのログ、メトリクス、トレースの初期化を提供する。
//
// ログはlogrus、メトリクスはPrometheus、トレースはOpenTelemetryを使用する。
// いずれもプロセス起動時に一度だけ生成し、Serverに注入して使う。
package observability
