// Package httpclient はGatewayからバックエンドサービスへのHTTP通信を行うクライアントを提供する。
//
// クライアントリクエストの転送も、Gatewayが集約のために行う呼び出しも、
// すべてこのパッケージのClientを通る。タイムアウト、到達不能時のエラー型、
// トークンとリクエストIDの伝播をここで統一する。
package httpclient
