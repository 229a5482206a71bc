package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nao1215/docstorage/pkg/observability"
)

// DefaultTimeout はバックエンド呼び出しの既定タイムアウト。
const DefaultTimeout = 10 * time.Second

// maxErrorBody はエラーレスポンスとして保持するボディの上限。
const maxErrorBody = 1 << 20

// Client はバックエンドサービス1つ分のHTTPクライアント。
// クライアントリクエストの転送とGateway自身が行う集約呼び出しの両方がこれを通る。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。全バックエンドで共有する。
	httpClient *http.Client
	// baseURL は接続先サービスのベースURL。
	baseURL string
	// service はエラーメッセージとメトリクスに使うサービス表示名。
	service string
	// timeout は呼び出しごとの既定タイムアウト。
	timeout time.Duration
	// metrics はバックエンド呼び出しのメトリクス。nilなら記録しない。
	metrics *observability.Metrics
}

// Option はClientの生成オプション。
type Option func(*Client)

// WithTimeout は既定タイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient は使用するhttp.Clientを差し替える。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New は新しいサービス間通信用HTTPクライアントを生成する。
// serviceには表示名（例: "Share"）、baseURLには接続先のベースURL（例: "http://share:3004"）を指定する。
func New(service, baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: NewHTTPClient(),
		baseURL:    baseURL,
		service:    service,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewHTTPClient はバックエンド呼び出し用のhttp.Clientを生成する。
// リダイレクトは追跡せずそのまま呼び出し元に返す。タイムアウトはcontextで制御する。
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone()),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Request はバックエンドへの1回分の呼び出し内容。
type Request struct {
	// Method はHTTPメソッド。
	Method string
	// Path はベースURLに連結するパス。先頭は "/"。
	Path string
	// RawQuery はエンコード済みのクエリ文字列。
	RawQuery string
	// Header は送信するヘッダー。呼び出し側で整形済みであること。
	Header http.Header
	// Body はリクエストボディ。nilの場合は空。
	Body io.Reader
	// ContentLength はBodyの長さ。不明な場合は-1。
	ContentLength int64
	// Timeout はこの呼び出しのタイムアウト。0の場合はClientの既定値を使う。
	Timeout time.Duration
}

// URL は呼び出し先の完全なURLを返す。
func (c *Client) URL(path, rawQuery string) string {
	u := c.baseURL + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

// Do はバックエンドを1回だけ呼び出し、レスポンスをそのまま返す。
// ステータスコードはエラーとして扱わない。呼び出し元はBodyを必ずCloseすること。
// 到達できない場合やタイムアウトした場合は *UnavailableError を返す。
// 親contextがキャンセルされた場合はそのエラーを返す。
func (c *Client) Do(ctx context.Context, r *Request) (*http.Response, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)

	req, err := http.NewRequestWithContext(callCtx, r.Method, c.URL(r.Path, r.RawQuery), r.Body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	if r.Header != nil {
		req.Header = r.Header.Clone()
	}
	if r.Body != nil && r.ContentLength != 0 {
		req.ContentLength = r.ContentLength
	}

	// ヘッダーで明示されていなければコンテキストから伝播する
	if v, ok := authorizationFrom(ctx); ok && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", v)
	}
	if v, ok := requestIDFrom(ctx); ok && req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observeDuration(time.Since(start))
	if err != nil {
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.countOutcome(observability.OutcomeCanceled)
			return nil, fmt.Errorf("呼び出し元がキャンセルされました: %w", ctxErr)
		}
		c.countOutcome(observability.OutcomeUnavailable)
		return nil, &UnavailableError{Service: c.service, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		c.countOutcome(observability.OutcomeError)
	} else {
		c.countOutcome(observability.OutcomeOK)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// PostJSON は指定パスにJSONボディでPOSTリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) PostJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPost, path, "", body, result)
}

// GetJSON は指定パスにGETリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path, rawQuery string, result any) error {
	return c.doJSON(ctx, http.MethodGet, path, rawQuery, nil, result)
}

// DeleteJSON は指定パスにDELETEリクエストを送信する。
func (c *Client) DeleteJSON(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, http.MethodDelete, path, "", nil, result)
}

// doJSON はJSON形式のHTTPリクエストを実行する共通処理。
// 2xx以外のレスポンスは *StatusError として返す。
func (c *Client) doJSON(ctx context.Context, method, path, rawQuery string, body any, result any) error {
	r := &Request{
		Method:   method,
		Path:     path,
		RawQuery: rawQuery,
		Header:   http.Header{},
	}
	r.Header.Set("Accept", "application/json")
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		r.Body = bytes.NewReader(jsonBody)
		r.ContentLength = int64(len(jsonBody))
		r.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Service:    c.service,
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			Body:       respBody,
		}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return &DecodeError{Service: c.service, Err: err}
		}
	}
	return nil
}

func (c *Client) countOutcome(outcome string) {
	if c.metrics == nil {
		return
	}
	c.metrics.BackendRequestsTotal.WithLabelValues(c.service, outcome).Inc()
}

func (c *Client) observeDuration(d time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.BackendRequestDuration.WithLabelValues(c.service).Observe(d.Seconds())
}

// cancelOnClose はBodyのClose時に呼び出しごとのcontextを解放する。
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

// Close はBodyを閉じてcontextをキャンセルする。
func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// IsUnavailable はerrがバックエンド到達不能を表すかどうかを返す。
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}
