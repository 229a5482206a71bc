package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// バックエンド呼び出し結果のラベル値。
const (
	// OutcomeOK はバックエンドが2xx/3xxを返したことを表す。
	OutcomeOK = "ok"
	// OutcomeError はバックエンドが4xx/5xxを返したことを表す。
	OutcomeError = "error"
	// OutcomeUnavailable はバックエンドに到達できなかったことを表す。
	OutcomeUnavailable = "unavailable"
	// OutcomeCanceled はクライアント切断で呼び出しを中断したことを表す。
	OutcomeCanceled = "canceled"
)

// Metrics はGatewayが公開するPrometheusメトリクスの集合。
type Metrics struct {
	// registry はメトリクスの登録先。プロセス全体のデフォルトレジストリは使わない。
	registry *prometheus.Registry

	// HTTPRequestsTotal はクライアントからのリクエスト数。
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestDuration はクライアントリクエストの処理時間。
	HTTPRequestDuration *prometheus.HistogramVec
	// BackendRequestsTotal はバックエンド呼び出し数。
	BackendRequestsTotal *prometheus.CounterVec
	// BackendRequestDuration はバックエンド呼び出しの所要時間。
	BackendRequestDuration *prometheus.HistogramVec
	// TokenTranslationsTotal はトークン変換の結果別件数。
	TokenTranslationsTotal *prometheus.CounterVec
	// EnrichmentFallbacksTotal はメタデータ補完でプレースホルダーを使った件数。
	EnrichmentFallbacksTotal *prometheus.CounterVec
	// IndexSyncTotal は検索インデックス同期の結果別件数。
	IndexSyncTotal *prometheus.CounterVec
}

// NewMetrics は新しいレジストリにメトリクスを登録して返す。
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests handled by the gateway",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		BackendRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_backend_requests_total",
				Help: "Total number of calls made to backend services",
			},
			[]string{"service", "outcome"},
		),
		BackendRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_backend_request_duration_seconds",
				Help:    "Backend call duration in seconds until response headers",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		TokenTranslationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_token_translations_total",
				Help: "Bearer token translations by result",
			},
			[]string{"result"},
		),
		EnrichmentFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_enrichment_fallbacks_total",
				Help: "Share entries enriched with placeholder document metadata",
			},
			[]string{"endpoint"},
		),
		IndexSyncTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_index_sync_total",
				Help: "Search index synchronization calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.TokenTranslationsTotal,
		m.EnrichmentFallbacksTotal,
		m.IndexSyncTotal,
	)
	return m
}

// Registry はメトリクスの登録先レジストリを返す。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler は /metrics 用のHTTPハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
