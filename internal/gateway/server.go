package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/docstorage/pkg/httpclient"
	"github.com/nao1215/docstorage/pkg/middleware"
	"github.com/nao1215/docstorage/pkg/observability"
)

// readHeaderTimeout はリクエストヘッダー読み込みのタイムアウト。
const readHeaderTimeout = 10 * time.Second

// corsHeaders はCORSで許可するリクエストヘッダー。
var corsHeaders = []string{"Authorization", "Content-Type"}

// Server はAPI GatewayのHTTPサーバー。
type Server struct {
	// cfg は起動時の設定。
	cfg *Config
	// router はGinのHTTPルーター。
	router *gin.Engine
	// routes はパスプレフィックスとバックエンドの対応表。
	routes *RouteTable
	// clients はバックエンドごとのHTTPクライアント。
	clients map[Service]*httpclient.Client
	// translator はBearerトークンの検証と書き換えを行う。
	translator *middleware.Translator
	// logger はアプリケーションロガー。
	logger *logrus.Logger
	// metrics はPrometheusメトリクス。
	metrics *observability.Metrics
	// indexSync は実行中の検索インデックス同期。
	indexSync sync.WaitGroup
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(cfg *Config, logger *logrus.Logger, metrics *observability.Metrics) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("設定がありません")
	}
	if logger == nil {
		logger = observability.NewDiscardLogger()
	}
	if metrics == nil {
		metrics = observability.NewMetrics()
	}

	translator, err := middleware.NewTranslator(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("トークン変換の初期化に失敗: %w", err)
	}

	routes := NewRouteTable(cfg.Services)
	httpClient := httpclient.NewHTTPClient()
	clients := make(map[Service]*httpclient.Client, len(routes.Routes()))
	for _, r := range routes.Routes() {
		clients[r.Service] = httpclient.New(r.Name, r.BaseURL,
			httpclient.WithHTTPClient(httpClient),
			httpclient.WithTimeout(cfg.BackendTimeout),
			httpclient.WithMetrics(metrics),
		)
	}

	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, fmt.Errorf("信頼するプロキシの設定に失敗: %w", err)
	}

	s := &Server{
		cfg:        cfg,
		router:     router,
		routes:     routes,
		clients:    clients,
		translator: translator,
		logger:     logger,
		metrics:    metrics,
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes はミドルウェアとルーティングを設定する。
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.AccessLog(s.logger, s.metrics))
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.CORS([]string{s.cfg.FrontendURL}, s.corsRule))
	s.router.Use(middleware.TranslateToken(s.translator, s.logger, s.metrics))

	// ヘルスチェックとメトリクス
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// Gateway自身が複数サービスを呼び出すエンドポイント（認証必須）
	composite := s.router.Group("/", middleware.RequireUser())
	{
		composite.POST("/share", s.handleCreateShare())
		composite.GET("/share/shared-with-me", s.handleSharedList("/share/shared-with-me"))
		composite.GET("/share/shared-by-me", s.handleSharedList("/share/shared-by-me"))
		composite.GET("/search", s.handleSearch())
	}

	// それ以外はすべてルーティング表に従って転送する
	s.router.NoRoute(s.handleForward())
}

// corsRule はパスに対応するCORSの許可内容を返す。
// エンドポイント一覧に無いパスはサービス単位のメソッドを許可する。
func (s *Server) corsRule(path string) (middleware.CORSRule, bool) {
	target, ok := s.routes.Resolve(path, "")
	if !ok {
		return middleware.CORSRule{}, false
	}
	if e, ok := MatchEndpoint(target.Path); ok {
		return middleware.CORSRule{Methods: e.Methods, Headers: corsHeaders, ExposeHeaders: e.ExposeHeaders}, true
	}
	return middleware.CORSRule{Methods: serviceMethods[target.Route.Service], Headers: corsHeaders}, true
}

// Handler はGatewayのhttp.Handlerを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxが終了したらグレースフルシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.WithField("port", s.cfg.Port).Info("Gatewayサービスを起動します")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		s.logger.Info("Gatewayサービスを停止します")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("グレースフルシャットダウンに失敗: %w", err)
		}
		s.waitIndexSync()
		return nil
	})
	return g.Wait()
}
