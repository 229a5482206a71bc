// API Gatewayサービスのエントリポイント。
// Identity・Document・Search・Sharingの4サービスへのリクエスト転送、
// Bearerトークンの変換、複数サービスの結果の集約を担当する。
// 外部からアクセス可能な唯一のサービスである。
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nao1215/docstorage/internal/gateway"
	"github.com/nao1215/docstorage/pkg/observability"
)

func main() {
	// .envは任意。存在しなければ環境変数だけを使う
	_ = godotenv.Load()

	cfg, err := gateway.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "gateway",
		Insecure:    true,
	}, logger)
	if err != nil {
		log.Fatalf("トレースの初期化に失敗: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.WithError(err).Warn("トレースプロバイダの停止に失敗しました")
		}
	}()

	server, err := gateway.NewServer(cfg, logger, observability.NewMetrics())
	if err != nil {
		log.Fatalf("Gatewayサーバーの初期化に失敗: %v", err)
	}

	if err := server.Run(ctx); err != nil {
		logger.WithError(err).Error("Gatewayサービスが異常終了しました")
		stop()
		os.Exit(1)
	}
}
