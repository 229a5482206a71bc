package observability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// TracingConfig はOpenTelemetryトレースの設定。
type TracingConfig struct {
	// Endpoint はOTLP/gRPCコレクタのアドレス。空の場合はエクスポートしない。
	Endpoint string
	// ServiceName はリソース属性 service.name に設定する名前。
	ServiceName string
	// Insecure はTLSなしで接続するかどうか。
	Insecure bool
}

// ShutdownFunc はトレースプロバイダを停止する関数。
type ShutdownFunc func(ctx context.Context) error

// InitTracing はトレースプロバイダとW3Cトレースコンテキストの伝播を設定する。
// Endpointが空の場合はプロパゲータだけを設定し、スパンはエクスポートしない。
func InitTracing(ctx context.Context, cfg TracingConfig, logger *logrus.Logger) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.Endpoint == "" {
		logger.Info("OTLPエンドポイントが未設定のためトレースのエクスポートを無効化します")
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", cfg.ServiceName)),
		resource.WithFromEnv(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("リソースの生成に失敗: %w", err)
	}

	var opts []otlptracegrpc.Option
	if strings.Contains(cfg.Endpoint, "://") {
		// URL形式の場合はスキームでTLSの有無が決まる
		opts = append(opts, otlptracegrpc.WithEndpointURL(cfg.Endpoint))
	} else {
		opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	exporter, err := otlptracegrpc.New(dialCtx, opts...)
	if err != nil {
		return nil, fmt.Errorf("トレースエクスポータの生成に失敗: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
	)
	otel.SetTracerProvider(tp)

	logger.WithField("endpoint", cfg.Endpoint).Info("トレースのエクスポートを開始します")
	return tp.Shutdown, nil
}
