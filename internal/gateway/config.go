package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 設定のデフォルト値。
const (
	defaultPort            = "8080"
	defaultFrontendURL     = "http://localhost:3000"
	defaultBackendTimeout  = 10 * time.Second
	defaultStreamTimeout   = 5 * time.Minute
	defaultShutdownTimeout = 15 * time.Second
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
)

// ServiceURLs は4つのバックエンドサービスのベースURL。
type ServiceURLs struct {
	// Auth はIdentityサービスのベースURL。
	Auth string `yaml:"auth"`
	// Docs はDocumentサービスのベースURL。
	Docs string `yaml:"docs"`
	// Search はSearchサービスのベースURL。
	Search string `yaml:"search"`
	// Share はSharingサービスのベースURL。
	Share string `yaml:"share"`
}

// Config はGatewayの起動設定。Loadで一度だけ生成し、以降は変更しない。
type Config struct {
	// Port はリッスンポート。
	Port string `yaml:"port"`
	// JWTSecret はトークン検証と再署名に使うHMAC鍵。
	JWTSecret string `yaml:"jwt_secret"`
	// FrontendURL はCORSで許可するオリジン。
	FrontendURL string `yaml:"frontend_url"`
	// Services はバックエンドのベースURL。
	Services ServiceURLs `yaml:"services"`
	// BackendTimeout はバックエンド呼び出しの既定タイムアウト。
	BackendTimeout time.Duration `yaml:"backend_timeout"`
	// StreamTimeout はアップロード・ダウンロード系エンドポイントのタイムアウト。
	StreamTimeout time.Duration `yaml:"stream_timeout"`
	// ShutdownTimeout はグレースフルシャットダウンの待ち時間。
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// LogLevel はログレベル。
	LogLevel string `yaml:"log_level"`
	// LogFormat はログ形式（json または text）。
	LogFormat string `yaml:"log_format"`
	// OTLPEndpoint はトレースの送信先。空ならエクスポートしない。
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// LookupFunc は環境変数の参照関数。os.LookupEnvと同じシグネチャ。
type LookupFunc func(key string) (string, bool)

// Load は環境変数から設定を読み込む。
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom はlookupで参照できる値から設定を読み込む。
// GATEWAY_CONFIG が指定されていればYAMLファイルを先に読み、環境変数の値で上書きする。
func LoadFrom(lookup LookupFunc) (*Config, error) {
	cfg := &Config{
		Port:            defaultPort,
		FrontendURL:     defaultFrontendURL,
		BackendTimeout:  defaultBackendTimeout,
		StreamTimeout:   defaultStreamTimeout,
		ShutdownTimeout: defaultShutdownTimeout,
		LogLevel:        defaultLogLevel,
		LogFormat:       defaultLogFormat,
	}

	if path, ok := lookup("GATEWAY_CONFIG"); ok && path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile はYAML設定ファイルの内容をcfgに重ねる。
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("設定ファイルのパースに失敗: %w", err)
	}
	return nil
}

// applyEnv は環境変数の値で設定を上書きする。
func (c *Config) applyEnv(lookup LookupFunc) error {
	texts := map[string]*string{
		"PORT":                        &c.Port,
		"JWT_SECRET":                  &c.JWTSecret,
		"FRONTEND_URL":                &c.FrontendURL,
		"AUTH_SERVICE_URL":            &c.Services.Auth,
		"DOCS_SERVICE_URL":            &c.Services.Docs,
		"SEARCH_SERVICE_URL":          &c.Services.Search,
		"SHARE_SERVICE_URL":           &c.Services.Share,
		"LOG_LEVEL":                   &c.LogLevel,
		"LOG_FORMAT":                  &c.LogFormat,
		"OTEL_EXPORTER_OTLP_ENDPOINT": &c.OTLPEndpoint,
	}
	for key, dst := range texts {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"BACKEND_TIMEOUT":  &c.BackendTimeout,
		"STREAM_TIMEOUT":   &c.StreamTimeout,
		"SHUTDOWN_TIMEOUT": &c.ShutdownTimeout,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sの値が不正です: %w", key, err)
		}
		*dst = d
	}
	return nil
}

// Validate は必須項目とURL形式を検証し、ベースURL末尾の "/" を取り除く。
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRETが設定されていません"))
	}

	services := []struct {
		key string
		dst *string
	}{
		{"AUTH_SERVICE_URL", &c.Services.Auth},
		{"DOCS_SERVICE_URL", &c.Services.Docs},
		{"SEARCH_SERVICE_URL", &c.Services.Search},
		{"SHARE_SERVICE_URL", &c.Services.Share},
	}
	for _, svc := range services {
		normalized, err := normalizeBaseURL(*svc.dst)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", svc.key, err))
			continue
		}
		*svc.dst = normalized
	}

	if c.Port == "" {
		errs = append(errs, errors.New("PORTが空です"))
	}
	if c.BackendTimeout <= 0 || c.StreamTimeout <= 0 || c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("タイムアウトには正の値を指定してください"))
	}
	return errors.Join(errs...)
}

// normalizeBaseURL はhttp/httpsの絶対URLであることを確認し、末尾の "/" を除いて返す。
func normalizeBaseURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("設定されていません")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("URLのパースに失敗: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("http(s)の絶対URLではありません: %q", raw)
	}
	return strings.TrimRight(raw, "/"), nil
}
