package gateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapLookup はmapを環境変数として参照するLookupFuncを返す。
func mapLookup(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

// requiredEnv は必須項目だけを設定した環境変数を返す。
func requiredEnv() map[string]string {
	return map[string]string{
		"JWT_SECRET":         "secret",
		"AUTH_SERVICE_URL":   "http://auth:8001",
		"DOCS_SERVICE_URL":   "http://docs:8002/",
		"SEARCH_SERVICE_URL": "http://search:8003",
		"SHARE_SERVICE_URL":  "https://share.internal",
	}
}

func TestLoadFrom(t *testing.T) {
	t.Parallel()

	t.Run("必須項目だけでデフォルト値が使われること", func(t *testing.T) {
		t.Parallel()

		cfg, err := LoadFrom(mapLookup(requiredEnv()))

		require.NoError(t, err)
		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, "http://localhost:3000", cfg.FrontendURL)
		assert.Equal(t, 10*time.Second, cfg.BackendTimeout)
		assert.Equal(t, 5*time.Minute, cfg.StreamTimeout)
		assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, "json", cfg.LogFormat)
		assert.Empty(t, cfg.OTLPEndpoint)
		assert.Equal(t, "http://docs:8002", cfg.Services.Docs, "末尾の / は取り除くこと")
	})

	t.Run("環境変数で上書きできること", func(t *testing.T) {
		t.Parallel()

		env := requiredEnv()
		env["PORT"] = "9000"
		env["FRONTEND_URL"] = "https://app.example.com"
		env["BACKEND_TIMEOUT"] = "3s"
		env["STREAM_TIMEOUT"] = "1m"
		env["LOG_FORMAT"] = "text"
		env["OTEL_EXPORTER_OTLP_ENDPOINT"] = "collector:4317"

		cfg, err := LoadFrom(mapLookup(env))

		require.NoError(t, err)
		assert.Equal(t, "9000", cfg.Port)
		assert.Equal(t, "https://app.example.com", cfg.FrontendURL)
		assert.Equal(t, 3*time.Second, cfg.BackendTimeout)
		assert.Equal(t, time.Minute, cfg.StreamTimeout)
		assert.Equal(t, "text", cfg.LogFormat)
		assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
	})

	t.Run("JWT_SECRETが無い場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		env := requiredEnv()
		delete(env, "JWT_SECRET")

		_, err := LoadFrom(mapLookup(env))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "JWT_SECRET")
	})

	t.Run("不正なURLはすべてまとめて報告すること", func(t *testing.T) {
		t.Parallel()

		env := requiredEnv()
		env["AUTH_SERVICE_URL"] = "auth:8001"
		env["SEARCH_SERVICE_URL"] = "ftp://search"
		delete(env, "SHARE_SERVICE_URL")

		_, err := LoadFrom(mapLookup(env))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "AUTH_SERVICE_URL")
		assert.Contains(t, err.Error(), "SEARCH_SERVICE_URL")
		assert.Contains(t, err.Error(), "SHARE_SERVICE_URL")
		assert.NotContains(t, err.Error(), "DOCS_SERVICE_URL")
	})

	t.Run("不正なタイムアウトはエラーになること", func(t *testing.T) {
		t.Parallel()

		for _, v := range []string{"ten", "0s", "-1s"} {
			env := requiredEnv()
			env["BACKEND_TIMEOUT"] = v

			_, err := LoadFrom(mapLookup(env))

			assert.Error(t, err, v)
		}
	})

	t.Run("YAMLファイルを読み込み環境変数で上書きすること", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "gateway.yaml")
		yaml := `
port: "7000"
jwt_secret: from-file
backend_timeout: 4s
log_level: debug
services:
  auth: http://auth.file:8001
  docs: http://docs.file:8002
  search: http://search.file:8003
  share: http://share.file:8004
`
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

		cfg, err := LoadFrom(mapLookup(map[string]string{
			"GATEWAY_CONFIG":   path,
			"JWT_SECRET":       "from-env",
			"DOCS_SERVICE_URL": "http://docs.env:8002",
		}))

		require.NoError(t, err)
		assert.Equal(t, "7000", cfg.Port)
		assert.Equal(t, "from-env", cfg.JWTSecret)
		assert.Equal(t, 4*time.Second, cfg.BackendTimeout)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "http://auth.file:8001", cfg.Services.Auth)
		assert.Equal(t, "http://docs.env:8002", cfg.Services.Docs)
	})

	t.Run("YAMLファイルが無い場合はエラーになること", func(t *testing.T) {
		t.Parallel()

		env := requiredEnv()
		env["GATEWAY_CONFIG"] = filepath.Join(t.TempDir(), "missing.yaml")

		_, err := LoadFrom(mapLookup(env))

		require.Error(t, err)
	})
}
