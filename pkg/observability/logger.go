package observability

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// ログフォーマットの識別子。
const (
	// FormatJSON は1行1JSONで出力する。
	FormatJSON = "json"
	// FormatText は人間向けのkey=value形式で出力する。
	FormatText = "text"
)

// NewLogger は指定レベル・フォーマットのlogrusロガーを生成する。
// outがnilの場合は標準出力に書き込む。
func NewLogger(level, format string, out io.Writer) (*logrus.Logger, error) {
	if out == nil {
		out = os.Stdout
	}

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("ログレベルが不正です: %q: %w", level, err)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		logger.SetFormatter(&logrus.JSONFormatter{})
	case FormatText:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("ログフォーマットが不正です: %q", format)
	}
	return logger, nil
}

// NewDiscardLogger は何も出力しないロガーを返す。テストで使用する。
func NewDiscardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
