package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/lestrrat-go/file-rotatelogs"
	"github.com/pkg/errors"
)

const (
	defaultPattern      = "vectorstore-%Y-%m-%d.log"
	defaultRotationTime = "24h"
	defaultMaxAge       = "168h"
	timeLayout          = "2006-01-02 15:04:05.000000"
)

// Config 日志配置
//
// An empty Path logs to stdout only. Otherwise output is also written to a file
// rotated by rotatelogs under Path.
type Config struct {
	Path           string `toml:"path"`
	RotationTime   string `toml:"rotation_time"`
	MaxAge         string `toml:"max_age"`
	DefaultPattern string `toml:"default_pattern"`
	Level          string `toml:"level"`
	Format         string `toml:"format"` // text or json
}

// Validate 验证配置，并填充默认值
func (cfg *Config) Validate() error {
	if cfg.RotationTime == "" {
		cfg.RotationTime = defaultRotationTime
	}
	if cfg.MaxAge == "" {
		cfg.MaxAge = defaultMaxAge
	}
	if strings.TrimSpace(cfg.DefaultPattern) == "" {
		cfg.DefaultPattern = defaultPattern
	}
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}

	if _, err := time.ParseDuration(cfg.RotationTime); err != nil {
		return errors.Wrap(err, "rotation_time is invalid")
	}
	if _, err := time.ParseDuration(cfg.MaxAge); err != nil {
		return errors.Wrap(err, "max_age is invalid")
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(cfg.Level)) {
		return errors.Errorf("invalid level: %s", cfg.Level)
	}
	if !slices.Contains([]string{"text", "json"}, strings.ToLower(cfg.Format)) {
		return errors.Errorf("invalid format: %s", cfg.Format)
	}
	return nil
}

// Init 初始化日志系统
func Init(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if strings.TrimSpace(cfg.Path) != "" {
		fileWriter, err := configureFileLogger(cfg)
		if err != nil {
			return fmt.Errorf("failed to configure file logger: %w", err)
		}
		out = io.MultiWriter(os.Stdout, fileWriter)
	}

	slog.SetDefault(slog.New(NewHandler(out, cfg.Level, cfg.Format)))
	return nil
}

// NewHandler builds the handler used by Init, writing to out.
func NewHandler(out io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: mapLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(a.Key, t.Format(timeLayout))
				}
			}
			return a
		},
	}

	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(out, opts)
	}
	return slog.NewTextHandler(out, opts)
}

func configureFileLogger(cfg Config) (io.Writer, error) {
	rotationTime, err := time.ParseDuration(cfg.RotationTime)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse rotation_time")
	}

	maxAge, err := time.ParseDuration(cfg.MaxAge)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse max_age")
	}

	return rotatelogs.New(
		filepath.Join(cfg.Path, cfg.DefaultPattern),
		rotatelogs.WithRotationTime(rotationTime),
		rotatelogs.WithMaxAge(maxAge),
	)
}

func mapLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger 返回带 module 字段的 logger
func Logger(module string) *slog.Logger {
	return slog.Default().With("module", module)
}
