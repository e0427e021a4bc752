// Package obslog builds the zap logger. There is no package-level logger:
// callers pass the result down through constructors.
package obslog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatLegacy  = "legacy"
	FormatJSON    = "json"
	FormatConsole = "console"
)

type Options struct {
	Level     string
	ToConsole bool
	ToFile    bool
	Caller    bool
	Format    string
	FilePath  string
	// Console overrides stdout, mainly for tests.
	Console io.Writer
}

// OptionsFromEnv reads LOG_LEVEL, LOG_TO_CONSOLE, LOG_TO_FILE, LOG_CALLER,
// LOG_FORMAT and LOG_FILE.
func OptionsFromEnv() Options {
	return Options{
		Level:     getenvDefault("LOG_LEVEL", "info"),
		ToConsole: strings.EqualFold(getenvDefault("LOG_TO_CONSOLE", "true"), "true"),
		ToFile:    strings.EqualFold(getenvDefault("LOG_TO_FILE", "false"), "true"),
		Caller:    strings.EqualFold(getenvDefault("LOG_CALLER", "false"), "true"),
		Format:    getenvDefault("LOG_FORMAT", FormatLegacy),
		FilePath:  getenvDefault("LOG_FILE", filepath.Join("logs", "bot.log")),
	}
}

// New builds a logger teeing to console and/or file. The returned close
// function flushes and closes the log file.
func New(opts Options) (*zap.Logger, func() error, error) {
	level := parseLevel(opts.Level)
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format != FormatJSON && format != FormatConsole {
		format = FormatLegacy
	}

	var (
		cores []zapcore.Core
		file  *os.File
	)
	if opts.ToConsole {
		var w io.Writer = os.Stdout
		if opts.Console != nil {
			w = opts.Console
		}
		cores = append(cores, zapcore.NewCore(encoderFor(format), zapcore.AddSync(w), level))
	}
	if opts.ToFile {
		path := strings.TrimSpace(opts.FilePath)
		if path == "" {
			path = filepath.Join("logs", "bot.log")
		}
		if err := ensureDir(filepath.Dir(path)); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		file = f
		cores = append(cores, zapcore.NewCore(encoderFor(format), zapcore.AddSync(f), level))
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(encoderFor(format), zapcore.AddSync(os.Stdout), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zapcore.ErrorLevel))
	if opts.Caller || format == FormatLegacy {
		logger = logger.WithOptions(zap.AddCaller())
	}

	closer := func() error {
		_ = logger.Sync()
		if file != nil {
			return file.Close()
		}
		return nil
	}
	return logger, closer, nil
}

func encoderFor(format string) zapcore.Encoder {
	switch format {
	case FormatJSON:
		return zapcore.NewJSONEncoder(jsonEncoderConfig())
	case FormatConsole:
		return zapcore.NewConsoleEncoder(consoleEncoderConfig())
	default:
		return zapcore.NewConsoleEncoder(legacyEncoderConfig())
	}
}

func ensureDir(dir string) error {
	if strings.TrimSpace(dir) == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

// 인코더 설정
func legacyEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " | "
	return cfg
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	return cfg
}
