// Package logger builds the engine's process-wide logger: a zap.Logger
// configured by functional options (debug verbosity, text/json format,
// quiet console, an additional log file sink), matching the shape the CLI
// assembles it in.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Option configures the logger built by New.
type Option func(*options)

type options struct {
	debug  bool
	format string
	quiet  bool
	file   *os.File
}

// WithDebug enables debug-level output.
func WithDebug() Option { return func(o *options) { o.debug = true } }

// WithFormat selects "text" (console) or "json" encoding.
func WithFormat(format string) Option { return func(o *options) { o.format = format } }

// WithQuiet discards console output, keeping only the log file sink (if any).
func WithQuiet() Option { return func(o *options) { o.quiet = true } }

// WithLogFile adds f as an additional write sink alongside the console.
func WithLogFile(f *os.File) Option { return func(o *options) { o.file = f } }

// New assembles a zap.Logger from opts. Debug mode also records the
// caller: the code that calls the returned logger's methods shows as the
// source.
func New(opts ...Option) *zap.Logger {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	level := zapcore.InfoLevel
	if o.debug {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if o.format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var sinks []zapcore.WriteSyncer
	if !o.quiet {
		sinks = append(sinks, zapcore.AddSync(os.Stdout))
	}
	if o.file != nil {
		sinks = append(sinks, zapcore.AddSync(o.file))
	}
	if len(sinks) == 0 {
		sinks = append(sinks, zapcore.AddSync(os.Stdout))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), level)
	var zopts []zap.Option
	if o.debug {
		zopts = append(zopts, zap.AddCaller())
	}
	return zap.New(core, zopts...)
}

// FileSettings names one run's log file location, matching the CLI's
// per-execution log naming scheme.
type FileSettings struct {
	Prefix    string
	LogDir    string
	RunLogDir string
	RunName   string
	RequestID string
}

// OpenLogFile creates (and creates the parent directory for) the run's log
// file, returning the open handle for use with WithLogFile.
func OpenLogFile(s FileSettings) (*os.File, error) {
	if s.RunName == "" {
		return nil, fmt.Errorf("logger: RunName cannot be empty")
	}
	baseDir := s.LogDir
	if s.RunLogDir != "" {
		baseDir = s.RunLogDir
	}
	if baseDir == "" {
		return nil, fmt.Errorf("logger: either LogDir or RunLogDir must be specified")
	}

	dir := filepath.Join(baseDir, safeName(s.RunName))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("logger: create log directory %s: %w", dir, err)
	}

	name := fmt.Sprintf("%s%s.%s.%s.log", s.Prefix, safeName(s.RunName), time.Now().Format("20060102.15:04:05.000"), truncate(s.RequestID, 8))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("logger: open log file: %w", err)
	}
	return f, nil
}

func safeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
