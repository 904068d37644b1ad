// Package logging builds the application logger. The terminal belongs to
// the TUI, so logs go to a rotating JSON file.
package logging

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	// Path of the log file. Empty disables file logging.
	Path  string
	Debug bool
	// Console, when set, also receives warnings and errors in a
	// human-readable format. Headless commands pass os.Stderr.
	Console io.Writer
}

// New returns a logger and a function that flushes and closes it.
func New(opts Options) (*zap.Logger, func() error) {
	level := zap.InfoLevel
	if opts.Debug {
		level = zap.DebugLevel
	}

	var cores []zapcore.Core
	var rotator *lumberjack.Logger
	if opts.Path != "" {
		rotator = &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
		enc := zap.NewProductionEncoderConfig()
		enc.TimeKey = "timestamp"
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(rotator), level))
	}
	if opts.Console != nil {
		enc := zap.NewDevelopmentEncoderConfig()
		enc.TimeKey = ""
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(zapcore.AddSync(opts.Console)), zap.WarnLevel))
	}
	if len(cores) == 0 {
		return zap.NewNop(), func() error { return nil }
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return l, func() error {
		_ = l.Sync()
		if rotator != nil {
			return rotator.Close()
		}
		return nil
	}
}
