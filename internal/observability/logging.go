package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/spec-kit/issue-service/internal/config"
)

// NewLogger builds a JSON zap logger writing to stdout and, when cfg.File is
// set, to a size-rotated file as well. The returned func flushes buffered entries.
func NewLogger(cfg config.LoggerConfig) (*zap.Logger, func()) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zapcore.EncoderConfig{
		MessageKey:   "message",
		LevelKey:     "level",
		TimeKey:      "ts",
		CallerKey:    "caller",
		EncodeLevel:  zapcore.LowercaseLevelEncoder,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}
	enc := zapcore.NewJSONEncoder(encCfg)

	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level)}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    max(1, cfg.FileMaxSizeMB),
			MaxBackups: max(0, cfg.FileMaxBackups),
			MaxAge:     max(0, cfg.FileMaxAgeDays),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(rotator), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return logger, func() { _ = logger.Sync() }
}
