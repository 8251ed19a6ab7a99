package obs

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerConfig struct {
	IsDevelopment     bool
	Encoding          string
	Level             string
	DisableCaller     bool
	DisableStacktrace bool
}

// NewLogger builds a zap logger. Unknown levels fall back to info and unknown
// encodings to json.
func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if cfg.Level != "" {
		if parsed, err := zapcore.ParseLevel(strings.ToLower(cfg.Level)); err == nil {
			level.SetLevel(parsed)
		}
	}

	encoding := strings.ToLower(cfg.Encoding)
	if encoding != "console" {
		encoding = "json"
	}

	zcfg := zap.NewProductionConfig()
	if cfg.IsDevelopment {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	zcfg.Encoding = encoding
	zcfg.DisableCaller = cfg.DisableCaller
	zcfg.DisableStacktrace = cfg.DisableStacktrace
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if encoding == "console" {
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return zcfg.Build()
}
