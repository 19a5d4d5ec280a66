package logger

import (
	"log/slog"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	coreconfig "github.com/m3rciful/receiverbot/core/config"
)

var (
	protoMu   sync.Mutex
	protoCore zapcore.Core
)

// ProtocolLogger returns a zap logger for provider protocol traces, the logger
// type the MTProto client accepts. All clients share one rotated file; without
// a configured file the logger is a no-op.
func ProtocolLogger(cfg *coreconfig.Config, label string) *zap.Logger {
	if cfg == nil || strings.TrimSpace(cfg.Logging.Dir) == "" || strings.TrimSpace(cfg.Logging.ProviderFile) == "" {
		return zap.NewNop()
	}

	protoMu.Lock()
	if protoCore == nil {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "ts"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

		level := zapcore.InfoLevel
		if selectLevel(cfg) <= slog.LevelDebug {
			level = zapcore.DebugLevel
		}
		lj := rotating(cfg, cfg.Logging.ProviderFile)
		closers = append(closers, lj)
		protoCore = zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(lj), level)
	}
	core := protoCore
	protoMu.Unlock()

	return zap.New(core).With(zap.String("component", "provider.mtproto"), zap.String("label", label))
}
