// Package logging builds the process-wide zap logger, mirroring the console
// plus rotating-file setup expected of a long-running gateway process.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds a zap logger. In dev mode it logs human-readable output to
// stderr only; otherwise it tees JSON logs to a rotating file under ./logs
// and console-encoded logs to stdout.
func New(dev bool, level string) (*zap.Logger, error) {
	lvl := parseLevel(level)

	if dev {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		return cfg.Build()
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	fileWriter := zapcore.AddSync(&lumberjack.Logger{
		Filename:   "logs/tgfilelinkd.log",
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	})
	consoleWriter := zapcore.Lock(os.Stdout)

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), fileWriter, lvl),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), consoleWriter, lvl),
	)
	return zap.New(core, zap.AddCaller()), nil
}

func parseLevel(s string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
