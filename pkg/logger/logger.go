// Package logger 基于 zap 构造日志器，文件输出通过 lumberjack 切割。
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/IMBotPlatform/wcfbridge/pkg/config"
)

// New 根据配置构造 Logger。
//   - FileName 为空：只输出到 stderr（JSON）
//   - Mode 为 dev：额外输出一份 console 格式到 stdout
//
// 返回的 Logger 不会替换 zap 全局实例，由调用方决定是否 ReplaceGlobals。
func New(cfg config.LogConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var cores []zapcore.Core
	if cfg.FileName != "" {
		cores = append(cores, zapcore.NewCore(jsonEncoder(), fileWriter(cfg), level))
	} else {
		cores = append(cores, zapcore.NewCore(jsonEncoder(), zapcore.Lock(os.Stderr), level))
	}
	if cfg.Mode == "dev" {
		consoleEncoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), zapcore.DebugLevel))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// fileWriter 使用 lumberjack 按大小切割日志文件。
func fileWriter(cfg config.LogConfig) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.FileName,
		MaxSize:    cfg.MaxSize,    // MB
		MaxBackups: cfg.MaxBackups, // 个
		MaxAge:     cfg.MaxAge,     // 天
	})
}

func jsonEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}
