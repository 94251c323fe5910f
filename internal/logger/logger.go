package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options 日志选项
type Options struct {
	Debug bool `mapstructure:"debug"`

	// File 日志文件路径，为空时只输出到 stderr
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`

	// Console 是否同时输出到 stderr
	Console bool `mapstructure:"console"`
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	return cfg
}

// NewLogger 创建一个新的日志记录器
func NewLogger(debug bool) *zap.Logger {
	return New(Options{Debug: debug, Console: true})
}

// New 按选项创建日志记录器，配置了文件时写入滚动日志
func New(opts Options) *zap.Logger {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if opts.Debug {
		level.SetLevel(zap.DebugLevel)
	}

	var cores []zapcore.Core
	if opts.Console || opts.File == "" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig()),
			zapcore.Lock(os.Stderr),
			level,
		))
	}
	if opts.File != "" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig()),
			zapcore.AddSync(RotatingWriter(opts)),
			level,
		))
	}
	return zap.New(zapcore.NewTee(cores...))
}

// RotatingWriter 按大小滚动的日志文件
func RotatingWriter(opts Options) *lumberjack.Logger {
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	backups := opts.MaxBackups
	if backups <= 0 {
		backups = 3
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: backups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
}
