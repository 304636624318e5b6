package zlog

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

// Init 初始化全局日志器（文件 + 控制台双输出）
//
// logPath 为空时仅输出到控制台；日志文件使用 lumberjack 自动轮转。
func Init(logPath string) {
	once.Do(func() {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

		cores := []zapcore.Core{
			zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(os.Stdout), zapcore.InfoLevel),
		}
		if logPath != "" {
			w := &lumberjack.Logger{
				Filename:   filepath.Join(logPath, "vectorlink.log"),
				MaxSize:    64, // MB
				MaxBackups: 7,
				MaxAge:     30, // days
				Compress:   true,
			}
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), zapcore.InfoLevel))
		}
		logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	})
}

func l() *zap.Logger {
	if logger == nil {
		Init("")
	}
	return logger
}

func Debug(msg string, fields ...zap.Field) { l().Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { l().Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { l().Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { l().Error(msg, fields...) }

func Fatal(msg string, fields ...zap.Field) { l().Fatal(msg, fields...) }

// Sync 刷新缓冲日志（进程退出前调用）
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
