package utils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig 日志配置结构体
type LogConfig struct {
	Level         string `mapstructure:"level"`         // 日志级别
	Directory     string `mapstructure:"directory"`     // 日志目录，为空时不写文件
	SeparateLevel bool   `mapstructure:"separateLevel"` // 是否按级别分割日志文件
	MaxSize       int    `mapstructure:"maxSize"`       // 单个日志文件最大大小，单位MB
	MaxBackups    int    `mapstructure:"maxBackups"`    // 最大保留的旧文件数量
	MaxAge        int    `mapstructure:"maxAge"`        // 旧文件保留天数
	Compress      bool   `mapstructure:"compress"`      // 是否压缩旧文件
	Console       bool   `mapstructure:"console"`       // 是否输出到控制台
	TraceID       string `mapstructure:"traceID"`       // 链路追踪ID字段名
}

// Logger 日志结构体
type Logger struct {
	config *LogConfig
	logger *zap.Logger
}

var defaultLogConfig = LogConfig{
	Level:      "info",
	Directory:  "logs",
	MaxSize:    100,
	MaxBackups: 30,
	MaxAge:     7,
	Compress:   true,
	Console:    true,
	TraceID:    "trace_id",
}

var (
	instanceLog *Logger
	onceLog     sync.Once
)

// GetLogger 获取全局日志实例，只有第一次调用的参数生效
//
//	GetLogger()                    默认配置
//	GetLogger(configFile)          配置文件 logger 段
//	GetLogger(configFile, section) 配置文件指定段
func GetLogger(args ...string) *Logger {
	onceLog.Do(func() {
		config, err := logConfigFromArgs(args)
		if err == nil {
			instanceLog, err = NewLogger(config)
		}
		if err != nil {
			panic(fmt.Sprintf("failed to initialize log: %v", err))
		}
	})
	return instanceLog
}

func logConfigFromArgs(args []string) (*LogConfig, error) {
	config := defaultLogConfig
	switch len(args) {
	case 0:
		return &config, nil
	case 1:
		return &config, LoadConfig(args[0], "logger", &config)
	case 2:
		return &config, LoadConfig(args[0], args[1], &config)
	}
	return nil, fmt.Errorf("invalid parameters: GetLogger() or GetLogger(configFile[, section])")
}

// NewLogger 按给定配置创建独立的日志实例，不影响全局单例
func NewLogger(config *LogConfig) (*Logger, error) {
	if config == nil {
		c := defaultLogConfig
		config = &c
	}
	cores, err := buildCores(config)
	if err != nil {
		return nil, err
	}
	return &Logger{
		config: config,
		logger: zap.New(
			zapcore.NewTee(cores...),
			zap.AddCaller(),
			zap.AddCallerSkip(1),
			zap.Fields(zap.Int("pid", os.Getpid())),
		),
	}, nil
}

func newEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    "func",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     timeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// buildCores 文件输出（可按级别拆分）加控制台输出，都关闭时返回空核心
func buildCores(config *LogConfig) ([]zapcore.Core, error) {
	encoderConfig := newEncoderConfig()
	minLevel := getLogLevel(config.Level)

	var cores []zapcore.Core
	if config.Directory != "" {
		if err := os.MkdirAll(config.Directory, 0755); err != nil {
			return nil, fmt.Errorf("failed to make logs directory: %w", err)
		}
		if config.SeparateLevel {
			for level := minLevel; level <= zapcore.FatalLevel; level++ {
				lvl := level
				exact := zap.LevelEnablerFunc(func(z zapcore.Level) bool { return z == lvl })
				cores = append(cores, fileCore(config, level, exact, encoderConfig))
			}
		} else {
			cores = append(cores, fileCore(config, minLevel, minLevel, encoderConfig))
		}
	}

	if config.Console {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(os.Stdout),
			minLevel,
		))
	}

	if len(cores) == 0 {
		cores = append(cores, zapcore.NewNopCore())
	}
	return cores, nil
}

// fileCore 写入 lumberjack 轮转文件的 JSON 核心
func fileCore(config *LogConfig, level zapcore.Level, enabler zapcore.LevelEnabler, encoderConfig zapcore.EncoderConfig) zapcore.Core {
	writer := &lumberjack.Logger{
		Filename:   logFileName(config, level),
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(writer), enabler)
}

// logFileName 按日期命名，按级别拆分时追加级别
func logFileName(config *LogConfig, level zapcore.Level) string {
	date := time.Now().Format("2006-01-02")
	if config.SeparateLevel {
		return filepath.Join(config.Directory, fmt.Sprintf("%s-%s.log", date, level.String()))
	}
	return filepath.Join(config.Directory, date+".log")
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
}

// getLogLevel 未知级别按 info 处理
func getLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	}
	return zapcore.InfoLevel
}

func (l *Logger) Sync() error {
	return l.logger.Sync()
}

// Config 返回当前日志配置的副本
func (l *Logger) Config() LogConfig {
	return *l.config
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.logger.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.logger.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.logger.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.logger.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...zap.Field) { l.logger.Fatal(msg, fields...) }

// WithTraceID 添加链路追踪ID
func (l *Logger) WithTraceID(traceID string) *zap.Logger {
	return l.logger.With(zap.String(l.config.TraceID, traceID))
}

// Ctx 从上下文中取出链路追踪ID，没有时返回原始 logger
func (l *Logger) Ctx(ctx context.Context) *zap.Logger {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		return l.WithTraceID(traceID)
	}
	return l.logger
}

type traceIDContextKey struct{}

// ContextWithTraceID 将链路追踪ID放入上下文，GORM 语句与日志都从这里读取
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDContextKey{}, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	traceID, _ := ctx.Value(traceIDContextKey{}).(string)
	return traceID
}
