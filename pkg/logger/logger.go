/**
 * Package logger 提供结构化日志功能
 *
 * 基于 uber-go/zap 实现的高性能结构化日志系统。
 * 支持开发环境和生产环境的不同配置，文件输出通过 lumberjack 滚动。
 */
package logger

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// logger 全局日志实例
	logger *zap.Logger

	// once 确保日志只初始化一次
	once sync.Once

	// mu 保护 Configure 对全局实例的替换
	mu sync.Mutex
)

// Options 日志配置
//
// 由配置文件的 logging 段转换而来，零值表示使用环境变量推导的默认值。
type Options struct {
	// Production 是否使用 JSON 编码
	Production bool

	// Level 日志级别（debug/info/warn/error）
	Level string

	// FilePath 日志文件路径，为空时只输出到控制台
	FilePath string

	// MaxSizeMB 单个日志文件最大大小（MB）
	MaxSizeMB int

	// MaxBackups 保留的旧日志文件数量
	MaxBackups int

	// MaxAgeDays 旧日志文件保留天数
	MaxAgeDays int

	// Compress 是否压缩旧日志文件
	Compress bool
}

// InitLogger 初始化日志系统
//
// 根据环境变量配置日志系统：
//   - 开发环境：控制台彩色输出，Debug 级别
//   - 生产环境：JSON 格式，Info 级别
//
// 环境变量：
//   - ENV: 环境类型（development/production），默认为 development
//   - LOG_LEVEL: 日志级别（debug/info/warn/error/fatal），默认根据环境自动设置
//   - LOG_FILE / LOG_MAX_SIZE / LOG_MAX_BACKUPS / LOG_MAX_AGE / LOG_COMPRESS: 滚动文件输出
//
// Returns: error - 初始化失败时返回错误
func InitLogger() error {
	var initErr error
	once.Do(func() {
		opts := optionsFromEnv()

		var l *zap.Logger
		l, initErr = build(opts)
		if initErr != nil {
			return
		}

		logger = l
	})

	return initErr
}

// Configure 使用显式配置重建全局 logger
//
// 在配置文件加载完成后调用，覆盖环境变量推导的设置。
// 未设置的字段沿用环境变量的值。
//
// Parameters:
//   - opts: 日志配置
//
// Returns: error - 构建失败时返回错误，此时保留原有 logger
func Configure(opts Options) error {
	base := optionsFromEnv()
	if opts.Level != "" {
		base.Level = opts.Level
	}
	if opts.Production {
		base.Production = true
	}
	if opts.FilePath != "" {
		base.FilePath = opts.FilePath
		base.MaxSizeMB = opts.MaxSizeMB
		base.MaxBackups = opts.MaxBackups
		base.MaxAgeDays = opts.MaxAgeDays
		base.Compress = opts.Compress
	}

	l, err := build(base)
	if err != nil {
		return err
	}

	// 标记 once 已执行，避免随后的 GetLogger 覆盖
	once.Do(func() {})

	mu.Lock()
	old := logger
	logger = l
	mu.Unlock()

	if old != nil {
		_ = old.Sync()
	}
	return nil
}

// optionsFromEnv 从环境变量读取日志配置
func optionsFromEnv() Options {
	production := getEnv("ENV", "development") == "production"
	defaultLevel := "debug"
	if production {
		defaultLevel = "info"
	}

	return Options{
		Production: production,
		Level:      getEnv("LOG_LEVEL", defaultLevel),
		FilePath:   getEnv("LOG_FILE", ""),
		MaxSizeMB:  getEnvInt("LOG_MAX_SIZE", 10),
		MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
		MaxAgeDays: getEnvInt("LOG_MAX_AGE", 28),
		Compress:   getEnvBool("LOG_COMPRESS", false),
	}
}

// build 根据配置构建 zap logger
//
// 控制台始终输出；设置 FilePath 时额外写入 lumberjack 滚动文件（JSON 格式）。
func build(opts Options) (*zap.Logger, error) {
	fallback := zapcore.DebugLevel
	if opts.Production {
		fallback = zapcore.InfoLevel
	}
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		level = fallback
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	var consoleEncoder zapcore.Encoder
	if opts.Production {
		consoleEncoder = zapcore.NewJSONEncoder(productionEncoderConfig())
	} else {
		consoleEncoder = zapcore.NewConsoleEncoder(developmentEncoderConfig())
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), atomicLevel),
	}

	if opts.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(productionEncoderConfig()),
			zapcore.AddSync(rotator),
			atomicLevel,
		))
	}

	zapOpts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if !opts.Production {
		zapOpts = append(zapOpts, zap.Development())
	}

	return zap.New(zapcore.NewTee(cores...), zapOpts...), nil
}

// developmentEncoderConfig 开发环境编码配置
//
// 彩色级别、短调用者信息、友好的时间格式（2024-01-29 15:04:05.123）
func developmentEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    "",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.999"),
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// productionEncoderConfig 生产环境编码配置
func productionEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	return cfg
}

// GetLogger 获取全局 logger 实例
//
// 如果日志系统未初始化，会自动初始化（开发模式）。
//
// Returns: *zap.Logger - 全局 logger 实例
func GetLogger() *zap.Logger {
	mu.Lock()
	l := logger
	mu.Unlock()
	if l != nil {
		return l
	}

	if err := InitLogger(); err != nil || logger == nil {
		return zap.NewNop()
	}
	return logger
}

// Sync 刷新日志缓冲区
//
// 应用退出前应该调用此方法确保所有日志都已写入。
func Sync() error {
	if logger != nil {
		return logger.Sync()
	}
	return nil
}

// Debug 记录 Debug 级别日志
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Info 记录 Info 级别日志
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Warn 记录 Warn 级别日志
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Error 记录 Error 级别日志
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// With 创建带有预设字段的 logger
//
// 用于在日志中自动添加上下文信息（如组件名、会话 ID 等）。
func With(fields ...zap.Field) *zap.Logger {
	return GetLogger().With(fields...)
}

// RedactKey 遮盖密钥，只保留首尾各 4 个字符：xxxx...yyyy
func RedactKey(k string) string {
	if len(k) <= 8 {
		return "********"
	}
	return k[:4] + "..." + k[len(k)-4:]
}

// getEnv 获取环境变量，不存在时返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt 获取整数环境变量，解析失败时返回默认值
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// getEnvBool 获取布尔环境变量
//
// 支持 true/1/yes 与 false/0/no（不区分大小写），其他值返回默认值。
func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
