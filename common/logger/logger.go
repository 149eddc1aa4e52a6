package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options 日志配置
type Options struct {
	Level    string // "debug", "info", "warn", "error"（默认: "info"）
	Format   string // "json" 或 "console"（默认: "json"）
	Service  string // 服务名称（如 "linkuy-guardian"）
	DeviceID string // 设备标识，为空时使用主机名
	File     string // 额外写入的本地日志文件；设备离线时便于事后排查
}

// ParseLevel 解析日志级别，无法识别时返回 info
func ParseLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// New 创建 Logger 实例
//
// json 格式保留 zap 的生产采样：采样循环里的重复告警（如传感器读取失败）
// 每秒只记录前 100 条，之后每 100 条记录一条。
func New(opts Options) (*zap.Logger, error) {
	var config zap.Config
	if opts.Format == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}
	}
	config.Level = zap.NewAtomicLevelAt(ParseLevel(opts.Level))
	if opts.File != "" {
		config.OutputPaths = append(config.OutputPaths, opts.File)
		config.ErrorOutputPaths = append(config.ErrorOutputPaths, opts.File)
	}

	baseLogger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return baseLogger.With(Fields(opts)...), nil
}

// Fields 每条日志携带的设备字段
func Fields(opts Options) []zap.Field {
	var fields []zap.Field
	if opts.Service != "" {
		fields = append(fields, zap.String("service_name", opts.Service))
	}
	deviceID := opts.DeviceID
	if deviceID == "" {
		// 未配置时用主机名区分设备
		if hostname, err := os.Hostname(); err == nil {
			deviceID = hostname
		}
	}
	if deviceID != "" {
		fields = append(fields, zap.String("device_id", deviceID))
	}
	return fields
}
