package config

import (
	"fmt"
	"time"

	"github.com/nicolasmoreira/linkuy-connect-app/common/config"
)

// 存储驱动
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config 守护进程配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	Platform struct {
		TopicPrefix string // MQTT 主题前缀：{prefix}/sensor/...、{prefix}/location/...、{prefix}/ui/...
	}

	Store struct {
		Driver          string // memory / sqlite / postgres / redis
		QueueMaxEntries int    // 离线队列上限，超出淘汰最旧
		JournalCap      int    // 投递日志保留条数
		RedisPrefix     string
	}

	Sensor struct {
		SerialPath     string // 为空时不启用串口 IMU
		BaudRate       int
		SampleInterval time.Duration
	}

	Fall struct {
		WindowSize         int
		Threshold          float64 // g
		MinDuration        time.Duration
		Cooldown           time.Duration
		PostFallInactivity time.Duration
		MovementThreshold  float64 // |mag-1g|，0 表示沿用"未超过跌倒阈值即活动"
		StepThreshold      float64
	}

	Inactivity struct {
		Threshold     time.Duration
		CheckInterval time.Duration
		PersistEvery  time.Duration
		DNDStart      string // HH:MM，为空表示不启用
		DNDEnd        string
		Timezone      string
	}

	Location struct {
		Accuracy         string
		Interval         time.Duration
		DistanceInterval float64 // 米
		MovementDistance float64 // 米
	}

	Dispatch struct {
		Endpoint      string
		Token         string
		Timeout       time.Duration
		MaxRetries    int
		RetryDelay    time.Duration
		MaxQueueAge   time.Duration
		InitialOnline bool
		ProbeAddr     string // host:port，为空时只依赖平台上报与 MQTT 连接状态
		ProbeInterval time.Duration
		FlushInterval time.Duration
	}

	Scheduler struct {
		TaskName string
		Interval time.Duration
	}

	API struct {
		Enabled bool
		Addr    string
	}

	Session struct {
		JWTSecret      string // HS256 会话 token 密钥，为空时只接受明文 user_id
		AllowRawUserID bool
		UserID         int64 // 启动时预置的用户
	}

	Log struct {
		Level    string
		Format   string
		DeviceID string // 为空时取主机名
		File     string
	}
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Store.Driver = config.GetEnv("STORE_DRIVER", StoreSQLite)
	cfg.Store.QueueMaxEntries = config.GetEnvInt("QUEUE_MAX_ENTRIES", 500)
	cfg.Store.JournalCap = config.GetEnvInt("JOURNAL_CAP", 1000)
	cfg.Store.RedisPrefix = config.GetEnv("STORE_REDIS_PREFIX", "linkuy")

	cfg.Database.Path = "linkuy-guardian.db"
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "linkuy"
	cfg.Database.SSLMode = "disable"
	cfg.Database.LoadFromEnv("DB")
	cfg.Database.Driver = cfg.Store.Driver
	cfg.Database.MaxConns = config.GetEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = config.GetEnvInt("DB_MAX_IDLE", 2)

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Enabled = true
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "linkuy-guardian"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Platform.TopicPrefix = config.GetEnv("PLATFORM_TOPIC_PREFIX", "linkuy")

	cfg.Sensor.SerialPath = config.GetEnv("SENSOR_SERIAL_PATH", "")
	cfg.Sensor.BaudRate = config.GetEnvInt("SENSOR_BAUD_RATE", 115200)
	cfg.Sensor.SampleInterval = config.GetEnvDuration("SAMPLE_INTERVAL", 100*time.Millisecond)

	cfg.Fall.WindowSize = config.GetEnvInt("WINDOW_SIZE", 10)
	cfg.Fall.Threshold = config.GetEnvFloat("FALL_THRESHOLD", 2.5)
	cfg.Fall.MinDuration = config.GetEnvDuration("MIN_FALL_DURATION", 200*time.Millisecond)
	cfg.Fall.Cooldown = config.GetEnvDuration("FALL_COOLDOWN", 30*time.Second)
	cfg.Fall.PostFallInactivity = config.GetEnvDuration("POST_FALL_INACTIVITY", 300*time.Second)
	cfg.Fall.MovementThreshold = config.GetEnvFloat("MOVEMENT_THRESHOLD", 0.15)
	cfg.Fall.StepThreshold = config.GetEnvFloat("STEP_THRESHOLD", 1.2)

	cfg.Inactivity.Threshold = time.Duration(config.GetEnvInt("INACTIVITY_THRESHOLD_SECONDS", 300)) * time.Second
	cfg.Inactivity.CheckInterval = config.GetEnvDuration("INACTIVITY_CHECK_INTERVAL", 60*time.Second)
	cfg.Inactivity.PersistEvery = config.GetEnvDuration("MOVEMENT_PERSIST_INTERVAL", 15*time.Second)
	cfg.Inactivity.DNDStart = config.GetEnv("DND_START", "")
	cfg.Inactivity.DNDEnd = config.GetEnv("DND_END", "")
	cfg.Inactivity.Timezone = config.GetEnv("DND_TIMEZONE", "America/Montevideo")

	cfg.Location.Accuracy = config.GetEnv("LOCATION_ACCURACY", "balanced")
	cfg.Location.Interval = config.GetEnvDuration("LOCATION_INTERVAL", 60*time.Second)
	cfg.Location.DistanceInterval = config.GetEnvFloat("LOCATION_DISTANCE_INTERVAL", 10)
	cfg.Location.MovementDistance = config.GetEnvFloat("MOVEMENT_DISTANCE_METERS", 25)

	cfg.Dispatch.Endpoint = config.GetEnv("DISPATCH_ENDPOINT", "http://127.0.0.1:8000/api/activity")
	cfg.Dispatch.Token = config.GetEnv("DISPATCH_TOKEN", "")
	cfg.Dispatch.Timeout = config.GetEnvDuration("DISPATCH_TIMEOUT", 10*time.Second)
	cfg.Dispatch.MaxRetries = config.GetEnvInt("MAX_RETRIES", 3)
	cfg.Dispatch.RetryDelay = config.GetEnvDuration("RETRY_DELAY", time.Second)
	cfg.Dispatch.MaxQueueAge = config.GetEnvDuration("QUEUE_MAX_AGE", 72*time.Hour)
	cfg.Dispatch.InitialOnline = config.GetEnvBool("DISPATCH_INITIAL_ONLINE", true)
	cfg.Dispatch.ProbeAddr = config.GetEnv("CONNECTIVITY_PROBE_ADDR", "")
	cfg.Dispatch.ProbeInterval = config.GetEnvDuration("CONNECTIVITY_PROBE_INTERVAL", 30*time.Second)
	cfg.Dispatch.FlushInterval = config.GetEnvDuration("QUEUE_FLUSH_INTERVAL", 5*time.Minute)

	cfg.Scheduler.TaskName = config.GetEnv("BACKGROUND_TASK_NAME", "linkuy-guardian-checks")
	cfg.Scheduler.Interval = config.GetEnvDuration("MIN_FETCH_INTERVAL", 60*time.Second)

	cfg.API.Enabled = config.GetEnvBool("API_ENABLED", true)
	cfg.API.Addr = config.GetEnv("API_ADDR", "127.0.0.1:8080")

	cfg.Session.JWTSecret = config.GetEnv("SESSION_JWT_SECRET", "")
	cfg.Session.AllowRawUserID = config.GetEnvBool("SESSION_ALLOW_RAW_USER_ID", true)
	cfg.Session.UserID = int64(config.GetEnvInt("SESSION_USER_ID", 0))

	cfg.Log.Level = config.GetEnv("LOG_LEVEL", "info")
	cfg.Log.Format = config.GetEnv("LOG_FORMAT", "json")
	cfg.Log.DeviceID = config.GetEnv("DEVICE_ID", "")
	cfg.Log.File = config.GetEnv("LOG_FILE", "")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置组合
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory, StoreSQLite, StorePostgres, StoreRedis:
	default:
		return fmt.Errorf("unsupported store driver: %q", c.Store.Driver)
	}
	// 定位结果与权限状态只经 MQTT 由平台桥接
	if !c.MQTT.Enabled {
		return fmt.Errorf("mqtt must be enabled: location fixes are bridged from the platform")
	}
	if c.Dispatch.Endpoint == "" {
		return fmt.Errorf("dispatch endpoint is required")
	}
	if c.Sensor.SampleInterval <= 0 {
		return fmt.Errorf("sample interval must be positive")
	}
	if c.Fall.WindowSize <= 0 {
		return fmt.Errorf("window size must be positive")
	}
	if c.Fall.Threshold <= 0 {
		return fmt.Errorf("fall threshold must be positive")
	}
	if c.Fall.MovementThreshold < 0 {
		return fmt.Errorf("movement threshold must not be negative")
	}
	if c.Inactivity.Threshold <= 0 || c.Inactivity.CheckInterval <= 0 {
		return fmt.Errorf("inactivity threshold and check interval must be positive")
	}
	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if c.Store.QueueMaxEntries <= 0 {
		return fmt.Errorf("queue max entries must be positive")
	}
	if (c.Inactivity.DNDStart == "") != (c.Inactivity.DNDEnd == "") {
		return fmt.Errorf("do-not-disturb start and end must be set together")
	}
	return nil
}
