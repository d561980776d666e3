package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用配置结构体
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
	Relay    RelayConfig    `yaml:"relay"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Sync     SyncConfig     `yaml:"sync"`
	Cache    CacheConfig    `yaml:"cache"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string `yaml:"host"`     // 数据库主机地址
	Port     int    `yaml:"port"`     // 数据库端口
	Username string `yaml:"username"` // 数据库用户名
	Password string `yaml:"password"` // 数据库密码
	Database string `yaml:"database"` // 数据库名称
	Charset  string `yaml:"charset"`  // 字符集
	MaxIdle  int    `yaml:"maxIdle"`  // 最大空闲连接数
	MaxOpen  int    `yaml:"maxOpen"`  // 最大打开连接数
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host     string `yaml:"host"`     // Redis主机地址
	Port     int    `yaml:"port"`     // Redis端口
	Password string `yaml:"password"` // Redis密码
	DB       int    `yaml:"db"`       // Redis数据库编号
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`      // 日志级别
	Filename   string `yaml:"filename"`   // 日志文件名
	MaxSize    int    `yaml:"maxSize"`    // 单个日志文件最大大小(MB)
	MaxBackups int    `yaml:"maxBackups"` // 最大备份文件数
	MaxAge     int    `yaml:"maxAge"`     // 最大保存天数
	Compress   bool   `yaml:"compress"`   // 是否压缩
	Console    bool   `yaml:"console"`    // 是否同时输出到控制台
}

// RelayConfig 变更推送中继服务配置
type RelayConfig struct {
	Port         string        `yaml:"port"`         // 监听端口
	ReadTimeout  time.Duration `yaml:"readTimeout"`  // 读取超时时间
	WriteTimeout time.Duration `yaml:"writeTimeout"` // 写入超时时间
	TokenSecret  string        `yaml:"tokenSecret"`  // 握手令牌密钥
	TokenIssuer  string        `yaml:"tokenIssuer"`  // 令牌签发者
	TokenExpire  time.Duration `yaml:"tokenExpire"`  // 令牌有效期
	PingInterval time.Duration `yaml:"pingInterval"` // WebSocket心跳间隔
}

// RealtimeConfig 中继客户端配置（跨机订阅时使用）
type RealtimeConfig struct {
	URL   string `yaml:"url"`   // 中继地址，例如 ws://host:8090/ws
	Token string `yaml:"token"` // 握手令牌
}

// SyncConfig 订阅重连配置
type SyncConfig struct {
	BackoffBase time.Duration `yaml:"backoffBase"` // 重连退避起始间隔
	BackoffMax  time.Duration `yaml:"backoffMax"`  // 重连退避上限
	EventBuffer int           `yaml:"eventBuffer"` // 事件通道缓冲大小
}

// CacheConfig 消息历史缓存配置
type CacheConfig struct {
	TTL         time.Duration `yaml:"ttl"`         // 缓存过期时间
	MaxMessages int           `yaml:"maxMessages"` // 每个会话最多缓存的消息条数
}

// LoadConfig 加载配置（混合方式：YAML文件 + 环境变量）
func LoadConfig() *Config {
	// 1. 首先从YAML文件加载默认配置
	config := loadFromYAML("config/config.yaml")

	// 2. 用环境变量覆盖配置（环境变量优先级更高）
	overrideWithEnvVars(config)

	return config
}

// loadFromYAML 从YAML文件加载配置
func loadFromYAML(filePath string) *Config {
	data, err := os.ReadFile(filePath)
	if err != nil {
		// 如果文件不存在，返回默认配置
		return getDefaultConfig()
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		// 如果解析失败，返回默认配置
		return getDefaultConfig()
	}

	return &config
}

// overrideWithEnvVars 用环境变量覆盖配置
func overrideWithEnvVars(config *Config) {
	// 数据库配置
	if host := getEnv("DB_HOST", ""); host != "" {
		config.Database.Host = host
	}
	if port := getEnvInt("DB_PORT", 0); port > 0 {
		config.Database.Port = port
	}
	if username := getEnv("DB_USERNAME", ""); username != "" {
		config.Database.Username = username
	}
	if password := getEnv("DB_PASSWORD", ""); password != "" {
		config.Database.Password = password
	}
	if database := getEnv("DB_DATABASE", ""); database != "" {
		config.Database.Database = database
	}
	if charset := getEnv("DB_CHARSET", ""); charset != "" {
		config.Database.Charset = charset
	}
	if maxIdle := getEnvInt("DB_MAX_IDLE", 0); maxIdle > 0 {
		config.Database.MaxIdle = maxIdle
	}
	if maxOpen := getEnvInt("DB_MAX_OPEN", 0); maxOpen > 0 {
		config.Database.MaxOpen = maxOpen
	}

	// Redis配置
	if host := getEnv("REDIS_HOST", ""); host != "" {
		config.Redis.Host = host
	}
	if port := getEnvInt("REDIS_PORT", 0); port > 0 {
		config.Redis.Port = port
	}
	if password := getEnv("REDIS_PASSWORD", ""); password != "" {
		config.Redis.Password = password
	}
	if db := getEnvInt("REDIS_DB", -1); db >= 0 {
		config.Redis.DB = db
	}

	// 日志配置
	if level := getEnv("LOG_LEVEL", ""); level != "" {
		config.Log.Level = level
	}
	if filename := getEnv("LOG_FILENAME", ""); filename != "" {
		config.Log.Filename = filename
	}
	if maxSize := getEnvInt("LOG_MAX_SIZE", 0); maxSize > 0 {
		config.Log.MaxSize = maxSize
	}
	if maxBackups := getEnvInt("LOG_MAX_BACKUPS", 0); maxBackups > 0 {
		config.Log.MaxBackups = maxBackups
	}
	if maxAge := getEnvInt("LOG_MAX_AGE", 0); maxAge > 0 {
		config.Log.MaxAge = maxAge
	}
	config.Log.Console = getEnvBool("LOG_CONSOLE", config.Log.Console)

	// 中继服务配置
	if port := getEnv("RELAY_PORT", ""); port != "" {
		config.Relay.Port = port
	}
	if timeout := getEnvDuration("RELAY_READ_TIMEOUT", 0); timeout > 0 {
		config.Relay.ReadTimeout = timeout
	}
	if timeout := getEnvDuration("RELAY_WRITE_TIMEOUT", 0); timeout > 0 {
		config.Relay.WriteTimeout = timeout
	}
	if secret := getEnv("RELAY_TOKEN_SECRET", ""); secret != "" {
		config.Relay.TokenSecret = secret
	}
	if issuer := getEnv("RELAY_TOKEN_ISSUER", ""); issuer != "" {
		config.Relay.TokenIssuer = issuer
	}
	if expire := getEnvDuration("RELAY_TOKEN_EXPIRE", 0); expire > 0 {
		config.Relay.TokenExpire = expire
	}
	if d := getEnvDuration("RELAY_PING_INTERVAL", 0); d > 0 {
		config.Relay.PingInterval = d
	}

	// 中继客户端配置
	if url := getEnv("REALTIME_URL", ""); url != "" {
		config.Realtime.URL = url
	}
	if token := getEnv("REALTIME_TOKEN", ""); token != "" {
		config.Realtime.Token = token
	}

	// 订阅重连配置
	if d := getEnvDuration("SYNC_BACKOFF_BASE", 0); d > 0 {
		config.Sync.BackoffBase = d
	}
	if d := getEnvDuration("SYNC_BACKOFF_MAX", 0); d > 0 {
		config.Sync.BackoffMax = d
	}
	if n := getEnvInt("SYNC_EVENT_BUFFER", 0); n > 0 {
		config.Sync.EventBuffer = n
	}

	// 缓存配置
	if d := getEnvDuration("CACHE_TTL", 0); d > 0 {
		config.Cache.TTL = d
	}
	if n := getEnvInt("CACHE_MAX_MESSAGES", 0); n > 0 {
		config.Cache.MaxMessages = n
	}
}

// getDefaultConfig 获取默认配置
func getDefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     3306,
			Username: "pairchat",
			Password: "",
			Database: "pairchat",
			Charset:  "utf8mb4",
			MaxIdle:  10,
			MaxOpen:  100,
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			Password: "",
			DB:       0,
		},
		Log: LogConfig{
			Level:      "info",
			Filename:   "logs/pairchat.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
			Console:    false,
		},
		Relay: RelayConfig{
			Port:         "8090",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			TokenSecret:  "change-me",
			TokenIssuer:  "pairchat-relay",
			TokenExpire:  24 * time.Hour,
			PingInterval: 30 * time.Second,
		},
		Realtime: RealtimeConfig{},
		Sync: SyncConfig{
			BackoffBase: 500 * time.Millisecond,
			BackoffMax:  30 * time.Second,
			EventBuffer: 64,
		},
		Cache: CacheConfig{
			TTL:         time.Hour,
			MaxMessages: 50,
		},
	}
}

// 辅助函数：获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// 辅助函数：获取整数环境变量
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// 辅助函数：获取布尔环境变量
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// 辅助函数：获取时间环境变量
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
