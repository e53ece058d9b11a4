// Package config 负责加载和管理应用程序的配置
// 使用 viper 库支持 YAML 配置文件和环境变量覆盖，启动前先读取 .env
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 是应用程序的根配置结构
// 包含所有子配置模块
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`   // 服务器配置
	Database DatabaseConfig `mapstructure:"database"` // 数据库配置
	Redis    RedisConfig    `mapstructure:"redis"`    // Redis 配置
	JWT      JWTConfig      `mapstructure:"jwt"`      // 会话令牌配置
	Log      LogConfig      `mapstructure:"log"`      // 日志配置
	AI       AIConfig       `mapstructure:"ai"`       // 大模型服务配置
	Chat     ChatConfig     `mapstructure:"chat"`     // 聊天业务配置
	Admin    AdminConfig    `mapstructure:"admin"`    // 管理端配置
}

// ServerConfig 服务器相关配置
type ServerConfig struct {
	Port         int           `mapstructure:"port"`          // 监听端口，默认 8080
	Mode         string        `mapstructure:"mode"`          // 运行模式: debug / release
	CORS         []string      `mapstructure:"cors"`          // CORS 允许的域名
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`  // 读超时
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // 写超时，需大于 AI 调用超时
}

// DatabaseConfig 数据库连接配置
// DSN 非空时优先使用 DSN，否则由各字段拼接
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`         // postgres / mysql
	DSN          string `mapstructure:"dsn"`            // 完整连接串（托管 Postgres 直接给 URL）
	Host         string `mapstructure:"host"`           // 数据库主机地址
	Port         int    `mapstructure:"port"`           // 数据库端口
	Username     string `mapstructure:"username"`       // 数据库用户名
	Password     string `mapstructure:"password"`       // 数据库密码
	Database     string `mapstructure:"database"`       // 数据库名称
	SSLMode      string `mapstructure:"sslmode"`        // 仅 postgres
	Charset      string `mapstructure:"charset"`        // 仅 mysql
	MaxIdleConns int    `mapstructure:"max_idle_conns"` // 最大空闲连接数
	MaxOpenConns int    `mapstructure:"max_open_conns"` // 最大打开连接数
	MaxLifetime  int    `mapstructure:"max_lifetime"`   // 连接最大生命周期（秒）
	AutoMigrate  bool   `mapstructure:"auto_migrate"`   // 启动时自动迁移表结构
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Host     string `mapstructure:"host"`      // Redis 主机地址
	Port     int    `mapstructure:"port"`      // Redis 端口
	Username string `mapstructure:"username"`  // Redis 用户名
	Password string `mapstructure:"password"`  // Redis 密码
	DB       int    `mapstructure:"db"`        // 数据库索引 (0-15)
	PoolSize int    `mapstructure:"pool_size"` // 连接池大小
}

// JWTConfig 会话令牌配置
type JWTConfig struct {
	Secret        string        `mapstructure:"secret"`         // 签名密钥，至少32字符
	SessionExpire time.Duration `mapstructure:"session_expire"` // 会话令牌有效期，默认 24h
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug/info/warn/error
	Format string `mapstructure:"format"` // 日志格式: json/console
	File   string `mapstructure:"file"`   // 日志文件路径，按大小轮转
}

// AIConfig 大模型服务配置
// 兼容 OpenAI chat/completions 协议
type AIConfig struct {
	APIKey       string        `mapstructure:"api_key"`       // 为空时返回固定致歉文案
	BaseURL      string        `mapstructure:"base_url"`      // 例如 https://api.openai.com/v1
	Model        string        `mapstructure:"model"`         // 模型名称
	MaxTokens    int           `mapstructure:"max_tokens"`    // 单次回复最大 token 数
	Temperature  float64       `mapstructure:"temperature"`   // 采样温度
	Timeout      time.Duration `mapstructure:"timeout"`       // HTTP 超时
	HistoryLimit int           `mapstructure:"history_limit"` // 上下文携带的最近消息条数
	SystemPrompt string        `mapstructure:"system_prompt"` // 系统提示词，空则使用内置前台提示词
}

// ChatConfig 聊天业务配置
type ChatConfig struct {
	RequireSessionToken bool `mapstructure:"require_session_token"` // 发送消息时是否强制校验会话令牌
	MaxMessageLength    int  `mapstructure:"max_message_length"`    // 单条消息最大字符数（按 rune 计）
}

// AdminConfig 管理端配置
type AdminConfig struct {
	Token string `mapstructure:"token"` // 管理接口 Bearer Token，为空表示不鉴权
}

// Load 从指定路径加载配置文件
// 支持环境变量覆盖配置项
// 参数:
//   - configPath: 配置文件目录路径 (如 "./configs")
//
// 返回:
//   - *Config: 配置对象
//   - error: 如果加载失败则返回错误
func Load(configPath string) (*Config, error) {
	// .env 不存在时直接使用系统环境变量
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	// 将环境变量中的 _ 映射到配置的 .
	// 例如: REDIS_HOST -> redis.host
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnvVariables(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// bindEnvVariables 绑定环境变量到配置项
func bindEnvVariables(v *viper.Viper) {
	// 服务器配置
	v.BindEnv("server.port", "SERVER_PORT", "PORT")
	v.BindEnv("server.mode", "SERVER_MODE")

	// 数据库配置，兼容托管 Postgres 的连接串变量
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.dsn", "DATABASE_URL", "SUPABASE_DB_URL")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.username", "DATABASE_USERNAME")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.database", "DATABASE_NAME")

	// Redis 配置
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.username", "REDIS_USERNAME")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// 令牌配置
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// AI 配置
	v.BindEnv("ai.api_key", "OPENAI_API_KEY", "AI_API_KEY")
	v.BindEnv("ai.base_url", "OPENAI_BASE_URL")
	v.BindEnv("ai.model", "OPENAI_MODEL")

	// 管理端
	v.BindEnv("admin.token", "ADMIN_TOKEN")
}

// setDefaults 设置配置项的默认值
// 当配置文件中没有指定某个值时，将使用这里设置的默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors", []string{"http://localhost:3000"})
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "45s")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.database", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.max_lifetime", 3600)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)

	v.SetDefault("jwt.session_expire", "24h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "logs/app.log")

	v.SetDefault("ai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.max_tokens", 500)
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.timeout", "30s")
	v.SetDefault("ai.history_limit", 10)

	v.SetDefault("chat.require_session_token", false)
	v.SetDefault("chat.max_message_length", 4000)
}
