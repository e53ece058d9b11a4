// Package config 管理 chatctl 客户端配置
// 配置保存在 ~/.cielo-chat/config.yaml
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// SessionReuseWindow 本地会话复用时长，超过后创建新会话
const SessionReuseWindow = 24 * time.Hour

const defaultServerURL = "http://localhost:8080"

// Config CLI 配置结构
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Session SessionConfig `mapstructure:"session"`
	Locale  string        `mapstructure:"locale"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	URL        string `mapstructure:"url"`         // HTTP API 地址
	AdminToken string `mapstructure:"admin_token"` // 管理接口令牌
}

// SessionConfig 当前聊天会话
type SessionConfig struct {
	ID        string `mapstructure:"id"`
	Token     string `mapstructure:"token"`
	ExpiresAt int64  `mapstructure:"expires_at"` // 令牌过期时间（Unix 秒）
	StartedAt int64  `mapstructure:"started_at"` // 本地开始使用的时间（Unix 秒）
}

var (
	v          *viper.Viper
	cfg        *Config
	configPath string
)

// Init 初始化配置，使用用户主目录下的 .cielo-chat
func Init() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("获取用户目录失败: %w", err)
	}
	return InitAt(filepath.Join(home, ".cielo-chat"))
}

// InitAt 在指定目录初始化配置
func InitAt(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}
	configPath = filepath.Join(dir, "config.yaml")

	v = viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetDefault("server.url", defaultServerURL)
	v.SetDefault("server.admin_token", "")
	v.SetDefault("locale", "")

	// 环境变量优先于配置文件
	v.BindEnv("server.url", "CIELO_SERVER_URL")
	v.BindEnv("server.admin_token", "CIELO_ADMIN_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("读取配置失败: %w", err)
		}
	}

	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("解析配置失败: %w", err)
	}
	return nil
}

// Get 获取配置
func Get() *Config {
	return cfg
}

// Path 返回配置文件路径
func Path() string {
	return configPath
}

// GetServerURL 获取服务器地址
func GetServerURL() string {
	if cfg == nil || cfg.Server.URL == "" {
		return defaultServerURL
	}
	return cfg.Server.URL
}

// SetServerURL 设置服务器地址（仅本次运行）
func SetServerURL(url string) {
	if cfg != nil {
		cfg.Server.URL = url
	}
}

// GetAdminToken 获取管理令牌
func GetAdminToken() string {
	if cfg == nil {
		return ""
	}
	return cfg.Server.AdminToken
}

// SetAdminToken 设置管理令牌（仅本次运行）
func SetAdminToken(token string) {
	if cfg != nil {
		cfg.Server.AdminToken = token
	}
}

// GetLocale 获取首选语言
func GetLocale() string {
	if cfg == nil {
		return ""
	}
	return cfg.Locale
}

// SaveServer 持久化服务器地址与管理令牌
func SaveServer(url, adminToken string) error {
	v.Set("server.url", url)
	v.Set("server.admin_token", adminToken)
	cfg.Server.URL = url
	cfg.Server.AdminToken = adminToken
	return write()
}

// SaveSession 保存当前聊天会话
func SaveSession(id, token string, expiresAt, startedAt time.Time) error {
	s := SessionConfig{ID: id, Token: token, ExpiresAt: unix(expiresAt), StartedAt: unix(startedAt)}
	v.Set("session.id", s.ID)
	v.Set("session.token", s.Token)
	v.Set("session.expires_at", s.ExpiresAt)
	v.Set("session.started_at", s.StartedAt)
	cfg.Session = s
	return write()
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// GetSession 获取保存的会话，没有时返回 nil
func GetSession() *SessionConfig {
	if cfg == nil || cfg.Session.ID == "" || cfg.Session.Token == "" {
		return nil
	}
	s := cfg.Session
	return &s
}

// ReusableSession 返回仍在复用期内且令牌未过期的会话
func ReusableSession(now time.Time) *SessionConfig {
	s := GetSession()
	if s == nil {
		return nil
	}
	if now.Sub(time.Unix(s.StartedAt, 0)) >= SessionReuseWindow {
		return nil
	}
	if s.ExpiresAt != 0 && !now.Before(time.Unix(s.ExpiresAt, 0)) {
		return nil
	}
	return s
}

// ClearSession 清除保存的会话
func ClearSession() error {
	return SaveSession("", "", time.Time{}, time.Time{})
}

// Reset 删除配置文件并恢复默认值
func Reset() error {
	if err := os.Remove(configPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("删除配置失败: %w", err)
	}
	return InitAt(filepath.Dir(configPath))
}

func write() error {
	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("保存配置失败: %w", err)
	}
	return nil
}
