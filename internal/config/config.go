package config

import (
	"errors"
	"time"
)

// Config 应用配置根结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	AI        AIConfig        `mapstructure:"ai"`
	History   HistoryConfig   `mapstructure:"history"`
	Log       LogConfig       `mapstructure:"log"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Client    ClientConfig    `mapstructure:"client"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AssistantConfig 外部对话线程服务配置
// 线程由外部服务创建并分配 ID，本地永远不生成 thread_id
type AssistantConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	AssistantID  string        `mapstructure:"assistant_id"`
	Timeout      time.Duration `mapstructure:"timeout"`       // 单次外部调用的总超时
	PollInterval time.Duration `mapstructure:"poll_interval"` // run 状态轮询间隔
}

// AIConfig 本地 ChatModel 配置 (Eino)
// 用于文本转换和标题精炼，与外部线程服务相互独立
type AIConfig struct {
	Provider string          `mapstructure:"provider"`
	APIKey   string          `mapstructure:"api_key"`
	Model    string          `mapstructure:"model"`
	BaseURL  string          `mapstructure:"base_url"`
	Options  AIOptionsConfig `mapstructure:"options"`
}

// AIOptionsConfig AI 模型参数
type AIOptionsConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	TopP        float64 `mapstructure:"top_p"`
}

// HistoryConfig 历史持久化配置
type HistoryConfig struct {
	SaveRetries    int           `mapstructure:"save_retries"`     // 保存失败后的重试次数
	SaveRetryDelay time.Duration `mapstructure:"save_retry_delay"` // 首次重试延迟，之后指数退避
	TitleRefine    bool          `mapstructure:"title_refine"`     // 首次保存前用 ChatModel 精炼标题
}

// LogConfig 日志配置 (Zerolog)
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	TimeFormat string `mapstructure:"time_format"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
	MinPoolSize uint64 `mapstructure:"min_pool_size"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig 认证配置
// 只负责校验外部签发的 Bearer Token，签发由外部身份服务完成
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ClientConfig 终端客户端配置 (yuzu chat)
type ClientConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	Token     string        `mapstructure:"token"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Validate 验证配置有效性
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}

	validModes := map[string]bool{"debug": true, "release": true, "test": true}
	if !validModes[c.Server.Mode] {
		return errors.New("invalid server mode, must be debug/release/test")
	}

	if c.History.SaveRetries < 0 {
		return errors.New("history.save_retries must be >= 0")
	}

	return nil
}
