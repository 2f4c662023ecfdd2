package config

import (
	"errors"
	"fmt"
	"time"
)

// Config 应用配置根结构
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Claude  ClaudeConfig  `mapstructure:"claude"`
	Log     LogConfig     `mapstructure:"log"`
	Mongo   MongoConfig   `mapstructure:"mongo"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Storage StorageConfig `mapstructure:"storage"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ClaudeConfig 生成式服务（Anthropic Messages + Files API）配置
type ClaudeConfig struct {
	APIKey       string            `mapstructure:"api_key"`
	BaseURL      string            `mapstructure:"base_url"`
	APIVersion   string            `mapstructure:"api_version"`
	BetaFeatures []string          `mapstructure:"beta_features"`
	DefaultModel string            `mapstructure:"default_model"`
	ModelAliases map[string]string `mapstructure:"model_aliases"` // 友好名称 -> 完整模型ID
	MaxTokens    int               `mapstructure:"max_tokens"`

	EnableCodeExecution bool `mapstructure:"enable_code_execution"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"` // 代码执行可能耗时较长
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`

	FileFreshness time.Duration `mapstructure:"file_freshness"` // 用户消息文件引用的有效窗口
	MaxFileSize   int64         `mapstructure:"max_file_size"`  // 单文件上传上限（字节）

	UploadConcurrency   int           `mapstructure:"upload_concurrency"`
	DownloadConcurrency int           `mapstructure:"download_concurrency"`
	TempDir             string        `mapstructure:"temp_dir"` // 临时文件目录
	SessionTTL          time.Duration `mapstructure:"session_ttl"`
}

// 默认值，与 cmd.setDefaults 保持一致
const (
	DefaultClaudeBaseURL    = "https://api.anthropic.com"
	DefaultClaudeAPIVersion = "2023-06-01"
	DefaultClaudeModel      = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens        = 8192
	DefaultFileFreshness    = 7 * 24 * time.Hour
	DefaultMaxFileSize      = int64(500 * 1024 * 1024)
	DefaultConnectTimeout   = 30 * time.Second
	DefaultReadTimeout      = 300 * time.Second
	DefaultWriteTimeout     = 30 * time.Second
)

// DefaultBetaFeatures 默认启用的 beta 能力（代码执行 + 文件上传）
var DefaultBetaFeatures = []string{"code-execution-2025-08-25", "files-api-2025-04-14"}

// DefaultModelAliases 默认的模型别名
func DefaultModelAliases() map[string]string {
	return map[string]string{
		"claude-sonnet-4-5": "claude-sonnet-4-5-20250929",
		"claude-opus-4":     "claude-opus-4-20250514",
	}
}

// DefaultClaudeConfig 返回填充默认值的 Claude 配置（测试与脚本使用）
func DefaultClaudeConfig() ClaudeConfig {
	return ClaudeConfig{
		BaseURL:             DefaultClaudeBaseURL,
		APIVersion:          DefaultClaudeAPIVersion,
		BetaFeatures:        append([]string(nil), DefaultBetaFeatures...),
		DefaultModel:        DefaultClaudeModel,
		ModelAliases:        DefaultModelAliases(),
		MaxTokens:           DefaultMaxTokens,
		EnableCodeExecution: true,
		ConnectTimeout:      DefaultConnectTimeout,
		ReadTimeout:         DefaultReadTimeout,
		WriteTimeout:        DefaultWriteTimeout,
		FileFreshness:       DefaultFileFreshness,
		MaxFileSize:         DefaultMaxFileSize,
		UploadConcurrency:   4,
		DownloadConcurrency: 4,
		SessionTTL:          time.Hour,
	}
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

// StorageConfig 存储配置
type StorageConfig struct {
	Type  string       `mapstructure:"type"` // local, oss
	Local *LocalConfig `mapstructure:"local,omitempty"`
	OSS   *OSSConfig   `mapstructure:"oss,omitempty"`
}

// LocalConfig 本地文件系统配置
type LocalConfig struct {
	BasePath string `mapstructure:"base_path"` // 基础路径
	BaseURL  string `mapstructure:"base_url"`  // 基础URL（用于生成访问URL）
}

// OSSConfig 阿里云OSS配置
type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`          // OSS端点
	Bucket          string `mapstructure:"bucket"`            // Bucket名称
	AccessKeyID     string `mapstructure:"access_key_id"`     // AccessKey ID
	AccessKeySecret string `mapstructure:"access_key_secret"` // AccessKey Secret
	PresignExpiry   int    `mapstructure:"presign_expiry"`    // 预签名URL过期时间（秒）
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

	if err := c.Claude.Validate(); err != nil {
		return fmt.Errorf("claude: %w", err)
	}

	return nil
}

// Validate 验证 Claude 配置
func (c *ClaudeConfig) Validate() error {
	if c.APIKey == "" {
		return errors.New("api_key is required")
	}
	if c.DefaultModel == "" {
		return errors.New("default_model is required")
	}
	if c.MaxTokens <= 0 {
		return errors.New("max_tokens must be positive")
	}
	if c.MaxFileSize <= 0 {
		return errors.New("max_file_size must be positive")
	}
	if c.FileFreshness <= 0 {
		return errors.New("file_freshness must be positive")
	}
	if c.ConnectTimeout <= 0 || c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}

// ResolveModel 将友好名称映射为完整模型ID
// 空字符串返回默认模型；未知名称返回 false
func (c *ClaudeConfig) ResolveModel(name string) (string, bool) {
	if name == "" {
		return c.DefaultModel, true
	}
	if full, ok := c.ModelAliases[name]; ok {
		return full, true
	}
	for _, full := range c.ModelAliases {
		if full == name {
			return full, true
		}
	}
	if name == c.DefaultModel {
		return name, true
	}
	return "", false
}
