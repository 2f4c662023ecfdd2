package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"filechat/internal/config"
	"filechat/internal/pkg/logger"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "filechat",
	Short: "Filechat - file-aware conversation service",
	Long: `Filechat relays conversations with attached files to the Anthropic Messages API.
Files are uploaded to the provider or converted to text, generated files are
downloaded from code execution results and stored alongside the conversation.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./configs/config.yaml)")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.filechat")
	}

	// 环境变量设置，如 FILECHAT_CLAUDE_API_KEY
	viper.SetEnvPrefix("FILECHAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("claude.api_key", "FILECHAT_CLAUDE_API_KEY", "ANTHROPIC_API_KEY")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fmt.Fprintln(os.Stderr, "No config file found, using defaults and environment variables")
		} else {
			fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
			os.Exit(1)
		}
	}

	cfg = &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to unmarshal config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	log.Debug().Str("config_file", viper.ConfigFileUsed()).Msg("configuration loaded")
}

func setDefaults() {
	// Server
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.read_timeout", "60s")
	// 需覆盖 claude.read_timeout，否则长耗时的代码执行响应会被截断
	viper.SetDefault("server.write_timeout", "330s")

	// Claude
	viper.SetDefault("claude.base_url", config.DefaultClaudeBaseURL)
	viper.SetDefault("claude.api_version", config.DefaultClaudeAPIVersion)
	viper.SetDefault("claude.beta_features", config.DefaultBetaFeatures)
	viper.SetDefault("claude.default_model", config.DefaultClaudeModel)
	viper.SetDefault("claude.model_aliases", config.DefaultModelAliases())
	viper.SetDefault("claude.max_tokens", config.DefaultMaxTokens)
	viper.SetDefault("claude.enable_code_execution", true)
	viper.SetDefault("claude.connect_timeout", config.DefaultConnectTimeout)
	viper.SetDefault("claude.read_timeout", config.DefaultReadTimeout)
	viper.SetDefault("claude.write_timeout", config.DefaultWriteTimeout)
	viper.SetDefault("claude.file_freshness", config.DefaultFileFreshness)
	viper.SetDefault("claude.max_file_size", config.DefaultMaxFileSize)
	viper.SetDefault("claude.upload_concurrency", 4)
	viper.SetDefault("claude.download_concurrency", 4)
	viper.SetDefault("claude.session_ttl", "1h")

	// Log
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.time_format", "RFC3339")

	// MongoDB
	viper.SetDefault("mongo.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo.database", "filechat")
	viper.SetDefault("mongo.max_pool_size", 100)
	viper.SetDefault("mongo.min_pool_size", 10)

	// Redis
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	// Storage
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local.base_path", "./data/attachments")
	viper.SetDefault("storage.local.base_url", "http://localhost:8080/attachments")
}

// GetConfig returns the global configuration
func GetConfig() *config.Config {
	return cfg
}
