package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Model      ModelCallConfig  `yaml:"model" mapstructure:"model"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Triggers   TriggersConfig   `yaml:"triggers" mapstructure:"triggers"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	Model    string `yaml:"model" mapstructure:"model"`
	OCRModel string `yaml:"ocr_model" mapstructure:"ocr_model"`
}

// ModelCallConfig bounds and shapes calls made through the model client.
type ModelCallConfig struct {
	MaxConcurrent     int     `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	TimeoutMs         int     `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelayMs      int     `yaml:"retry_delay_ms" mapstructure:"retry_delay_ms"`
}

// PipelineConfig configures reconciliation and worker behavior.
type PipelineConfig struct {
	AutoApplyThreshold float64 `yaml:"auto_apply_threshold" mapstructure:"auto_apply_threshold"`
	WorkerConcurrency  int     `yaml:"worker_concurrency" mapstructure:"worker_concurrency"`
	MaxExtractChars    int     `yaml:"max_extract_chars" mapstructure:"max_extract_chars"`
}

// TriggersConfig locates trigger pack definition files.
type TriggersConfig struct {
	PackDir string `yaml:"pack_dir" mapstructure:"pack_dir"`
}

// OCRConfig configures document text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
}

// FetchConfig configures the intake document fetcher.
type FetchConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// NotionConfig holds the task-board integration settings.
type NotionConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	TasksDB string `yaml:"tasks_db" mapstructure:"tasks_db"`
}

// MonitoringConfig configures failure/alert webhooks.
type MonitoringConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the HTTP intake server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DOCPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "docpipe.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.ocr_model", "claude-haiku-4-5-20251001")
	v.SetDefault("model.max_concurrent", 5)
	v.SetDefault("model.timeout_ms", 300000)
	v.SetDefault("model.max_retries", 3)
	v.SetDefault("model.retry_delay_ms", 2000)
	v.SetDefault("pipeline.auto_apply_threshold", 0.85)
	v.SetDefault("pipeline.worker_concurrency", 4)
	v.SetDefault("pipeline.max_extract_chars", 24000)
	v.SetDefault("triggers.pack_dir", "triggers")
	v.SetDefault("ocr.provider", "model")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("fetch.user_agent", "docpipe/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 2)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
