package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Grounding GroundingConfig `yaml:"grounding" mapstructure:"grounding"`
	OCR       OCRConfig       `yaml:"ocr" mapstructure:"ocr"`
	Data      DataConfig      `yaml:"data" mapstructure:"data"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings used for rule extraction and
// inclusion reasoning.
type AnthropicConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	Model             string `yaml:"model" mapstructure:"model"`
	MaxTokens         int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// GroundingConfig selects the entity grounder. Provider is identity or lexicon.
type GroundingConfig struct {
	Provider    string `yaml:"provider" mapstructure:"provider"`
	LexiconPath string `yaml:"lexicon_path" mapstructure:"lexicon_path"`
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
}

// DataConfig points at the run inputs and outputs.
type DataConfig struct {
	DocumentsDir string `yaml:"documents_dir" mapstructure:"documents_dir"`
	PatientsDir  string `yaml:"patients_dir" mapstructure:"patients_dir"`
	OutputDir    string `yaml:"output_dir" mapstructure:"output_dir"`
}

// PipelineConfig configures pipeline behavior.
type PipelineConfig struct {
	Concurrency         int    `yaml:"concurrency" mapstructure:"concurrency"`
	Reasoning           bool   `yaml:"reasoning" mapstructure:"reasoning"`
	DocumentWindowChars int    `yaml:"document_window_chars" mapstructure:"document_window_chars"`
	TrialID             string `yaml:"trial_id" mapstructure:"trial_id"`
}

// ServerConfig configures the HTTP API.
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
	v.SetEnvPrefix("ELIGIBILITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "eligibility.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("anthropic.requests_per_minute", 50)
	v.SetDefault("grounding.provider", "identity")
	v.SetDefault("grounding.lexicon_path", "testdata/lexicon.yaml")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("data.documents_dir", "data/drugs")
	v.SetDefault("data.patients_dir", "data/patients")
	v.SetDefault("data.output_dir", "output")
	v.SetDefault("pipeline.concurrency", 8)
	v.SetDefault("pipeline.reasoning", true)
	v.SetDefault("pipeline.document_window_chars", 15000)
	v.SetDefault("pipeline.trial_id", "GENERALIZED_RULES")

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

// Validate checks the settings required by a command mode. Modes: extract
// (LLM rule extraction), reason (LLM inclusion reasoning), store, serve,
// offline.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "extract", "reason":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Anthropic.MaxTokens <= 0 {
			errs = append(errs, "anthropic.max_tokens must be > 0")
		}
	case "store":
		errs = append(errs, c.validateStore()...)
	case "serve":
		errs = append(errs, c.validateStore()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "offline":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > 64 {
		errs = append(errs, fmt.Sprintf("pipeline.concurrency must be between 1 and 64, got %d", c.Pipeline.Concurrency))
	}
	if c.Pipeline.DocumentWindowChars < 0 {
		errs = append(errs, "pipeline.document_window_chars must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required"}
		}
	case "postgres":
		if !strings.HasPrefix(c.Store.DatabaseURL, "postgres") {
			return []string{"store.database_url must be a postgres connection string"}
		}
	default:
		return []string{fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver)}
	}
	return nil
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
