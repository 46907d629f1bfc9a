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
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Agenda    AgendaConfig    `yaml:"agenda" mapstructure:"agenda"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings. An empty key disables
// automated extraction and the validation chat.
type AnthropicConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	ExtractModel string `yaml:"extract_model" mapstructure:"extract_model"`
	ChatModel    string `yaml:"chat_model" mapstructure:"chat_model"`
	MaxTokens    int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// FetchConfig configures page fetching and screenshots.
type FetchConfig struct {
	Browser             bool    `yaml:"browser" mapstructure:"browser"`
	Headless            bool    `yaml:"headless" mapstructure:"headless"`
	TimeoutSecs         int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	ValidateTimeoutSecs int     `yaml:"validate_timeout_secs" mapstructure:"validate_timeout_secs"`
	UserAgent           string  `yaml:"user_agent" mapstructure:"user_agent"`
	ScreenshotDir       string  `yaml:"screenshot_dir" mapstructure:"screenshot_dir"`
	ViewportWidth       int     `yaml:"viewport_width" mapstructure:"viewport_width"`
	ViewportHeight      int     `yaml:"viewport_height" mapstructure:"viewport_height"`
	RatePerHost         float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
	Burst               int     `yaml:"burst" mapstructure:"burst"`
}

// ExtractConfig configures the extraction service.
type ExtractConfig struct {
	CacheDir          string  `yaml:"cache_dir" mapstructure:"cache_dir"`
	MaxContentChars   int     `yaml:"max_content_chars" mapstructure:"max_content_chars"`
	DefaultConfidence float64 `yaml:"default_confidence" mapstructure:"default_confidence"`
	ExpiryDays        int     `yaml:"expiry_days" mapstructure:"expiry_days"`
	StaleAfterDays    int     `yaml:"stale_after_days" mapstructure:"stale_after_days"`
}

// AgendaConfig configures the agenda file store.
type AgendaConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ServerConfig configures the validation server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	StaticDir      string   `yaml:"static_dir" mapstructure:"static_dir"`
	EvidenceDir    string   `yaml:"evidence_dir" mapstructure:"evidence_dir"`
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
	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Keys without defaults are only seen by Unmarshal once bound. The
	// unprefixed names are the ones the Anthropic SDK and most hosts export.
	if err := v.BindEnv("anthropic.key", "RESEARCH_ANTHROPIC_KEY", "ANTHROPIC_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind anthropic key")
	}
	if err := v.BindEnv("store.database_url", "RESEARCH_STORE_DATABASE_URL", "DATABASE_URL"); err != nil {
		return nil, eris.Wrap(err, "config: bind database url")
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("anthropic.extract_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.chat_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("fetch.browser", true)
	v.SetDefault("fetch.headless", true)
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.validate_timeout_secs", 15)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (compatible; research-kb/1.0)")
	v.SetDefault("fetch.screenshot_dir", "screenshots")
	v.SetDefault("fetch.viewport_width", 1920)
	v.SetDefault("fetch.viewport_height", 1080)
	v.SetDefault("fetch.rate_per_host", 2.0)
	v.SetDefault("fetch.burst", 2)
	v.SetDefault("extract.cache_dir", ".cache/extractions")
	v.SetDefault("extract.max_content_chars", 80000)
	v.SetDefault("extract.default_confidence", 0.9)
	v.SetDefault("extract.expiry_days", 30)
	v.SetDefault("extract.stale_after_days", 90)
	v.SetDefault("agenda.dir", ".agenda")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.evidence_dir", "evidence/validation")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command mode depends on. Modes: "run",
// "serve", "mcp".
func (c *Config) Validate(mode string) error {
	var problems []string
	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Extract.DefaultConfidence < 0 || c.Extract.DefaultConfidence > 1 {
		problems = append(problems, "extract.default_confidence must be between 0 and 1")
	}
	if c.Extract.MaxContentChars <= 0 {
		problems = append(problems, "extract.max_content_chars must be > 0")
	}

	switch mode {
	case "run", "mcp":
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and <= 65535")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// HasAnthropic reports whether an API key is configured.
func (c *Config) HasAnthropic() bool {
	return strings.TrimSpace(c.Anthropic.Key) != ""
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
