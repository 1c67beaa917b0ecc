package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Warehouse  WarehouseConfig  `yaml:"warehouse" mapstructure:"warehouse"`
	Census     CensusConfig     `yaml:"census" mapstructure:"census"`
	AI         AIConfig         `yaml:"ai" mapstructure:"ai"`
	Jobs       JobsConfig       `yaml:"jobs" mapstructure:"jobs"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Recipes    RecipesConfig    `yaml:"recipes" mapstructure:"recipes"`
	Geo        GeoConfig        `yaml:"geo" mapstructure:"geo"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr        string   `yaml:"addr" mapstructure:"addr"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// WarehouseConfig configures the analytics warehouse connection.
type WarehouseConfig struct {
	DSN           string        `yaml:"dsn" mapstructure:"dsn"`
	MaxConcurrent int64         `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	QueryTimeout  time.Duration `yaml:"query_timeout" mapstructure:"query_timeout"`
}

// CensusConfig configures the external demographic service client.
type CensusConfig struct {
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey            string        `yaml:"api_key" mapstructure:"api_key"`
	MaxConcurrent     int64         `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	RatePerSecond     float64       `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	TimeoutPerVintage time.Duration `yaml:"timeout_per_vintage" mapstructure:"timeout_per_vintage"`
}

// AIConfig configures the narrative model providers.
type AIConfig struct {
	Primary         string        `yaml:"primary" mapstructure:"primary"`
	AnthropicAPIKey string        `yaml:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	AnthropicModel  string        `yaml:"anthropic_model" mapstructure:"anthropic_model"`
	GeminiAPIKey    string        `yaml:"gemini_api_key" mapstructure:"gemini_api_key"`
	GeminiModel     string        `yaml:"gemini_model" mapstructure:"gemini_model"`
	MaxConcurrent   int64         `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	SectionTimeout  time.Duration `yaml:"section_timeout" mapstructure:"section_timeout"`
	MaxTokens       int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature     float64       `yaml:"temperature" mapstructure:"temperature"`
}

// JobsConfig configures per-job limits.
type JobsConfig struct {
	WallClock          time.Duration `yaml:"wall_clock" mapstructure:"wall_clock"`
	QueueWarnThreshold int           `yaml:"queue_warn_threshold" mapstructure:"queue_warn_threshold"`
}

// StoreConfig configures report artifact persistence.
type StoreConfig struct {
	Root        string        `yaml:"root" mapstructure:"root"`
	CatalogPath string        `yaml:"catalog_path" mapstructure:"catalog_path"`
	TTL         time.Duration `yaml:"ttl" mapstructure:"ttl"`
	GCSchedule  string        `yaml:"gc_schedule" mapstructure:"gc_schedule"`
}

// RecipesConfig configures recipe tuning overrides.
type RecipesConfig struct {
	OverridesPath string `yaml:"overrides_path" mapstructure:"overrides_path"`
}

// GeoConfig configures geography reference data.
type GeoConfig struct {
	TigerBaseURL   string `yaml:"tiger_base_url" mapstructure:"tiger_base_url"`
	DelineationURL string `yaml:"delineation_url" mapstructure:"delineation_url"`
	CountiesURL    string `yaml:"counties_url" mapstructure:"counties_url"`
	CacheDir       string `yaml:"cache_dir" mapstructure:"cache_dir"`
}

// MonitoringConfig configures background alert checks.
type MonitoringConfig struct {
	WebhookURL           string        `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckInterval        time.Duration `yaml:"check_interval" mapstructure:"check_interval"`
	FailureRateThreshold float64       `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StoreBytesThreshold  int64         `yaml:"store_bytes_threshold" mapstructure:"store_bytes_threshold"`
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
	v.SetEnvPrefix("JUSTDATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("warehouse.max_concurrent", 8)
	v.SetDefault("warehouse.query_timeout", "10m")
	v.SetDefault("census.base_url", "https://api.census.gov/data")
	v.SetDefault("census.max_concurrent", 4)
	v.SetDefault("census.rate_per_second", 10)
	v.SetDefault("census.timeout_per_vintage", "2m")
	v.SetDefault("ai.primary", "anthropic")
	v.SetDefault("ai.anthropic_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("ai.gemini_model", "gemini-2.5-flash")
	v.SetDefault("ai.max_concurrent", 4)
	v.SetDefault("ai.section_timeout", "90s")
	v.SetDefault("ai.max_tokens", 1024)
	v.SetDefault("ai.temperature", 0.3)
	v.SetDefault("jobs.wall_clock", "20m")
	v.SetDefault("jobs.queue_warn_threshold", 32)
	v.SetDefault("store.root", "./data/reports")
	v.SetDefault("store.catalog_path", "./data/catalog.db")
	v.SetDefault("store.ttl", "24h")
	v.SetDefault("store.gc_schedule", "*/10 * * * *")
	v.SetDefault("geo.tiger_base_url", "https://www2.census.gov/geo/tiger/TIGER2023/TRACT")
	v.SetDefault("geo.delineation_url", "https://www2.census.gov/programs-surveys/metro-micro/geographies/reference-files/2023/delineation-files/list1_2023.xlsx")
	v.SetDefault("geo.counties_url", "https://www2.census.gov/geo/docs/reference/codes2020/national_county2020.txt")
	v.SetDefault("geo.cache_dir", "./data/geo")
	v.SetDefault("monitoring.check_interval", "5m")
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
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

// Validate applies the startup fatality rules: missing warehouse
// credentials abort, missing census or AI credentials only degrade the
// affected features.
func (c *Config) Validate() error {
	if c.Warehouse.DSN == "" {
		return eris.New("config: warehouse.dsn is required")
	}
	if c.Census.APIKey == "" {
		zap.L().Warn("config: census api key missing, demographic context disabled")
	}
	if c.AI.AnthropicAPIKey == "" && c.AI.GeminiAPIKey == "" {
		zap.L().Warn("config: no ai provider key, narratives disabled")
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
