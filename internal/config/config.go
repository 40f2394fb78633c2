package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Convert  ConvertConfig  `mapstructure:"convert"`
	Search   SearchConfig   `mapstructure:"search"`
	Metadata MetadataConfig `mapstructure:"metadata"`
	Database DatabaseConfig `mapstructure:"database"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// StorageConfig points at the directory holding raw and converted papers.
type StorageConfig struct {
	Root string `mapstructure:"root"`
}

type FetchConfig struct {
	// PDFURLTemplate must contain the {id} placeholder.
	PDFURLTemplate string        `mapstructure:"pdf_url_template"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxBytes       int64         `mapstructure:"max_bytes"`
	UserAgent      string        `mapstructure:"user_agent"`
	RateLimit      float64       `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
}

type ConvertConfig struct {
	Workers           int  `mapstructure:"workers"`
	PDFToTextFallback bool `mapstructure:"pdftotext_fallback"`
}

// IngestConfig controls bulk import from staging directories.
type IngestConfig struct {
	StagingRoot string `mapstructure:"staging_root"`
	Workers     int    `mapstructure:"workers"`
	BatchSize   int    `mapstructure:"batch_size"`
}

type SearchConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type MetadataConfig struct {
	APIURL    string        `mapstructure:"api_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	return c.Path
}

func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.BindEnv("storage.root", "STORAGE_PATH")
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("mirror.access_key", "MIRROR_ACCESS_KEY", "AWS_ACCESS_KEY_ID")
	v.BindEnv("mirror.secret_key", "MIRROR_SECRET_KEY", "AWS_SECRET_ACCESS_KEY")
	v.BindEnv("mirror.endpoint", "MIRROR_ENDPOINT")
	v.BindEnv("search.base_url", "SEARCH_BASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("storage.root", "./data/papers")

	v.SetDefault("fetch.pdf_url_template", "https://arxiv.org/pdf/{id}")
	v.SetDefault("fetch.timeout", 60*time.Second)
	v.SetDefault("fetch.max_bytes", 100<<20)
	v.SetDefault("fetch.user_agent", "papershelf/1.0")
	v.SetDefault("fetch.rate_limit", 1.0)

	v.SetDefault("convert.workers", 2)
	v.SetDefault("convert.pdftotext_fallback", false)

	v.SetDefault("search.base_url", "https://search.arxivxplorer.com/")
	v.SetDefault("search.max_results", 50)
	v.SetDefault("search.timeout", 30*time.Second)

	v.SetDefault("metadata.api_url", "https://export.arxiv.org/api/query")
	v.SetDefault("metadata.timeout", 30*time.Second)
	// arXiv asks API clients for one request every three seconds
	v.SetDefault("metadata.rate_limit", 1.0/3)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/papershelf.db")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("ingest.staging_root", "./data/staging")
	v.SetDefault("ingest.workers", 2)
	v.SetDefault("ingest.batch_size", 50)

	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.bucket", "papers")
	v.SetDefault("mirror.prefix", "papers/")
	v.SetDefault("mirror.use_ssl", true)
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root must not be empty")
	}
	if !strings.Contains(c.Fetch.PDFURLTemplate, "{id}") {
		return fmt.Errorf("fetch.pdf_url_template must contain {id}, got %q", c.Fetch.PDFURLTemplate)
	}
	if c.Convert.Workers < 1 {
		return fmt.Errorf("convert.workers must be at least 1, got %d", c.Convert.Workers)
	}
	if c.Search.MaxResults < 1 {
		return fmt.Errorf("search.max_results must be at least 1, got %d", c.Search.MaxResults)
	}
	if c.Mirror.Enabled && c.Mirror.Bucket == "" {
		return fmt.Errorf("mirror.bucket is required when mirror is enabled")
	}
	return nil
}
