package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"vehirec/internal/models"
	"vehirec/internal/ranker"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App         AppConfig         `yaml:"app"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Logging     LoggingConfig     `yaml:"logging"`
	API         APIConfig         `yaml:"api"`
	Exports     ExportConfig      `yaml:"exports"`
	Google      GoogleConfig      `yaml:"google"`
	Worker      WorkerConfig      `yaml:"worker"`
	Recommender RecommenderConfig `yaml:"recommender"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type GoogleConfig struct {
	Enabled               bool   `yaml:"enabled"`
	GoogleCredentialsFile string `yaml:"credentials_file"`
	RecommendationsSheet  string `yaml:"recommendations_spreadsheet_id"`
	SheetName             string `yaml:"sheet_name"`
}

type WorkerConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	QueueSize     int           `yaml:"queue_size"`
}

// RecommenderConfig drives fitting, training and serving.
type RecommenderConfig struct {
	Ranker          string                 `yaml:"ranker"`
	TopN            int                    `yaml:"top_n"`
	HistoryLength   int                    `yaml:"history_length"`
	Seed            int64                  `yaml:"seed"`
	ValidationSplit float64                `yaml:"validation_split"`
	ModelDir        string                 `yaml:"model_dir"`
	CacheTTL        time.Duration          `yaml:"cache_ttl"`
	KeepVersions    int                    `yaml:"keep_versions"`
	Embedding       ranker.EmbeddingConfig `yaml:"embedding"`
	Tree            ranker.TreeConfig      `yaml:"tree"`
}

// RankerConfig converts the yaml section into the ranker constructor input.
func (r RecommenderConfig) RankerConfig() ranker.Config {
	return ranker.Config{Seed: r.Seed, Embedding: r.Embedding, Tree: r.Tree}
}

func Load(configPath string) (*Config, error) {
	// .env не обязателен
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	switch c.Recommender.Ranker {
	case models.RankerEmbedding, models.RankerTree:
	default:
		return fmt.Errorf("recommender.ranker must be %q or %q, got %q",
			models.RankerEmbedding, models.RankerTree, c.Recommender.Ranker)
	}

	if c.Recommender.TopN < 1 || c.Recommender.TopN > models.MaxTopN {
		return fmt.Errorf("recommender.top_n must be in [1, %d]", models.MaxTopN)
	}
	if c.Recommender.HistoryLength < 1 {
		return errors.New("recommender.history_length must be positive")
	}
	if c.Recommender.ValidationSplit < 0 || c.Recommender.ValidationSplit >= 1 {
		return errors.New("recommender.validation_split must be in [0, 1)")
	}
	if c.Recommender.ModelDir == "" {
		return errors.New("recommender.model_dir is required")
	}

	if c.Google.Enabled && (c.Google.GoogleCredentialsFile == "" || c.Google.RecommendationsSheet == "") {
		return errors.New("google.credentials_file and google.recommendations_spreadsheet_id are required when google is enabled")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "vehirec"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
	if c.Google.SheetName == "" {
		c.Google.SheetName = "Recommendations"
	}

	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = 5
	}
	if c.Worker.InitialDelay == 0 {
		c.Worker.InitialDelay = 2 * time.Second
	}
	if c.Worker.MaxDelay == 0 {
		c.Worker.MaxDelay = time.Minute
	}
	if c.Worker.BackoffFactor == 0 {
		c.Worker.BackoffFactor = 2
	}
	if c.Worker.QueueSize == 0 {
		c.Worker.QueueSize = 64
	}

	r := &c.Recommender
	if r.Ranker == "" {
		r.Ranker = models.RankerEmbedding
	}
	if r.TopN == 0 {
		r.TopN = models.DefaultTopN
	}
	if r.HistoryLength == 0 {
		r.HistoryLength = models.DefaultHistoryLength
	}
	if r.Seed == 0 {
		r.Seed = models.DefaultSeed
	}
	if r.ValidationSplit == 0 {
		r.ValidationSplit = models.DefaultValidationSplit
	}
	if r.ModelDir == "" {
		r.ModelDir = "models"
	}
	if r.CacheTTL == 0 {
		r.CacheTTL = models.DefaultCacheTTL * time.Second
	}
	if r.KeepVersions == 0 {
		r.KeepVersions = 5
	}
}
