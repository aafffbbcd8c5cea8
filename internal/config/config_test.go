package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehirec/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("VEHIREC_DB", "cars.db")

	path := writeConfig(t, `
database:
  path: "${VEHIREC_DB}"
recommender:
  ranker: tree
  top_n: 5
  cache_ttl: 30s
  tree:
    rounds: 20
    max_depth: 2
  embedding:
    factors: 4
    early_stopping:
      patience: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "cars.db", cfg.Database.Path)
	assert.Equal(t, models.RankerTree, cfg.Recommender.Ranker)
	assert.Equal(t, 5, cfg.Recommender.TopN)
	assert.Equal(t, 30*time.Second, cfg.Recommender.CacheTTL)
	assert.Equal(t, 20, cfg.Recommender.Tree.Rounds)
	assert.Equal(t, 4, cfg.Recommender.Embedding.Factors)
	assert.Equal(t, 3, cfg.Recommender.Embedding.EarlyStopping.Patience)

	rc := cfg.Recommender.RankerConfig()
	assert.Equal(t, int64(models.DefaultSeed), rc.Seed)
	assert.Equal(t, 2, rc.Tree.MaxDepth)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "x.db"
recommender:
  ranker: forest
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recommender.ranker")
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		c := Config{Database: DatabaseConfig{Path: "path"}}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "missing database", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "top_n too large", mutate: func(c *Config) { c.Recommender.TopN = models.MaxTopN + 1 }, wantErr: true},
		{name: "validation split", mutate: func(c *Config) { c.Recommender.ValidationSplit = 1 }, wantErr: true},
		{name: "history length", mutate: func(c *Config) { c.Recommender.HistoryLength = -1 }, wantErr: true},
		{name: "google without sheet", mutate: func(c *Config) { c.Google.Enabled = true }, wantErr: true},
		{
			name: "google configured",
			mutate: func(c *Config) {
				c.Google = GoogleConfig{Enabled: true, GoogleCredentialsFile: "creds.json", RecommendationsSheet: "sheet"}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	assert.Equal(t, "vehirec", cfg.App.Name)
	assert.Equal(t, 8080, cfg.API.HTTP.Port)
	assert.Equal(t, "x-api-key", cfg.API.Auth.HeaderAPIKey)
	assert.Equal(t, models.RankerEmbedding, cfg.Recommender.Ranker)
	assert.Equal(t, models.DefaultTopN, cfg.Recommender.TopN)
	assert.Equal(t, models.DefaultHistoryLength, cfg.Recommender.HistoryLength)
	assert.Equal(t, int64(models.DefaultSeed), cfg.Recommender.Seed)
	assert.InDelta(t, models.DefaultValidationSplit, cfg.Recommender.ValidationSplit, 1e-9)
	assert.Equal(t, 10*time.Minute, cfg.Recommender.CacheTTL)
	assert.Equal(t, 5, cfg.Worker.MaxRetries)
	assert.Equal(t, "Recommendations", cfg.Google.SheetName)
}
