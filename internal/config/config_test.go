package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/bimwatch/internal/domain/catalog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
database:
  host: localhost
  port: 3306
  user: bim
  password: secret
  name: bimwatch
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "bim_elements", cfg.Search.ElementIndex)
	assert.Equal(t, "bim_images", cfg.Search.ImageIndex)
	assert.Equal(t, 10*time.Second, cfg.Search.Timeout.Std())
	assert.Equal(t, "gpt-4o", cfg.OpenAI.ChatModel)
	assert.Equal(t, "text-embedding-3-small", cfg.OpenAI.EmbedModel)
	assert.InDelta(t, 0.5, cfg.Matcher.SimilarityThreshold, 1e-9)
	assert.InDelta(t, 0.8, cfg.Matcher.FuzzyThreshold, 1e-9)
	assert.Equal(t, 10, cfg.Retrieval.TopK)
	assert.Equal(t, 5*time.Minute, cfg.Retrieval.CacheTTL.Std())
	assert.Equal(t, 30*time.Second, cfg.Comparison.CacheTTL.Std())
	assert.Equal(t, "catalog", cfg.Progress.Scope)
	assert.EqualValues(t, 10, cfg.Upload.MaxSizeMB)
	assert.NotEmpty(t, cfg.Matcher.Synonyms["wall"])
}

func TestLoadDurationParsing(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
search:
  timeout: 30s
retrieval:
  cacheTTL: 2m
comparison:
  cacheTTL: 45s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Search.Timeout.Std())
	assert.Equal(t, 2*time.Minute, cfg.Retrieval.CacheTTL.Std())
	assert.Equal(t, 45*time.Second, cfg.Comparison.CacheTTL.Std())
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
search:
  timeout: soon
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateFailFast(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{
			name: "unknown driver",
			body: "database:\n  driver: oracle\n",
		},
		{
			name: "similarity threshold out of range",
			body: "matcher:\n  similarityThreshold: 1.5\n",
		},
		{
			name: "fuzzy threshold negative",
			body: "matcher:\n  fuzzyThreshold: -0.1\n",
		},
		{
			name: "unknown progress scope",
			body: "progress:\n  scope: everything\n",
		},
		{
			name: "synonym for unknown type",
			body: "matcher:\n  synonyms:\n    chimney: [chimney]\n",
		},
		{
			name: "synonym with no keywords",
			body: "matcher:\n  synonyms:\n    wall: []\n",
		},
		{
			name: "synonym with empty keyword",
			body: "matcher:\n  synonyms:\n    wall: [\"wall\", \"  \"]\n",
		},
		{
			name: "relation rule with unknown type",
			body: "matcher:\n  relationRules:\n    - subject: slab\n      requires: pillar\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestSynonymTableLowercases(t *testing.T) {
	t.Parallel()
	var cfg Config
	cfg.Matcher.Synonyms = map[string][]string{
		"wall": {" Parede ", "WALL"},
	}

	table := cfg.SynonymTable()
	assert.Equal(t, []string{"parede", "wall"}, table[catalog.TypeWall])
}

func TestDSNHelpers(t *testing.T) {
	t.Parallel()
	var cfg Config
	cfg.Database.Host = "db.internal"
	cfg.Database.Port = 5432
	cfg.Database.User = "bim"
	cfg.Database.Password = "secret"
	cfg.Database.Name = "bimwatch"
	cfg.Database.SSLMode = "require"

	assert.Equal(t,
		"bim:secret@tcp(db.internal:5432)/bimwatch?parseTime=true&charset=utf8mb4&loc=UTC",
		cfg.MySQLDSN())
	assert.Equal(t,
		"host=db.internal port=5432 user=bim password=secret dbname=bimwatch sslmode=require",
		cfg.PostgresDSN())
}
