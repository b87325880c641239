package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bryanwahyu/bimwatch/internal/domain/ai"
	"github.com/bryanwahyu/bimwatch/internal/domain/catalog"
)

// Duration wraps time.Duration so YAML values like "30s" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // mysql | postgres
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Search struct {
		Endpoint     string   `yaml:"endpoint"`
		Username     string   `yaml:"username"`
		Password     string   `yaml:"password"`
		ElementIndex string   `yaml:"elementIndex"`
		ImageIndex   string   `yaml:"imageIndex"`
		Timeout      Duration `yaml:"timeout"`
	} `yaml:"search"`

	OpenAI struct {
		APIKey       string `yaml:"apiKey"`
		BaseURL      string `yaml:"baseURL"`
		ChatModel    string `yaml:"chatModel"`
		EmbedModel   string `yaml:"embedModel"`
		EmbeddingDim int    `yaml:"embeddingDim"`
	} `yaml:"openai"`

	Matcher struct {
		SimilarityThreshold float64             `yaml:"similarityThreshold"`
		FuzzyThreshold      float64             `yaml:"fuzzyThreshold"`
		Synonyms            map[string][]string `yaml:"synonyms"`
		RelationRules       []ai.RelationRule   `yaml:"relationRules"`
	} `yaml:"matcher"`

	Retrieval struct {
		TopK     int      `yaml:"topK"`
		CacheTTL Duration `yaml:"cacheTTL"`
	} `yaml:"retrieval"`

	Comparison struct {
		CacheTTL Duration `yaml:"cacheTTL"`
	} `yaml:"comparison"`

	Progress struct {
		Scope string `yaml:"scope"` // catalog | detected
	} `yaml:"progress"`

	Upload struct {
		MaxSizeMB int64 `yaml:"maxSizeMB"`
	} `yaml:"upload"`

	RateLimit struct {
		Capacity   int `yaml:"capacity"`
		RefillRate int `yaml:"refillRate"`
	} `yaml:"rateLimit"`

	// APIKeys maps project id to its key. Empty map disables auth.
	APIKeys map[string]string `yaml:"apiKeys"`
}

// Load baca file config.yaml
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Search.ElementIndex == "" {
		c.Search.ElementIndex = "bim_elements"
	}
	if c.Search.ImageIndex == "" {
		c.Search.ImageIndex = "bim_images"
	}
	if c.Search.Timeout == 0 {
		c.Search.Timeout = Duration(10 * time.Second)
	}
	if c.OpenAI.ChatModel == "" {
		c.OpenAI.ChatModel = "gpt-4o"
	}
	if c.OpenAI.EmbedModel == "" {
		c.OpenAI.EmbedModel = "text-embedding-3-small"
	}
	if c.Matcher.SimilarityThreshold == 0 {
		c.Matcher.SimilarityThreshold = 0.5
	}
	if c.Matcher.FuzzyThreshold == 0 {
		c.Matcher.FuzzyThreshold = 0.8
	}
	if len(c.Matcher.Synonyms) == 0 {
		c.Matcher.Synonyms = DefaultSynonyms()
	}
	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = 10
	}
	if c.Retrieval.CacheTTL == 0 {
		c.Retrieval.CacheTTL = Duration(5 * time.Minute)
	}
	if c.Comparison.CacheTTL == 0 {
		c.Comparison.CacheTTL = Duration(30 * time.Second)
	}
	if c.Progress.Scope == "" {
		c.Progress.Scope = "catalog"
	}
	if c.Upload.MaxSizeMB == 0 {
		c.Upload.MaxSizeMB = 10
	}
	if c.RateLimit.Capacity == 0 {
		c.RateLimit.Capacity = 20
	}
	if c.RateLimit.RefillRate == 0 {
		c.RateLimit.RefillRate = 5
	}
}

// Validate fails fast on malformed entries so a bad deploy never reaches
// the analysis pipeline.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	if c.Matcher.SimilarityThreshold <= 0 || c.Matcher.SimilarityThreshold > 1 {
		return fmt.Errorf("config: similarityThreshold %v out of (0,1]", c.Matcher.SimilarityThreshold)
	}
	if c.Matcher.FuzzyThreshold <= 0 || c.Matcher.FuzzyThreshold > 1 {
		return fmt.Errorf("config: fuzzyThreshold %v out of (0,1]", c.Matcher.FuzzyThreshold)
	}
	switch c.Progress.Scope {
	case "catalog", "detected":
	default:
		return fmt.Errorf("config: unknown progress scope %q", c.Progress.Scope)
	}
	known := make(map[catalog.ElementType]bool)
	for _, t := range catalog.KnownTypes() {
		known[t] = true
	}
	for typ, words := range c.Matcher.Synonyms {
		if !known[catalog.ElementType(typ)] {
			return fmt.Errorf("config: synonym entry for unknown element type %q", typ)
		}
		if len(words) == 0 {
			return fmt.Errorf("config: synonym entry for %q has no keywords", typ)
		}
		for _, w := range words {
			if strings.TrimSpace(w) == "" {
				return fmt.Errorf("config: synonym entry for %q contains an empty keyword", typ)
			}
		}
	}
	for _, r := range c.Matcher.RelationRules {
		if !known[r.Subject] || !known[r.Requires] {
			return fmt.Errorf("config: relation rule %s->%s references unknown element type", r.Subject, r.Requires)
		}
	}
	return nil
}

// SynonymTable returns the table keyed by element type, lowercased.
func (c *Config) SynonymTable() map[catalog.ElementType][]string {
	out := make(map[catalog.ElementType][]string, len(c.Matcher.Synonyms))
	for typ, words := range c.Matcher.Synonyms {
		lowered := make([]string, 0, len(words))
		for _, w := range words {
			lowered = append(lowered, strings.ToLower(strings.TrimSpace(w)))
		}
		out[catalog.ElementType(typ)] = lowered
	}
	return out
}

// DefaultSynonyms is the built-in multi-language keyword table.
func DefaultSynonyms() map[string][]string {
	return map[string][]string{
		"wall":       {"wall", "parede", "alvenaria", "masonry", "muro"},
		"slab":       {"slab", "laje", "floor", "piso"},
		"column":     {"column", "pilar", "coluna"},
		"beam":       {"beam", "viga"},
		"foundation": {"foundation", "fundacao", "footing", "pile", "sapata", "estaca"},
		"stair":      {"stair", "stairs", "escada"},
		"roof":       {"roof", "telhado", "cobertura"},
		"door":       {"door", "porta"},
		"window":     {"window", "janela"},
	}
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// Helper untuk build DSN Postgres
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
