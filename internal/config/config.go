// Package config loads and validates linkknn configuration from a YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wizenheimer/linkknn"
)

// Config is the top-level configuration of a linkknn run.
type Config struct {
	Logging    LoggingConfig        `yaml:"logging"`
	Dataset    DatasetConfig        `yaml:"dataset"`
	Index      IndexConfig          `yaml:"index"`
	Evaluation EvaluationConfig     `yaml:"evaluation"`
	Embeddings EmbeddingsConfig     `yaml:"embeddings"`
	Fitters    []linkknn.FitterSpec `yaml:"fitters"`
	Postgres   PostgresConfig       `yaml:"postgres"`
	Embedder   EmbedderConfig       `yaml:"embedder"`
	Output     OutputConfig         `yaml:"output"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatasetConfig locates the link/context/target table.
type DatasetConfig struct {
	Path          string `yaml:"path"`
	Format        string `yaml:"format"`
	LinkColumn    int    `yaml:"linkColumn"`
	ContextColumn int    `yaml:"contextColumn"`
	TargetColumn  int    `yaml:"targetColumn"`
	Header        bool   `yaml:"header"`
	Limit         int    `yaml:"limit"`
}

// IndexConfig controls how the frequency index is built.
type IndexConfig struct {
	Policy    string `yaml:"policy"`
	CountMode string `yaml:"countMode"`
}

// EvaluationConfig is the (k, T) grid and the re-ranking metric.
type EvaluationConfig struct {
	Distance string       `yaml:"distance"`
	Ks       []int        `yaml:"ks"`
	Ts       []int        `yaml:"ts"`
	RawTF    bool         `yaml:"rawTF"`
	Fusion   FusionConfig `yaml:"fusion"`
}

// FusionConfig enables fused frequency/distance re-ranking when Kind is set.
type FusionConfig struct {
	Kind            string  `yaml:"kind"`
	DistanceWeight  float64 `yaml:"distanceWeight"`
	FrequencyWeight float64 `yaml:"frequencyWeight"`
	K               float64 `yaml:"k"`
}

// EmbeddingsConfig locates the query (EQ) and document (ED) matrices.
type EmbeddingsConfig struct {
	Queries   MatrixSource `yaml:"queries"`
	Documents MatrixSource `yaml:"documents"`
}

// MatrixSource is either a file (Path) or a Postgres table (Table).
type MatrixSource struct {
	Path        string `yaml:"path"`
	Format      string `yaml:"format"`
	IndexColumn bool   `yaml:"indexColumn"`
	Header      bool   `yaml:"header"`
	Table       string `yaml:"table"`
}

// IsPostgres reports whether the matrix is read from Postgres.
func (m MatrixSource) IsPostgres() bool { return m.Table != "" }

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslMode"`
	Schema   string `yaml:"schema"`
	MaxConns int    `yaml:"maxConns"`
}

// DSN returns a pgx connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode, p.MaxConns,
	)
}

// EmbedderConfig points at an OpenAI-compatible embeddings endpoint.
type EmbedderConfig struct {
	BaseURL    string        `yaml:"baseUrl"`
	APIKey     string        `yaml:"apiKey"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	BatchSize  int           `yaml:"batchSize"`
	Timeout    time.Duration `yaml:"timeout"`
}

// OutputConfig is where the result table goes. An empty path prints to the
// log only.
type OutputConfig struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Dataset: DatasetConfig{
			LinkColumn:    0,
			ContextColumn: 1,
			TargetColumn:  2,
		},
		Index: IndexConfig{
			Policy:    string(linkknn.DescendingCount),
			CountMode: string(linkknn.CountSubstring),
		},
		Evaluation: EvaluationConfig{
			Distance: string(linkknn.L2Squared),
			Ks:       []int{1, 5, 10},
			Ts:       []int{10, 50, 100},
		},
		Fitters: []linkknn.FitterSpec{{Kind: linkknn.IdentityFitterKind}},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "linkknn",
			User:     "linkknn",
			Password: "localdev",
			SSLMode:  "disable",
			Schema:   "public",
			MaxConns: 4,
		},
		Embedder: EmbedderConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "text-embedding-3-small",
			BatchSize: 64,
			Timeout:   60 * time.Second,
		},
	}
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := linkknn.ParseCandidatePolicy(c.Index.Policy); err != nil {
		return fmt.Errorf("index.policy: %w", err)
	}
	if _, err := linkknn.ParseCountMode(c.Index.CountMode); err != nil {
		return fmt.Errorf("index.countMode: %w", err)
	}
	if _, err := linkknn.NewDistance(linkknn.DistanceKind(c.Evaluation.Distance)); err != nil {
		return fmt.Errorf("evaluation.distance %q: %w", c.Evaluation.Distance, err)
	}
	if len(c.Evaluation.Ks) == 0 || len(c.Evaluation.Ts) == 0 {
		return fmt.Errorf("evaluation: ks and ts must not be empty")
	}
	for _, k := range c.Evaluation.Ks {
		if k < 1 {
			return fmt.Errorf("evaluation.ks: %d is not positive", k)
		}
	}
	for _, t := range c.Evaluation.Ts {
		if t < 1 {
			return fmt.Errorf("evaluation.ts: %d is not positive", t)
		}
	}
	if c.Evaluation.Fusion.Kind != "" {
		if _, err := linkknn.NewFusion(linkknn.FusionKind(c.Evaluation.Fusion.Kind), nil); err != nil {
			return fmt.Errorf("evaluation.fusion: %w", err)
		}
	}
	d := c.Dataset
	if d.LinkColumn < 0 || d.ContextColumn < 0 || d.TargetColumn < 0 {
		return fmt.Errorf("dataset: column indexes must not be negative")
	}
	if d.Limit < 0 {
		return fmt.Errorf("dataset.limit: %d is negative", d.Limit)
	}
	for i, f := range c.Fitters {
		if _, err := linkknn.NewFitter(f); err != nil {
			return fmt.Errorf("fitters[%d]: %w", i, err)
		}
	}
	if c.Embedder.BatchSize < 1 {
		return fmt.Errorf("embedder.batchSize: %d is not positive", c.Embedder.BatchSize)
	}
	return nil
}

// FusionSettings converts the fusion section for linkknn.NewFusion, filling
// unset fields from the defaults.
func (f FusionConfig) FusionSettings() *linkknn.FusionConfig {
	out := linkknn.DefaultFusionConfig()
	if f.DistanceWeight != 0 {
		out.DistanceWeight = f.DistanceWeight
	}
	if f.FrequencyWeight != 0 {
		out.FrequencyWeight = f.FrequencyWeight
	}
	if f.K != 0 {
		out.K = f.K
	}
	return out
}

// applyEnvOverrides reads LINKKNN_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LINKKNN_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LINKKNN_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("LINKKNN_DATASET_PATH"); v != "" {
		cfg.Dataset.Path = v
	}
	if v := os.Getenv("LINKKNN_DATASET_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dataset.Limit = n
		}
	}
	if v := os.Getenv("LINKKNN_INDEX_POLICY"); v != "" {
		cfg.Index.Policy = v
	}
	if v := os.Getenv("LINKKNN_INDEX_COUNT_MODE"); v != "" {
		cfg.Index.CountMode = v
	}
	if v := os.Getenv("LINKKNN_EVALUATION_DISTANCE"); v != "" {
		cfg.Evaluation.Distance = v
	}
	if v := os.Getenv("LINKKNN_EVALUATION_KS"); v != "" {
		if ks, err := ParseInts(v); err == nil {
			cfg.Evaluation.Ks = ks
		}
	}
	if v := os.Getenv("LINKKNN_EVALUATION_TS"); v != "" {
		if ts, err := ParseInts(v); err == nil {
			cfg.Evaluation.Ts = ts
		}
	}
	if v := os.Getenv("LINKKNN_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("LINKKNN_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("LINKKNN_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("LINKKNN_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("LINKKNN_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("LINKKNN_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("LINKKNN_EMBEDDER_BASE_URL"); v != "" {
		cfg.Embedder.BaseURL = v
	}
	if v := os.Getenv("LINKKNN_EMBEDDER_API_KEY"); v != "" {
		cfg.Embedder.APIKey = v
	}
	if v := os.Getenv("LINKKNN_EMBEDDER_MODEL"); v != "" {
		cfg.Embedder.Model = v
	}
	if v := os.Getenv("LINKKNN_OUTPUT_PATH"); v != "" {
		cfg.Output.Path = v
	}
}

// ParseInts parses a comma separated list such as "1,5,10".
func ParseInts(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}
