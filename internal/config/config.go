// Package config loads apdev configuration from YAML, .env files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/apdev/internal/artifact"
	"github.com/phobologic/apdev/internal/embedding"
	"github.com/phobologic/apdev/internal/llm"
	"github.com/phobologic/apdev/internal/logging"
	"github.com/phobologic/apdev/internal/storage"
)

// DefaultPath is where init writes the config and where the CLI looks for it.
const DefaultPath = ".apdev/config.yaml"

// Config holds all apdev configuration.
type Config struct {
	LLM        llm.Config       `yaml:"llm"`
	Embedding  embedding.Config `yaml:"embedding"`
	Index      IndexConfig      `yaml:"index"`
	Storage    storage.Config   `yaml:"storage"`
	Artifacts  artifact.Config  `yaml:"artifacts"`
	Prompts    PromptsConfig    `yaml:"prompts"`
	Format     FormatConfig     `yaml:"format"`
	Logging    logging.Config   `yaml:"logging"`
	Generation GenerationConfig `yaml:"generation"`
	Ingest     IngestConfig     `yaml:"ingest"`
}

// IndexConfig locates the embedding index.
type IndexConfig struct {
	// Path is the index database. Its directory is what ingest --sync
	// mirrors to storage, so it should hold nothing else.
	Path      string `yaml:"path"`
	CacheSize int    `yaml:"cache_size"`
	// Prefix is the storage prefix the index directory is synced to.
	Prefix string `yaml:"prefix"`
}

// PromptsConfig points at an optional template override file.
type PromptsConfig struct {
	Path string `yaml:"path"`
}

// FormatConfig selects the merge formatter.
type FormatConfig struct {
	Kind    string        `yaml:"kind"` // canonical or command
	Command []string      `yaml:"command,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
}

// GenerationConfig tunes generation runs.
type GenerationConfig struct {
	TopK int `yaml:"top_k"`
	// Timeout bounds a whole run. Zero means no limit.
	Timeout time.Duration `yaml:"timeout"`
}

// IngestConfig tunes ingestion.
type IngestConfig struct {
	Summarize   bool   `yaml:"summarize"`
	Concurrency int    `yaml:"concurrency"`
	StripPrefix string `yaml:"strip_prefix"`
	// Prefix is the storage prefix holding files waiting to be ingested.
	Prefix  string `yaml:"prefix"`
	WorkDir string `yaml:"work_dir"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM:       llm.DefaultConfig(),
		Embedding: embedding.DefaultConfig(),
		Index: IndexConfig{
			Path:      ".apdev/index/index.db",
			CacheSize: 256,
			Prefix:    "index",
		},
		Storage:   storage.DefaultConfig(),
		Artifacts: artifact.DefaultConfig(),
		Format: FormatConfig{
			Kind:    "canonical",
			Timeout: 30 * time.Second,
		},
		Logging: logging.DefaultConfig(),
		Generation: GenerationConfig{
			TopK:    5,
			Timeout: 10 * time.Minute,
		},
		Ingest: IngestConfig{
			Summarize:   true,
			Concurrency: 4,
			Prefix:      "uningested",
			WorkDir:     ".apdev/work",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies .env
// and environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv sets variables from file without overriding the environment.
func loadDotEnv(file string) error {
	err := godotenv.Load(file)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", file, err)
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// applyEnvOverrides applies environment variable overrides. Provider
// selections are applied before keys so a key lands on the chosen provider.
func (c *Config) applyEnvOverrides() {
	setString(&c.LLM.Provider, "APDEV_LLM_PROVIDER")
	setString(&c.LLM.Model, "APDEV_LLM_MODEL")
	setString(&c.LLM.BaseURL, "APDEV_LLM_BASE_URL")
	setString(&c.Embedding.Provider, "APDEV_EMBEDDING_PROVIDER")
	setString(&c.Embedding.Model, "APDEV_EMBEDDING_MODEL")

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if c.LLM.Provider == "openai" {
			c.LLM.APIKey = key
		}
		if c.Embedding.Provider == "openai" {
			c.Embedding.APIKey = key
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if c.LLM.Provider == "gemini" {
			c.LLM.APIKey = key
		}
		if c.Embedding.Provider == "genai" {
			c.Embedding.APIKey = key
		}
	}

	setString(&c.Index.Path, "APDEV_INDEX_PATH")
	setString(&c.Artifacts.Driver, "APDEV_ARTIFACTS_DRIVER")
	setString(&c.Artifacts.DSN, "APDEV_ARTIFACTS_DSN")

	setString(&c.Storage.Provider, "APDEV_STORAGE_PROVIDER")
	setString(&c.Storage.Bucket, "APDEV_STORAGE_BUCKET")
	setString(&c.Storage.Endpoint, "APDEV_STORAGE_ENDPOINT")
	setString(&c.Storage.Region, "AWS_REGION")
	setString(&c.Storage.AccessKey, "AWS_ACCESS_KEY_ID")
	setString(&c.Storage.SecretKey, "AWS_SECRET_ACCESS_KEY")

	setString(&c.Logging.Level, "APDEV_LOG_LEVEL")
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// ValidProviders lists the supported LLM providers.
var ValidProviders = []string{"openai", "gemini", "fake"}

// Validate checks values that would otherwise fail deep inside a run.
// API keys are checked by the provider constructors.
func (c *Config) Validate() error {
	valid := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if c.Generation.TopK < 0 {
		return fmt.Errorf("generation.top_k must be >= 0, got %d", c.Generation.TopK)
	}
	if c.Generation.Timeout < 0 {
		return fmt.Errorf("generation.timeout must be >= 0, got %s", c.Generation.Timeout)
	}
	if c.Ingest.Concurrency < 1 {
		return fmt.Errorf("ingest.concurrency must be >= 1, got %d", c.Ingest.Concurrency)
	}
	if c.Format.Kind == "command" && len(c.Format.Command) == 0 {
		return errors.New("format.command is required when format.kind is command")
	}
	return nil
}
