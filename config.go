package aspectscore

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EmbedderConfig selects and configures the embedding provider.
type EmbedderConfig struct {
	Provider  string        `koanf:"provider"`  // ollama, openai or gemini
	Model     string        `koanf:"model"`     // default bge-m3 for ollama
	Dimension int           `koanf:"dimension"` // default 1024
	Host      string        `koanf:"host"`      // ollama server URL
	APIKey    string        `koanf:"api_key"`
	BaseURL   string        `koanf:"base_url"` // openai-compatible or gemini endpoint
	Timeout   time.Duration `koanf:"timeout"`  // per attempt, default 30s
	RetryMax  int           `koanf:"retry_max"` // default 3; negative disables retries
}

// Retry returns the transport retry policy for this provider.
func (c EmbedderConfig) Retry() RetryPolicy {
	p := DefaultRetryPolicy()
	p.Max = max(c.RetryMax, 0)
	if c.Timeout > 0 {
		p.Timeout = c.Timeout
	}
	return p
}

// Config holds everything the CLI and MCP server need to build a Scorer.
type Config struct {
	DBPath      string         `koanf:"db_path"`      // default ./data/aspectscore.db
	AspectsPath string         `koanf:"aspects_path"` // default ./aspects.json
	Embedder    EmbedderConfig `koanf:"embedder"`
	Scoring     Params         `koanf:"scoring"`
}

// Configuration validation errors.
var (
	ErrMissingAPIKey   = errors.New("embedder api_key is required for this provider")
	ErrUnknownProvider = errors.New("unknown embedding provider")
)

// ApplyDefaults fills zero-valued fields with sensible defaults.
// Scoring parameters are defaulted as a whole when the pipeline is unset.
func (c *Config) ApplyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "./data/aspectscore.db"
	}
	if c.AspectsPath == "" {
		c.AspectsPath = "./aspects.json"
	}
	if c.Embedder.Provider == "" {
		c.Embedder.Provider = ProviderOllama
	}
	if c.Embedder.Model == "" && c.Embedder.Provider == ProviderOllama {
		c.Embedder.Model = "bge-m3"
	}
	if c.Embedder.Dimension == 0 {
		c.Embedder.Dimension = 1024
	}
	if c.Embedder.Timeout == 0 {
		c.Embedder.Timeout = 30 * time.Second
	}
	if c.Embedder.RetryMax == 0 {
		c.Embedder.RetryMax = 3
	}
	if c.Scoring.Pipeline == "" {
		c.Scoring = DefaultParams()
	}
}

// Validate returns every configuration problem found.
func (c *Config) Validate() []error {
	var errs []error
	switch c.Embedder.Provider {
	case ProviderOllama:
	case ProviderOpenAI, ProviderGemini:
		// the api key is checked by NewEmbedder, so read-only commands work without one
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownProvider, c.Embedder.Provider))
	}
	if c.Embedder.Dimension < 0 {
		errs = append(errs, fmt.Errorf("embedder dimension must be positive, got %d", c.Embedder.Dimension))
	}
	if err := c.Scoring.Validate(); err != nil {
		var merr *multierror.Error
		if errors.As(err, &merr) {
			errs = append(errs, merr.Errors...)
		} else {
			errs = append(errs, err)
		}
	}
	return errs
}

// LoadConfig reads configuration from an optional YAML file and the
// environment. Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
func LoadConfig(path string) (*Config, []error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", path, err)}
		}
	}

	cfg := &Config{Scoring: DefaultParams()}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, []error{fmt.Errorf("failed to decode config: %w", err)}
	}

	var loadErrs []error
	collect := func(err error) {
		if err != nil {
			loadErrs = append(loadErrs, err)
		}
	}

	cfg.DBPath = getEnvOr("ASPECTSCORE_DB_PATH", cfg.DBPath)
	cfg.AspectsPath = getEnvOr("ASPECTSCORE_ASPECTS_PATH", cfg.AspectsPath)

	e := &cfg.Embedder
	e.Provider = strings.ToLower(getEnvOr("ASPECTSCORE_EMBED_PROVIDER", e.Provider))
	e.Model = getEnvOr("ASPECTSCORE_EMBED_MODEL", e.Model)
	e.Host = getEnvOrMulti([]string{"ASPECTSCORE_EMBED_HOST", "OLLAMA_HOST"}, e.Host)
	e.BaseURL = getEnvOr("ASPECTSCORE_EMBED_BASE_URL", e.BaseURL)
	switch e.Provider {
	case ProviderOpenAI:
		e.APIKey = getEnvOrMulti([]string{"ASPECTSCORE_EMBED_API_KEY", "OPENAI_API_KEY"}, e.APIKey)
	case ProviderGemini:
		e.APIKey = getEnvOrMulti([]string{"ASPECTSCORE_EMBED_API_KEY", "GEMINI_API_KEY"}, e.APIKey)
	default:
		e.APIKey = getEnvOr("ASPECTSCORE_EMBED_API_KEY", e.APIKey)
	}
	var err error
	e.Dimension, err = getEnvInt("ASPECTSCORE_EMBED_DIMENSION", e.Dimension)
	collect(err)
	e.RetryMax, err = getEnvInt("ASPECTSCORE_EMBED_RETRY_MAX", e.RetryMax)
	collect(err)
	if val := os.Getenv("ASPECTSCORE_EMBED_TIMEOUT"); val != "" {
		d, perr := time.ParseDuration(val)
		if perr != nil {
			collect(fmt.Errorf("ASPECTSCORE_EMBED_TIMEOUT must be a duration: %w", perr))
		} else {
			e.Timeout = d
		}
	}

	s := &cfg.Scoring
	s.ApplyModeFlags(
		os.Getenv("ASPECTSCORE_PIPELINE"),
		os.Getenv("ASPECTSCORE_DOT_MODE"),
		os.Getenv("ASPECTSCORE_CALIBRATION"),
		os.Getenv("ASPECTSCORE_LABEL_MODE"),
	)
	for env, dst := range map[string]*float64{
		"ASPECTSCORE_WEIGHT":        &s.Weight,
		"ASPECTSCORE_TEMPERATURE":   &s.Temperature,
		"ASPECTSCORE_BIAS":          &s.Bias,
		"ASPECTSCORE_GAMMA":         &s.Gamma,
		"ASPECTSCORE_TRIM_FRACTION": &s.TrimFraction,
		"ASPECTSCORE_TAU":           &s.Tau,
	} {
		*dst, err = getEnvFloat(env, *dst)
		collect(err)
	}

	cfg.ApplyDefaults()
	return cfg, append(loadErrs, cfg.Validate()...)
}

func getEnvOr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvOrMulti(keys []string, fallback string) string {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return fallback, fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	return i, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback, fmt.Errorf("%s must be a valid float: %w", key, err)
	}
	return f, nil
}
