// Package config loads runtime settings from defaults, an optional YAML
// profile file and environment variables, in increasing precedence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/escograph/internal/models"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Embedding providers.
const (
	ProviderNone    = "none"
	ProviderOllama  = "ollama"
	ProviderOpenAI  = "openai"
	ProviderBedrock = "bedrock"
)

// RequiredFiles must exist in DataDir before an ingestion can start.
var RequiredFiles = []string{
	"occupations_en.csv",
	"skills_en.csv",
	"ISCOGroups_en.csv",
	"broaderRelationsOccPillar_en.csv",
	"occupationSkillRelations_en.csv",
}

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL        string `yaml:"surrealdb_url"`
	SurrealDBNamespace  string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase   string `yaml:"surrealdb_database"`
	SurrealDBUser       string `yaml:"surrealdb_user"`
	SurrealDBPass       string `yaml:"surrealdb_pass"`
	SurrealDBAuthLevel  string `yaml:"surrealdb_auth_level"`
	SurrealDBMaxRetries int    `yaml:"surrealdb_max_retries"`

	// Embeddings
	EmbedProvider  string `yaml:"embed_provider"`
	EmbedModel     string `yaml:"embed_model"`
	EmbedDimension int    `yaml:"embed_dimension"`
	OllamaHost     string `yaml:"ollama_host"`
	OpenAIAPIKey   string `yaml:"-"`
	AWSRegion      string `yaml:"aws_region"`

	// EmbedRateLimit caps provider requests per second. Zero is unlimited.
	EmbedRateLimit float64 `yaml:"embed_rate_limit"`

	// Ingestion
	DataDir            string        `yaml:"data_dir"`
	BatchSize          int           `yaml:"batch_size"`
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`
	ClassesToIngest    []string      `yaml:"classes_to_ingest"`
	ForceReingest      bool          `yaml:"force_reingest"`

	// Postings enriched in parallel by enrich --file.
	EnrichConcurrency int `yaml:"enrich_concurrency"`

	// Readiness and completion waits
	ConnectRetries       int           `yaml:"connect_retries"`
	ConnectRetryInterval time.Duration `yaml:"connect_retry_interval"`
	WaitTimeout          time.Duration `yaml:"wait_timeout"`
	WaitPollInterval     time.Duration `yaml:"wait_poll_interval"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`

	// Mode detection
	DockerEnv      bool `yaml:"-"`
	NonInteractive bool `yaml:"non_interactive"`

	// Profile is the YAML profile that was applied, if any.
	Profile string `yaml:"-"`
}

// stdinIsTerminal is replaced in tests.
var stdinIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "esco",
		SurrealDBDatabase:  "taxonomy",
		SurrealDBUser:      "root",
		SurrealDBPass:      "root",
		SurrealDBAuthLevel: "root",

		EmbedProvider:  ProviderNone,
		EmbedModel:     "all-minilm:l6-v2",
		EmbedDimension: 384,
		OllamaHost:     "http://localhost:11434",
		AWSRegion:      "eu-central-1",

		DataDir:            "data/esco",
		BatchSize:          100,
		StalenessThreshold: time.Hour,
		ClassesToIngest:    append([]string(nil), models.DefaultClasses...),
		EnrichConcurrency:  4,

		ConnectRetries:       30,
		ConnectRetryInterval: 2 * time.Second,
		WaitTimeout:          2 * time.Hour,
		WaitPollInterval:     10 * time.Second,

		LogFile:  "/tmp/escograph.log",
		LogLevel: slog.LevelInfo,
	}
}

// Load applies, in order: defaults, the profile from the YAML file named by
// ESCO_CONFIG_PATH (profile ESCO_PROFILE, default "default"), then env vars.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("ESCO_CONFIG_PATH"); path != "" {
		profile := getEnv("ESCO_PROFILE", "default")
		if err := cfg.applyFile(path, profile); err != nil {
			return cfg, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyFile overlays one profile of a YAML file of the form
//
//	profiles:
//	  default: {batch_size: 100}
//	  docker:  {data_dir: /data}
func (c *Config) applyFile(path, profile string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var file struct {
		Profiles map[string]yaml.Node `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	node, ok := file.Profiles[profile]
	if !ok {
		return fmt.Errorf("config %s: profile %q not found", path, profile)
	}
	// Decoding into the populated struct keeps fields the profile omits.
	if err := node.Decode(c); err != nil {
		return fmt.Errorf("config %s: profile %q: %w", path, profile, err)
	}
	c.Profile = profile
	return nil
}

func (c *Config) applyEnv() {
	envString("SURREALDB_URL", &c.SurrealDBURL)
	envString("SURREALDB_NAMESPACE", &c.SurrealDBNamespace)
	envString("SURREALDB_DATABASE", &c.SurrealDBDatabase)
	envString("SURREALDB_USER", &c.SurrealDBUser)
	envString("SURREALDB_PASS", &c.SurrealDBPass)
	envString("SURREALDB_AUTH_LEVEL", &c.SurrealDBAuthLevel)
	envInt("SURREALDB_MAX_RETRIES", &c.SurrealDBMaxRetries)

	envString("ESCO_EMBED_PROVIDER", &c.EmbedProvider)
	envString("ESCO_EMBED_MODEL", &c.EmbedModel)
	envInt("ESCO_EMBED_DIMENSION", &c.EmbedDimension)
	envString("OLLAMA_HOST", &c.OllamaHost)
	envString("OPENAI_API_KEY", &c.OpenAIAPIKey)
	envString("AWS_REGION", &c.AWSRegion)
	envFloat("ESCO_EMBED_RATE_LIMIT", &c.EmbedRateLimit)

	envString("ESCO_DATA_DIR", &c.DataDir)
	envInt("ESCO_BATCH_SIZE", &c.BatchSize)
	envDuration("ESCO_STALENESS_THRESHOLD", &c.StalenessThreshold)
	if v := os.Getenv("ESCO_CLASSES"); v != "" {
		c.ClassesToIngest = splitList(v)
	}
	envBool("ESCO_FORCE_REINGEST", &c.ForceReingest)
	envInt("ESCO_ENRICH_CONCURRENCY", &c.EnrichConcurrency)

	envInt("ESCO_CONNECT_RETRIES", &c.ConnectRetries)
	envDuration("ESCO_CONNECT_RETRY_INTERVAL", &c.ConnectRetryInterval)
	envDuration("ESCO_WAIT_TIMEOUT", &c.WaitTimeout)
	envDuration("ESCO_WAIT_POLL_INTERVAL", &c.WaitPollInterval)

	envString("ESCO_LOG_FILE", &c.LogFile)
	if v := os.Getenv("ESCO_LOG_LEVEL"); v != "" {
		c.LogLevel = parseLogLevel(v)
	}

	envBool("DOCKER_ENV", &c.DockerEnv)
	envBool("NON_INTERACTIVE", &c.NonInteractive)
}

// IsInteractiveMode reports whether a human can answer prompts: stdin is
// a terminal and neither DOCKER_ENV nor NON_INTERACTIVE is set.
func (c Config) IsInteractiveMode() bool {
	if c.DockerEnv || c.NonInteractive {
		return false
	}
	return stdinIsTerminal()
}

// EmbeddingsEnabled reports whether objects get vectors during ingestion.
func (c Config) EmbeddingsEnabled() bool {
	return c.EmbedProvider != "" && c.EmbedProvider != ProviderNone
}

// Validate checks the settings that can be verified without I/O.
func (c Config) Validate() *models.ValidationResult {
	res := models.NewValidationResult()

	res.AddCheck("batch_size")
	if c.BatchSize <= 0 {
		res.AddError("config", "batch size must be positive, got %d", c.BatchSize)
	}

	res.AddCheck("staleness_threshold")
	if c.StalenessThreshold <= 0 {
		res.AddError("config", "staleness threshold must be positive, got %s", c.StalenessThreshold)
	}

	res.AddCheck("classes")
	if len(c.ClassesToIngest) == 0 {
		res.AddError("config", "no classes configured")
	}
	for _, cls := range c.ClassesToIngest {
		if !models.IsKnownClass(cls) {
			res.AddError("config", "unknown class %q", cls)
		}
	}

	res.AddCheck("embeddings")
	switch c.EmbedProvider {
	case "", ProviderNone:
		res.AddWarning("embeddings", "embeddings disabled; semantic search will return no results")
	case ProviderOllama, ProviderOpenAI, ProviderBedrock:
		if c.EmbedDimension <= 0 {
			res.AddError("embeddings", "embedding dimension must be positive, got %d", c.EmbedDimension)
		}
		if c.EmbedProvider == ProviderOpenAI && c.OpenAIAPIKey == "" {
			res.AddError("embeddings", "OPENAI_API_KEY required for the openai provider")
		}
		if c.EmbedRateLimit < 0 {
			res.AddError("embeddings", "embedding rate limit must not be negative, got %g", c.EmbedRateLimit)
		}
	default:
		res.AddError("embeddings", "unsupported embedding provider %q", c.EmbedProvider)
	}

	res.AddSuccess("config", "batch size %d, staleness threshold %s", c.BatchSize, c.StalenessThreshold)
	res.AddSuccess("embeddings", "%s (%s, %d dims)", c.EmbedProvider, c.EmbedModel, c.EmbedDimension)
	return res
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring invalid integer env var", "key", key, "value", v)
		return
	}
	*dst = n
}

func envFloat(key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring invalid number env var", "key", key, "value", v)
		return
	}
	*dst = f
}

// envDuration accepts Go durations ("90s") or plain seconds ("3600").
func envDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return
	}
	slog.Warn("ignoring invalid duration env var", "key", key, "value", v)
}

func envBool(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		slog.Warn("ignoring invalid boolean env var", "key", key, "value", v)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
