// Package config loads cyibot's runtime configuration from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/cyibot"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Environment string `validate:"required"`
	Slack       SlackConfig
	LLM         LLMConfig
	Directory   DirectoryConfig
	Vector      VectorConfig
	Router      RouterConfig
	Server      ServerConfig
	Logging     LoggingConfig
	// SchemaFile optionally replaces the built-in metadata schema.
	SchemaFile string
	// GlossaryFile optionally replaces the built-in directory glossary.
	GlossaryFile string
}

// SlackConfig holds the Socket Mode credentials
type SlackConfig struct {
	BotToken string
	AppToken string
}

// LLMConfig selects the language model and embedder
type LLMConfig struct {
	APIKey      string
	Model       string  `validate:"required"`
	Embedder    string  `validate:"required"`
	Temperature float64 `validate:"gte=0,lte=2"`
}

// DirectoryConfig locates the contact directory
type DirectoryConfig struct {
	Driver string `validate:"oneof=sqlite3 postgres memory"`
	DSN    string
	Table  string `validate:"required"`
	// TranslatorMode is "glossary" or "model".
	TranslatorMode string `validate:"oneof=glossary model"`
	// Watch reloads the memory driver's CSV when the file changes.
	Watch bool
}

// VectorConfig selects the document fragment store
type VectorConfig struct {
	Backend    string `validate:"oneof=memory sqlite chroma"`
	ChromaURL  string
	Collection string
	SeedFile   string
	// DSN is the sqlite database holding fragments for the sqlite backend.
	DSN string
	// CacheEntries bounds the embedding cache. Zero disables it.
	CacheEntries int           `validate:"gte=0"`
	CacheTTL     time.Duration `validate:"gte=0"`
	// CacheFile persists the embedding cache across restarts when set.
	CacheFile string
}

// RouterConfig holds retrieval and memory tunables
type RouterConfig struct {
	TopK        int           `validate:"gte=1,lte=50"`
	MinScore    float64       `validate:"gte=0,lte=1"`
	MaxTurns    int           `validate:"gte=1"`
	SessionTTL  time.Duration `validate:"gt=0"`
	MaxSessions int           `validate:"gte=1"`
	CallTimeout time.Duration `validate:"gte=0"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string `validate:"required"`
	CORSOrigins     []string
	RequestTimeout  time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	// JWTSecret, when set, requires HS256 bearer tokens on /v1 routes.
	JWTSecret string
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
}

var validate = validator.New()

// New loads configuration from the environment. Each env file is loaded if
// present; variables already set in the environment win.
func New(ctx context.Context, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Slack: SlackConfig{
			BotToken: getEnv("SLACK_BOT_TOKEN", ""),
			AppToken: getEnv("SLACK_APP_TOKEN", ""),
		},
		LLM: LLMConfig{
			APIKey:      getEnv("GEMINI_API_KEY", getEnv("GOOGLE_API_KEY", "")),
			Model:       getEnv("LLM_MODEL", "googleai/gemini-2.0-flash"),
			Embedder:    getEnv("EMBEDDER_MODEL", "googleai/text-embedding-004"),
			Temperature: getEnvAsFloat("LLM_TEMPERATURE", 0),
		},
		Directory: DirectoryConfig{
			Driver:         getEnv("DIRECTORY_DRIVER", "sqlite3"),
			DSN:            getEnv("DIRECTORY_DSN", "directory.db"),
			Table:          getEnv("DIRECTORY_TABLE", "Alumni"),
			TranslatorMode: getEnv("TRANSLATOR_MODE", "glossary"),
			Watch:          getEnvAsBool("DIRECTORY_WATCH", false),
		},
		Vector: VectorConfig{
			Backend:      getEnv("VECTOR_BACKEND", "memory"),
			ChromaURL:    getEnv("CHROMA_URL", "http://localhost:8000"),
			Collection:   getEnv("CHROMA_COLLECTION", "cyi_documents"),
			SeedFile:     getEnv("VECTOR_SEED_FILE", ""),
			DSN:          getEnv("VECTOR_DSN", "fragments.db"),
			CacheEntries: getEnvAsInt("EMBEDDING_CACHE_SIZE", 5000),
			CacheTTL:     getEnvAsDuration("EMBEDDING_CACHE_TTL", 24*time.Hour),
			CacheFile:    getEnv("EMBEDDING_CACHE_FILE", ""),
		},
		Router: RouterConfig{
			TopK:        getEnvAsInt("TOP_K", 6),
			MinScore:    getEnvAsFloat("MIN_SCORE", 0),
			MaxTurns:    getEnvAsInt("MAX_TURNS", cyibot.DefaultMaxTurns),
			SessionTTL:  getEnvAsDuration("SESSION_TTL", 2*time.Hour),
			MaxSessions: getEnvAsInt("MAX_SESSIONS", 10000),
			CallTimeout: getEnvAsDuration("CALL_TIMEOUT", 30*time.Second),
		},
		Server: ServerConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			CORSOrigins:     getEnvAsList("CORS_ORIGINS", []string{"*"}),
			RequestTimeout:  getEnvAsDuration("HTTP_REQUEST_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
			JWTSecret:       getEnv("HTTP_JWT_SECRET", ""),
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
		SchemaFile:   getEnv("SCHEMA_FILE", ""),
		GlossaryFile: getEnv("GLOSSARY_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return cyibot.NewConfigurationError(
				fmt.Sprintf("invalid %s: failed '%s' check", fe.Namespace(), fe.Tag()), err)
		}
		return cyibot.NewConfigurationError("invalid configuration", err)
	}

	if c.Directory.Driver != "memory" && c.Directory.DSN == "" {
		return cyibot.NewConfigurationError("DIRECTORY_DSN is required for driver "+c.Directory.Driver, nil)
	}
	if c.Vector.Backend == "chroma" && (c.Vector.ChromaURL == "" || c.Vector.Collection == "") {
		return cyibot.NewConfigurationError("CHROMA_URL and CHROMA_COLLECTION are required for the chroma backend", nil)
	}
	if c.Vector.Backend == "sqlite" && c.Vector.DSN == "" {
		return cyibot.NewConfigurationError("VECTOR_DSN is required for the sqlite backend", nil)
	}

	if c.IsProduction() {
		if err := c.RequireModel(); err != nil {
			return err
		}
		if err := c.RequireSlack(); err != nil {
			return err
		}
	}
	return nil
}

// RequireModel reports whether a language model can be reached.
func (c *Config) RequireModel() error {
	if c.LLM.APIKey == "" {
		return cyibot.NewConfigurationError("GEMINI_API_KEY or GOOGLE_API_KEY is required", nil)
	}
	return nil
}

// RequireSlack reports whether the Slack transport can start.
func (c *Config) RequireSlack() error {
	if c.Slack.BotToken == "" || c.Slack.AppToken == "" {
		return cyibot.NewConfigurationError("SLACK_BOT_TOKEN and SLACK_APP_TOKEN are required", nil)
	}
	if !strings.HasPrefix(c.Slack.AppToken, "xapp-") {
		return cyibot.NewConfigurationError("SLACK_APP_TOKEN must be an app-level token (xapp-...)", nil)
	}
	return nil
}

// SlackEnabled reports whether both Slack tokens are set.
func (c *Config) SlackEnabled() bool {
	return c.Slack.BotToken != "" && c.Slack.AppToken != ""
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// RouterOptions returns the router configuration.
func (c *Config) RouterOptions() cyibot.Config {
	cfg := cyibot.DefaultConfig()
	cfg.TopK = c.Router.TopK
	cfg.MaxTurns = c.Router.MaxTurns
	cfg.CallTimeout = c.Router.CallTimeout
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
