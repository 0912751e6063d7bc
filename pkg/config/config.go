// Package config loads process configuration from the environment and an
// optional .env file, and validates it before anything connects out.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	BackendQdrant = "qdrant"
	BackendMemory = "memory"

	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config is the validated runtime configuration. The env tag names the
// variable each field is read from and is used in validation messages.
type Config struct {
	QdrantURL        string `env:"QDRANT_URL" validate:"required_if=IndexBackend qdrant,omitempty,hostname_port"`
	QdrantAPIKey     string `env:"QDRANT_API_KEY"`
	QdrantCollection string `env:"QDRANT_COLLECTION" validate:"required"`
	QdrantInsecure   bool   `env:"QDRANT_INSECURE"`
	IndexBackend     string `env:"INDEX_BACKEND" validate:"oneof=qdrant memory"`
	IndexMetric      string `env:"INDEX_METRIC" validate:"oneof=cosine dot euclid"`

	OllamaURL        string  `env:"OLLAMA_URL" validate:"required,url"`
	CaptionModel     string  `env:"CAPTION_MODEL" validate:"required"`
	CaptionMaxTokens int     `env:"CAPTION_MAX_TOKENS" validate:"min=1,max=512"`
	CaptionRPS       float64 `env:"CAPTION_RPS" validate:"gte=0"`

	EmbedProvider   string `env:"EMBED_PROVIDER" validate:"oneof=ollama openai"`
	EmbedModel      string `env:"EMBED_MODEL" validate:"required"`
	EmbedDimensions int    `env:"EMBED_DIMENSIONS" validate:"min=1"`
	EmbedCacheSize  int    `env:"EMBED_CACHE_SIZE" validate:"gte=0"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY" validate:"required_if=EmbedProvider openai"`

	Neo4jURL  string `env:"NEO4J_URL" validate:"omitempty,url"`
	Neo4jUser string `env:"NEO4J_USER"`
	Neo4jPass string `env:"NEO4J_PASS"`
	NATSURL   string `env:"NATS_URL" validate:"omitempty,url"`

	// ImageDir confines paths ingested through the API and NATS.
	ImageDir   string `env:"IMAGE_DIR" validate:"required"`
	CORSOrigin string `env:"CORS_ORIGIN" validate:"required"`
	Port       string `env:"PORT" validate:"required,numeric"`
}

// CatalogEnabled reports whether a Neo4j catalog is configured.
func (c *Config) CatalogEnabled() bool { return c.Neo4jURL != "" }

// EventsEnabled reports whether NATS is configured.
func (c *Config) EventsEnabled() bool { return c.NATSURL != "" }

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	validate.RegisterStructValidation(validateQdrantAuth, Config{})
}

// A remote Qdrant needs an API key unless the connection is explicitly
// plaintext.
func validateQdrantAuth(sl validator.StructLevel) {
	c := sl.Current().Interface().(Config)
	if c.IndexBackend == BackendQdrant && !c.QdrantInsecure && c.QdrantAPIKey == "" {
		sl.ReportError(c.QdrantAPIKey, "QDRANT_API_KEY", "QdrantAPIKey", "required_unless_insecure", "")
	}
}

// Load reads .env (if present) and the process environment, applies defaults
// and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var errs []error
	provider := strings.ToLower(getEnv("EMBED_PROVIDER", ProviderOllama))
	cfg := &Config{
		QdrantURL:        os.Getenv("QDRANT_URL"),
		QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "image-memory"),
		QdrantInsecure:   getBool("QDRANT_INSECURE", false, &errs),
		IndexBackend:     strings.ToLower(getEnv("INDEX_BACKEND", BackendQdrant)),
		IndexMetric:      strings.ToLower(getEnv("INDEX_METRIC", "cosine")),
		OllamaURL:        getEnv("OLLAMA_URL", "http://localhost:11434"),
		CaptionModel:     getEnv("CAPTION_MODEL", "llava"),
		CaptionMaxTokens: getInt("CAPTION_MAX_TOKENS", 50, &errs),
		CaptionRPS:       getFloat("CAPTION_RPS", 0, &errs),
		EmbedProvider:    provider,
		EmbedModel:       getEnv("EMBED_MODEL", defaultEmbedModel(provider)),
		EmbedDimensions:  getInt("EMBED_DIMENSIONS", 384, &errs),
		EmbedCacheSize:   getInt("EMBED_CACHE_SIZE", 1024, &errs),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		Neo4jURL:         os.Getenv("NEO4J_URL"),
		Neo4jUser:        getEnv("NEO4J_USER", "neo4j"),
		Neo4jPass:        os.Getenv("NEO4J_PASS"),
		NATSURL:          os.Getenv("NATS_URL"),
		ImageDir:         getEnv("IMAGE_DIR", "./images"),
		CORSOrigin:       getEnv("CORS_ORIGIN", "*"),
		Port:             getEnv("PORT", "8080"),
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field rule and reports all violations at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return fe.Field() + " is required"
	case "required_unless_insecure":
		return fe.Field() + " is required unless QDRANT_INSECURE=true"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value())
	case "min", "gte":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be <= %s", fe.Field(), fe.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port, got %q", fe.Field(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

func defaultEmbedModel(provider string) string {
	if provider == ProviderOpenAI {
		return "text-embedding-3-small"
	}
	return "all-minilm"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int, errs *[]error) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: not an integer: %q", key, v))
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64, errs *[]error) float64 {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: not a number: %q", key, v))
		return fallback
	}
	return f
}

func getBool(key string, fallback bool, errs *[]error) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: not a boolean: %q", key, v))
		return fallback
	}
	return b
}
