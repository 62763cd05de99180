// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/dvloznov/ledger-assistant/internal/inference"
	"github.com/dvloznov/ledger-assistant/internal/inference/providers"
)

// Prefix is prepended to every environment variable name.
const Prefix = "APP_"

// Config is shared by every binary. Load checks only the format of what is
// set; each binary calls Require for the fields it cannot run without.
type Config struct {
	HTTPPort        string `validate:"required,numeric"`
	BotID           string
	DefaultCurrency string `validate:"required,len=3"`
	LogLevel        string `validate:"omitempty,oneof=trace debug info warn error"`
	LogFormat       string `validate:"omitempty,oneof=console json"`

	DatabaseDSN string

	Provider        string `validate:"omitempty,oneof=gemini openai anthropic"`
	GeminiModel     string
	GeminiAPIKey    string
	OpenAIBaseURL   string `validate:"omitempty,url"`
	OpenAIAPIKey    string
	OpenAIModel     string
	AnthropicAPIKey string
	AnthropicModel  string

	GCPProject      string
	InvoiceBucket   string
	VisionAPIKey    string
	BigQueryDataset string

	PubSubTopic        string
	PubSubSubscription string

	RedisAddr     string `validate:"omitempty,hostname_port"`
	RedisPassword string

	JWTSecret string
}

// Load reads an optional .env file and then the APP_* environment.
// Variables already set in the environment win over the file.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config.Load: reading env file: %w", err)
	}

	cfg := &Config{
		HTTPPort:        get("HTTP_PORT", "8080"),
		BotID:           get("BOT_ID", ""),
		DefaultCurrency: strings.ToUpper(get("DEFAULT_CURRENCY", inference.DefaultCurrency)),
		LogLevel:        strings.ToLower(get("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(get("LOG_FORMAT", "console")),

		DatabaseDSN: get("DATABASE_DSN", ""),

		Provider:        strings.ToLower(get("PROVIDER", string(inference.KindGemini))),
		GeminiModel:     get("GEMINI_MODEL", ""),
		GeminiAPIKey:    get("GEMINI_API_KEY", ""),
		OpenAIBaseURL:   get("OPENAI_BASE_URL", ""),
		OpenAIAPIKey:    get("OPENAI_API_KEY", ""),
		OpenAIModel:     get("OPENAI_MODEL", ""),
		AnthropicAPIKey: get("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  get("ANTHROPIC_MODEL", ""),

		GCPProject:      get("GCP_PROJECT", os.Getenv("GOOGLE_CLOUD_PROJECT")),
		InvoiceBucket:   get("INVOICE_BUCKET", ""),
		VisionAPIKey:    get("VISION_API_KEY", ""),
		BigQueryDataset: get("BIGQUERY_DATASET", "ledger"),

		PubSubTopic:        get("PUBSUB_TOPIC", ""),
		PubSubSubscription: get("PUBSUB_SUBSCRIPTION", ""),

		RedisAddr:     get("REDIS_ADDR", ""),
		RedisPassword: get("REDIS_PASSWORD", ""),

		JWTSecret: get("JWT_SECRET", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and reports every failing field.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("config.Validate: %w", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s%s (%s)", Prefix, envName(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("config.Validate: invalid settings: %s", strings.Join(fields, ", "))
}

// Require reports every named field that is empty. Field names are the Go
// names, errors use the APP_* variable names.
func (c *Config) Require(fields ...string) error {
	v := reflect.ValueOf(c).Elem()
	var missing []string
	for _, name := range fields {
		f := v.FieldByName(name)
		if !f.IsValid() {
			return fmt.Errorf("config.Require: unknown field %q", name)
		}
		if f.IsZero() {
			missing = append(missing, Prefix+envName(name))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("config.Require: missing settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ProviderKind returns the configured inference backend.
func (c *Config) ProviderKind() (inference.Kind, error) {
	return inference.ParseKind(c.Provider)
}

// ProviderSettings returns the credentials for providers.New.
func (c *Config) ProviderSettings() providers.Settings {
	return providers.Settings{
		GeminiAPIKey:    c.GeminiAPIKey,
		GeminiModel:     c.GeminiModel,
		OpenAIAPIKey:    c.OpenAIAPIKey,
		OpenAIBaseURL:   c.OpenAIBaseURL,
		OpenAIModel:     c.OpenAIModel,
		AnthropicAPIKey: c.AnthropicAPIKey,
		AnthropicModel:  c.AnthropicModel,
	}
}

func get(key, def string) string {
	if v, ok := os.LookupEnv(Prefix + key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// envName turns a Go field name such as OpenAIAPIKey into OPENAI_API_KEY.
func envName(field string) string {
	if name, ok := fieldEnv[field]; ok {
		return name
	}
	return strings.ToUpper(field)
}

var fieldEnv = map[string]string{
	"HTTPPort":           "HTTP_PORT",
	"BotID":              "BOT_ID",
	"DefaultCurrency":    "DEFAULT_CURRENCY",
	"LogLevel":           "LOG_LEVEL",
	"LogFormat":          "LOG_FORMAT",
	"DatabaseDSN":        "DATABASE_DSN",
	"Provider":           "PROVIDER",
	"OpenAIBaseURL":      "OPENAI_BASE_URL",
	"RedisAddr":          "REDIS_ADDR",
	"PubSubTopic":        "PUBSUB_TOPIC",
	"PubSubSubscription": "PUBSUB_SUBSCRIPTION",
	"GCPProject":         "GCP_PROJECT",
	"InvoiceBucket":      "INVOICE_BUCKET",
	"JWTSecret":          "JWT_SECRET",
}
