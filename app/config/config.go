package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	// this will automatically load your .env file:
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Auth       AuthConfig
	DB         PostgresConfig
	Secrets    SecretsConfig
	Completion CompletionConfig
	Voice      VoiceConfig
	Stripe     StripeConfig
}

type AuthConfig struct {
	Issuer   string
	Audience string
}

type PostgresConfig struct {
	Username string
	Password string
	URL      string
	Port     string
	Database string
}

// SecretsConfig locates the anonymization salt and handle sealing key.
// When ARN is set they are fetched from AWS Secrets Manager; otherwise
// AnonSalt/HandleKey hold the env-provided encoded values directly.
type SecretsConfig struct {
	ARN       string
	AnonSalt  string
	HandleKey string
}

type CompletionConfig struct {
	BaseURL     string
	APIKey      string
	AssistantID string
	PollMs      int
	BudgetSec   int
	DocBudget   int
}

type VoiceConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Auth: AuthConfig{
			Issuer:   os.Getenv("AUTH_ISSUER"),
			Audience: os.Getenv("AUTH_AUDIENCE"),
		},
		DB: PostgresConfig{
			Username: os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PWD"),
			URL:      os.Getenv("POSTGRES_URL"),
			Port:     os.Getenv("POSTGRES_PORT"),
			Database: os.Getenv("POSTGRES_DB"),
		},
		Secrets: SecretsConfig{
			ARN:       os.Getenv("SECRETS_ARN"),
			AnonSalt:  os.Getenv("ANON_SALT"),
			HandleKey: os.Getenv("HANDLE_KEY"),
		},
		Completion: CompletionConfig{
			BaseURL:     strings.TrimRight(os.Getenv("COMPLETION_BASE_URL"), "/"),
			APIKey:      os.Getenv("COMPLETION_API_KEY"),
			AssistantID: os.Getenv("COMPLETION_ASSISTANT_ID"),
			PollMs:      intEnv("COMPLETION_POLL_MS", 800),
			BudgetSec:   intEnv("COMPLETION_BUDGET_SEC", 45),
			DocBudget:   intEnv("COMPLETION_DOC_BUDGET_SEC", 60),
		},
		Voice: VoiceConfig{
			BaseURL: strings.TrimRight(os.Getenv("VOICE_BASE_URL"), "/"),
			APIKey:  os.Getenv("VOICE_API_KEY"),
			Model:   os.Getenv("VOICE_MODEL"),
		},
		Stripe: StripeConfig{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		},
	}

	if cfg.Completion.BaseURL == "" {
		return nil, errors.New("COMPLETION_BASE_URL must be set")
	}
	if cfg.Voice.BaseURL == "" {
		cfg.Voice.BaseURL = cfg.Completion.BaseURL
	}
	if cfg.Voice.APIKey == "" {
		cfg.Voice.APIKey = cfg.Completion.APIKey
	}

	return cfg, nil
}

func intEnv(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
