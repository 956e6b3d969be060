package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string `validate:"required,numeric"`
	Environment string `validate:"oneof=development staging production test"`
	LogLevel    string `validate:"oneof=debug info warn error"`
	Database    DatabaseConfig
	Marketplace MarketplaceConfig
	Carrier     CarrierConfig
	Workflow    WorkflowConfig
	Events      EventsConfig
	Tracing     TracingConfig
}

type DatabaseConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required,numeric"`
	User     string `validate:"required"`
	Password string
	DBName   string `validate:"required"`
	SSLMode  string `validate:"oneof=disable require verify-ca verify-full"`
}

// DSN builds the lib/pq connection string
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     d.DBName,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

// MarketplaceConfig is used to call the marketplace backend for orders, deposits, shipments and payments
type MarketplaceConfig struct {
	BaseURL          string `validate:"required,url"`
	APIKey           string
	PaymentReturnURL string `validate:"omitempty,url"` // default return URL for gateway sessions
}

// CarrierConfig is used to create and track carrier shipments
type CarrierConfig struct {
	BaseURL string `validate:"required,url"`
	Token   string
	ShopID  string
}

type WorkflowConfig struct {
	ActionTimeout       time.Duration `validate:"gt=0"`
	TrackingPollTimeout time.Duration `validate:"gt=0"`
	TrackingConcurrency int           `validate:"min=1,max=64"`
	TrackingMaxRetries  int           `validate:"min=0,max=10"`
	// TrackingRefreshInterval drives the background refresher; zero disables it
	TrackingRefreshInterval time.Duration `validate:"min=0"`
	// TrackingLookback bounds which shipped orders the refresher keeps polling
	TrackingLookback time.Duration `validate:"gt=0"`
}

type EventsConfig struct {
	NATSURL     string `validate:"omitempty,url"`
	NATSSubject string `validate:"required"`
	WebhookURL  string `validate:"omitempty,url"`
}

type TracingConfig struct {
	ExporterURL string // host:port of the OTLP/HTTP collector; empty disables export
	SampleRate  float64 `validate:"min=0,max=1"`
	ServiceName string  `validate:"required"`
}

func Load() (*Config, error) {
	// .env values land in the process env; real env vars win
	_ = godotenv.Load()

	viper.SetConfigType("env")
	viper.SetConfigName(".env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")

	// Set defaults
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("ACTION_TIMEOUT", 20*time.Second)
	viper.SetDefault("TRACKING_POLL_TIMEOUT", 15*time.Second)
	viper.SetDefault("TRACKING_REFRESH_INTERVAL", time.Duration(0))
	viper.SetDefault("TRACKING_LOOKBACK", 14*24*time.Hour)
	viper.SetDefault("TRACKING_CONCURRENCY", 4)
	viper.SetDefault("TRACKING_MAX_RETRIES", 3)
	viper.SetDefault("OTEL_SAMPLE_RATE", 1.0)

	// Read from environment variables
	viper.AutomaticEnv()

	// Try to read .env file (optional)
	if err := viper.ReadInConfig(); err != nil {
		// It's okay if .env doesn't exist, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{
		Port:        getEnvOrViper("PORT", "8080"),
		Environment: getEnvOrViper("ENVIRONMENT", "development"),
		LogLevel:    strings.ToLower(getEnvOrViper("LOG_LEVEL", "info")),
		Database:    databaseFromEnv(),
		Marketplace: MarketplaceConfig{
			BaseURL:          strings.TrimSpace(getEnvOrViper("MARKETPLACE_API_URL", "")),
			APIKey:           strings.TrimSpace(getEnvOrViper("MARKETPLACE_API_KEY", "")),
			PaymentReturnURL: strings.TrimSpace(getEnvOrViper("PAYMENT_RETURN_URL", "")),
		},
		Carrier: CarrierConfig{
			BaseURL: strings.TrimSpace(getEnvOrViper("CARRIER_API_URL", "")),
			Token:   strings.TrimSpace(getEnvOrViper("CARRIER_TOKEN", "")),
			ShopID:  strings.TrimSpace(getEnvOrViper("CARRIER_SHOP_ID", "")),
		},
		Workflow: WorkflowConfig{
			// malformed values read as zero and fail validation below
			ActionTimeout:           viper.GetDuration("ACTION_TIMEOUT"),
			TrackingPollTimeout:     viper.GetDuration("TRACKING_POLL_TIMEOUT"),
			TrackingConcurrency:     viper.GetInt("TRACKING_CONCURRENCY"),
			TrackingMaxRetries:      viper.GetInt("TRACKING_MAX_RETRIES"),
			TrackingRefreshInterval: viper.GetDuration("TRACKING_REFRESH_INTERVAL"),
			TrackingLookback:        viper.GetDuration("TRACKING_LOOKBACK"),
		},
		Events: EventsConfig{
			NATSURL:     strings.TrimSpace(getEnvOrViper("NATS_URL", "")),
			NATSSubject: getEnvOrViper("NATS_SUBJECT", "orderflow.actions"),
			WebhookURL:  strings.TrimSpace(getEnvOrViper("EVENTS_WEBHOOK_URL", "")),
		},
		Tracing: TracingConfig{
			ExporterURL: strings.TrimSpace(getEnvOrViper("OTEL_EXPORTER_URL", "")),
			SampleRate:  viper.GetFloat64("OTEL_SAMPLE_RATE"),
			ServiceName: getEnvOrViper("OTEL_SERVICE_NAME", "orderflow"),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDatabase reads only the DB_* settings, for tools that call no upstream service
func LoadDatabase() (DatabaseConfig, error) {
	_ = godotenv.Load()
	viper.AutomaticEnv()

	cfg := databaseFromEnv()
	if err := validator.New().Struct(cfg); err != nil {
		return DatabaseConfig{}, fmt.Errorf("invalid database configuration: %w", err)
	}
	return cfg, nil
}

func databaseFromEnv() DatabaseConfig {
	return DatabaseConfig{
		Host:     getEnvOrViper("DB_HOST", "localhost"),
		Port:     getEnvOrViper("DB_PORT", "5432"),
		User:     getEnvOrViper("DB_USER", "postgres"),
		Password: getEnvOrViper("DB_PASSWORD", "postgres"),
		DBName:   getEnvOrViper("DB_NAME", "orderflow"),
		SSLMode:  getEnvOrViper("DB_SSLMODE", "disable"),
	}
}

// Validate checks struct tags and reports the failing fields by name
func Validate(cfg *Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func getEnvOrViper(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	return defaultValue
}
