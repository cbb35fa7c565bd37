package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	DBSource    string `envconfig:"DB_SOURCE"`
	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`
	Port        string `envconfig:"SERVER_PORT" default:"8080"`
	Env         string `envconfig:"ENVIRONMENT" default:"development"`

	// FallbackProviderID is the platform provider assigned when no
	// provider is free. The server refuses to start without it.
	FallbackProviderID string `envconfig:"FALLBACK_PROVIDER_ID" required:"true"`

	// Match requests go through RabbitMQ when RABBIT_URL is set and are
	// dispatched in process otherwise.
	RabbitURL     string `envconfig:"RABBIT_URL"`
	MatchExchange string `envconfig:"MATCH_EXCHANGE" default:"booking.exchange"`
	MatchQueue    string `envconfig:"MATCH_QUEUE" default:"booking.match.q"`

	// Notifications go to Kafka when KAFKA_BROKERS is set and to the log
	// otherwise.
	KafkaBrokers      []string `envconfig:"KAFKA_BROKERS"`
	NotificationTopic string   `envconfig:"NOTIFICATION_TOPIC" default:"aid.notifications"`

	OutboxInterval time.Duration `envconfig:"OUTBOX_INTERVAL" default:"2s"`
	OutboxBatch    int           `envconfig:"OUTBOX_BATCH" default:"50"`

	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads the configuration from the environment, after applying a
// .env file in the working directory if there is one.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	switch cfg.StoreDriver {
	case DriverPostgres:
		if cfg.DBSource == "" {
			return nil, fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case DriverMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER %q: want %s or %s", cfg.StoreDriver, DriverPostgres, DriverMemory)
	}
	if cfg.FallbackProviderID == "" {
		return nil, fmt.Errorf("FALLBACK_PROVIDER_ID environment variable is required")
	}
	if cfg.OutboxInterval <= 0 {
		return nil, fmt.Errorf("OUTBOX_INTERVAL must be positive, got %s", cfg.OutboxInterval)
	}

	return &cfg, nil
}

func (c *Config) Production() bool {
	return c.Env == "production"
}
