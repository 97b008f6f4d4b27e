package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type AWSOptions struct {
	Region           string `env:"AWS_REGION" envDefault:"us-east-1"`
	EndpointOverride string `env:"AWS_ENDPOINT_OVERRIDE"`
}

type TableOptions struct {
	Orders      string `env:"ORDERS_TABLE" envDefault:"orders"`
	Products    string `env:"PRODUCTS_TABLE" envDefault:"products"`
	Users       string `env:"USERS_TABLE" envDefault:"users"`
	Idempotency string `env:"IDEMPOTENCY_TABLE" envDefault:"idempotency"`
}

type PaymentOptions struct {
	StripeSecretKey string        `env:"STRIPE_SECRET_KEY"`
	Currency        string        `env:"PAYMENT_CURRENCY" envDefault:"usd"`
	Timeout         time.Duration `env:"PAYMENT_TIMEOUT" envDefault:"10s"`
}

type Config struct {
	AWS      AWSOptions
	Tables   TableOptions
	Payments PaymentOptions

	Environment string `env:"APP_ENV" envDefault:"production"`
	Port        string `env:"PORT" envDefault:"5000"`
	RunLocal    bool   `env:"RUN_LOCAL" envDefault:"false"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	QueueURL       string        `env:"ORDERS_QUEUE_URL"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"48h"`
	StoreTimeout   time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`

	CORSAllowedOrigins  []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	CloudWatchNamespace string   `env:"CLOUDWATCH_NAMESPACE" envDefault:"ShopOrderflow"`
	MetricsPath         string   `env:"METRICS_PATH" envDefault:"/metrics"`
}

// Load reads the optional env files and then the process environment.
// Values already present in the environment win over the files.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive, got %s", c.StoreTimeout)
	}
	if c.Payments.Timeout <= 0 {
		return fmt.Errorf("PAYMENT_TIMEOUT must be positive, got %s", c.Payments.Timeout)
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be positive, got %s", c.IdempotencyTTL)
	}
	return nil
}

// Addr is the listen address for the local HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}
