package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"go.uber.org/multierr"
)

// Default configuration values
const (
	DefaultPort            = "3000"
	DefaultDataDir         = "./data"
	DefaultTransactionsDir = "./data/transactions"

	// EnvPrefix scopes environment overrides, e.g. QRPAY_GATEWAY__BASE_URL.
	EnvPrefix = "QRPAY_"
)

// DefaultConfig is loaded before any file or environment override.
var DefaultConfig = []byte(`
application: "qrpay"

logger:
  level: "info"
  encoding: "logfmt"

is_prod_mode: false

server:
  port: "3000"
  tls: false
  website_name: ""

data_dir: "./data"
transactions_dir: "./data/transactions"

gateway:
  base_url: "http://localhost:4000"
  api_key: ""
  project_id: ""
  request_timeout: "15s"
  approved_code: "00"

payment:
  countdown_seconds: 300
  tick_interval: "1s"
  heartbeat_timeout: "45s"

store:
  driver: "file"

redis:
  uri: "localhost:6379"
  password: ""

recorders:
  csv: true
  mongo:
    enabled: false
    uri: "mongodb://localhost:27017"
    database: "qrpay"
    collection: "payment_outcomes"
  kafka:
    enabled: false
    brokers:
      - "localhost:9092"
    topic: "payment-outcomes"

sandbox:
  enabled: false
  port: "4000"
  channel_timeout: "120s"
  heartbeat_interval: "15s"
  decline_above: "1000"
`)

// AppConfig represents the application configuration
type AppConfig struct {
	Application     string    `koanf:"application"`
	Logger          Logger    `koanf:"logger"`
	IsProdMode      bool      `koanf:"is_prod_mode"`
	Server          Server    `koanf:"server"`
	DataDir         string    `koanf:"data_dir"`
	TransactionsDir string    `koanf:"transactions_dir"`
	Gateway         Gateway   `koanf:"gateway"`
	Payment         Payment   `koanf:"payment"`
	Store           Store     `koanf:"store"`
	Redis           Redis     `koanf:"redis"`
	Recorders       Recorders `koanf:"recorders"`
	Sandbox         Sandbox   `koanf:"sandbox"`
}

type Logger struct {
	Level    string `koanf:"level"`
	Encoding string `koanf:"encoding"`
}

type Server struct {
	Port string `koanf:"port"`
	// TLS serves HTTPS with a self-signed certificate for local testing.
	TLS         bool   `koanf:"tls"`
	WebsiteName string `koanf:"website_name"`
}

// Gateway holds the payment gateway endpoint and its fixed header credentials.
type Gateway struct {
	BaseURL        string        `koanf:"base_url"`
	APIKey         string        `koanf:"api_key"`
	ProjectID      string        `koanf:"project_id"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	ApprovedCode   string        `koanf:"approved_code"`
}

type Payment struct {
	CountdownSeconds int           `koanf:"countdown_seconds"`
	TickInterval     time.Duration `koanf:"tick_interval"`
	HeartbeatTimeout time.Duration `koanf:"heartbeat_timeout"`
}

// Store selects where the resumable retrieval reference is kept: "file" or "redis".
type Store struct {
	Driver string `koanf:"driver"`
}

type Redis struct {
	URI      string `koanf:"uri"`
	Password string `koanf:"password"`
}

type Recorders struct {
	CSV   bool  `koanf:"csv"`
	Mongo Mongo `koanf:"mongo"`
	Kafka Kafka `koanf:"kafka"`
}

type Mongo struct {
	Enabled    bool   `koanf:"enabled"`
	URI        string `koanf:"uri"`
	Database   string `koanf:"database"`
	Collection string `koanf:"collection"`
}

type Kafka struct {
	Enabled bool     `koanf:"enabled"`
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

type Sandbox struct {
	Enabled           bool          `koanf:"enabled"`
	Port              string        `koanf:"port"`
	ChannelTimeout    time.Duration `koanf:"channel_timeout"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	DeclineAbove      string        `koanf:"decline_above"`
}

// Config holds the application configuration
var Config AppConfig

// Load builds the configuration from the embedded defaults, the optional YAML
// file at path and QRPAY_ environment overrides, then applies secrets.
func Load(path string) (*koanf.Koanf, AppConfig, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(DefaultConfig), yaml.Parser()); err != nil {
		return nil, AppConfig{}, fmt.Errorf("error parsing default configuration: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, AppConfig{}, fmt.Errorf("error reading configuration file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, AppConfig{}, fmt.Errorf("error reading configuration file: %w", err)
		}
	}

	envKey := func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, AppConfig{}, fmt.Errorf("error reading environment overrides: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, AppConfig{}, fmt.Errorf("error parsing configuration: %w", err)
	}

	cfg = LoadSecrets(cfg)
	applyFallbacks(&cfg)
	return k, cfg, nil
}

// LoadSecrets overrides the gateway credentials from the environment.
func LoadSecrets(cfg AppConfig) AppConfig {
	if apiKey := os.Getenv("GATEWAY_API_KEY"); apiKey != "" {
		cfg.Gateway.APIKey = apiKey
	}
	if projectID := os.Getenv("GATEWAY_PROJECT_ID"); projectID != "" {
		cfg.Gateway.ProjectID = projectID
	}
	if os.Getenv("IS_PROD_MODE") == "true" {
		cfg.IsProdMode = true
	}
	return cfg
}

func applyFallbacks(cfg *AppConfig) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = DefaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	if cfg.TransactionsDir == "" {
		cfg.TransactionsDir = DefaultTransactionsDir
	}
	if cfg.Gateway.ApprovedCode == "" {
		cfg.Gateway.ApprovedCode = "00"
	}
	if cfg.Payment.TickInterval <= 0 {
		cfg.Payment.TickInterval = time.Second
	}
}

// Validate validates the configuration
func (c *AppConfig) Validate() error {
	var errs error
	invalid := func(field, reason string) {
		errs = multierr.Append(errs, fmt.Errorf("%s: %s", field, reason))
	}

	if c.Application == "" {
		invalid("application", "cannot be empty")
	}
	if c.Logger.Level == "" {
		invalid("logger.level", "cannot be empty")
	}
	if c.Gateway.BaseURL == "" {
		invalid("gateway.base_url", "cannot be empty")
	}
	if c.Gateway.RequestTimeout <= 0 {
		invalid("gateway.request_timeout", "must be positive")
	}
	if c.Payment.CountdownSeconds <= 0 {
		invalid("payment.countdown_seconds", "must be positive")
	}
	if c.Payment.HeartbeatTimeout < 0 {
		invalid("payment.heartbeat_timeout", "cannot be negative")
	}

	switch c.Store.Driver {
	case "file":
	case "redis":
		if c.Redis.URI == "" {
			invalid("redis.uri", "cannot be empty when store.driver is redis")
		}
	default:
		invalid("store.driver", fmt.Sprintf("unknown driver %q", c.Store.Driver))
	}

	if c.Recorders.Mongo.Enabled && c.Recorders.Mongo.URI == "" {
		invalid("recorders.mongo.uri", "cannot be empty")
	}
	if c.Recorders.Kafka.Enabled {
		if len(c.Recorders.Kafka.Brokers) == 0 {
			invalid("recorders.kafka.brokers", "cannot be empty")
		}
		if c.Recorders.Kafka.Topic == "" {
			invalid("recorders.kafka.topic", "cannot be empty")
		}
	}

	return errs
}
