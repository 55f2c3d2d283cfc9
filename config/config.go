package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config for the whole application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	API       APIConfig       `mapstructure:"api"`
	Grid      GridConfig      `mapstructure:"grid"`
	Defaults  TradeDefaults   `mapstructure:"defaults"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Websocket WebsocketConfig `mapstructure:"websocket"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// General application configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// Configuration for the API server
type APIConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// Spot grid the book is evaluated on
type GridConfig struct {
	Lower  float64 `mapstructure:"lower"`
	Upper  float64 `mapstructure:"upper"`
	Points int     `mapstructure:"points"`
}

// Values used for any field a trade ticket leaves unset
type TradeDefaults struct {
	Spot       float64 `mapstructure:"spot"`
	Quantity   int     `mapstructure:"quantity"`
	Volatility float64 `mapstructure:"volatility"`
	Rate       float64 `mapstructure:"rate"`
	Maturity   float64 `mapstructure:"maturity"`
	Kind       string  `mapstructure:"kind"`
	Side       string  `mapstructure:"side"`
}

// Configuration for Kafka
type KafkaConfig struct {
	Enabled  bool                `mapstructure:"enabled"`
	Brokers  []string            `mapstructure:"brokers"`
	Encoding string              `mapstructure:"encoding"`
	Consumer KafkaConsumerConfig `mapstructure:"consumer"`
	Producer KafkaProducerConfig `mapstructure:"producer"`
	Topics   KafkaTopicsConfig   `mapstructure:"topics"`
	Breaker  BreakerConfig       `mapstructure:"breaker"`
}

// Kafka consumer configuration
type KafkaConsumerConfig struct {
	GroupID        string        `mapstructure:"group_id"`
	MinBytes       int           `mapstructure:"min_bytes"`
	MaxBytes       int           `mapstructure:"max_bytes"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
	CommitInterval time.Duration `mapstructure:"commit_interval"`
}

// Kafka producer configuration
type KafkaProducerConfig struct {
	Acks         string        `mapstructure:"acks"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Kafka topics configuration
type KafkaTopicsConfig struct {
	Commands  string `mapstructure:"commands"`
	Snapshots string `mapstructure:"snapshots"`
}

// Circuit breaker around the snapshot producer
type BreakerConfig struct {
	MaxRequests         uint32        `mapstructure:"max_requests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
}

// Configuration for the websocket hub
type WebsocketConfig struct {
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

// Configuration for metrics
type MetricsConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Interval   time.Duration    `mapstructure:"interval"`
}

// Configuration for Prometheus metrics
type PrometheusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads the configuration from path (if set), then applies DESK_*
// environment overrides. A missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the desk cannot run with
func (c *Config) Validate() error {
	g := c.Grid
	if g.Points < 0 {
		return fmt.Errorf("grid.points must not be negative, got %d", g.Points)
	}
	if !(g.Lower > 0) || g.Upper < g.Lower || math.IsInf(g.Upper, 0) || math.IsNaN(g.Lower) || math.IsNaN(g.Upper) {
		return fmt.Errorf("grid bounds [%v, %v] are invalid", g.Lower, g.Upper)
	}

	d := c.Defaults
	if d.Spot <= 0 {
		return fmt.Errorf("defaults.spot must be positive, got %v", d.Spot)
	}
	if d.Quantity <= 0 {
		return fmt.Errorf("defaults.quantity must be positive, got %d", d.Quantity)
	}
	if d.Volatility <= 0 {
		return fmt.Errorf("defaults.volatility must be positive, got %v", d.Volatility)
	}
	if d.Maturity <= 0 {
		return fmt.Errorf("defaults.maturity must be positive, got %v", d.Maturity)
	}

	switch c.Kafka.Encoding {
	case "json", "protobuf":
	default:
		return fmt.Errorf("kafka.encoding must be json or protobuf, got %q", c.Kafka.Encoding)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka is enabled but no brokers are configured")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "options-risk-desk")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "10s")
	v.SetDefault("api.shutdown_timeout", "30s")
	v.SetDefault("api.rate_limit", 50)
	v.SetDefault("api.rate_burst", 100)
	v.SetDefault("api.cors.allowed_origins", []string{"*"})
	v.SetDefault("api.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("api.cors.allowed_headers", []string{"Authorization", "Content-Type"})

	// Grid defaults
	v.SetDefault("grid.lower", 50.0)
	v.SetDefault("grid.upper", 150.0)
	v.SetDefault("grid.points", 200)

	// Trade defaults
	v.SetDefault("defaults.spot", 100.0)
	v.SetDefault("defaults.quantity", 1)
	v.SetDefault("defaults.volatility", 0.2)
	v.SetDefault("defaults.rate", 0.01)
	v.SetDefault("defaults.maturity", 0.5)
	v.SetDefault("defaults.kind", "Call")
	v.SetDefault("defaults.side", "Long")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.encoding", "json")
	v.SetDefault("kafka.consumer.group_id", "options-risk-desk")
	v.SetDefault("kafka.consumer.min_bytes", 1)
	v.SetDefault("kafka.consumer.max_bytes", 10000000)
	v.SetDefault("kafka.consumer.max_wait", "500ms")
	v.SetDefault("kafka.consumer.commit_interval", "1s")
	v.SetDefault("kafka.producer.acks", "all")
	v.SetDefault("kafka.producer.max_attempts", 3)
	v.SetDefault("kafka.producer.batch_timeout", "10ms")
	v.SetDefault("kafka.producer.write_timeout", "5s")
	v.SetDefault("kafka.topics.commands", "desk.commands")
	v.SetDefault("kafka.topics.snapshots", "desk.snapshots")
	v.SetDefault("kafka.breaker.max_requests", 1)
	v.SetDefault("kafka.breaker.interval", "60s")
	v.SetDefault("kafka.breaker.timeout", "30s")
	v.SetDefault("kafka.breaker.consecutive_failures", 5)

	// Websocket defaults
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.max_message_size", 512)
	v.SetDefault("websocket.send_buffer", 16)

	// Metrics defaults
	v.SetDefault("metrics.prometheus.enabled", true)
	v.SetDefault("metrics.prometheus.port", 9090)
	v.SetDefault("metrics.interval", "15s")
}

// GetConfigPath returns DESK_CONFIG_PATH, or empty to use the default search path
func GetConfigPath() string {
	return os.Getenv("DESK_CONFIG_PATH")
}
