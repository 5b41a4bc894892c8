// Package config defines all configuration for the market-data service.
// Config is loaded from a YAML file (default: configs/config.yaml) with the
// operational knobs overridable via plain environment variables (PORT,
// REDIS_URL, DATABASE_URL, ...), matching how the service is deployed.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Consumer  ConsumerConfig  `mapstructure:"consumer"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds the listener ports: Port serves the WebSocket + REST
// surface, HealthPort the standalone health endpoint.
type ServerConfig struct {
	Port       int `mapstructure:"port"`
	HealthPort int `mapstructure:"health_port"`
}

// RedisConfig points at the stream bus and watermark cache.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// DatabaseConfig points at the relational entity store.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// ChainConfig identifies the chain namespace and how to learn the chain head.
//
//   - DefaultChainID: namespace for stream keys and the consumer group.
//   - RPCURL: JSON-RPC endpoint used once at boot to derive the sync
//     watermark when EnableBlockNumber is unset.
//   - EnableBlockNumber: explicit sync watermark (0 = derive from chain head).
type ChainConfig struct {
	DefaultChainID    uint64 `mapstructure:"default_chain_id"`
	RPCURL            string `mapstructure:"rpc_url"`
	EnableBlockNumber uint64 `mapstructure:"enable_block_number"`
}

// ConsumerConfig tunes the stream consumer.
type ConsumerConfig struct {
	Group        string        `mapstructure:"group"`         // default websocket-consumers-<chainID>
	ID           string        `mapstructure:"id"`            // default derived from hostname
	BatchSize    int64         `mapstructure:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"` // block timeout per read
}

// WebSocketConfig tunes the gateway's keep-alive, backpressure and
// control-plane rate limit.
//
//   - PingInterval: server ping cadence; a client missing two pings is closed.
//   - SendQueueSize: per-connection bounded outbound queue.
//   - RateLimit / RateBurst: inbound control messages per second and burst.
type WebSocketConfig struct {
	PingInterval  time.Duration `mapstructure:"ping_interval"`
	SendQueueSize int           `mapstructure:"send_queue_size"`
	RateLimit     float64       `mapstructure:"rate_limit"`
	RateBurst     int           `mapstructure:"rate_burst"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides. A missing file
// is not an error: every field has a default or an env override, so the
// service can run from environment alone.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("chain.default_chain_id", 1)
	v.SetDefault("consumer.batch_size", 10)
	v.SetDefault("consumer.poll_interval", time.Second)
	v.SetDefault("websocket.ping_interval", 60*time.Second)
	v.SetDefault("websocket.send_queue_size", 256)
	v.SetDefault("websocket.rate_limit", 10)
	v.SetDefault("websocket.rate_burst", 20)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// applyEnvOverrides maps the flat deployment env vars onto the structured
// config. These names are the service's operational contract.
func applyEnvOverrides(cfg *Config) {
	if p, ok := envInt("PORT"); ok {
		cfg.Server.Port = int(p)
	}
	if p, ok := envInt("HEALTH_PORT"); ok {
		cfg.Server.HealthPort = int(p)
	}
	if s := os.Getenv("REDIS_URL"); s != "" {
		cfg.Redis.URL = s
	}
	if s := os.Getenv("DATABASE_URL"); s != "" {
		cfg.Database.URL = s
	}
	if p, ok := envInt("DEFAULT_CHAIN_ID"); ok {
		cfg.Chain.DefaultChainID = uint64(p)
	}
	if s := os.Getenv("RPC_URL"); s != "" {
		cfg.Chain.RPCURL = s
	}
	if p, ok := envInt("ENABLE_WEBSOCKET_BLOCK_NUMBER"); ok {
		cfg.Chain.EnableBlockNumber = uint64(p)
	}
	if s := os.Getenv("CONSUMER_GROUP"); s != "" {
		cfg.Consumer.Group = s
	}
	if s := os.Getenv("CONSUMER_ID"); s != "" {
		cfg.Consumer.ID = s
	}
	if p, ok := envInt("BATCH_SIZE"); ok {
		cfg.Consumer.BatchSize = p
	}
	if p, ok := envInt("POLL_INTERVAL"); ok {
		cfg.Consumer.PollInterval = time.Duration(p) * time.Millisecond
	}
	if s := os.Getenv("LOG_LEVEL"); s != "" {
		cfg.Logging.Level = s
	}
}

func envInt(name string) (int64, bool) {
	s := os.Getenv(name)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ConsumerGroup returns the effective consumer group name, defaulting to the
// chain-scoped group so multi-chain deployments scale independently.
func (c *Config) ConsumerGroup() string {
	if c.Consumer.Group != "" {
		return c.Consumer.Group
	}
	return fmt.Sprintf("websocket-consumers-%d", c.Chain.DefaultChainID)
}

// ConsumerID returns the effective consumer identity within the group.
func (c *Config) ConsumerID() string {
	if c.Consumer.ID != "" {
		return c.Consumer.ID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "consumer"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535]")
	}
	if c.Server.HealthPort <= 0 || c.Server.HealthPort > 65535 {
		return fmt.Errorf("server.health_port must be in (0, 65535]")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required (set REDIS_URL)")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (set DATABASE_URL)")
	}
	if c.Chain.DefaultChainID == 0 {
		return fmt.Errorf("chain.default_chain_id is required (set DEFAULT_CHAIN_ID)")
	}
	if c.Chain.EnableBlockNumber == 0 && c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required when enable_block_number is unset")
	}
	if c.Consumer.BatchSize <= 0 {
		return fmt.Errorf("consumer.batch_size must be > 0")
	}
	if c.Consumer.PollInterval <= 0 {
		return fmt.Errorf("consumer.poll_interval must be > 0")
	}
	if c.WebSocket.SendQueueSize <= 0 {
		return fmt.Errorf("websocket.send_queue_size must be > 0")
	}
	return nil
}
