package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/Alicia-74/libroredsocial/pkg/config"
	"github.com/Alicia-74/libroredsocial/pkg/log"
)

type Config struct {
	API     APIConfig
	Channel ChannelConfig
	Poll    PollConfig
	Server  ServerConfig
	Auth    AuthConfig
	Redis   RedisConfig
	Log     log.Config
}

// APIConfig configures the REST client side.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ChannelConfig configures the live message channel (both ends).
type ChannelConfig struct {
	URL              string        `mapstructure:"url"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
}

// PollConfig configures the safety-net reconciliation poll. Push events are
// the primary update path; the poll only covers missed deliveries.
type PollConfig struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

type ServerConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	Secret   string
	TokenTTL time.Duration `mapstructure:"token_ttl"`
	Issuer   string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("api.base_url", "http://localhost:8080/api/v1")
	v.SetDefault("api.timeout", "10s")
	v.SetDefault("channel.url", "ws://localhost:8080/chat/ws")
	v.SetDefault("channel.connect_timeout", "10s")
	v.SetDefault("channel.reconnect_backoff", "5s")
	v.SetDefault("channel.ping_interval", "30s")
	v.SetDefault("channel.pong_wait", "60s")
	v.SetDefault("channel.write_wait", "10s")
	v.SetDefault("channel.max_message_size", 4096)
	v.SetDefault("poll.reconcile_interval", "60s")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.secret", "dev-secret-change-me")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.issuer", "libroredsocial")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Override from environment
	v.BindEnv("api.base_url", "API_BASE_URL")
	v.BindEnv("channel.url", "CHANNEL_URL")
	v.BindEnv("server.port", "PORT")
	v.BindEnv("auth.secret", "AUTH_SECRET")
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.API.Timeout = parseDuration(v, "api.timeout", 10*time.Second)
	cfg.Channel.ConnectTimeout = parseDuration(v, "channel.connect_timeout", 10*time.Second)
	cfg.Channel.ReconnectBackoff = parseDuration(v, "channel.reconnect_backoff", 5*time.Second)
	cfg.Channel.PingInterval = parseDuration(v, "channel.ping_interval", 30*time.Second)
	cfg.Channel.PongWait = parseDuration(v, "channel.pong_wait", 60*time.Second)
	cfg.Channel.WriteWait = parseDuration(v, "channel.write_wait", 10*time.Second)
	cfg.Poll.ReconcileInterval = parseDuration(v, "poll.reconcile_interval", 60*time.Second)
	cfg.Auth.TokenTTL = parseDuration(v, "auth.token_ttl", 24*time.Hour)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
