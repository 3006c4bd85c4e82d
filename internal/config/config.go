package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MrBlankCoding/ChannelChat/internal/log"
)

type Config struct {
	Server      ServerConfig
	WebSocket   WebSocketConfig
	Store       StoreConfig
	Mongo       MongoConfig
	Redis       RedisConfig
	Crypto      CryptoConfig
	Compression CompressionConfig
	Push        PushConfig
	Auth        AuthConfig
	Log         log.Config
}

type ServerConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type StoreConfig struct {
	// Backend selects the message store implementation: "mongo" or "memory".
	Backend string
}

type MongoConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type CryptoConfig struct {
	// MasterKey is the base64 encoded 32-byte master secret. When empty the
	// key is loaded from (or persisted to) Redis instead.
	MasterKey        string        `mapstructure:"master_key"`
	RotationInterval time.Duration `mapstructure:"rotation_interval"`
}

type CompressionConfig struct {
	Level   int
	MinSize int `mapstructure:"min_size"`
}

type PushConfig struct {
	GatewayURL string        `mapstructure:"gateway_url"`
	Timeout    time.Duration
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Load reads configuration from ./config/config.yaml and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, rely on defaults and env vars.
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("store.backend", "mongo")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "chat_db")
	v.SetDefault("mongo.timeout", "10s")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("crypto.master_key", "")
	v.SetDefault("crypto.rotation_interval", "168h")
	v.SetDefault("compression.level", 3)
	v.SetDefault("compression.min_size", 100)
	v.SetDefault("push.gateway_url", "")
	v.SetDefault("push.timeout", "10s")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "channelchat")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("store.backend", "STORE_BACKEND")
	v.BindEnv("mongo.uri", "MONGODB_URL")
	v.BindEnv("mongo.database", "DATABASE_NAME")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("crypto.master_key", "MASTER_KEY")
	v.BindEnv("push.gateway_url", "PUSH_GATEWAY_URL")
	v.BindEnv("auth.jwt_secret", "SECRET_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Mongo.Timeout = parseDuration(v, "mongo.timeout", 10*time.Second)
	cfg.Crypto.RotationInterval = parseDuration(v, "crypto.rotation_interval", 168*time.Hour)
	cfg.Push.Timeout = parseDuration(v, "push.timeout", 10*time.Second)

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
