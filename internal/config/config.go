package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultCluster is used when REALTIME_CLUSTER is not set.
const DefaultCluster = "mt1"

type Config struct {
	Server   ServerConfig
	Realtime RealtimeConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	JWT      JWTConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

// RealtimeConfig holds the broker connection parameters shared by the
// server and by session clients.
type RealtimeConfig struct {
	AppKey              string
	AppSecret           string
	Cluster             string
	Host                string
	UseTLS              bool
	ChannelAuthEndpoint string
	ActivityTimeout     time.Duration
	PongTimeout         time.Duration
}

type RedisConfig struct {
	URL          string
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

type JWTConfig struct {
	Secret         string
	ExpirationTime time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment. envFiles are loaded with
// godotenv first; a missing file is not an error.
func Load(envFiles ...string) (*Config, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("NOTIFY_HOST"),
			Port:           v.GetString("NOTIFY_PORT"),
			ReadTimeout:    v.GetDuration("NOTIFY_READ_TIMEOUT"),
			WriteTimeout:   v.GetDuration("NOTIFY_WRITE_TIMEOUT"),
			IdleTimeout:    v.GetDuration("NOTIFY_IDLE_TIMEOUT"),
			AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		},
		Realtime: RealtimeConfig{
			AppKey:              v.GetString("REALTIME_APP_KEY"),
			AppSecret:           v.GetString("REALTIME_APP_SECRET"),
			Cluster:             v.GetString("REALTIME_CLUSTER"),
			Host:                v.GetString("REALTIME_HOST"),
			UseTLS:              v.GetBool("REALTIME_USE_TLS"),
			ChannelAuthEndpoint: v.GetString("REALTIME_CHANNEL_AUTH_ENDPOINT"),
			ActivityTimeout:     v.GetDuration("REALTIME_ACTIVITY_TIMEOUT"),
			PongTimeout:         v.GetDuration("REALTIME_PONG_TIMEOUT"),
		},
		Redis: RedisConfig{
			URL:          v.GetString("REDIS_URL"),
			MaxRetries:   v.GetInt("REDIS_MAX_RETRIES"),
			DialTimeout:  v.GetDuration("REDIS_DIAL_TIMEOUT"),
			ReadTimeout:  v.GetDuration("REDIS_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("REDIS_WRITE_TIMEOUT"),
			PoolSize:     v.GetInt("REDIS_POOL_SIZE"),
			MinIdleConns: v.GetInt("REDIS_MIN_IDLE_CONNS"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("KAFKA_BROKERS")),
			Topic:   v.GetString("KAFKA_TOPIC"),
			GroupID: v.GetString("KAFKA_GROUP_ID"),
		},
		JWT: JWTConfig{
			Secret:         v.GetString("NOTIFY_JWT_SECRET"),
			ExpirationTime: v.GetDuration("NOTIFY_JWT_EXPIRE"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	if cfg.Realtime.Cluster == "" {
		cfg.Realtime.Cluster = DefaultCluster
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("NOTIFY_PORT", "8080")
	v.SetDefault("NOTIFY_READ_TIMEOUT", 30*time.Second)
	v.SetDefault("NOTIFY_WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("NOTIFY_IDLE_TIMEOUT", 120*time.Second)
	v.SetDefault("NOTIFY_JWT_SECRET", "secret")
	v.SetDefault("NOTIFY_JWT_EXPIRE", "24h")
	v.SetDefault("REALTIME_CLUSTER", DefaultCluster)
	v.SetDefault("REALTIME_ACTIVITY_TIMEOUT", 120*time.Second)
	v.SetDefault("REALTIME_PONG_TIMEOUT", 30*time.Second)
	v.SetDefault("REDIS_MAX_RETRIES", 3)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
	v.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
	v.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)
	v.SetDefault("KAFKA_TOPIC", "notifications")
	v.SetDefault("KAFKA_GROUP_ID", "notify-realtime")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
