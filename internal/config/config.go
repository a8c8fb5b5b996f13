package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/boyrevue/api.boyvue.com-sub001/pkg/config"
)

type Config struct {
	Server       ServerConfig
	Redis        RedisConfig
	Bus          BusConfig
	Auth         AuthConfig
	Coordination CoordinationConfig
	WebSocket    WebSocketConfig `mapstructure:"websocket"`
	Platform     PlatformConfig
	Log          LogConfig
}

// PlatformConfig points at the CRUD backend that owns conversations,
// paywall entitlements and performer records.
type PlatformConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	Timeout         time.Duration
	ConversationTTL time.Duration `mapstructure:"conversation_ttl"`
}

type ServerConfig struct {
	Host      string
	Port      int
	ProcessID string `mapstructure:"process_id"`
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	PoolSize int `mapstructure:"pool_size"`
}

// BusConfig selects the event bus driver. Redis pub/sub is the default;
// kafka is available where a broker is already deployed.
type BusConfig struct {
	Driver string // "redis", "kafka", "memory"
	Kafka  KafkaConfig
}

type KafkaConfig struct {
	Brokers    string
	GroupID    string `mapstructure:"group_id"`
	Partitions int
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string
}

type CoordinationConfig struct {
	OpTimeout     time.Duration `mapstructure:"op_timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
	PresenceTTL   time.Duration `mapstructure:"presence_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("bus.driver", "redis")
	v.SetDefault("bus.kafka.brokers", "localhost:9092")
	v.SetDefault("bus.kafka.group_id", "live-coordinator")
	v.SetDefault("bus.kafka.partitions", 4)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "boyvue")
	v.SetDefault("coordination.op_timeout", "2s")
	v.SetDefault("coordination.retry_attempts", 3)
	v.SetDefault("coordination.retry_backoff", "50ms")
	v.SetDefault("coordination.presence_ttl", "90s")
	v.SetDefault("coordination.sweep_interval", "60s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("platform.base_url", "http://localhost:8080")
	v.SetDefault("platform.timeout", "5s")
	v.SetDefault("platform.conversation_ttl", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.process_id", "PROCESS_ID")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("bus.driver", "BUS_DRIVER")
	v.BindEnv("bus.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("bus.kafka.group_id", "KAFKA_GROUP_ID")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("platform.base_url", "PLATFORM_BASE_URL")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Coordination.OpTimeout = parseDuration(v, "coordination.op_timeout", 2*time.Second)
	cfg.Coordination.RetryBackoff = parseDuration(v, "coordination.retry_backoff", 50*time.Millisecond)
	cfg.Coordination.PresenceTTL = parseDuration(v, "coordination.presence_ttl", 90*time.Second)
	cfg.Coordination.SweepInterval = parseDuration(v, "coordination.sweep_interval", 60*time.Second)
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Platform.Timeout = parseDuration(v, "platform.timeout", 5*time.Second)
	cfg.Platform.ConversationTTL = parseDuration(v, "platform.conversation_ttl", 30*time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return defaultVal
	}
	return d
}
