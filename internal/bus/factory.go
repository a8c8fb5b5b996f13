package bus

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Config selects the bus driver.
type Config struct {
	Driver string // "redis", "kafka", "memory"
	Kafka  KafkaConfig
}

// New creates a Bus for the configured driver. The redis driver reuses the
// given client; kafka and memory ignore it.
func New(cfg Config, redisClient *redis.Client) (Bus, error) {
	switch cfg.Driver {
	case "kafka":
		return NewKafkaBus(cfg.Kafka)
	case "memory":
		return NewMemoryBus(), nil
	case "redis", "":
		if redisClient == nil {
			return nil, fmt.Errorf("redis bus driver requires a redis client")
		}
		return NewRedisBus(redisClient)
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
	}
}
