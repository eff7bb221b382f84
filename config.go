package redom

import (
	"os"

	"github.com/go-yaml/yaml"
	"github.com/redis/go-redis/v9"
)

// DefaultIdempotencyTTLSeconds is the process-wide retention for
// idempotency records. A per-operation TTL of zero keeps the record
// without expiry; a negative TTL selects this default.
const DefaultIdempotencyTTLSeconds = 900

// Config wires a Client from a YAML file.
type Config struct {
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`

	// KeyPrefix is the leading segment of every key the mapper writes.
	KeyPrefix string `yaml:"keyPrefix"`

	// IdempotencyTTL overrides the default idempotency record retention,
	// in seconds. Zero means "use the default".
	IdempotencyTTL int `yaml:"idempotencyTTL"`

	// StrictVersionConflicts disables the benign-replay masking of patch
	// version conflicts when an idempotency key is present.
	StrictVersionConflicts bool `yaml:"strictVersionConflicts"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	var config Config
	err = yaml.NewDecoder(file).Decode(&config)
	if err != nil {
		return Config{}, err
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "redom"
	}

	return config, nil
}

// NewRedis opens a plain go-redis client for the configured node.
func NewRedis(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}
