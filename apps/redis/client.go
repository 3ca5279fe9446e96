package redis

import (
	"context"
	"strings"
	"time"

	"github.com/getevo/evo/v2/lib/log"
	"github.com/getevo/evo/v2/lib/settings"
	"github.com/redis/go-redis/v9"
)

// Client is the universal Redis client that works with both single nodes and clusters.
// It stays nil when Redis is not configured or unreachable.
var Client redis.UniversalClient

// RedisConfig holds the Redis configuration
type RedisConfig struct {
	Addresses    []string
	Password     string
	DB           int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	// MasterName switches the client to sentinel mode.
	MasterName       string
	SentinelPassword string
}

// Initialize creates the universal client.
//
// Example config.yml for a single node:
//
//	REDIS:
//	  ADDRESS: "localhost:6379"
//
// Example config.yml for a cluster:
//
//	REDIS:
//	  ADDRESSES: "redis1:6379,redis2:6379,redis3:6379"
func Initialize() error {
	config := loadConfig()
	if len(config.Addresses) == 0 {
		log.Info("Redis not configured. Resource caching is disabled.")
		return nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:            config.Addresses,
		Password:         config.Password,
		DB:               config.DB,
		MaxRetries:       config.MaxRetries,
		DialTimeout:      config.DialTimeout,
		ReadTimeout:      config.ReadTimeout,
		WriteTimeout:     config.WriteTimeout,
		PoolSize:         config.PoolSize,
		MasterName:       config.MasterName,
		SentinelPassword: config.SentinelPassword,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warning("Redis connection failed: %v. Resource caching is disabled.", err)
		_ = client.Close()
		return nil
	}

	Client = client
	if len(config.Addresses) == 1 {
		log.Info("Redis connected (single node: %s)", config.Addresses[0])
	} else {
		log.Info("Redis connected (%d nodes)", len(config.Addresses))
	}
	return nil
}

func loadConfig() RedisConfig {
	config := RedisConfig{
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	}

	config.Addresses = parseAddresses(settings.Get("REDIS.ADDRESSES").String())
	if len(config.Addresses) == 0 {
		config.Addresses = parseAddresses(settings.Get("REDIS.ADDRESS").String())
	}

	config.Password = settings.Get("REDIS.PASSWORD").String()
	config.DB = settings.Get("REDIS.DB").Int()
	if poolSize := settings.Get("REDIS.POOL_SIZE").Int(); poolSize > 0 {
		config.PoolSize = poolSize
	}
	if maxRetries := settings.Get("REDIS.MAX_RETRIES").Int(); maxRetries > 0 {
		config.MaxRetries = maxRetries
	}
	config.MasterName = settings.Get("REDIS.MASTER_NAME").String()
	config.SentinelPassword = settings.Get("REDIS.SENTINEL_PASSWORD").String()
	return config
}

// parseAddresses splits a comma separated address list, ignoring blanks and "[]".
func parseAddresses(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" {
		return nil
	}
	var addrs []string
	for _, addr := range strings.Split(raw, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// Close gracefully closes the Redis connection
func Close() error {
	if Client != nil {
		return Client.Close()
	}
	return nil
}
