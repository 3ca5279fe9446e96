package redis

import (
	"github.com/getevo/evo/v2/lib/application"
)

// App represents the Redis application module
type App struct{}

func (App) Register() error {
	return nil
}

// Router registers HTTP routes (none for Redis)
func (App) Router() error {
	return nil
}

// WhenReady connects to Redis. An unreachable server only disables caching.
func (App) WhenReady() error {
	return Initialize()
}

// Name returns the app name
func (App) Name() string {
	return "redis"
}

// Shutdown gracefully closes the Redis connection
func (App) Shutdown() error {
	return Close()
}

var _ application.Application = (*App)(nil)
