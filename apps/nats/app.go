package nats

import (
	"github.com/getevo/evo/v2/lib/application"
	"github.com/getevo/evo/v2/lib/log"
	"github.com/getevo/evo/v2/lib/settings"
)

// App represents the NATS application module
type App struct{}

func (App) Register() error {
	return nil
}

// Router registers HTTP routes (none for NATS)
func (App) Router() error {
	return nil
}

// WhenReady connects to NATS. A missing server is not fatal: sync locks fall back to
// in-process locking and events are dropped.
func (App) WhenReady() error {
	reconnectWait, _ := settings.Get("NATS.RECONNECT_WAIT", "2s").Duration()
	pingInterval, _ := settings.Get("NATS.PING_INTERVAL", "20s").Duration()

	config := NATSConfig{
		URL:            settings.Get("NATS.URL", "nats://localhost:4222").String(),
		Name:           settings.Get("NATS.CLIENT_NAME", "lydie-sync").String(),
		MaxReconnects:  int(settings.Get("NATS.MAX_RECONNECTS", 60).Int64()),
		ReconnectWait:  reconnectWait,
		PingInterval:   pingInterval,
		AllowReconnect: settings.Get("NATS.ALLOW_RECONNECT", true).Bool(),
	}

	if err := Connect(config); err != nil {
		log.Warning("NATS unavailable, continuing without it: %v", err)
	}
	return nil
}

// Name returns the app name
func (App) Name() string {
	return "nats"
}

// Shutdown gracefully closes the NATS connection
func (App) Shutdown() error {
	drainTimeout, _ := settings.Get("NATS.DRAIN_TIMEOUT", "30s").Duration()
	return Close(drainTimeout)
}

var _ application.Application = (*App)(nil)
