package nats

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/getevo/evo/v2/lib/log"
	"github.com/nats-io/nats.go"
)

// ErrNotConnected is returned when publishing without a live connection.
var ErrNotConnected = errors.New("NATS not connected")

var (
	NC *nats.Conn
	JS nats.JetStreamContext
	mu sync.RWMutex
)

// NATSConfig holds NATS connection configuration
type NATSConfig struct {
	URL            string
	Name           string
	MaxReconnects  int
	ReconnectWait  time.Duration
	PingInterval   time.Duration
	AllowReconnect bool
}

// Connect dials NATS and initializes JetStream when the server supports it.
func Connect(config NATSConfig) error {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.PingInterval(config.PingInterval),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warning("NATS disconnected: %v", err)
				return
			}
			log.Warning("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				log.Error("NATS error on subscription %s: %v", sub.Subject, err)
				return
			}
			log.Error("NATS async error: %v", err)
		}),
	}
	if !config.AllowReconnect {
		opts = append(opts, nats.NoReconnect())
	}

	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", config.URL, err)
	}
	log.Info("Connected to NATS at %s", conn.ConnectedUrl())

	js, err := conn.JetStream()
	if err != nil {
		log.Warning("JetStream not available: %v", err)
		js = nil
	}

	mu.Lock()
	NC, JS = conn, js
	mu.Unlock()
	return nil
}

// GetConnection returns the NATS connection
func GetConnection() *nats.Conn {
	mu.RLock()
	defer mu.RUnlock()
	return NC
}

// GetJetStream returns the JetStream context, nil when JetStream is unavailable.
func GetJetStream() nats.JetStreamContext {
	mu.RLock()
	defer mu.RUnlock()
	return JS
}

// IsConnected checks if NATS is connected
func IsConnected() bool {
	conn := GetConnection()
	return conn != nil && conn.IsConnected()
}

// KeyValue creates the bucket or binds to it when it already exists.
func KeyValue(js nats.JetStreamContext, bucket, description string, ttl time.Duration) (nats.KeyValue, error) {
	if js == nil {
		return nil, errors.New("JetStream context is nil")
	}
	kv, err := js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      bucket,
		Description: description,
		TTL:         ttl,
	})
	if err != nil {
		kv, err = js.KeyValue(bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to create/bind %s KV bucket: %w", bucket, err)
		}
	}
	return kv, nil
}

// Publish publishes a message to a subject
func Publish(subject string, data []byte) error {
	conn := GetConnection()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return conn.Publish(subject, data)
}

// Close drains the connection, falling back to a hard close after drainTimeout.
func Close(drainTimeout time.Duration) error {
	mu.Lock()
	conn := NC
	NC, JS = nil, nil
	mu.Unlock()

	if conn == nil {
		return nil
	}

	done := make(chan struct{})
	conn.SetClosedHandler(func(*nats.Conn) { close(done) })
	if err := conn.Drain(); err != nil {
		log.Warning("Error draining NATS connection: %v", err)
		conn.Close()
		return err
	}

	select {
	case <-done:
		log.Info("NATS connection closed gracefully")
	case <-time.After(drainTimeout):
		log.Warning("Drain timeout exceeded, forcing close")
		conn.Close()
	}
	return nil
}
