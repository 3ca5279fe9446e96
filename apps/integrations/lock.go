package integrations

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/getevo/evo/v2/lib/log"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	natsapp "github.com/lydiehq/lydie-sub003/apps/nats"
)

const lockBucket = "integration_locks"

// ErrSyncInProgress is returned when another operation holds the connection's lock.
var ErrSyncInProgress = errors.New("another sync is running for this connection")

// Locker serializes operations on one connection across instances.
type Locker interface {
	// Acquire takes the lock for key or fails with ErrSyncInProgress. release is never nil
	// when err is nil.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LockManager keeps locks in a NATS KV bucket. Entries expire with the bucket TTL so a
// crashed instance cannot hold a connection forever.
type LockManager struct {
	kv         nats.KeyValue
	instanceID string
}

// NewLockManager creates or binds the lock bucket.
func NewLockManager(js nats.JetStreamContext, ttl time.Duration) (*LockManager, error) {
	kv, err := natsapp.KeyValue(js, lockBucket, "Per-connection sync locks", ttl)
	if err != nil {
		return nil, err
	}
	hostname, _ := os.Hostname()
	instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())
	log.Info("Integration lock manager initialized with instance ID: %s", instanceID)
	return &LockManager{kv: kv, instanceID: instanceID}, nil
}

// Acquire creates the key atomically. Each holder writes a unique token so two operations
// of the same instance still exclude each other.
func (lm *LockManager) Acquire(_ context.Context, key string) (func(), error) {
	key = lockKey(key)
	token := lm.instanceID + "/" + uuid.NewString()
	if _, err := lm.kv.Create(key, []byte(token)); err != nil {
		if errors.Is(err, nats.ErrKeyExists) {
			return nil, ErrSyncInProgress
		}
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	log.Debug("Lock acquired: %s by %s", key, token)

	return func() {
		entry, err := lm.kv.Get(key)
		if err != nil || string(entry.Value()) != token {
			return
		}
		if err := lm.kv.Delete(key); err != nil {
			log.Warning("Failed to release lock %s: %v", key, err)
		}
	}, nil
}

// lockKey maps key onto the characters NATS KV accepts.
func lockKey(key string) string {
	return "connection." + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, key)
}

// LocalLocker is an in-process Locker used when JetStream is unavailable.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]bool{}}
}

func (l *LocalLocker) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, ErrSyncInProgress
	}
	l.held[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

var (
	_ Locker = (*LockManager)(nil)
	_ Locker = (*LocalLocker)(nil)
)
