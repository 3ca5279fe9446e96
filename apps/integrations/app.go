package integrations

import (
	"fmt"

	"github.com/getevo/evo/v2/lib/application"
	"github.com/getevo/evo/v2/lib/db"
	"github.com/getevo/evo/v2/lib/log"
	"gorm.io/gorm"

	"github.com/lydiehq/lydie-sub003/apps/integrations/drivers"
	"github.com/lydiehq/lydie-sub003/apps/models"
	natsapp "github.com/lydiehq/lydie-sub003/apps/nats"
	redisapp "github.com/lydiehq/lydie-sub003/apps/redis"
	"github.com/lydiehq/lydie-sub003/lib/crypto"
)

// Default is the service built when the application is ready.
var Default *Service

type App struct {
	settings Settings
}

func (a *App) Register() error {
	s, err := LoadSettings()
	if err != nil {
		return err
	}
	a.settings = s
	if err := RegisterDrivers(drivers.Default(), s); err != nil {
		return err
	}
	if !s.GitHub.Configured() {
		log.Warning("GitHub app is not configured; GitHub connections cannot mint installation tokens")
	}
	return nil
}

func (a *App) Router() error {
	return nil
}

// WhenReady builds the sync service from the database, NATS and Redis connections made by
// the apps registered before this one.
func (a *App) WhenReady() error {
	sealer, err := crypto.NewSealer(a.settings.EncryptionKey)
	if err != nil {
		return fmt.Errorf("invalid INTEGRATIONS.ENCRYPTION_KEY: %w", err)
	}
	if a.settings.EncryptionKey == "" {
		log.Warning("INTEGRATIONS.ENCRYPTION_KEY is empty; connection credentials are stored unencrypted")
	}
	store := models.NewIntegrationStore(db.Model(&models.IntegrationConnection{}).Session(&gorm.Session{NewDB: true}), sealer)

	opts := []ServiceOption{WithEventPublisher(NATSPublisher)}
	if js := natsapp.GetJetStream(); js != nil {
		locks, err := NewLockManager(js, a.settings.LockTTL)
		if err != nil {
			log.Warning("Falling back to in-process sync locks: %v", err)
		} else {
			opts = append(opts, WithLocker(locks))
		}
	} else {
		log.Warning("JetStream unavailable, sync locks are held in-process")
	}
	if redisapp.Client != nil {
		opts = append(opts, WithResourceCache(NewRedisResourceCache(redisapp.Client, a.settings.ResourceCacheTTL)))
	}

	Default = NewService(drivers.Default(), store, opts...)
	log.Info("Integrations ready: %v", drivers.Default().AllTypes())

	return RunCommands(Default)
}

func (a *App) Name() string {
	return "integrations"
}

var _ application.Application = (*App)(nil)
