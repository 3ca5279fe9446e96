package integrations

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/getevo/evo/v2/lib/log"
	"github.com/google/uuid"

	natsapp "github.com/lydiehq/lydie-sub003/apps/nats"
)

// Operations reported in sync events.
const (
	OperationValidate   = "validate"
	OperationPush       = "push"
	OperationPull       = "pull"
	OperationDelete     = "delete"
	OperationResources  = "resources"
	OperationConnect    = "connect"
	OperationDisconnect = "disconnect"
)

// SyncEvent is published after every operation.
type SyncEvent struct {
	ID                  string    `json:"id"`
	ConnectionID        string    `json:"connectionId"`
	LinkID              string    `json:"linkId,omitempty"`
	Provider            string    `json:"provider"`
	Operation           string    `json:"operation"`
	Succeeded           int       `json:"succeeded"`
	Failed              int       `json:"failed"`
	CredentialRefreshed bool      `json:"credentialRefreshed,omitempty"`
	Error               string    `json:"error,omitempty"`
	OccurredAt          time.Time `json:"occurredAt"`
}

// Subject returns the subject an event is published on.
func (e SyncEvent) Subject() string {
	return "integrations.sync." + e.Provider + "." + e.Operation
}

// EventPublisher delivers sync events.
type EventPublisher interface {
	Publish(subject string, data []byte) error
}

// PublisherFunc adapts a function to EventPublisher.
type PublisherFunc func(subject string, data []byte) error

func (f PublisherFunc) Publish(subject string, data []byte) error {
	return f(subject, data)
}

// NATSPublisher publishes on the shared NATS connection.
var NATSPublisher = PublisherFunc(natsapp.Publish)

func publish(publisher EventPublisher, event SyncEvent) {
	if publisher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Error("Failed to encode sync event: %v", err)
		return
	}
	if err := publisher.Publish(event.Subject(), data); err != nil {
		if errors.Is(err, natsapp.ErrNotConnected) {
			log.Debug("Sync event %s dropped: %v", event.Subject(), err)
			return
		}
		log.Warning("Failed to publish sync event %s: %v", event.Subject(), err)
	}
}
