package drivers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ConnectionConfig is the typed, provider-specific part of a connection. Each provider
// package defines exactly one implementation.
type ConnectionConfig interface {
	Provider() string
}

// CredentialUpdate carries a credential minted during an operation. The caller persists it
// together with the operation's outcome.
type CredentialUpdate struct {
	Provider    string    `json:"provider"`
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// CredentialReceiver is implemented by configs holding a refreshable credential.
type CredentialReceiver interface {
	ApplyCredential(update CredentialUpdate)
}

// Connection is a configured link between the product and one external account.
type Connection struct {
	ID       string           `json:"id"`
	Provider string           `json:"provider"`
	Config   ConnectionConfig `json:"config"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// ApplyCredential stores update on the connection's config. It reports whether the config
// accepted it.
func (c *Connection) ApplyCredential(update *CredentialUpdate) bool {
	if c == nil || update == nil {
		return false
	}
	receiver, ok := c.Config.(CredentialReceiver)
	if !ok || update.Provider != c.Provider {
		return false
	}
	receiver.ApplyCredential(*update)
	return true
}

// ConfigAs returns the connection's config as the provider's concrete type.
func ConfigAs[T ConnectionConfig](conn *Connection) (T, error) {
	var zero T
	if conn == nil || conn.Config == nil {
		return zero, fmt.Errorf("%w: connection has no config", ErrInvalidConfig)
	}
	cfg, ok := conn.Config.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %s config", ErrConfigMismatch, conn.Config.Provider())
	}
	return cfg, nil
}

// DecodeJSON unmarshals raw into cfg, treating an empty blob as an empty config.
func DecodeJSON(raw []byte, cfg ConnectionConfig) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("%w: %s config: %v", ErrInvalidConfig, cfg.Provider(), err)
	}
	return nil
}

// ValidateStruct runs the validator tags of a config and reports missing fields by name.
func ValidateStruct(cfg any) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, jsonFieldName(fe.Field()))
	}
	return fmt.Errorf("%w: missing or invalid %s", ErrInvalidConfig, strings.Join(fields, ", "))
}

func jsonFieldName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

// MaskedConfig returns the config as a map with sensitive values masked.
func MaskedConfig(cfg ConnectionConfig) map[string]any {
	result := map[string]any{}
	data, err := json.Marshal(cfg)
	if err != nil {
		return result
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result
	}
	for key, value := range result {
		if !SensitiveFields[key] {
			continue
		}
		if s, ok := value.(string); ok && s != "" {
			if len(s) > 8 {
				result[key] = s[:4] + "****" + s[len(s)-4:]
			} else {
				result[key] = "****"
			}
		}
	}
	return result
}
