package drivers

import "errors"

var (
	// ErrInvalidConfig marks a connection config that is missing required fields.
	ErrInvalidConfig = errors.New("invalid connection config")
	// ErrInvalidCredentials marks credentials rejected by the remote platform.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotFound marks a remote resource that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnsupported is returned when a provider lacks a capability.
	ErrUnsupported = errors.New("operation not supported by provider")
	// ErrConfigMismatch is returned when an adapter receives another provider's config.
	ErrConfigMismatch = errors.New("connection config belongs to another provider")
	// ErrUnknownProvider is returned for provider identifiers with no registered adapter.
	ErrUnknownProvider = errors.New("unknown provider")
)
