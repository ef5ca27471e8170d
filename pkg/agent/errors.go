package agent

import "errors"

// Errors surfaced by the container manager. HTTP handlers map these onto
// status codes with errors.Is.
var (
	// ErrUnknownAgent is returned when no record exists for an agent id.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrInvalidConfig is returned when a supplied agent configuration
	// fails normalization.
	ErrInvalidConfig = errors.New("invalid agent config")

	// ErrReservedEnvKey is returned when an MCP environment map tries to
	// override one of the reserved worker environment keys.
	ErrReservedEnvKey = errors.New("reserved environment key")

	// ErrMissingContainer is returned when an agent record exists but the
	// host has lost its container and no API key was supplied to recreate it.
	ErrMissingContainer = errors.New("agent container missing; api key is required to recreate it")

	// ErrMissingConfig is returned when a container recreation is requested
	// but the on-disk config document is gone.
	ErrMissingConfig = errors.New("agent config missing; cannot recreate container")
)
