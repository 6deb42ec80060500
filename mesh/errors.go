package mesh

import "errors"

// Routing and discovery errors.
var (
	// ErrNoHealthyInstance means no instance of the requested type is
	// currently healthy. Callers get this as an empty result, not a panic.
	ErrNoHealthyInstance = errors.New("no healthy instance available")

	// ErrServiceUnavailable is returned only after failover has exhausted
	// every retry, backup and degradation option.
	ErrServiceUnavailable = errors.New("service unavailable: all failover options exhausted")

	// ErrCircuitOpen signals that an instance's breaker rejects calls; it
	// triggers immediate failover rather than a retry.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrInstanceNotFound means the referenced instance is not registered.
	ErrInstanceNotFound = errors.New("service instance not found")

	// ErrDuplicateInstance means an instance ID is already registered for
	// the service type.
	ErrDuplicateInstance = errors.New("service instance already registered")

	// ErrUnknownStrategy means the requested load-balancing strategy does
	// not exist.
	ErrUnknownStrategy = errors.New("unknown load balancing strategy")
)

// Health check errors. These drive status transitions only and are never
// propagated to routing callers.
var (
	ErrHealthCheckFailed  = errors.New("health check failed")
	ErrHealthCheckTimeout = errors.New("health check timeout")
)

// Session errors.
var (
	// ErrSessionNotFound means the session ID is unknown or already expired.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionTerminal means the session is completed, failed or expired
	// and rejects further mutation.
	ErrSessionTerminal = errors.New("session is in a terminal state")
)
