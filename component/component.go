// Package component defines the unit of lifecycle management. It is the
// lowest-level package and must not depend on any other mesh package.
package component

import "context"

// Component is anything with an Init -> Start -> Stop lifecycle.
type Component interface {
	// Name uniquely identifies the component for dependency declarations.
	Name() string

	// DependsOn lists required component names. An "optional:" prefix marks
	// a dependency that is skipped when not registered.
	DependsOn() []string

	// Init creates resources (clients, state) without serving traffic.
	// Components read their own configuration section through loader.
	Init(ctx context.Context, loader ConfigLoader) error

	// Start begins serving: listeners, background loops, connections.
	Start(ctx context.Context) error

	// Stop releases resources. Must be idempotent.
	Stop(ctx context.Context) error
}

// ConfigLoader gives components typed access to their configuration section
// without coupling them to a concrete config implementation.
type ConfigLoader interface {
	Get(key string) interface{}
	Unmarshal(key string, v interface{}) error
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	IsSet(key string) bool
}

// HealthChecker is optionally implemented by components that can report
// their own health to the aggregated status endpoint.
type HealthChecker interface {
	Check(ctx context.Context) error
	Name() string
}
