package config

// Source is a configuration data source. Sources are merged by priority:
// defaults (1) < config file (10) < environment file (20) < env vars (50).
type Source interface {
	// Name identifies the source in logs.
	Name() string

	// Priority orders merging; higher values override lower ones.
	Priority() int

	// Load returns the flattened configuration, keys dot-separated
	// ("mesh.health_check_interval_seconds").
	Load() (map[string]interface{}, error)
}
