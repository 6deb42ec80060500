package config

import (
	"os"
	"strings"
)

// EnvSource loads environment variables with a common prefix.
// MESH_ORCHESTRATOR_MODE=production becomes "orchestrator.mode".
type EnvSource struct {
	prefix   string
	priority int
}

// NewEnvSource creates an environment-variable source.
func NewEnvSource(prefix string, priority int) *EnvSource {
	return &EnvSource{prefix: prefix, priority: priority}
}

// Name identifies the source.
func (s *EnvSource) Name() string {
	return "env:" + s.prefix
}

// Priority returns the merge priority.
func (s *EnvSource) Priority() int {
	return s.priority
}

// Load scans the environment for prefixed variables.
func (s *EnvSource) Load() (map[string]interface{}, error) {
	result := make(map[string]interface{})
	if s.prefix == "" {
		return result, nil
	}

	prefix := s.prefix + "_"
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], prefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(parts[0], prefix))
		key = strings.ReplaceAll(key, "_", ".")
		result[key] = parts[1]
	}
	return result, nil
}
