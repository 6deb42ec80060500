package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// FileSource loads a YAML/TOML/JSON file through viper. A missing file is
// not an error so optional overlays (dev.yaml, staging.yaml) can be absent.
type FileSource struct {
	path     string
	priority int
}

// NewFileSource creates a file source with the given merge priority.
func NewFileSource(path string, priority int) *FileSource {
	return &FileSource{path: path, priority: priority}
}

// Name identifies the source.
func (s *FileSource) Name() string {
	return "file:" + s.path
}

// Priority returns the merge priority.
func (s *FileSource) Priority() int {
	return s.priority
}

// Load reads the file and flattens it to dot-separated keys.
func (s *FileSource) Load() (map[string]interface{}, error) {
	if _, err := os.Stat(s.path); err != nil {
		if os.IsNotExist(err) {
			return map[string]interface{}{}, nil
		}
		return nil, fmt.Errorf("stat config file %s: %w", s.path, err)
	}

	v := viper.New()
	v.SetConfigFile(s.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", s.path, err)
	}
	return flattenMap("", v.AllSettings()), nil
}

// flattenMap converts nested maps to dot-separated keys, e.g.
// {"mesh": {"mode": "production"}} -> {"mesh.mode": "production"}.
func flattenMap(prefix string, data map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	for key, value := range data {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			for k, v := range flattenMap(fullKey, nested) {
				result[k] = v
			}
			continue
		}
		result[fullKey] = value
	}
	return result
}
