package registry

import (
	"context"
	"fmt"

	"github.com/acgov/go-mesh/mesh"
)

// StaticConfig maps service type names to their configured instances.
type StaticConfig struct {
	Services map[string][]InstanceDescriptor `mapstructure:"services"`
}

// StaticSource registers a fixed instance set from configuration.
type StaticSource struct {
	cfg StaticConfig
}

// NewStaticSource builds a config-backed source. The config is validated
// on Load, not here, so a loader can construct sources eagerly.
func NewStaticSource(cfg StaticConfig) *StaticSource {
	return &StaticSource{cfg: cfg}
}

func (s *StaticSource) Name() string {
	return "static"
}

// Load registers every configured instance. The first invalid descriptor
// aborts the load so a typo in config fails startup instead of silently
// shrinking the inventory.
func (s *StaticSource) Load(_ context.Context, target Target) error {
	for typeName, descriptors := range s.cfg.Services {
		serviceType, err := mesh.ParseServiceType(typeName)
		if err != nil {
			return fmt.Errorf("static source: %w", err)
		}
		for i, d := range descriptors {
			if d.InstanceID == "" {
				d.InstanceID = fmt.Sprintf("%s-%d", serviceType, i+1)
			}
			if d.BaseURL == "" {
				return fmt.Errorf("static source: %s/%s has no base_url", serviceType, d.InstanceID)
			}
			if err := target.AddServiceInstance(d.instance(serviceType)); err != nil {
				return fmt.Errorf("static source: register %s/%s: %w", serviceType, d.InstanceID, err)
			}
		}
	}
	return nil
}

func (s *StaticSource) Stop() error {
	return nil
}
