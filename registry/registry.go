// Package registry feeds the discovery inventory from external sources:
// static configuration and an etcd watch.
package registry

import (
	"context"

	"github.com/acgov/go-mesh/mesh"
)

// Target is the discovery surface a source populates. Implemented by
// discovery.Discovery.
type Target interface {
	AddServiceInstance(inst *mesh.ServiceInstance) error
	RemoveServiceInstance(serviceType mesh.ServiceType, instanceID string) error
}

// Source loads instance descriptors into a target. Watching sources keep
// the target in sync until Stop.
type Source interface {
	Name() string
	// Load registers the source's current instances on the target.
	Load(ctx context.Context, target Target) error
	// Stop ends any background watch. Safe to call on non-watching sources.
	Stop() error
}

// InstanceDescriptor is the wire/config form of one instance.
type InstanceDescriptor struct {
	InstanceID string            `json:"instance_id" mapstructure:"instance_id"`
	BaseURL    string            `json:"base_url" mapstructure:"base_url"`
	Port       int               `json:"port" mapstructure:"port"`
	HealthURL  string            `json:"health_url" mapstructure:"health_url"`
	Weight     int               `json:"weight" mapstructure:"weight"`
	Priority   int               `json:"priority" mapstructure:"priority"`
	Metadata   map[string]string `json:"metadata,omitempty" mapstructure:"metadata"`
}

// instance builds the live record from a descriptor.
func (d InstanceDescriptor) instance(serviceType mesh.ServiceType) *mesh.ServiceInstance {
	healthURL := d.HealthURL
	if healthURL == "" {
		healthURL = "/health"
	}
	inst := mesh.NewServiceInstance(serviceType, d.InstanceID, d.BaseURL, d.Port, healthURL)
	if d.Weight > 0 {
		inst.Weight = d.Weight
	}
	if d.Priority > 0 {
		inst.Priority = d.Priority
	}
	for k, v := range d.Metadata {
		inst.Metadata[k] = v
	}
	return inst
}
