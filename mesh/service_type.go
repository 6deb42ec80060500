// Package mesh holds the shared domain model of the service mesh: service
// types, the per-replica instance record, and the mesh-wide error set.
package mesh

import "fmt"

// ServiceType identifies one service family of the governance platform.
type ServiceType string

// The governed service families.
const (
	ServiceAuth      ServiceType = "auth"      // authentication service
	ServiceAC        ServiceType = "ac"        // artificial constitution service
	ServiceIntegrity ServiceType = "integrity" // integrity verification service
	ServiceFV        ServiceType = "fv"        // formal verification service
	ServiceGS        ServiceType = "gs"        // governance synthesis service
	ServicePGC       ServiceType = "pgc"       // policy governance compiler
	ServiceEC        ServiceType = "ec"        // evolutionary computation service
)

// AllServiceTypes lists every recognized service family, in a fixed order.
func AllServiceTypes() []ServiceType {
	return []ServiceType{
		ServiceAuth, ServiceAC, ServiceIntegrity,
		ServiceFV, ServiceGS, ServicePGC, ServiceEC,
	}
}

// ParseServiceType validates a service type string.
func ParseServiceType(s string) (ServiceType, error) {
	for _, t := range AllServiceTypes() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown service type %q", s)
}

// String implements fmt.Stringer.
func (t ServiceType) String() string {
	return string(t)
}
