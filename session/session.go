// Package session manages multi-step governance workflow sessions with
// per-service-type instance affinity, persisted through a pluggable store
// for cross-process continuity.
package session

import (
	"fmt"
	"time"

	"github.com/acgov/go-mesh/mesh"
)

// WorkflowType identifies the governance workflow a session drives.
type WorkflowType string

const (
	WorkflowPolicySynthesis          WorkflowType = "policy_synthesis"
	WorkflowConstitutionalValidation WorkflowType = "constitutional_validation"
	WorkflowFormalVerification       WorkflowType = "formal_verification"
	WorkflowComplianceAudit          WorkflowType = "compliance_audit"
)

// AllWorkflowTypes lists the recognized workflow types.
func AllWorkflowTypes() []WorkflowType {
	return []WorkflowType{
		WorkflowPolicySynthesis,
		WorkflowConstitutionalValidation,
		WorkflowFormalVerification,
		WorkflowComplianceAudit,
	}
}

// ParseWorkflowType validates a workflow type string.
func ParseWorkflowType(s string) (WorkflowType, error) {
	for _, t := range AllWorkflowTypes() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown workflow type %q", s)
}

// State is a session's lifecycle position. completed, expired and failed
// are terminal.
type State string

const (
	StateActive    State = "active"
	StateSuspended State = "suspended"
	StateCompleted State = "completed"
	StateExpired   State = "expired"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateExpired || s == StateFailed
}

// CompletedStep records one finished workflow step.
type CompletedStep struct {
	Name        string        `json:"name"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}

// GovernanceSession is the persisted record of one workflow run.
type GovernanceSession struct {
	SessionID         string                      `json:"session_id"`
	WorkflowType      WorkflowType                `json:"workflow_type"`
	State             State                       `json:"state"`
	CreatedAt         time.Time                   `json:"created_at"`
	LastActivity      time.Time                   `json:"last_activity"`
	CurrentStep       string                      `json:"current_step,omitempty"`
	StepStartedAt     time.Time                   `json:"step_started_at,omitempty"`
	CompletedSteps    []CompletedStep             `json:"completed_steps,omitempty"`
	ServiceAffinities map[mesh.ServiceType]string `json:"service_affinities,omitempty"`
	FailureReason     string                      `json:"failure_reason,omitempty"`
	Metadata          map[string]string           `json:"metadata,omitempty"`
}

// touch advances LastActivity, never moving it backwards.
func (s *GovernanceSession) touch(now time.Time) {
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
}
