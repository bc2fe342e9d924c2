package models

import (
	"fmt"
	"time"
)

// Role identifies the kind of work an agent pool performs.
type Role string

const (
	// RoleProductOwner decomposes requirements into epics and stories.
	RoleProductOwner Role = "product_owner"
	// RoleCoder implements stories.
	RoleCoder Role = "coder"
	// RoleTester verifies completed stories.
	RoleTester Role = "tester"
	// RoleSecurity audits the build for vulnerabilities.
	RoleSecurity Role = "security"
)

// Valid returns true if the role is a known value.
func (r Role) Valid() bool {
	switch r {
	case RoleProductOwner, RoleCoder, RoleTester, RoleSecurity:
		return true
	default:
		return false
	}
}

// WorkingStatus returns the story status an agent of this role drives
// a story into while holding it.
func (r Role) WorkingStatus() StoryStatus {
	if r == RoleTester {
		return StoryStatusTesting
	}
	return StoryStatusInProgress
}

// AgentHandleStatus represents the current state of an agent slot.
type AgentHandleStatus string

const (
	// AgentIdle indicates the slot is free.
	AgentIdle AgentHandleStatus = "idle"
	// AgentWorking indicates the slot is bound to a story.
	AgentWorking AgentHandleStatus = "working"
	// AgentCompleted indicates the slot's last story succeeded.
	AgentCompleted AgentHandleStatus = "completed"
	// AgentFailed indicates the slot's last story failed.
	AgentFailed AgentHandleStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s AgentHandleStatus) Valid() bool {
	switch s {
	case AgentIdle, AgentWorking, AgentCompleted, AgentFailed:
		return true
	default:
		return false
	}
}

// AgentHandle is the ephemeral identity of one pool slot bound to one agent
// invocation. Handles are created when a slot fills and recycled when the
// story assigned to the slot finishes.
type AgentHandle struct {
	// InstanceID identifies the slot, e.g. "coder-2".
	InstanceID string `json:"instance_id"`
	// Role is the agent's pool role.
	Role Role `json:"role"`
	// Status is the current state of the slot.
	Status AgentHandleStatus `json:"status"`
	// CurrentStoryID is the story bound to the slot, if any.
	CurrentStoryID string `json:"current_story_id,omitempty"`
	// StartedAt is when the slot last picked up a story.
	StartedAt time.Time `json:"started_at,omitempty"`
}

// InstanceID builds the canonical slot name for a role and slot index.
func InstanceID(role Role, slot int) string {
	return fmt.Sprintf("%s-%d", role, slot)
}
