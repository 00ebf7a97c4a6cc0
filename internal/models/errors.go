package models

import "fmt"

// CycleError reports a prerequisite edge that would create a cycle.
// The offending edge is rejected and the graph left unchanged.
type CycleError struct {
	SkillID        int64
	PrerequisiteID int64
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("adding prerequisite %d to skill %d would create a cycle",
		e.PrerequisiteID, e.SkillID)
}

// ValidationError reports a malformed parameter or training record. Batch
// operations accumulate these and keep processing the remaining records.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown learner/skill/task id on a management
// API. Serving paths return neutral defaults instead of this error.
type NotFoundError struct {
	Kind string
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

// SnapshotError reports a structurally corrupt model snapshot. Loads abort
// entirely on this error; nothing is partially applied.
type SnapshotError struct {
	Reason string
	Err    error
}

func (e *SnapshotError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model snapshot: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("model snapshot: %s", e.Reason)
}

func (e *SnapshotError) Unwrap() error { return e.Err }
