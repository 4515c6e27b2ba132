// Package sessionctl implements the Session Controller of spec.md §4.7:
// it creates sessions, drives them through the Workflow Engine, records
// every state transition to disk via the Artifact Store, and recovers
// sessions from disk at startup. Generalized from the teacher's
// pkg/session/session.go in-memory session service, backed by durable
// storage instead of a process-lifetime map.
package sessionctl

import (
	"time"

	"github.com/voxelcrew/voxelcrew/pkg/artifact"
	"github.com/voxelcrew/voxelcrew/pkg/role"
)

// Status is one of a Session's monotonic lifecycle states (spec.md §3).
type Status string

const (
	Pending     Status = "pending"
	Running     Status = "running"
	RateLimit   Status = "rate_limiting"
	Completed   Status = "completed"
	Failed      Status = "failed"
	Cancelled   Status = "cancelled"
)

// Session is the durable unit of one user request (spec.md §3).
type Session struct {
	ID                string
	Prompt            string
	Roles             role.Set
	CreatedAt         time.Time
	CompletedAt       *time.Time
	CurrentStage      string
	Status            Status
	Result            *artifact.Result
	Progress          []artifact.ProgressEvent
	OutputDir         string
	RecoveredFromDisk bool
}

func (s *Session) toRecord() *artifact.StateRecord {
	return &artifact.StateRecord{
		ID:                s.ID,
		Prompt:            s.Prompt,
		Roles:             s.Roles.Strings(),
		Status:            string(s.Status),
		CreatedAt:         s.CreatedAt,
		CompletedAt:       s.CompletedAt,
		CurrentStage:      s.CurrentStage,
		Progress:          s.Progress,
		Result:            s.Result,
		RecoveredFromDisk: s.RecoveredFromDisk,
	}
}

func fromRecord(rec *artifact.StateRecord, outputDir string) *Session {
	return &Session{
		ID:                rec.ID,
		Prompt:            rec.Prompt,
		Roles:             role.ParseSet(rec.Roles),
		CreatedAt:         rec.CreatedAt,
		CompletedAt:       rec.CompletedAt,
		CurrentStage:      rec.CurrentStage,
		Status:            Status(rec.Status),
		Result:            rec.Result,
		Progress:          rec.Progress,
		OutputDir:         outputDir,
		RecoveredFromDisk: rec.RecoveredFromDisk,
	}
}

// Filter narrows a List call (spec.md §4.7).
type Filter struct {
	Status     Status // zero value matches every status
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit      int
}

func (f Filter) matches(s *Session) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if !f.CreatedAfter.IsZero() && s.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && s.CreatedAt.After(f.CreatedBefore) {
		return false
	}
	return true
}
