package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/keystone-pm/keystone/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditRecord persists one audit event.
	TaskAuditRecord = "audit:record"
	// TaskAuthzSweep invalidates cached decisions for principals whose
	// management relationships ended without mutation traffic.
	TaskAuthzSweep = "authz:sweep"
)

// AuditRecordPayload wraps the event to persist.
type AuditRecordPayload struct {
	Event audit.Event `json:"event"`
}

// NewAuditRecordTask constructs an audit:record task.
func NewAuditRecordTask(payload AuditRecordPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRecord, data, asynq.MaxRetry(5)), nil
}

// AuthzSweepPayload bounds how far back the sweep looks for ended
// relationships. Zero means one sweep window plus slack.
type AuthzSweepPayload struct {
	Window time.Duration `json:"window"`
}

// NewAuthzSweepTask constructs an authz:sweep task.
func NewAuthzSweepTask(payload AuthzSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuthzSweep, data), nil
}
