package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/keystone-pm/keystone/internal/audit"
	jobmetrics "github.com/keystone-pm/keystone/internal/jobs"
)

// AuditRecordJob persists emitted audit events.
type AuditRecordJob struct {
	Writer  *audit.Writer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditRecordJob wires dependencies for the audit record handler.
func NewAuditRecordJob(writer *audit.Writer, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditRecordJob {
	return &AuditRecordJob{Writer: writer, Logger: logger, Metrics: metrics}
}

// Handle processes audit:record tasks.
func (j *AuditRecordJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Writer == nil {
		return errors.New("audit record: handler not configured")
	}
	var payload AuditRecordPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskAuditRecord)
	err := j.Writer.Record(ctx, payload.Event)
	if err != nil {
		j.logger().Error("record audit event",
			slog.String("action", payload.Event.Action),
			slog.Any("error", err))
	}
	return tracker.End(err)
}

func (j *AuditRecordJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
