// Package audit records role and permission mutations for compliance
// review. Emission is asynchronous and best-effort: an audit outage never
// blocks an administrative change.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keystone-pm/keystone/internal/authz"
)

// Audited actions.
const (
	ActionRoleUpdated         = "role.updated"
	ActionRoleDeleted         = "role.deleted"
	ActionPermissionsReplaced = "role.permissions_replaced"
	ActionRoleAssigned        = "role.assigned"
	ActionRoleUnassigned      = "role.unassigned"
)

// Event is one recorded mutation.
type Event struct {
	ID               uuid.UUID       `json:"id"`
	Action           string          `json:"action"`
	Actor            authz.Principal `json:"actor"`
	RoleID           uuid.UUID       `json:"roleId"`
	RoleName         string          `json:"roleName"`
	PermissionsCount int             `json:"permissionsCount"`
	Meta             map[string]any  `json:"meta,omitempty"`
	At               time.Time       `json:"at"`
}

// Emitter hands events off for recording. Implemented by the jobs client.
type Emitter interface {
	EmitAuditEvent(ctx context.Context, event Event) error
}

// Writer persists events into authz_audit_events. It runs inside the
// worker, not the request path.
type Writer struct {
	pool *pgxpool.Pool
}

// NewWriter returns a Writer over the pool.
func NewWriter(pool *pgxpool.Pool) *Writer {
	return &Writer{pool: pool}
}

// Record persists one event.
func (w *Writer) Record(ctx context.Context, event Event) error {
	if w == nil {
		return errors.New("audit writer not initialised")
	}
	if event.Action == "" || event.Actor.ID == "" {
		return errors.New("audit event requires action and actor")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	metaJSON, err := json.Marshal(event.Meta)
	if err != nil {
		return err
	}
	_, err = w.pool.Exec(ctx, `
		INSERT INTO authz_audit_events
			(id, action, actor_id, actor_kind, role_id, role_name, permissions_count, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID, event.Action, event.Actor.ID, string(event.Actor.Kind),
		event.RoleID, event.RoleName, event.PermissionsCount, metaJSON, event.At)
	return err
}

// List returns recent events, newest first.
func (w *Writer) List(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := w.pool.Query(ctx, `
		SELECT id, action, actor_id, actor_kind, role_id, role_name, permissions_count, meta, occurred_at
		FROM authz_audit_events
		ORDER BY occurred_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var (
			event    Event
			kind     string
			metaJSON []byte
		)
		if err := rows.Scan(&event.ID, &event.Action, &event.Actor.ID, &kind,
			&event.RoleID, &event.RoleName, &event.PermissionsCount, &metaJSON, &event.At); err != nil {
			return nil, err
		}
		event.Actor.Kind = authz.PrincipalKind(kind)
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &event.Meta)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
