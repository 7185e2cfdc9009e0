package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs. OldData and NewData carry
// before/after images where a mutation has them.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	OldData  map[string]any
	NewData  map[string]any
	At       time.Time
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry. Callers invoke it after their own transaction
// commits and ignore the result so a slow sink never fails the mutation.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	oldJSON, err := json.Marshal(log.OldData)
	if err != nil {
		return err
	}
	newJSON, err := json.Marshal(log.NewData)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, old_data, new_data, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`, log.ActorID, log.Action, log.Entity, log.EntityID, oldJSON, newJSON, log.At)
	return err
}

// Timeline lists audit entries for one entity, oldest first.
func (l *AuditLogger) Timeline(ctx context.Context, entity, entityID string, limit int) ([]AuditLog, error) {
	if l == nil {
		return nil, errors.New("audit logger not initialised")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.pool.Query(ctx, `SELECT actor_id, action, entity, entity_id, old_data, new_data, occurred_at
FROM audit_logs WHERE entity=$1 AND entity_id=$2 ORDER BY occurred_at ASC LIMIT $3`, entity, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []AuditLog
	for rows.Next() {
		var entry AuditLog
		var oldJSON, newJSON []byte
		if err := rows.Scan(&entry.ActorID, &entry.Action, &entry.Entity, &entry.EntityID, &oldJSON, &newJSON, &entry.At); err != nil {
			return nil, err
		}
		if len(oldJSON) > 0 {
			_ = json.Unmarshal(oldJSON, &entry.OldData)
		}
		if len(newJSON) > 0 {
			_ = json.Unmarshal(newJSON, &entry.NewData)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}
