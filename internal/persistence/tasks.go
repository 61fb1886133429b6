package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/apetros/agentsched/internal/scheduler"
)

// SaveTask inserts or updates a task row. Called on submission and on
// every status transition that carries new field values.
func (s *SQLiteStore) SaveTask(ctx context.Context, t *scheduler.Task) error {
	requirements, err := json.Marshal(t.Requirements)
	if err != nil {
		return fmt.Errorf("failed to marshal requirements: %w", err)
	}
	claims, err := json.Marshal(t.Claims)
	if err != nil {
		return fmt.Errorf("failed to marshal claims: %w", err)
	}
	dependsOn, err := json.Marshal(t.DependsOn)
	if err != nil {
		return fmt.Errorf("failed to marshal dependencies: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, name, priority, requirements, claims, depends_on, estimated_ns, payload, status, reason, instance_id, submitted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			priority = excluded.priority,
			requirements = excluded.requirements,
			claims = excluded.claims,
			depends_on = excluded.depends_on,
			estimated_ns = excluded.estimated_ns,
			payload = excluded.payload,
			status = excluded.status,
			reason = excluded.reason,
			instance_id = excluded.instance_id,
			updated_at = CURRENT_TIMESTAMP
	`, t.ID, t.Name, t.Priority, string(requirements), string(claims), string(dependsOn),
		t.EstimatedDuration.Nanoseconds(), t.Payload, int(t.Status), t.Reason, t.InstanceID, t.Submitted)
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", t.ID, err)
	}
	return nil
}

// UpdateTaskStatus records a status transition without rewriting the
// immutable submission fields.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, id string, status scheduler.TaskStatus, reason, instanceID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, reason = ?, instance_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, int(status), reason, instanceID, id)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return nil
}

// GetTask loads a single task by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*scheduler.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, priority, requirements, claims, depends_on, estimated_ns, payload, status, reason, instance_id, submitted_at
		FROM tasks WHERE id = ?
	`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s not found", id)
	}
	return t, err
}

// LoadQueued returns every non-terminal task, oldest first. Used at
// startup to rebuild the queue; assigned and running tasks from the
// previous process are re-queued since their instances are gone.
func (s *SQLiteStore) LoadQueued(ctx context.Context) ([]*scheduler.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, priority, requirements, claims, depends_on, estimated_ns, payload, status, reason, instance_id, submitted_at
		FROM tasks
		WHERE status NOT IN (?, ?)
		ORDER BY submitted_at ASC, id ASC
	`, int(scheduler.TaskCompleted), int(scheduler.TaskFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to query queued tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*scheduler.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*scheduler.Task, error) {
	var t scheduler.Task
	var requirements, claims, dependsOn string
	var estimatedNS int64
	var status int
	var submitted time.Time

	err := row.Scan(&t.ID, &t.Name, &t.Priority, &requirements, &claims, &dependsOn,
		&estimatedNS, &t.Payload, &status, &t.Reason, &t.InstanceID, &submitted)
	if err != nil {
		return nil, err
	}

	if requirements != "" {
		if err := json.Unmarshal([]byte(requirements), &t.Requirements); err != nil {
			return nil, fmt.Errorf("failed to unmarshal requirements for %s: %w", t.ID, err)
		}
	}
	if claims != "" {
		if err := json.Unmarshal([]byte(claims), &t.Claims); err != nil {
			return nil, fmt.Errorf("failed to unmarshal claims for %s: %w", t.ID, err)
		}
	}
	if dependsOn != "" {
		if err := json.Unmarshal([]byte(dependsOn), &t.DependsOn); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dependencies for %s: %w", t.ID, err)
		}
	}

	t.EstimatedDuration = time.Duration(estimatedNS)
	t.Status = scheduler.TaskStatus(status)
	t.Submitted = submitted
	return &t, nil
}
