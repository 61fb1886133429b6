package persistence

import (
	"context"
	"fmt"
)

// Outcome is one journalled matcher feedback entry.
type Outcome struct {
	TaskID        string
	Success       bool
	Quality       float64
	WeightVersion uint64
}

// RecordOutcome appends a matcher outcome. Satisfies the matcher's
// OutcomeSink, which carries no context, so writes use Background.
func (s *SQLiteStore) RecordOutcome(taskID string, success bool, quality float64, version uint64) error {
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO match_outcomes (task_id, success, quality, weight_version)
		VALUES (?, ?, ?, ?)
	`, taskID, success, quality, version)
	if err != nil {
		return fmt.Errorf("failed to record outcome for task %s: %w", taskID, err)
	}
	return nil
}

// Outcomes returns the journalled outcomes for a task, oldest first.
func (s *SQLiteStore) Outcomes(ctx context.Context, taskID string) ([]Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, success, quality, weight_version
		FROM match_outcomes WHERE task_id = ? ORDER BY id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes for task %s: %w", taskID, err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.TaskID, &o.Success, &o.Quality, &o.WeightVersion); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
