package store

import (
	"context"
	"time"
)

// AppendTaskLog appends a free-form tagged log line to a task's history.
func (s *Store) AppendTaskLog(ctx context.Context, taskID, kind, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_logs (task_id, kind, message, created_at) VALUES (?,?,?,?)`,
		taskID, kind, message, time.Now())
	return err
}

// ListTaskLogs returns every log line for a task, oldest first.
func (s *Store) ListTaskLogs(ctx context.Context, taskID string) ([]TaskLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, kind, message, created_at FROM task_logs WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskLog
	for rows.Next() {
		var l TaskLog
		if err := rows.Scan(&l.ID, &l.TaskID, &l.Kind, &l.Message, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
