package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/climpire/internal/errs"
)

// TaskWithSubtaskCounts is a Task joined against subtask totals, per
// GET /api/tasks.
type TaskWithSubtaskCounts struct {
	Task
	SubtaskTotal int `json:"subtask_total"`
	SubtaskDone  int `json:"subtask_done"`
}

// CreateTask inserts a new task in state inbox (or the caller-supplied
// status) and stamps created_at/updated_at.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.Status == "" {
		t.Status = TaskInbox
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, title, description, department_id, assigned_agent_id, status, priority, task_type, project_path, result, started_at, completed_at, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Description, t.DepartmentID, t.AssignedAgentID, t.Status, t.Priority,
		t.TaskType, t.ProjectPath, t.Result, t.StartedAt, t.CompletedAt, t.CreatedAt, t.UpdatedAt)
	return err
}

// ListTasks filters by optional status/department/agent, joined with
// subtask counts.
func (s *Store) ListTasks(ctx context.Context, status, departmentID, agentID string) ([]TaskWithSubtaskCounts, error) {
	var where []string
	var args []any
	if status != "" {
		where = append(where, "t.status = ?")
		args = append(args, status)
	}
	if departmentID != "" {
		where = append(where, "t.department_id = ?")
		args = append(args, departmentID)
	}
	if agentID != "" {
		where = append(where, "t.assigned_agent_id = ?")
		args = append(args, agentID)
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT t.id, t.title, t.description, t.department_id, t.assigned_agent_id, t.status, t.priority,
		        t.task_type, t.project_path, t.result, t.started_at, t.completed_at, t.created_at, t.updated_at,
		        (SELECT COUNT(*) FROM subtasks st WHERE st.task_id = t.id) AS subtask_total,
		        (SELECT COUNT(*) FROM subtasks st WHERE st.task_id = t.id AND st.status = 'done') AS subtask_done
		 FROM tasks t %s ORDER BY t.priority DESC, t.created_at DESC`, whereClause), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskWithSubtaskCounts
	for rows.Next() {
		var t TaskWithSubtaskCounts
		if err := scanTaskWithCounts(rows, &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTask loads a single task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, department_id, assigned_agent_id, status, priority, task_type, project_path, result, started_at, completed_at, created_at, updated_at
		 FROM tasks WHERE id = ?`, id,
	).Scan(&t.ID, &t.Title, &t.Description, &t.DepartmentID, &t.AssignedAgentID, &t.Status, &t.Priority,
		&t.TaskType, &t.ProjectPath, &t.Result, &t.StartedAt, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.NewNotFoundError("task", id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTask applies a whitelisted partial update. Auto-stamps
// completed_at on status=done and started_at on status=in_progress, per
// PATCH /api/tasks/:id.
func (s *Store) UpdateTask(ctx context.Context, id string, updates map[string]any) error {
	allowed := map[string]bool{
		"title": true, "description": true, "department_id": true, "assigned_agent_id": true,
		"status": true, "priority": true, "task_type": true, "project_path": true, "result": true,
		"started_at": true, "completed_at": true,
	}
	now := time.Now()
	if status, ok := updates["status"].(string); ok {
		if status == TaskDone {
			updates["completed_at"] = now
		}
		if status == TaskInProgress {
			if _, hasStart := updates["started_at"]; !hasStart {
				updates["started_at"] = now
			}
		}
	}
	updates["updated_at"] = now

	var sets []string
	var args []any
	for k, v := range updates {
		if k != "updated_at" && !allowed[k] {
			continue
		}
		sets = append(sets, k+" = ?")
		args = append(args, v)
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE tasks SET %s WHERE id = ?`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.NewNotFoundError("task", id)
	}
	return nil
}

// DeleteTask removes a task row (cascades to subtasks/task_logs/meeting
// minutes via foreign keys); the caller is responsible for killing any
// active process and freeing the agent first.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE task_id = ?`, id)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.NewNotFoundError("task", id)
	}
	return nil
}

func scanTaskWithCounts(rows *sql.Rows, t *TaskWithSubtaskCounts) error {
	return rows.Scan(&t.ID, &t.Title, &t.Description, &t.DepartmentID, &t.AssignedAgentID, &t.Status,
		&t.Priority, &t.TaskType, &t.ProjectPath, &t.Result, &t.StartedAt, &t.CompletedAt, &t.CreatedAt,
		&t.UpdatedAt, &t.SubtaskTotal, &t.SubtaskDone)
}
