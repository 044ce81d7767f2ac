package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/climpire/internal/errs"
)

// CreateSubtask inserts a subtask. If TargetDepartmentID is set and
// Status is empty, it starts blocked per spec.md §3's foreign-subtask
// invariant — callers performing department-keyword detection should set
// Status/BlockedReason themselves before calling this.
func (s *Store) CreateSubtask(ctx context.Context, st *Subtask) error {
	if st.ID == "" {
		st.ID = NewID()
	}
	if st.Status == "" {
		st.Status = SubtaskPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subtasks (id, task_id, title, description, status, assigned_agent_id, blocked_reason, cli_tool_use_id, target_department_id, delegated_task_id)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		st.ID, st.TaskID, st.Title, st.Description, st.Status, st.AssignedAgentID, st.BlockedReason,
		st.CliToolUseID, st.TargetDepartmentID, st.DelegatedTaskID)
	return err
}

// ListSubtasks returns all subtasks of a task.
func (s *Store) ListSubtasks(ctx context.Context, taskID string) ([]Subtask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, title, description, status, assigned_agent_id, blocked_reason, cli_tool_use_id, target_department_id, delegated_task_id
		 FROM subtasks WHERE task_id = ? ORDER BY rowid`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubtaskRows(rows)
}

// GetSubtaskByToolUseID finds the subtask correlated with a CLI stream's
// tool_use / collab-tool item id, used to match start/end markers.
func (s *Store) GetSubtaskByToolUseID(ctx context.Context, taskID, toolUseID string) (*Subtask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, title, description, status, assigned_agent_id, blocked_reason, cli_tool_use_id, target_department_id, delegated_task_id
		 FROM subtasks WHERE task_id = ? AND cli_tool_use_id = ? LIMIT 1`, taskID, toolUseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	subs, err := scanSubtaskRows(rows)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, errs.NewNotFoundError("subtask", toolUseID)
	}
	return &subs[0], nil
}

// GetSubtask loads one subtask by id.
func (s *Store) GetSubtask(ctx context.Context, id string) (*Subtask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, title, description, status, assigned_agent_id, blocked_reason, cli_tool_use_id, target_department_id, delegated_task_id
		 FROM subtasks WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	subs, err := scanSubtaskRows(rows)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, errs.NewNotFoundError("subtask", id)
	}
	return &subs[0], nil
}

// UpdateSubtask applies a whitelisted partial update.
func (s *Store) UpdateSubtask(ctx context.Context, id string, updates map[string]any) error {
	allowed := map[string]bool{
		"title": true, "description": true, "status": true, "assigned_agent_id": true,
		"blocked_reason": true, "cli_tool_use_id": true, "target_department_id": true, "delegated_task_id": true,
	}
	var sets []string
	var args []any
	for k, v := range updates {
		if !allowed[k] {
			continue
		}
		sets = append(sets, k+" = ?")
		args = append(args, v)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE subtasks SET %s WHERE id = ?`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.NewNotFoundError("subtask", id)
	}
	return nil
}

// CompleteNonForeignSubtasks marks every subtask of taskID with no
// target_department_id as done, per spec.md §4.10 step 4.
func (s *Store) CompleteNonForeignSubtasks(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subtasks SET status = ? WHERE task_id = ? AND target_department_id IS NULL AND status != ?`,
		SubtaskDone, taskID, SubtaskDone)
	return err
}

// AllSubtasksDone reports whether every subtask of a task is done.
func (s *Store) AllSubtasksDone(ctx context.Context, taskID string) (bool, error) {
	var incomplete int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subtasks WHERE task_id = ? AND status != ?`, taskID, SubtaskDone).Scan(&incomplete)
	if err != nil {
		return false, err
	}
	return incomplete == 0, nil
}

func scanSubtaskRows(rows *sql.Rows) ([]Subtask, error) {
	var out []Subtask
	for rows.Next() {
		var st Subtask
		if err := rows.Scan(&st.ID, &st.TaskID, &st.Title, &st.Description, &st.Status, &st.AssignedAgentID,
			&st.BlockedReason, &st.CliToolUseID, &st.TargetDepartmentID, &st.DelegatedTaskID); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
