package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/climpire/internal/errs"
)

// AgentWithDepartment is an Agent joined against its department's display
// fields, per GET /api/agents.
type AgentWithDepartment struct {
	Agent
	DepartmentName string `json:"department_name,omitempty"`
}

// ListAgents returns all agents joined with department display fields.
func (s *Store) ListAgents(ctx context.Context) ([]AgentWithDepartment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.name, a.name_ko, a.department_id, a.role, a.cli_provider, a.avatar_emoji, a.personality,
		        a.status, a.current_task_id, a.stats_tasks_done, a.stats_xp, COALESCE(d.name_en, '')
		 FROM agents a LEFT JOIN departments d ON d.id = a.department_id
		 ORDER BY d.sort_order, a.role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AgentWithDepartment
	for rows.Next() {
		var a AgentWithDepartment
		if err := rows.Scan(&a.ID, &a.Name, &a.NameKO, &a.DepartmentID, &a.Role, &a.CliProvider,
			&a.AvatarEmoji, &a.Personality, &a.Status, &a.CurrentTaskID, &a.StatsTasksDone, &a.StatsXP,
			&a.DepartmentName); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAgent loads a single agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, name_ko, department_id, role, cli_provider, avatar_emoji, personality, status, current_task_id, stats_tasks_done, stats_xp
		 FROM agents WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	agents, err := scanAgentRows(rows)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, errs.NewNotFoundError("agent", id)
	}
	return &agents[0], nil
}

// ListAgentsByDepartment returns all agents in a department.
func (s *Store) ListAgentsByDepartment(ctx context.Context, departmentID string) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, name_ko, department_id, role, cli_provider, avatar_emoji, personality, status, current_task_id, stats_tasks_done, stats_xp
		 FROM agents WHERE department_id = ?`, departmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAgentRows(rows)
}

// UpdateAgent applies a whitelisted partial update, per
// PATCH /api/agents/:id. Allowed keys: name, name_ko, department_id,
// role, cli_provider, avatar_emoji, personality, status, current_task_id.
func (s *Store) UpdateAgent(ctx context.Context, id string, updates map[string]any) error {
	allowed := map[string]bool{
		"name": true, "name_ko": true, "department_id": true, "role": true,
		"cli_provider": true, "avatar_emoji": true, "personality": true,
		"status": true, "current_task_id": true,
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
		fmt.Sprintf(`UPDATE agents SET %s WHERE id = ?`, strings.Join(sets, ", ")), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.NewNotFoundError("agent", id)
	}
	return nil
}

// SetAgentWorking flips an agent to working on taskID, enforcing the
// invariant "status = working ⇔ current_task_id is set".
func (s *Store) SetAgentWorking(ctx context.Context, agentID, taskID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status = ?, current_task_id = ? WHERE id = ?`, AgentWorking, taskID, agentID)
	return err
}

// SetAgentIdle resets an agent to idle with no current task, optionally
// crediting a completed task's XP/counter.
func (s *Store) SetAgentIdle(ctx context.Context, agentID string, creditCompletion bool) error {
	if creditCompletion {
		_, err := s.db.ExecContext(ctx,
			`UPDATE agents SET status = ?, current_task_id = NULL, stats_tasks_done = stats_tasks_done + 1, stats_xp = stats_xp + 10 WHERE id = ?`,
			AgentIdle, agentID)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status = ?, current_task_id = NULL WHERE id = ?`, AgentIdle, agentID)
	return err
}

// PickSubordinate chooses the best subordinate in a department excluding
// excludeAgentID, preferring idle > break > working, then
// senior > junior > intern, per spec.md §4.9 step 5.
func (s *Store) PickSubordinate(ctx context.Context, departmentID, excludeAgentID string) (*Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, name_ko, department_id, role, cli_provider, avatar_emoji, personality, status, current_task_id, stats_tasks_done, stats_xp
		 FROM agents
		 WHERE department_id = ? AND id != ? AND role != ?
		 ORDER BY
		   CASE status WHEN 'idle' THEN 0 WHEN 'break' THEN 1 WHEN 'working' THEN 2 ELSE 3 END,
		   CASE role WHEN 'senior' THEN 0 WHEN 'junior' THEN 1 WHEN 'intern' THEN 2 ELSE 3 END
		 LIMIT 1`,
		departmentID, excludeAgentID, RoleTeamLeader)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	agents, err := scanAgentRows(rows)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, nil // none — caller self-assigns
	}
	return &agents[0], nil
}

func scanAgentRows(rows *sql.Rows) ([]Agent, error) {
	var out []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.NameKO, &a.DepartmentID, &a.Role, &a.CliProvider,
			&a.AvatarEmoji, &a.Personality, &a.Status, &a.CurrentTaskID, &a.StatsTasksDone, &a.StatsXP); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
