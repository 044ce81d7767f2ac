package store

import (
	"context"

	"github.com/nextlevelbuilder/climpire/internal/errs"
)

// DepartmentWithCount is a Department joined against a live agent count.
type DepartmentWithCount struct {
	Department
	AgentCount int `json:"agent_count"`
}

// ListDepartments returns all departments in workflow order with a joined
// agent count, per GET /api/departments.
func (s *Store) ListDepartments(ctx context.Context) ([]DepartmentWithCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.name_en, d.name_ko, d.icon, d.color, d.sort_order,
		        (SELECT COUNT(*) FROM agents a WHERE a.department_id = d.id) AS agent_count
		 FROM departments d
		 ORDER BY d.sort_order`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DepartmentWithCount
	for rows.Next() {
		var d DepartmentWithCount
		if err := rows.Scan(&d.ID, &d.NameEN, &d.NameKO, &d.Icon, &d.Color, &d.SortOrder, &d.AgentCount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDepartment loads a single department by id.
func (s *Store) GetDepartment(ctx context.Context, id string) (*Department, error) {
	var d Department
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name_en, name_ko, icon, color, sort_order FROM departments WHERE id = ?`, id,
	).Scan(&d.ID, &d.NameEN, &d.NameKO, &d.Icon, &d.Color, &d.SortOrder)
	if err != nil {
		return nil, errs.NewNotFoundError("department", id)
	}
	return &d, nil
}

// TeamLeaderOf returns the team_leader agent for a department, if any.
func (s *Store) TeamLeaderOf(ctx context.Context, departmentID string) (*Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, name_ko, department_id, role, cli_provider, avatar_emoji, personality, status, current_task_id, stats_tasks_done, stats_xp
		 FROM agents WHERE department_id = ? AND role = ? LIMIT 1`, departmentID, RoleTeamLeader)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	agents, err := scanAgentRows(rows)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, errs.NewNotFoundError("team_leader", departmentID)
	}
	return &agents[0], nil
}
