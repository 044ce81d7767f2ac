package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog"
)

// Store is the single embedded relational store. Operations are
// synchronous and transactional within a single writer, per spec.md §4.1.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (or creates) the SQLite database at path with WAL journaling,
// a 3s busy timeout, and foreign keys on, then runs schema bootstrap and
// additive migrations.
func Open(path string, log zerolog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(3000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer SQLite; avoid SQLITE_BUSY from concurrent writers

	s := &Store{db: db, log: log.With().Str("component", "store").Logger()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	if err := s.seedIfEmpty(); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed store: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

var baseSchema = []string{
	`CREATE TABLE IF NOT EXISTS departments (
		id TEXT PRIMARY KEY,
		name_en TEXT NOT NULL,
		name_ko TEXT NOT NULL,
		icon TEXT,
		color TEXT,
		sort_order INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		name_ko TEXT NOT NULL DEFAULT '',
		department_id TEXT REFERENCES departments(id),
		role TEXT NOT NULL,
		cli_provider TEXT,
		avatar_emoji TEXT NOT NULL DEFAULT '',
		personality TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'idle',
		current_task_id TEXT,
		stats_tasks_done INTEGER NOT NULL DEFAULT 0,
		stats_xp INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		department_id TEXT REFERENCES departments(id),
		assigned_agent_id TEXT REFERENCES agents(id),
		status TEXT NOT NULL DEFAULT 'inbox',
		priority INTEGER NOT NULL DEFAULT 0,
		task_type TEXT NOT NULL DEFAULT '',
		project_path TEXT NOT NULL DEFAULT '',
		result TEXT NOT NULL DEFAULT '',
		started_at DATETIME,
		completed_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS subtasks (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		assigned_agent_id TEXT REFERENCES agents(id),
		blocked_reason TEXT NOT NULL DEFAULT '',
		cli_tool_use_id TEXT NOT NULL DEFAULT '',
		target_department_id TEXT REFERENCES departments(id),
		delegated_task_id TEXT REFERENCES tasks(id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender_type TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		receiver_type TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		content TEXT NOT NULL,
		message_type TEXT NOT NULL,
		task_id TEXT REFERENCES tasks(id),
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS task_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS meeting_minutes (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		meeting_type TEXT NOT NULL,
		round INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'in_progress',
		started_at DATETIME NOT NULL,
		completed_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS meeting_minute_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		meeting_id TEXT NOT NULL REFERENCES meeting_minutes(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		speaker_agent_id TEXT NOT NULL DEFAULT '',
		speaker_name TEXT NOT NULL DEFAULT '',
		speaker_department TEXT NOT NULL DEFAULT '',
		speaker_role TEXT NOT NULL DEFAULT '',
		message_type TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS oauth_credentials (
		provider TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		scope TEXT NOT NULL DEFAULT '',
		expires_at DATETIME,
		encrypted_data TEXT NOT NULL DEFAULT '',
		access_token TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS oauth_states (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		encrypted_verifier TEXT NOT NULL,
		redirect_to TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cli_usage_cache (
		provider TEXT PRIMARY KEY,
		windows_json TEXT NOT NULL,
		refreshed_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

// additiveColumns lists columns added after the base schema was first
// shipped. Each is attempted unconditionally on every boot; a
// duplicate-column error is swallowed, per spec.md §4.1's "schema evolves
// through additive migrations that are safe to re-run".
var additiveColumns = []string{
	// none yet — future ALTER TABLE ... ADD COLUMN statements go here.
}

func (s *Store) migrate() error {
	for _, stmt := range baseSchema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema stmt: %w", err)
		}
	}
	for _, stmt := range additiveColumns {
		if _, err := s.db.Exec(stmt); err != nil {
			if isDuplicateColumnErr(err) {
				continue
			}
			return fmt.Errorf("exec migration %q: %w", stmt, err)
		}
	}
	return nil
}

func isDuplicateColumnErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column")
}

// seedIfEmpty seeds six departments in workflow order and a baseline
// agent roster on first boot when counts are zero, per spec.md §4.1.
func (s *Store) seedIfEmpty() error {
	var deptCount int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM departments`).Scan(&deptCount); err != nil {
		return err
	}
	if deptCount == 0 {
		if err := s.seedDepartments(); err != nil {
			return err
		}
	}

	var agentCount int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM agents`).Scan(&agentCount); err != nil {
		return err
	}
	if agentCount == 0 {
		if err := s.seedAgents(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) seedDepartments() error {
	depts := []Department{
		{DeptPlanning, "Planning", "기획팀", "📋", "#6366f1", 0},
		{DeptDevelopment, "Development", "개발팀", "💻", "#22c55e", 1},
		{DeptDesign, "Design", "디자인팀", "🎨", "#ec4899", 2},
		{DeptQA, "QA", "QA팀", "🔍", "#f59e0b", 3},
		{DeptDevSecOps, "DevSecOps", "데브섹옵스팀", "🔐", "#ef4444", 4},
		{DeptOperations, "Operations", "운영팀", "⚙️", "#64748b", 5},
	}
	for _, d := range depts {
		if _, err := s.db.Exec(
			`INSERT INTO departments (id, name_en, name_ko, icon, color, sort_order) VALUES (?,?,?,?,?,?)`,
			d.ID, d.NameEN, d.NameKO, d.Icon, d.Color, d.SortOrder); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) seedAgents() error {
	type seed struct {
		id, name, nameKO, dept, role, provider string
	}
	roster := []seed{
		{"aria", "Aria", "아리아", DeptDevelopment, RoleTeamLeader, ProviderClaude},
		{"milo", "Milo", "마일로", DeptDevelopment, RoleSenior, ProviderCodex},
		{"nova", "Nova", "노바", DeptDesign, RoleTeamLeader, ProviderGemini},
		{"iris", "Iris", "아이리스", DeptQA, RoleTeamLeader, ProviderOpenCode},
		{"kai", "Kai", "카이", DeptPlanning, RoleTeamLeader, ProviderClaude},
		{"zed", "Zed", "제드", DeptDevSecOps, RoleTeamLeader, ProviderCopilot},
		{"lex", "Lex", "렉스", DeptOperations, RoleTeamLeader, ProviderAntigravity},
	}
	for _, a := range roster {
		dept := a.dept
		provider := a.provider
		if _, err := s.db.Exec(
			`INSERT INTO agents (id, name, name_ko, department_id, role, cli_provider, status, stats_tasks_done, stats_xp)
			 VALUES (?,?,?,?,?,?,?,0,0)`,
			a.id, a.name, a.nameKO, dept, a.role, provider, AgentIdle); err != nil {
			return err
		}
	}
	return nil
}
