package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.sqlite"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSeedsDepartmentsAndAgents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	depts, err := s.ListDepartments(ctx)
	require.NoError(t, err)
	require.Len(t, depts, 6)
	assert.Equal(t, DeptPlanning, depts[0].ID)
	assert.Equal(t, DeptOperations, depts[5].ID)

	agents, err := s.ListAgents(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, agents)

	// Every seeded department has exactly one team leader.
	for _, d := range depts {
		leader, err := s.TeamLeaderOf(ctx, d.ID)
		if d.ID == DeptDevelopment {
			require.NoError(t, err)
			assert.Equal(t, RoleTeamLeader, leader.Role)
		}
	}
}

func TestTaskLifecycleStamps(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := &Task{Title: "ship it"}
	require.NoError(t, s.CreateTask(ctx, task))
	assert.Equal(t, TaskInbox, task.Status)

	require.NoError(t, s.UpdateTask(ctx, task.ID, map[string]any{"status": TaskInProgress}))
	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskInProgress, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, s.UpdateTask(ctx, task.ID, map[string]any{"status": TaskDone}))
	got, err = s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
}

func TestSubtaskCascadeDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := &Task{Title: "parent"}
	require.NoError(t, s.CreateTask(ctx, task))
	st := &Subtask{TaskID: task.ID, Title: "child"}
	require.NoError(t, s.CreateSubtask(ctx, st))

	require.NoError(t, s.DeleteTask(ctx, task.ID))

	subs, err := s.ListSubtasks(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, subs, "subtasks must not outlive their parent task")
}

func TestCompleteNonForeignSubtasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := &Task{Title: "parent"}
	require.NoError(t, s.CreateTask(ctx, task))

	design := DeptDesign
	local := &Subtask{TaskID: task.ID, Title: "local", Status: SubtaskInProgress}
	foreign := &Subtask{TaskID: task.ID, Title: "foreign", Status: SubtaskBlocked, TargetDepartmentID: &design, BlockedReason: "waiting on design"}
	require.NoError(t, s.CreateSubtask(ctx, local))
	require.NoError(t, s.CreateSubtask(ctx, foreign))

	require.NoError(t, s.CompleteNonForeignSubtasks(ctx, task.ID))

	gotLocal, err := s.GetSubtask(ctx, local.ID)
	require.NoError(t, err)
	assert.Equal(t, SubtaskDone, gotLocal.Status)

	gotForeign, err := s.GetSubtask(ctx, foreign.ID)
	require.NoError(t, err)
	assert.Equal(t, SubtaskBlocked, gotForeign.Status)

	done, err := s.AllSubtasksDone(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, s.UpdateSubtask(ctx, foreign.ID, map[string]any{"status": SubtaskDone}))
	done, err = s.AllSubtasksDone(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestPickSubordinatePrefersIdleThenSeniority(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Design's seeded roster is leader-only, so the picks below are
	// fully controlled by these inserts.
	dept := DeptDesign
	mustExec := func(query string, args ...any) {
		_, err := s.db.Exec(query, args...)
		require.NoError(t, err)
	}
	mustExec(`INSERT INTO agents (id, name, role, department_id, status, stats_tasks_done, stats_xp) VALUES ('t-lead','Lead',?,?,?,0,0)`, RoleTeamLeader, dept, AgentIdle)
	mustExec(`INSERT INTO agents (id, name, role, department_id, status, stats_tasks_done, stats_xp) VALUES ('t-junior','Junior',?,?,?,0,0)`, RoleJunior, dept, AgentIdle)
	mustExec(`INSERT INTO agents (id, name, role, department_id, status, stats_tasks_done, stats_xp) VALUES ('t-senior','Senior',?,?,?,0,0)`, RoleSenior, dept, AgentWorking)

	picked, err := s.PickSubordinate(ctx, dept, "t-lead")
	require.NoError(t, err)
	require.NotNil(t, picked)
	// Idle beats working even when the working agent is more senior.
	assert.Equal(t, "t-junior", picked.ID)
}

func TestConsumeOAuthStateExpiry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	st := &OAuthState{Provider: "google_antigravity", EncryptedVerifier: "v1:a:b:c"}
	require.NoError(t, s.CreateOAuthState(ctx, st))

	// Backdate past the 10-minute TTL.
	_, err := s.db.Exec(`UPDATE oauth_states SET created_at = ? WHERE id = ?`,
		time.Now().Add(-11*time.Minute), st.ID)
	require.NoError(t, err)

	got, err := s.ConsumeOAuthState(ctx, st.ID, "google_antigravity")
	require.NoError(t, err)
	assert.Nil(t, got, "expired state returns nil")

	// The expired row was deleted, not left behind.
	got, err = s.ConsumeOAuthState(ctx, st.ID, "google_antigravity")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestConsumeOAuthStateOneTimeUse(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	st := &OAuthState{Provider: "github-copilot", EncryptedVerifier: "none"}
	require.NoError(t, s.CreateOAuthState(ctx, st))

	got, err := s.ConsumeOAuthState(ctx, st.ID, "github-copilot")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "none", got.EncryptedVerifier)

	got, err = s.ConsumeOAuthState(ctx, st.ID, "github-copilot")
	require.NoError(t, err)
	assert.Nil(t, got, "a state row is single-use")
}

func TestSettingsJSONEncoding(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutSetting(ctx, "language", "ko"))
	require.NoError(t, s.PutSetting(ctx, "limits", map[string]int{"max": 3}))

	v, err := s.GetSetting(ctx, "language")
	require.NoError(t, err)
	assert.Equal(t, "ko", v)

	v, err = s.GetSetting(ctx, "limits")
	require.NoError(t, err)
	assert.JSONEq(t, `{"max":3}`, v)
}

func TestMeetingRoundsAndEntries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := &Task{Title: "meet"}
	require.NoError(t, s.CreateTask(ctx, task))

	round, err := s.LatestRound(ctx, task.ID, MeetingReview)
	require.NoError(t, err)
	assert.Equal(t, 0, round)

	m := &MeetingMinutes{TaskID: task.ID, MeetingType: MeetingReview, Round: 1, Title: "round 1"}
	require.NoError(t, s.CreateMeeting(ctx, m))

	for _, content := range []string{"opening", "feedback", "approval"} {
		require.NoError(t, s.AppendMeetingEntry(ctx, &MeetingMinuteEntry{MeetingID: m.ID, SpeakerAgentID: "a", Content: content}))
	}
	require.NoError(t, s.FinishMeeting(ctx, m.ID, MeetingCompleted))

	round, err = s.LatestRound(ctx, task.ID, MeetingReview)
	require.NoError(t, err)
	assert.Equal(t, 1, round)

	meetings, entries, err := s.MeetingMinutesForTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, meetings, 1)
	assert.Equal(t, MeetingCompleted, meetings[0].Status)
	require.Len(t, entries[m.ID], 3)
	assert.Equal(t, 1, entries[m.ID][0].Seq)
	assert.Equal(t, 3, entries[m.ID][2].Seq)
}
