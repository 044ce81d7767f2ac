package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/nextlevelbuilder/climpire/internal/errs"
)

// CreateMeeting starts a new meeting round row in state in_progress.
func (s *Store) CreateMeeting(ctx context.Context, m *MeetingMinutes) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.Status == "" {
		m.Status = MeetingInProgress
	}
	m.StartedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meeting_minutes (id, task_id, meeting_type, round, title, status, started_at, completed_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		m.ID, m.TaskID, m.MeetingType, m.Round, m.Title, m.Status, m.StartedAt, m.CompletedAt)
	return err
}

// AppendMeetingEntry records one speaking turn, assigning the next seq
// number within the meeting.
func (s *Store) AppendMeetingEntry(ctx context.Context, e *MeetingMinuteEntry) error {
	var maxSeq sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM meeting_minute_entries WHERE meeting_id = ?`, e.MeetingID).Scan(&maxSeq); err != nil {
		return err
	}
	e.Seq = int(maxSeq.Int64) + 1
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meeting_minute_entries (meeting_id, seq, speaker_agent_id, speaker_name, speaker_department, speaker_role, message_type, content)
		 VALUES (?,?,?,?,?,?,?,?)`,
		e.MeetingID, e.Seq, e.SpeakerAgentID, e.SpeakerName, e.SpeakerDept, e.SpeakerRole, e.MessageType, e.Content)
	return err
}

// FinishMeeting marks a meeting terminal (completed / revision_requested /
// failed) and stamps completed_at.
func (s *Store) FinishMeeting(ctx context.Context, meetingID, status string) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE meeting_minutes SET status = ?, completed_at = ? WHERE id = ?`, status, now, meetingID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.NewNotFoundError("meeting", meetingID)
	}
	return nil
}

// LatestRound returns the highest round number recorded for a
// (taskID, meetingType) pair, or 0 if none exist — callers add 1 to
// resume numbering, per the persisted reviewRoundState described in
// spec.md §3.
func (s *Store) LatestRound(ctx context.Context, taskID, meetingType string) (int, error) {
	var round sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(round) FROM meeting_minutes WHERE task_id = ? AND meeting_type = ?`, taskID, meetingType).Scan(&round)
	if err != nil {
		return 0, err
	}
	return int(round.Int64), nil
}

// GetMeetingWithEntries loads a meeting plus its entries ordered by seq,
// per GET /api/tasks/:id/meeting-minutes.
func (s *Store) MeetingMinutesForTask(ctx context.Context, taskID string) ([]MeetingMinutes, map[string][]MeetingMinuteEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, meeting_type, round, title, status, started_at, completed_at
		 FROM meeting_minutes WHERE task_id = ? ORDER BY round`, taskID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var meetings []MeetingMinutes
	for rows.Next() {
		var m MeetingMinutes
		if err := rows.Scan(&m.ID, &m.TaskID, &m.MeetingType, &m.Round, &m.Title, &m.Status, &m.StartedAt, &m.CompletedAt); err != nil {
			return nil, nil, err
		}
		meetings = append(meetings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	entries := make(map[string][]MeetingMinuteEntry)
	for _, m := range meetings {
		erows, err := s.db.QueryContext(ctx,
			`SELECT id, meeting_id, seq, speaker_agent_id, speaker_name, speaker_department, speaker_role, message_type, content
			 FROM meeting_minute_entries WHERE meeting_id = ? ORDER BY seq`, m.ID)
		if err != nil {
			return nil, nil, err
		}
		var list []MeetingMinuteEntry
		for erows.Next() {
			var e MeetingMinuteEntry
			if err := erows.Scan(&e.ID, &e.MeetingID, &e.Seq, &e.SpeakerAgentID, &e.SpeakerName,
				&e.SpeakerDept, &e.SpeakerRole, &e.MessageType, &e.Content); err != nil {
				erows.Close()
				return nil, nil, err
			}
			list = append(list, e)
		}
		erows.Close()
		entries[m.ID] = list
	}
	return meetings, entries, nil
}
