package store

import (
	"context"
	"database/sql"
	"time"
)

// CreateMessage inserts a chat message and stamps created_at.
func (s *Store) CreateMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	m.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, sender_type, sender_id, receiver_type, receiver_id, content, message_type, task_id, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		m.ID, m.SenderType, m.SenderID, m.ReceiverType, m.ReceiverID, m.Content, m.MessageType, m.TaskID, m.CreatedAt)
	return err
}

// ListMessages returns messages addressed to receiverType/receiverID,
// newest first, bounded by limit (default 50), per
// GET /api/messages?receiver_type&receiver_id&limit.
func (s *Store) ListMessages(ctx context.Context, receiverType, receiverID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_type, sender_id, receiver_type, receiver_id, content, message_type, task_id, created_at
		 FROM messages WHERE receiver_type = ? AND receiver_id = ? ORDER BY created_at DESC LIMIT ?`,
		receiverType, receiverID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessageRows(rows)
}

// RecentConversation returns the last n messages exchanged between the
// CEO and a given agent (both directions) plus broadcast announcements,
// oldest first — used to compose execution-prompt context per spec.md §4.8.
func (s *Store) RecentConversation(ctx context.Context, agentID string, n int) ([]Message, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_type, sender_id, receiver_type, receiver_id, content, message_type, task_id, created_at
		 FROM messages
		 WHERE (sender_id = ? OR receiver_id = ? OR receiver_type = 'all')
		 ORDER BY created_at DESC LIMIT ?`, agentID, agentID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	msgs, err := scanMessageRows(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// DeleteMessages removes messages scoped to an agent (both directions) or
// all messages, per DELETE /api/messages?agent_id=&scope=.
func (s *Store) DeleteMessages(ctx context.Context, agentID, scope string) error {
	if scope == "all" || agentID == "" {
		_, err := s.db.ExecContext(ctx, `DELETE FROM messages`)
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE sender_id = ? OR receiver_id = ?`, agentID, agentID)
	return err
}

func scanMessageRows(rows *sql.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderType, &m.SenderID, &m.ReceiverType, &m.ReceiverID,
			&m.Content, &m.MessageType, &m.TaskID, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
