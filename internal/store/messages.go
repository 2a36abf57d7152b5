package store

import (
	"fmt"
	"time"
)

// Message type values.
const (
	MessageUser      = "user"
	MessageAssistant = "assistant"
	MessageSystem    = "system"
	MessageError     = "error"
)

// Message is one row of a session's append-only transcript. Insertion order
// is the sole ordering guarantee.
type Message struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"sessionId"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Images    *string   `json:"images,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}

// AddMessage appends to a session's transcript. Sessions in a terminal state
// accept no further messages; in that case the insert is skipped and
// AddMessage returns false.
func (s *Store) AddMessage(sessionID int64, msgType, content string, images *string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO messages (session_id, type, content, images, created_at)
		 SELECT ?, ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM sessions WHERE id = ? AND status IN (?, ?))`,
		sessionID, msgType, content, images, time.Now().UTC().Format(timeFormat),
		sessionID, StatusPending, StatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("add message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add message: %w", err)
	}
	return n > 0, nil
}

// ListMessages returns a session's transcript in insertion order.
func (s *Store) ListMessages(sessionID int64) ([]*Message, error) {
	rows, err := s.db.Query(
		"SELECT id, session_id, type, content, images, created_at FROM messages WHERE session_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Type, &m.Content, &m.Images, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
