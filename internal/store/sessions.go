package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Session status values. Transitions are strictly forward:
// pending → running → completed | error.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// Session is one persisted execute interaction, distinct from the
// authentication session.
type Session struct {
	ID              int64      `json:"id"`
	OwnerID         string     `json:"ownerId"`
	WorkerSessionID *string    `json:"workerSessionId"`
	Name            *string    `json:"name"`
	UserRequest     string     `json:"userRequest"`
	RepositoryURL   *string    `json:"repositoryUrl"`
	Branch          *string    `json:"branch"`
	AutoCommit      bool       `json:"autoCommit"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	CompletedAt     *time.Time `json:"completedAt"`
}

// Terminal reports whether the session reached an absorbing state.
func (sess *Session) Terminal() bool {
	return sess.Status == StatusCompleted || sess.Status == StatusError
}

// CreateSession inserts a pending session owned by ownerID.
func (s *Store) CreateSession(ownerID, userRequest string, repositoryURL, branch *string, autoCommit bool) (*Session, error) {
	res, err := s.db.Exec(
		`INSERT INTO sessions (owner_id, user_request, repository_url, branch, auto_commit, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ownerID, userRequest, repositoryURL, branch, autoCommit, StatusPending,
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create session id: %w", err)
	}
	return s.GetSession(id)
}

const sessionColumns = `id, owner_id, worker_session_id, name, user_request,
	repository_url, branch, auto_commit, status, created_at, completed_at`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var sess Session
	var completedAt sql.NullTime
	err := row.Scan(
		&sess.ID, &sess.OwnerID, &sess.WorkerSessionID, &sess.Name, &sess.UserRequest,
		&sess.RepositoryURL, &sess.Branch, &sess.AutoCommit, &sess.Status,
		&sess.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		sess.CompletedAt = &t
	}
	return &sess, nil
}

func (s *Store) GetSession(id int64) (*Session, error) {
	row := s.db.QueryRow("SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessionsForUser returns the user's sessions, newest first.
func (s *Store) ListSessionsForUser(ownerID string, limit int) ([]*Session, error) {
	rows, err := s.db.Query(
		"SELECT "+sessionColumns+" FROM sessions WHERE owner_id = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// MarkSessionRunning moves a pending session to running. Any other current
// status leaves the row untouched.
func (s *Store) MarkSessionRunning(id int64) error {
	_, err := s.db.Exec(
		"UPDATE sessions SET status = ? WHERE id = ? AND status = ?",
		StatusRunning, id, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("mark session running: %w", err)
	}
	return nil
}

// SetWorkerSessionID records the identifier the worker assigned. The write is
// first-writer-wins: a value already present is never overwritten, so the
// call is idempotent across repeated worker events.
func (s *Store) SetWorkerSessionID(id int64, workerSessionID string) error {
	_, err := s.db.Exec(
		"UPDATE sessions SET worker_session_id = ? WHERE id = ? AND worker_session_id IS NULL",
		workerSessionID, id,
	)
	if err != nil {
		return fmt.Errorf("set worker session id: %w", err)
	}
	return nil
}

// SetSessionName records the display name from the worker's session_name
// event. First writer wins, like the worker session id.
func (s *Store) SetSessionName(id int64, name string) error {
	_, err := s.db.Exec(
		"UPDATE sessions SET name = ? WHERE id = ? AND name IS NULL",
		name, id,
	)
	if err != nil {
		return fmt.Errorf("set session name: %w", err)
	}
	return nil
}

// FinalizeSession moves a session to completed or error and stamps
// completed_at. Terminal states are absorbing: finalizing an already-terminal
// session is a no-op and the first terminal status sticks.
func (s *Store) FinalizeSession(id int64, status string) error {
	if status != StatusCompleted && status != StatusError {
		return fmt.Errorf("finalize session: %q is not a terminal status", status)
	}
	_, err := s.db.Exec(
		"UPDATE sessions SET status = ?, completed_at = ? WHERE id = ? AND status IN (?, ?)",
		status, time.Now().UTC().Format(timeFormat), id, StatusPending, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	return nil
}

// DeleteSession removes a session and its messages. Running sessions cannot
// be deleted out from under a live stream.
func (s *Store) DeleteSession(id int64, ownerID string) error {
	res, err := s.db.Exec(
		"DELETE FROM sessions WHERE id = ? AND owner_id = ? AND status != ?",
		id, ownerID, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session not found or still running")
	}
	return nil
}
