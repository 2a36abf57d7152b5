package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type User struct {
	ID               string
	Email            string
	GitHubLogin      *string
	GitHubToken      *string
	WorkerCredential *string
	CreatedAt        time.Time
}

// HasWorkerCredential reports whether the upstream-agent credential is set.
// Executing a session requires it.
func (u *User) HasWorkerCredential() bool {
	return u.WorkerCredential != nil && *u.WorkerCredential != ""
}

// CreateUser registers a user with a bcrypt-hashed password.
func (s *Store) CreateUser(email, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	id := uuid.New().String()
	_, err = s.db.Exec(
		"INSERT INTO users (id, email, password_hash) VALUES (?, ?, ?)",
		id, email, string(hash),
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.GetUser(id)
}

// Authenticate checks email/password and returns the user on success.
func (s *Store) Authenticate(email, password string) (*User, error) {
	var id, hash string
	err := s.db.QueryRow("SELECT id, password_hash FROM users WHERE email = ?", email).Scan(&id, &hash)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invalid credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, fmt.Errorf("invalid credentials")
	}
	return s.GetUser(id)
}

func (s *Store) GetUser(id string) (*User, error) {
	row := s.db.QueryRow(
		"SELECT id, email, github_login, github_token, worker_credential, created_at FROM users WHERE id = ?",
		id,
	)
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.GitHubLogin, &u.GitHubToken, &u.WorkerCredential, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// SetWorkerCredential stores the credential forwarded to the ai-coding-worker.
func (s *Store) SetWorkerCredential(userID, credential string) error {
	_, err := s.db.Exec("UPDATE users SET worker_credential = ? WHERE id = ?", credential, userID)
	if err != nil {
		return fmt.Errorf("set worker credential: %w", err)
	}
	return nil
}

// SetGitHub stores the GitHub login and OAuth access token for a user.
func (s *Store) SetGitHub(userID, login, token string) error {
	_, err := s.db.Exec("UPDATE users SET github_login = ?, github_token = ? WHERE id = ?", login, token, userID)
	if err != nil {
		return fmt.Errorf("set github: %w", err)
	}
	return nil
}

// Web sessions (the authentication kind, distinct from agent sessions).

func (s *Store) CreateWebSession(token, userID string, expiresAt time.Time) error {
	_, err := s.db.Exec(
		"INSERT INTO web_sessions (token, user_id, expires_at) VALUES (?, ?, ?)",
		token, userID, expiresAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("create web session: %w", err)
	}
	return nil
}

// GetWebSession resolves a cookie token to its user, or nil when the token is
// unknown or expired.
func (s *Store) GetWebSession(token string) (*User, error) {
	now := time.Now().UTC().Format(timeFormat)
	var userID string
	err := s.db.QueryRow(
		"SELECT user_id FROM web_sessions WHERE token = ? AND expires_at > ?",
		token, now,
	).Scan(&userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get web session: %w", err)
	}
	return s.GetUser(userID)
}

func (s *Store) DeleteWebSession(token string) error {
	_, err := s.db.Exec("DELETE FROM web_sessions WHERE token = ?", token)
	if err != nil {
		return fmt.Errorf("delete web session: %w", err)
	}
	return nil
}
