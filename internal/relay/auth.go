package relay

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/webedt/webedt/internal/logger"
	"github.com/webedt/webedt/internal/store"
)

const (
	sessionCookieName = "webedt_session"
	sessionDuration   = 30 * 24 * time.Hour
)

func generateToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	secure := strings.HasPrefix(s.Config.Server.BaseURL, "https")
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionDuration.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   sessionCookieName,
		Path:   "/",
		MaxAge: -1,
	})
}

// startWebSession creates the session row and cookie for a logged-in user.
func (s *Server) startWebSession(w http.ResponseWriter, userID string) error {
	token := generateToken()
	if err := s.Store.CreateWebSession(token, userID, time.Now().Add(sessionDuration)); err != nil {
		return err
	}
	s.setSessionCookie(w, token)
	return nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuthRate(w, r) {
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "valid email is required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	user, err := s.Store.CreateUser(req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusConflict, "email already registered")
		return
	}
	if err := s.startWebSession(w, user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Info("user registered", "user", user.ID)
	writeJSON(w, http.StatusOK, userInfo(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuthRate(w, r) {
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	user, err := s.Store.Authenticate(strings.TrimSpace(strings.ToLower(req.Email)), req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := s.startWebSession(w, user.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, userInfo(user))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		if err := s.Store.DeleteWebSession(c.Value); err != nil {
			logger.Warn("delete web session", "error", err)
		}
	}
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}
	writeJSON(w, http.StatusOK, userInfo(user))
}

// handleIssueToken mints a bearer token for programmatic clients (CLI, CI).
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}
	token, exp, err := s.issueAPIToken(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": exp.Unix(),
	})
}

func (s *Server) handleWorkerCredential(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}
	var req struct {
		Credential string `json:"credential"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Credential == "" {
		writeError(w, http.StatusBadRequest, "credential is required")
		return
	}
	if err := s.Store.SetWorkerCredential(user.ID, req.Credential); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func userInfo(u *store.User) map[string]any {
	info := map[string]any{
		"id":                  u.ID,
		"email":               u.Email,
		"hasWorkerCredential": u.HasWorkerCredential(),
	}
	if u.GitHubLogin != nil {
		info["githubLogin"] = *u.GitHubLogin
	}
	return info
}
