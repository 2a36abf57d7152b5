package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/webedt/webedt/internal/logger"
)

// GitHub OAuth connects a repository-capable GitHub account to an existing
// WebEDT user; the access token is what the relay hands to the worker for
// repository-bound sessions. This is account linking, not login.

// OAuth state CSRF

func (s *Server) setOAuthState(w http.ResponseWriter) string {
	state := generateToken()
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/auth",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return state
}

func (s *Server) validateOAuthState(w http.ResponseWriter, r *http.Request) bool {
	c, err := r.Cookie("oauth_state")
	if err != nil {
		return false
	}
	http.SetCookie(w, &http.Cookie{
		Name:   "oauth_state",
		Path:   "/auth",
		MaxAge: -1,
	})
	return c.Value == r.URL.Query().Get("state")
}

func (s *Server) handleGitHubAuth(w http.ResponseWriter, r *http.Request) {
	if s.Config.GitHub.ClientID == "" {
		http.NotFound(w, r)
		return
	}
	if s.currentUser(r) == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	state := s.setOAuthState(w)
	u := fmt.Sprintf(
		"https://github.com/login/oauth/authorize?client_id=%s&redirect_uri=%s&scope=repo&state=%s",
		url.QueryEscape(s.Config.GitHub.ClientID),
		url.QueryEscape(s.Config.Server.BaseURL+"/auth/github/callback"),
		url.QueryEscape(state),
	)
	http.Redirect(w, r, u, http.StatusTemporaryRedirect)
}

func (s *Server) handleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	user := s.currentUser(r)
	if user == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !s.validateOAuthState(w, r) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	// Exchange code for access token
	body := url.Values{
		"client_id":     {s.Config.GitHub.ClientID},
		"client_secret": {s.Config.GitHub.ClientSecret},
		"code":          {code},
	}
	req, _ := http.NewRequest("POST", "https://github.com/login/oauth/access_token", strings.NewReader(body.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		http.Error(w, "token exchange failed", http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	var tokenData struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenData); err != nil || tokenData.AccessToken == "" {
		http.Error(w, "invalid token response", http.StatusInternalServerError)
		return
	}

	// Fetch user info
	userReq, _ := http.NewRequest("GET", "https://api.github.com/user", nil)
	userReq.Header.Set("Authorization", "Bearer "+tokenData.AccessToken)
	userResp, err := http.DefaultClient.Do(userReq)
	if err != nil {
		http.Error(w, "failed to fetch user", http.StatusInternalServerError)
		return
	}
	defer userResp.Body.Close()

	var ghUser struct {
		Login string `json:"login"`
	}
	if err := json.NewDecoder(userResp.Body).Decode(&ghUser); err != nil || ghUser.Login == "" {
		http.Error(w, "invalid user response", http.StatusInternalServerError)
		return
	}

	if err := s.Store.SetGitHub(user.ID, ghUser.Login, tokenData.AccessToken); err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	logger.Info("github linked", "user", user.ID, "login", ghUser.Login)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
