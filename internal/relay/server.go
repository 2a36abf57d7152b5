// Package relay is the WebEDT web server: authentication, GitHub OAuth,
// session CRUD, and the /api/execute streaming proxy that sits between the
// browser and the ai-coding-worker.
package relay

import (
	"fmt"
	"net/http"

	"github.com/webedt/webedt/internal/config"
	"github.com/webedt/webedt/internal/store"
	"github.com/webedt/webedt/internal/worker"
)

type Server struct {
	Store  *store.Store
	Config *config.Config
	Worker *worker.Client

	mux         *http.ServeMux
	jwtSecret   []byte
	authLimiter *ipLimiter
}

func NewServer(st *store.Store, cfg *config.Config) (*Server, error) {
	secret, err := GenerateOrLoadSecret(st, cfg.Server.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("jwt secret: %w", err)
	}

	s := &Server{
		Store:       st,
		Config:      cfg,
		Worker:      worker.New(cfg.Worker.URL),
		mux:         http.NewServeMux(),
		jwtSecret:   secret,
		authLimiter: newIPLimiter(authRatePerMinute, authBurst),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	s.mux.HandleFunc("GET /api/auth/me", s.handleMe)
	s.mux.HandleFunc("POST /api/auth/token", s.handleIssueToken)
	s.mux.HandleFunc("PUT /api/auth/worker-credential", s.handleWorkerCredential)

	s.mux.HandleFunc("GET /auth/github", s.handleGitHubAuth)
	s.mux.HandleFunc("GET /auth/github/callback", s.handleGitHubCallback)

	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleListMessages)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)

	s.mux.HandleFunc("POST /api/execute", s.handleExecute)

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
