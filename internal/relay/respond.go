package relay

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/webedt/webedt/internal/store"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// currentUser resolves the caller from the session cookie first, then from a
// Bearer JWT. Returns nil when neither authenticates.
func (s *Server) currentUser(r *http.Request) *store.User {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		if u, err := s.Store.GetWebSession(c.Value); err == nil && u != nil {
			return u
		}
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		userID, err := s.parseAPIToken(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			return nil
		}
		u, err := s.Store.GetUser(userID)
		if err != nil {
			return nil
		}
		return u
	}
	return nil
}

// requireUser returns the authenticated caller or writes 401 and returns nil.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) *store.User {
	u := s.currentUser(r)
	if u == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
	}
	return u
}
