package relay

import (
	"net/http"
	"strconv"

	"github.com/webedt/webedt/internal/store"
)

// sessionFromPath resolves {id} to a session owned by the caller. Sessions
// belonging to someone else read as not-found rather than forbidden.
func (s *Server) sessionFromPath(w http.ResponseWriter, r *http.Request, ownerID string) *store.Session {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return nil
	}
	sess, err := s.Store.GetSession(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil
	}
	if sess == nil || sess.OwnerID != ownerID {
		writeError(w, http.StatusNotFound, "session not found")
		return nil
	}
	return sess
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}
	sessions, err := s.Store.ListSessionsForUser(user.ID, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}
	sess := s.sessionFromPath(w, r, user.ID)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}
	sess := s.sessionFromPath(w, r, user.ID)
	if sess == nil {
		return
	}
	msgs, err := s.Store.ListMessages(sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}
	sess := s.sessionFromPath(w, r, user.ID)
	if sess == nil {
		return
	}
	if err := s.Store.DeleteSession(sess.ID, user.ID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
