package relay

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/webedt/webedt/internal/logger"
	"github.com/webedt/webedt/internal/sse"
	"github.com/webedt/webedt/internal/store"
	"github.com/webedt/webedt/internal/worker"
)

type executeRequest struct {
	// UserRequest is either a string or an array of content blocks; it is
	// forwarded to the worker as-is.
	UserRequest     json.RawMessage `json:"userRequest"`
	RepositoryURL   string          `json:"repositoryUrl"`
	Branch          string          `json:"branch"`
	AutoCommit      bool            `json:"autoCommit"`
	ResumeSessionID int64           `json:"resumeSessionId"`
}

func (req *executeRequest) hasUserRequest() bool {
	trimmed := strings.TrimSpace(string(req.UserRequest))
	return trimmed != "" && trimmed != "null"
}

// handleExecute turns one execute request into a persisted session plus a
// live SSE pass-through of the worker's stream. Precondition failures are
// plain 400s; once streaming headers are sent, every failure is reported as
// a terminal error frame instead.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	user := s.requireUser(w, r)
	if user == nil {
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !req.hasUserRequest() && req.ResumeSessionID == 0 {
		writeError(w, http.StatusBadRequest, "userRequest or resumeSessionId is required")
		return
	}
	if !user.HasWorkerCredential() {
		writeError(w, http.StatusBadRequest, "no coding agent credential configured")
		return
	}

	// Resuming picks up the worker-side conversation of an earlier session;
	// the run itself still gets a fresh session row and message trail.
	var resumeWorkerID string
	if req.ResumeSessionID != 0 {
		prior, err := s.Store.GetSession(req.ResumeSessionID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if prior == nil || prior.OwnerID != user.ID {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		if prior.WorkerSessionID == nil {
			writeError(w, http.StatusBadRequest, "session has no worker session to resume")
			return
		}
		resumeWorkerID = *prior.WorkerSessionID
		if req.RepositoryURL == "" && prior.RepositoryURL != nil {
			req.RepositoryURL = *prior.RepositoryURL
		}
		if req.Branch == "" && prior.Branch != nil {
			req.Branch = *prior.Branch
		}
	}

	userRequestText := flattenUserRequest(req.UserRequest)

	var repoPtr, branchPtr *string
	if req.RepositoryURL != "" {
		repoPtr = &req.RepositoryURL
	}
	if req.Branch != "" {
		branchPtr = &req.Branch
	}

	sess, err := s.Store.CreateSession(user.ID, userRequestText, repoPtr, branchPtr, req.AutoCommit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if req.hasUserRequest() {
		if _, err := s.Store.AddMessage(sess.ID, store.MessageUser, userRequestText, nil); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	sw, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// The browser needs the local session id before any worker events show up.
	if err := sw.SendJSON("connected", map[string]any{"sessionId": sess.ID}); err != nil {
		s.finalizeError(sess.ID)
		return
	}

	wreq := &worker.ExecuteRequest{
		CodingAssistantProvider:       worker.DefaultProvider,
		CodingAssistantAuthentication: *user.WorkerCredential,
		ResumeSessionID:               resumeWorkerID,
		AutoCommit:                    req.AutoCommit,
	}
	if req.hasUserRequest() {
		wreq.UserRequest = req.UserRequest
	}
	if req.RepositoryURL != "" {
		binding := &worker.GitHubBinding{RepoURL: req.RepositoryURL, Branch: req.Branch}
		if user.GitHubToken != nil {
			binding.AccessToken = *user.GitHubToken
		}
		wreq.GitHub = binding
	}

	upstream, err := s.Worker.Execute(r.Context(), wreq)
	if err != nil {
		// The one path where the relay's own fetch failure is a clean
		// single event rather than a dangling connection.
		logger.Warn("worker request failed", "session", sess.ID, "error", err)
		s.failSession(sw, sess.ID, err.Error())
		return
	}
	defer upstream.Close()

	if err := s.Store.MarkSessionRunning(sess.ID); err != nil {
		logger.Error("mark session running", "session", sess.ID, "error", err)
	}

	s.relayStream(sw, sess.ID, upstream)
}

// relayStream runs the sequential read-decode-persist-forward loop until the
// upstream ends or a terminal event passes through. Chunk handling is never
// parallelized: message order must match arrival order exactly.
func (s *Server) relayStream(sw *sse.Writer, sessionID int64, upstream io.Reader) {
	var dec sse.Decoder
	buf := make([]byte, 4096)
	for {
		n, err := upstream.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				if s.relayEvent(sw, sessionID, ev) {
					return
				}
			}
		}
		if err == io.EOF {
			// Upstream services are not guaranteed to terminate framing
			// cleanly; a pending partial event still counts.
			if ev, ok := dec.Flush(); ok {
				if s.relayEvent(sw, sessionID, ev) {
					return
				}
			}
			if err := s.Store.FinalizeSession(sessionID, store.StatusCompleted); err != nil {
				logger.Error("finalize session", "session", sessionID, "error", err)
			}
			if err := sw.SendJSON("completed", map[string]any{"sessionId": sessionID}); err != nil {
				logger.Debug("client gone before completed frame", "session", sessionID)
			}
			return
		}
		if err != nil {
			// Mid-stream failure, including an aborted read when the
			// client hangs up. Either way the session must not be left
			// running forever.
			logger.Warn("upstream read failed", "session", sessionID, "error", err)
			s.failSession(sw, sessionID, "stream interrupted: "+err.Error())
			return
		}
	}
}

// relayEvent persists what the event carries and forwards the frame verbatim.
// It returns true when the event is terminal and the response should end.
func (s *Server) relayEvent(sw *sse.Writer, sessionID int64, ev sse.Event) bool {
	payload := parsePayload(ev.Data)

	// First worker event to name a session id wins; repeats are ignored.
	if wsid := payloadString(payload, "sessionId"); wsid != "" {
		if err := s.Store.SetWorkerSessionID(sessionID, wsid); err != nil {
			logger.Warn("set worker session id", "session", sessionID, "error", err)
		}
	}

	switch ev.Type {
	case "session_name":
		name := payloadString(payload, "name")
		if name == "" {
			name = payloadString(payload, "sessionName")
		}
		if name == "" {
			name = ev.Data
		}
		if err := s.Store.SetSessionName(sessionID, name); err != nil {
			logger.Warn("set session name", "session", sessionID, "error", err)
		}

	case "assistant_message", "thought", "tool_use", "result":
		// A lost display event is recoverable; a dropped live stream is
		// not, so persistence failures never abort the loop.
		if _, err := s.Store.AddMessage(sessionID, store.MessageAssistant, displayText(ev.Data, payload), nil); err != nil {
			logger.Warn("persist message", "session", sessionID, "event", ev.Type, "error", err)
		}

	case "completed":
		if err := s.Store.FinalizeSession(sessionID, store.StatusCompleted); err != nil {
			logger.Error("finalize session", "session", sessionID, "error", err)
		}
		if err := sw.Send(ev.Type, ev.Data); err != nil {
			logger.Debug("client gone before completed frame", "session", sessionID)
		}
		return true

	case "error":
		// Only a JSON payload marks a terminal application error; anything
		// else is forwarded as an ordinary frame since upstream framing is
		// not fully trusted.
		if payload != nil {
			if _, err := s.Store.AddMessage(sessionID, store.MessageError, displayText(ev.Data, payload), nil); err != nil {
				logger.Warn("persist error message", "session", sessionID, "error", err)
			}
			if err := s.Store.FinalizeSession(sessionID, store.StatusError); err != nil {
				logger.Error("finalize session", "session", sessionID, "error", err)
			}
			if err := sw.Send(ev.Type, ev.Data); err != nil {
				logger.Debug("client gone before error frame", "session", sessionID)
			}
			return true
		}
	}

	// Pass-through: unknown event types are forwarded untouched.
	if err := sw.Send(ev.Type, ev.Data); err != nil {
		logger.Warn("client write failed", "session", sessionID, "error", err)
		s.finalizeError(sessionID)
		return true
	}
	return false
}

// failSession records an error message, finalizes, and best-effort emits one
// terminal error frame.
func (s *Server) failSession(sw *sse.Writer, sessionID int64, msg string) {
	if _, err := s.Store.AddMessage(sessionID, store.MessageError, msg, nil); err != nil {
		logger.Warn("persist error message", "session", sessionID, "error", err)
	}
	s.finalizeError(sessionID)
	if err := sw.SendJSON("error", map[string]string{"error": msg}); err != nil {
		logger.Debug("client gone before error frame", "session", sessionID)
	}
}

func (s *Server) finalizeError(sessionID int64) {
	if err := s.Store.FinalizeSession(sessionID, store.StatusError); err != nil {
		logger.Error("finalize session", "session", sessionID, "error", err)
	}
}

// parsePayload returns the event data as a JSON object, or nil when it is not
// one. The relay never requires a closed schema; it only peeks at the narrow
// fields it records.
func parsePayload(data string) map[string]any {
	var payload map[string]any
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil
	}
	return payload
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	v, _ := payload[key].(string)
	return v
}

// displayText pulls the human-readable part out of a worker event, falling
// back to the raw payload for shapes the relay does not recognize.
func displayText(data string, payload map[string]any) string {
	for _, key := range []string{"message", "content", "text"} {
		if v := payloadString(payload, key); v != "" {
			return v
		}
	}
	return data
}

// flattenUserRequest renders the prompt for the message log: plain strings
// stay plain, content-block arrays are stored as their JSON.
func flattenUserRequest(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return strings.TrimSpace(string(raw))
}
