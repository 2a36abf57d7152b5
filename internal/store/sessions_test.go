package store

import (
	"testing"
)

func testSession(t *testing.T, s *Store, ownerID string) *Session {
	t.Helper()
	sess, err := s.CreateSession(ownerID, "add a button", nil, nil, false)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func TestCreateSession(t *testing.T) {
	s := testStore(t)
	u := testUser(t, s)

	repo := "https://github.com/acme/widgets"
	branch := "main"
	sess, err := s.CreateSession(u.ID, "add a button", &repo, &branch, true)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.Status != StatusPending {
		t.Errorf("status = %q, want pending", sess.Status)
	}
	if sess.OwnerID != u.ID {
		t.Errorf("owner = %q, want %q", sess.OwnerID, u.ID)
	}
	if sess.RepositoryURL == nil || *sess.RepositoryURL != repo {
		t.Errorf("repository = %v", sess.RepositoryURL)
	}
	if !sess.AutoCommit {
		t.Error("auto_commit not persisted")
	}
	if sess.CompletedAt != nil {
		t.Error("completed_at set on creation")
	}
}

func TestWorkerSessionIDFirstWriterWins(t *testing.T) {
	s := testStore(t)
	u := testUser(t, s)
	sess := testSession(t, s, u.ID)

	if err := s.SetWorkerSessionID(sess.ID, "worker-abc"); err != nil {
		t.Fatalf("set worker session id: %v", err)
	}
	// Later worker events must not overwrite the first value.
	if err := s.SetWorkerSessionID(sess.ID, "worker-def"); err != nil {
		t.Fatalf("second set: %v", err)
	}

	got, _ := s.GetSession(sess.ID)
	if got.WorkerSessionID == nil || *got.WorkerSessionID != "worker-abc" {
		t.Errorf("worker session id = %v, want worker-abc", got.WorkerSessionID)
	}
}

func TestSessionNameFirstWriterWins(t *testing.T) {
	s := testStore(t)
	u := testUser(t, s)
	sess := testSession(t, s, u.ID)

	if err := s.SetSessionName(sess.ID, "Button work"); err != nil {
		t.Fatalf("set name: %v", err)
	}
	if err := s.SetSessionName(sess.ID, "Renamed"); err != nil {
		t.Fatalf("second set: %v", err)
	}
	got, _ := s.GetSession(sess.ID)
	if got.Name == nil || *got.Name != "Button work" {
		t.Errorf("name = %v, want Button work", got.Name)
	}
}

func TestStatusForwardOnly(t *testing.T) {
	s := testStore(t)
	u := testUser(t, s)
	sess := testSession(t, s, u.ID)

	if err := s.MarkSessionRunning(sess.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := s.FinalizeSession(sess.ID, StatusCompleted); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	got, _ := s.GetSession(sess.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	firstCompleted := *got.CompletedAt

	// Terminal state is absorbing: neither a second finalize nor a
	// mark-running may change anything.
	if err := s.FinalizeSession(sess.ID, StatusError); err != nil {
		t.Fatalf("re-finalize: %v", err)
	}
	if err := s.MarkSessionRunning(sess.ID); err != nil {
		t.Fatalf("re-run: %v", err)
	}

	got, _ = s.GetSession(sess.ID)
	if got.Status != StatusCompleted {
		t.Errorf("status changed after terminal: %q", got.Status)
	}
	if !got.CompletedAt.Equal(firstCompleted) {
		t.Errorf("completed_at changed after terminal")
	}
}

func TestFinalizeRejectsNonTerminal(t *testing.T) {
	s := testStore(t)
	u := testUser(t, s)
	sess := testSession(t, s, u.ID)

	if err := s.FinalizeSession(sess.ID, StatusRunning); err == nil {
		t.Error("expected error finalizing to a non-terminal status")
	}
}

func TestMessagesAppendOnlyUntilTerminal(t *testing.T) {
	s := testStore(t)
	u := testUser(t, s)
	sess := testSession(t, s, u.ID)

	ok, err := s.AddMessage(sess.ID, MessageUser, "add a button", nil)
	if err != nil {
		t.Fatalf("add message: %v", err)
	}
	if !ok {
		t.Fatal("message insert skipped for pending session")
	}
	s.MarkSessionRunning(sess.ID)
	if ok, _ := s.AddMessage(sess.ID, MessageAssistant, "on it", nil); !ok {
		t.Fatal("message insert skipped for running session")
	}

	if err := s.FinalizeSession(sess.ID, StatusError); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	// No rows may land after the terminal transition.
	ok, err = s.AddMessage(sess.ID, MessageAssistant, "too late", nil)
	if err != nil {
		t.Fatalf("add after terminal: %v", err)
	}
	if ok {
		t.Error("message inserted after terminal state")
	}

	msgs, err := s.ListMessages(sess.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Type != MessageUser || msgs[1].Type != MessageAssistant {
		t.Errorf("order = %s, %s", msgs[0].Type, msgs[1].Type)
	}
}

func TestDeleteSession(t *testing.T) {
	s := testStore(t)
	u := testUser(t, s)
	sess := testSession(t, s, u.ID)
	s.AddMessage(sess.ID, MessageUser, "hello", nil)

	s.MarkSessionRunning(sess.ID)
	if err := s.DeleteSession(sess.ID, u.ID); err == nil {
		t.Error("expected error deleting a running session")
	}

	s.FinalizeSession(sess.ID, StatusCompleted)
	if err := s.DeleteSession(sess.ID, "someone-else"); err == nil {
		t.Error("expected error deleting another user's session")
	}
	if err := s.DeleteSession(sess.ID, u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, _ := s.GetSession(sess.ID)
	if got != nil {
		t.Error("session still present after delete")
	}
	msgs, _ := s.ListMessages(sess.ID)
	if len(msgs) != 0 {
		t.Error("messages survived session delete")
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	s := testStore(t)
	u := testUser(t, s)
	first := testSession(t, s, u.ID)
	second := testSession(t, s, u.ID)

	sessions, err := s.ListSessionsForUser(u.ID, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].ID != second.ID || sessions[1].ID != first.ID {
		t.Errorf("order = %d, %d; want %d, %d", sessions[0].ID, sessions[1].ID, second.ID, first.ID)
	}
}
