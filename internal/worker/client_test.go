package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestExecuteOpensStream(t *testing.T) {
	var got ExecuteRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if accept := r.Header.Get("Accept"); accept != "text/event-stream" {
			t.Errorf("accept = %q", accept)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: connected\ndata: {}\n\n")
	}))
	t.Cleanup(ts.Close)

	c := New(ts.URL + "/")
	body, err := c.Execute(context.Background(), &ExecuteRequest{
		UserRequest:                   "add a button",
		CodingAssistantAuthentication: "sk-agent-123",
		GitHub:                        &GitHubBinding{RepoURL: "https://github.com/acme/widgets", AccessToken: "gho_x"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	defer body.Close()

	data, _ := io.ReadAll(body)
	if !strings.Contains(string(data), "event: connected") {
		t.Errorf("stream = %q", data)
	}
	if got.CodingAssistantProvider != DefaultProvider {
		t.Errorf("provider = %q, want default", got.CodingAssistantProvider)
	}
	if got.GitHub == nil || got.GitHub.RepoURL != "https://github.com/acme/widgets" {
		t.Errorf("github binding = %+v", got.GitHub)
	}
}

func TestExecuteRejectedRequest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":"no capacity"}`)
	}))
	t.Cleanup(ts.Close)

	c := New(ts.URL)
	_, err := c.Execute(context.Background(), &ExecuteRequest{UserRequest: "x"})
	if err == nil {
		t.Fatal("expected error for 503")
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "no capacity") {
		t.Errorf("error = %v", err)
	}
}

func TestExecuteUnreachable(t *testing.T) {
	c := New("http://127.0.0.1:1")
	if _, err := c.Execute(context.Background(), &ExecuteRequest{UserRequest: "x"}); err == nil {
		t.Fatal("expected connection error")
	}
}
