package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Writer frames events onto an http.ResponseWriter and flushes after each one.
type Writer struct {
	w http.ResponseWriter
	f http.Flusher
}

// NewWriter upgrades the response to text/event-stream framing. The headers
// are sent immediately and cannot be un-sent; callers must have finished all
// precondition checks before calling this.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &Writer{w: w, f: f}, nil
}

// Send writes one event frame. An empty event name produces a bare data frame.
func (sw *Writer) Send(event, data string) error {
	if event != "" {
		if _, err := fmt.Fprintf(sw.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	// A payload containing newlines must be split into multiple data lines
	// or it would terminate the frame early.
	for _, line := range strings.Split(data, "\n") {
		if _, err := fmt.Fprintf(sw.w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(sw.w, "\n"); err != nil {
		return err
	}
	sw.f.Flush()
	return nil
}

// SendJSON marshals v and writes it as the event's data payload.
func (sw *Writer) SendJSON(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return sw.Send(event, string(data))
}
