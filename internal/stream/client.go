// Package stream subscribes to server-sent event endpoints such as the
// relay's /api/execute, dispatching decoded events to callbacks and
// transparently reconnecting dropped GET subscriptions.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/webedt/webedt/internal/logger"
	"github.com/webedt/webedt/internal/sse"
)

const (
	DefaultMaxReconnectAttempts = 5

	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// ErrStreamEnded is reported when the server closes the stream without a
// terminal event and reconnecting is not an option.
var ErrStreamEnded = errors.New("stream ended without terminal event")

// Options configures a subscription. All callbacks are optional and are
// invoked sequentially from a single goroutine, in arrival order.
type Options struct {
	Method     string // http.MethodGet (default) or http.MethodPost
	Body       []byte // request body, POST only
	Header     http.Header
	HTTPClient *http.Client

	// OnConnected fires for the stream's initial connected event.
	OnConnected func(sse.Event)
	// OnMessage fires for every ordinary event.
	OnMessage func(sse.Event)
	// OnCompleted fires for the terminal completed event; the subscription
	// shuts down afterwards.
	OnCompleted func(sse.Event)
	// OnError fires once, for a terminal error event or a connection
	// failure that will not be retried.
	OnError func(error)

	// DisableReconnect turns off automatic reconnection for GET
	// subscriptions. POST subscriptions never reconnect: replaying the
	// request would start a second run.
	DisableReconnect     bool
	MaxReconnectAttempts int // 0 means DefaultMaxReconnectAttempts

	// ReconnectBase and ReconnectMax override the backoff schedule.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
}

// Subscription is a live SSE subscription. Close is idempotent and safe from
// any goroutine.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Done closes when the subscription has fully shut down.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended. It is meaningful once Done is
// closed; nil means a clean terminal event.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) Close() {
	s.cancel()
}

func (s *Subscription) finish(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	close(s.done)
}

// Subscribe opens an SSE subscription to url and dispatches events until a
// terminal event, an unrecoverable failure, or ctx cancellation.
func Subscribe(ctx context.Context, url string, opts Options) *Subscription {
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}
	if opts.HTTPClient == nil {
		// No client timeout: subscriptions are long-lived by design and
		// are bounded by ctx instead.
		opts.HTTPClient = &http.Client{}
	}
	if opts.MaxReconnectAttempts == 0 {
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if opts.ReconnectBase == 0 {
		opts.ReconnectBase = reconnectBase
	}
	if opts.ReconnectMax == 0 {
		opts.ReconnectMax = reconnectMax
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	go sub.run(ctx, url, opts)
	return sub
}

func (s *Subscription) run(ctx context.Context, url string, opts Options) {
	defer s.cancel()

	canReconnect := opts.Method == http.MethodGet && !opts.DisableReconnect
	backoff := NewBackoff(opts.ReconnectBase, opts.ReconnectMax)

	for {
		terminal, connected, err := s.connectAndRead(ctx, url, &opts)
		if terminal {
			s.finish(nil)
			return
		}
		if ctx.Err() != nil {
			s.finish(ctx.Err())
			return
		}
		if connected {
			// A stream that reached the connected event starts the retry
			// budget over; only consecutive failures count against it.
			backoff.Reset()
		}
		if !canReconnect {
			if err == nil {
				err = ErrStreamEnded
			}
			if opts.OnError != nil {
				opts.OnError(err)
			}
			s.finish(err)
			return
		}
		if backoff.Attempts() >= opts.MaxReconnectAttempts {
			err = fmt.Errorf("giving up after %d reconnect attempts: %w", backoff.Attempts(), errOrEnded(err))
			if opts.OnError != nil {
				opts.OnError(err)
			}
			s.finish(err)
			return
		}
		delay := backoff.Next()
		logger.Debug("stream dropped, reconnecting", "url", url, "attempt", backoff.Attempts(), "delay", delay)
		select {
		case <-ctx.Done():
			s.finish(ctx.Err())
			return
		case <-time.After(delay):
		}
	}
}

func errOrEnded(err error) error {
	if err == nil {
		return ErrStreamEnded
	}
	return err
}

// connectAndRead opens one HTTP attempt and pumps events until the stream
// ends. It reports whether a terminal event was dispatched and whether the
// stream got as far as a connected event.
func (s *Subscription) connectAndRead(ctx context.Context, url string, opts *Options) (terminal, connected bool, err error) {
	var body io.Reader
	if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, url, body)
	if err != nil {
		return false, false, err
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	if opts.Method == http.MethodPost && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return false, false, fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, false, fmt.Errorf("subscribe %s: %s: %s", url, resp.Status, readErrorBody(resp.Body))
	}

	var dec sse.Decoder
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				if ev.Type == "connected" {
					connected = true
				}
				if s.dispatch(opts, ev) {
					return true, connected, nil
				}
			}
		}
		if readErr == io.EOF {
			if ev, ok := dec.Flush(); ok && s.dispatch(opts, ev) {
				return true, connected, nil
			}
			return false, connected, nil
		}
		if readErr != nil {
			return false, connected, fmt.Errorf("read: %w", readErr)
		}
	}
}

// dispatch routes one event to the right callback and reports whether it was
// terminal.
func (s *Subscription) dispatch(opts *Options, ev sse.Event) bool {
	switch ev.Type {
	case "connected":
		if opts.OnConnected != nil {
			opts.OnConnected(ev)
		}
		return false

	case "completed":
		if opts.OnCompleted != nil {
			opts.OnCompleted(ev)
		}
		return true

	case "error":
		// Any payload that parses as JSON is a trusted application error;
		// unparseable data could be a proxy artifact and stays an
		// ordinary event.
		if msg, ok := errorPayload(ev.Data); ok {
			if opts.OnError != nil {
				opts.OnError(errors.New(msg))
			}
			s.mu.Lock()
			if s.err == nil {
				s.err = errors.New(msg)
			}
			s.mu.Unlock()
			return true
		}
	}

	if opts.OnMessage != nil {
		opts.OnMessage(ev)
	}
	return false
}

// errorPayload extracts the message from a JSON error event. Objects yield
// their error/message field, a bare JSON string is the message itself, and
// anything else falls back to the raw data.
func errorPayload(data string) (string, bool) {
	var v any
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return "", false
	}
	switch payload := v.(type) {
	case map[string]any:
		for _, key := range []string{"error", "message"} {
			if s, ok := payload[key].(string); ok && s != "" {
				return s, true
			}
		}
	case string:
		if payload != "" {
			return payload, true
		}
	}
	return data, true
}

// readErrorBody condenses a rejected response into one line, preferring the
// JSON error field when the server sent one.
func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 8<<10))
	if err != nil || len(raw) == 0 {
		return "no response body"
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return string(bytes.TrimSpace(raw))
}
