// Package sse implements the server-sent-event wire format used between the
// browser, the relay, and the ai-coding-worker: incremental decoding of an
// event stream from arbitrary byte chunks, and frame writing over an
// http.ResponseWriter.
package sse

import (
	"bytes"
	"strings"
)

// Event is one decoded server-sent event.
type Event struct {
	// Type comes from the "event:" line. Empty means an unnamed event.
	Type string
	// Data is the payload from the last "data:" line of the event.
	Data string
}

// Decoder accumulates bytes from an SSE stream and yields complete events.
// Chunk boundaries need not align with line or event boundaries: the trailing
// partial line is retained until the next chunk. Splitting only happens on
// '\n', so chunks that cut a UTF-8 rune in half are reassembled untouched.
type Decoder struct {
	tail []byte // unterminated tail of the previous chunk

	typ     string
	data    string
	pending bool // an event:/data: line has been seen since the last dispatch
}

// Feed consumes the next chunk and returns the events completed by it.
func (d *Decoder) Feed(p []byte) []Event {
	if len(p) == 0 {
		return nil
	}
	buf := p
	if len(d.tail) > 0 {
		buf = append(d.tail, p...)
	}

	var events []Event
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := string(buf[:i])
		buf = buf[i+1:]
		if ev, ok := d.line(line); ok {
			events = append(events, ev)
		}
	}
	d.tail = append([]byte(nil), buf...)
	return events
}

// Flush dispatches a partial event left at end of stream. Upstream services
// are not guaranteed to terminate framing with a blank line, so a trailing
// unterminated line is processed as if the newline had arrived.
func (d *Decoder) Flush() (Event, bool) {
	if len(d.tail) > 0 {
		line := string(d.tail)
		d.tail = nil
		if ev, ok := d.line(line); ok {
			return ev, true
		}
	}
	if !d.pending {
		return Event{}, false
	}
	return d.dispatch(), true
}

// line processes one logical line. It returns a completed event when the line
// is the blank terminator of a pending event.
func (d *Decoder) line(line string) (Event, bool) {
	line = strings.TrimRight(line, "\r")
	switch {
	case line == "":
		if !d.pending {
			return Event{}, false
		}
		return d.dispatch(), true
	case strings.HasPrefix(line, ":"):
		// comment / keep-alive
	case strings.HasPrefix(line, "event:"):
		d.typ = strings.TrimSpace(line[len("event:"):])
		d.pending = true
	case strings.HasPrefix(line, "data:"):
		// Last data line wins; the worker does not send multi-line data.
		d.data = strings.TrimSpace(line[len("data:"):])
		d.pending = true
	}
	return Event{}, false
}

func (d *Decoder) dispatch() Event {
	ev := Event{Type: d.typ, Data: d.data}
	d.typ = ""
	d.data = ""
	d.pending = false
	return ev
}
