package providers

import (
	"bytes"
	"strings"
)

// SSEEvent is one parsed server-sent event: an optional event type and the
// newline-joined data payload.
type SSEEvent struct {
	Type string
	Data string
}

// SSEParser is a stateful, chunk-tolerant parser over a byte stream of
// server-sent events. It is purely byte-oriented and knows nothing about any
// provider's JSON shape; adapters feed it raw response body chunks and decode
// the Data of each completed event themselves.
type SSEParser struct {
	buf []byte
}

// NewSSEParser returns a parser with an empty buffer.
func NewSSEParser() *SSEParser {
	return &SSEParser{}
}

// Feed appends chunk to the internal buffer and returns every event the chunk
// completed, in order. A partial trailing block stays buffered until a later
// chunk closes it, so the caller may split the stream at arbitrary byte
// boundaries.
func (p *SSEParser) Feed(chunk []byte) []SSEEvent {
	p.buf = append(p.buf, chunk...)

	var events []SSEEvent
	for {
		idx := bytes.Index(p.buf, []byte("\n\n"))
		if idx < 0 {
			return events
		}
		block := p.buf[:idx]
		p.buf = p.buf[idx+2:]
		if ev, ok := parseSSEBlock(string(block)); ok {
			events = append(events, ev)
		}
	}
}

// parseSSEBlock extracts the event type and data lines from one block.
// Blocks carrying neither (comments, keep-alives) report ok=false.
func parseSSEBlock(block string) (SSEEvent, bool) {
	var ev SSEEvent
	var dataLines []string
	seen := false

	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			ev.Type = trimFieldValue(line[len("event:"):])
			seen = true
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, trimFieldValue(line[len("data:"):]))
			seen = true
		}
	}

	if !seen {
		return SSEEvent{}, false
	}
	ev.Data = strings.Join(dataLines, "\n")
	return ev, true
}

// trimFieldValue strips the single optional space after the field colon. Only
// one space is removed; further whitespace belongs to the payload.
func trimFieldValue(v string) string {
	if strings.HasPrefix(v, " ") {
		return v[1:]
	}
	return v
}
