package sse

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/abdul-hamid-achik/nativehttp/packages/http"
)

// ContentType is the media type of an event stream.
const ContentType = "text/event-stream"

// Event represents a single SSE event.
type Event struct {
	ID    string
	Type  string
	Data  string
	Retry int
}

// Reader parses events from an event stream.
type Reader struct {
	scanner *bufio.Scanner
	lastID  string
}

func NewReader(r io.Reader) *Reader {
	return &Reader{scanner: bufio.NewScanner(r)}
}

// LastEventID is the most recent id field seen, for Last-Event-ID on
// reconnect.
func (r *Reader) LastEventID() string {
	return r.lastID
}

// Next returns the next event. It returns io.EOF once the stream ends; a
// trailing event without a blank line is still delivered.
func (r *Reader) Next() (*Event, error) {
	var (
		ev      Event
		data    []string
		hasData bool
	)

	for r.scanner.Scan() {
		line := r.scanner.Text()

		// Empty line dispatches the event
		if line == "" {
			if hasData {
				ev.Data = strings.Join(data, "\n")
				return &ev, nil
			}
			ev = Event{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			ev.Type = value
		case "data":
			data = append(data, value)
			hasData = true
		case "id":
			ev.ID = value
			r.lastID = value
		case "retry":
			if n, err := strconv.Atoi(value); err == nil {
				ev.Retry = n
			}
		}
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if hasData {
		ev.Data = strings.Join(data, "\n")
		return &ev, nil
	}
	return nil, io.EOF
}

// EventHandler is called for every event. Returning false stops the
// stream.
type EventHandler func(event *Event) bool

// IsEventStream reports whether resp carries an event stream.
func IsEventStream(resp *http.Response) bool {
	return strings.HasPrefix(resp.Header("Content-Type"), ContentType)
}

// Read delivers the events in resp to handler until the stream ends, the
// handler returns false or ctx is done. The response is closed on return.
func Read(ctx context.Context, resp *http.Response, handler EventHandler) error {
	defer resp.Close()

	if !IsEventStream(resp) {
		return fmt.Errorf("unexpected content type: %s (expected %s)", resp.Header("Content-Type"), ContentType)
	}

	var body io.Reader = bytes.NewReader(resp.Body)
	if raw := resp.Raw; raw != nil {
		body = raw
		// Closing the stream unblocks a pending read.
		stop := context.AfterFunc(ctx, func() { _ = raw.Close() })
		defer stop()
	}

	reader := NewReader(body)
	for {
		ev, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if !handler(ev) {
			return nil
		}
	}
}

// Subscribe sends req with event-stream headers and reads its events.
func Subscribe(ctx context.Context, client *http.Client, req *http.Request, lastEventID string, handler EventHandler) error {
	req.SetHeader("Accept", ContentType)
	req.SetHeader("Cache-Control", "no-cache")
	if lastEventID != "" {
		req.SetHeader("Last-Event-ID", lastEventID)
	}

	resp, err := client.DoContext(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return Read(ctx, resp, handler)
}
