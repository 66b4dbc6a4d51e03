package jobclient

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/concretepros/directory-api/internal/model"
)

// Event is one dispatched text/event-stream event
type Event struct {
	Name string
	Data []byte
}

// JobEvent decodes the event data as a job event
func (e Event) JobEvent() (model.JobEvent, error) {
	var ev model.JobEvent
	err := json.Unmarshal(e.Data, &ev)
	if ev.Type == "" {
		ev.Type = e.Name
	}
	return ev, err
}

// EventReader yields events until the stream ends with io.EOF
type EventReader interface {
	Next() (Event, error)
	Close() error
}

type eventReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newEventReader(body io.ReadCloser) *eventReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	return &eventReader{body: body, scanner: scanner}
}

// Next follows the event-stream dispatch rules: fields accumulate until a
// blank line, comment lines are skipped, multiple data lines join with "\n".
func (r *eventReader) Next() (Event, error) {
	var (
		ev      Event
		data    bytes.Buffer
		hasData bool
	)
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if !hasData {
				ev = Event{}
				continue
			}
			if ev.Name == "" {
				ev.Name = "message"
			}
			ev.Data = data.Bytes()
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

func (r *eventReader) Close() error {
	return r.body.Close()
}
