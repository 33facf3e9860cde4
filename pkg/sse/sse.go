// Package sse decodes server-sent event streams.
package sse

import (
	"bufio"
	"io"
	"strings"
)

const maxLineSize = 1024 * 1024

// Event is one dispatched block of an event stream.
type Event struct {
	Event string
	Data  string
	ID    string
}

// Scanner reads events from an event stream body.
type Scanner struct {
	scanner *bufio.Scanner
}

func NewScanner(r io.Reader) *Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Scanner{scanner: s}
}

// Scan returns the next event. It returns io.EOF once the input is exhausted.
// Comment lines and unknown fields are skipped; multiple data lines are
// joined with "\n".
func (s *Scanner) Scan() (*Event, error) {
	for {
		ev := &Event{}
		var seen bool
		var hasData bool
		for s.scanner.Scan() {
			line := s.scanner.Text()
			if line == "" {
				if seen {
					break
				}
				continue
			}
			if strings.HasPrefix(line, ":") {
				continue
			}
			seen = true

			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				ev.Event = value
			case "data":
				if hasData {
					ev.Data += "\n" + value
				} else {
					ev.Data = value
					hasData = true
				}
			case "id":
				ev.ID = value
			}
		}
		if err := s.scanner.Err(); err != nil {
			return nil, err
		}
		if !seen {
			return nil, io.EOF
		}
		if !hasData && ev.Event == "" {
			// only ids or unknown fields, nothing to dispatch
			continue
		}
		return ev, nil
	}
}
