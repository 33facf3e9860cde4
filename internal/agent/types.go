package agent

import (
	"encoding/json"

	"github.com/MimeLyc/cass/internal/tools"
)

// Request is one natural-language question together with the schema text
// the model should write SQL against.
type Request struct {
	Question string
	Schema   string
}

// Response is the outcome of one Chat call.
//
// SQL is empty when the model produced no query. Data is non-nil only when
// an execution succeeded, in which case Error is empty.
type Response struct {
	Answer string
	SQL    string
	Data   []tools.Record
	Error  string

	// Attempts is the number of Provider calls made for the request.
	Attempts int
}

// MarshalJSON encodes the wire form {answer, sql, data, error} with null for
// absent fields.
func (r Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Answer string         `json:"answer"`
		SQL    *string        `json:"sql"`
		Data   []tools.Record `json:"data"`
		Error  *string        `json:"error"`
	}{
		Answer: r.Answer,
		SQL:    optional(r.SQL),
		Data:   r.Data,
		Error:  optional(r.Error),
	})
}

type EventType string

const (
	EventStart EventType = "start"
	EventToken EventType = "token"
	EventSQL   EventType = "sql"
	EventData  EventType = "data"
	EventError EventType = "error"
	EventEnd   EventType = "end"
)

// Event is one step of a streamed answer. Content is a string for every
// type except data, which carries []tools.Record.
type Event struct {
	Type    EventType `json:"type"`
	Content any       `json:"content"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// records guarantees a successful execution is reported with non-nil data.
func records(data []tools.Record) []tools.Record {
	if data == nil {
		return []tools.Record{}
	}
	return data
}
