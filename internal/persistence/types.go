package persistence

import "time"

// QueryRecord is one answered question in the history log.
type QueryRecord struct {
	ID         string        `json:"id"`
	Question   string        `json:"question"`
	Answer     string        `json:"answer"`
	SQL        string        `json:"sql,omitempty"`
	Error      string        `json:"error,omitempty"`
	RowCount   int           `json:"row_count"`
	Attempts   int           `json:"attempts"`
	Streamed   bool          `json:"streamed"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	CreatedAt  time.Time     `json:"created_at"`
}
