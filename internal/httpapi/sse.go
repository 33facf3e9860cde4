package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MimeLyc/cass/internal/agent"
	"github.com/MimeLyc/cass/internal/persistence"
	"github.com/MimeLyc/cass/internal/tools"
)

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	message := r.URL.Query().Get("message")
	if strings.TrimSpace(message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	text, err := s.schemas.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	start := time.Now()
	rec := &persistence.QueryRecord{Question: message, Attempts: 1, Streamed: true}
	var answer strings.Builder

	for ev := range s.stream.Stream(r.Context(), agent.Request{Question: message, Schema: text}) {
		switch ev.Type {
		case agent.EventToken:
			answer.WriteString(ev.Content.(string))
		case agent.EventSQL:
			rec.SQL = ev.Content.(string)
		case agent.EventData:
			rec.RowCount = len(ev.Content.([]tools.Record))
		case agent.EventError:
			rec.Error = ev.Content.(string)
		}

		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return
		}
		flusher.Flush()

		if ev.Type == agent.EventEnd {
			rec.Answer = answer.String()
			rec.Duration = time.Since(start)
			s.record(r.Context(), rec)
		}
	}
}
