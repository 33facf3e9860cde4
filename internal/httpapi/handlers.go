package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/cass/internal/agent"
	"github.com/MimeLyc/cass/internal/database"
	"github.com/MimeLyc/cass/internal/persistence"
	"github.com/MimeLyc/cass/internal/tools"
	"github.com/MimeLyc/cass/pkg/log"
)

const (
	defaultSampleLimit  = 5
	defaultHistoryLimit = 20
)

type chatRequest struct {
	Message string `json:"message"`
}

type sqlRequest struct {
	SQL string `json:"sql"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"message": "CASS is running!",
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	text, err := s.schemas.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schema": text})
}

func (s *Server) handleSchemaStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.schemas.Status(time.Now()))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	text, err := s.schemas.Get(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	start := time.Now()
	resp := s.agent.Chat(r.Context(), agent.Request{Question: req.Message, Schema: text})
	log.Info("Answered question in %s (sql=%t, rows=%d, attempts=%d)",
		time.Since(start).Round(time.Millisecond), resp.SQL != "", len(resp.Data), resp.Attempts)

	s.record(r.Context(), &persistence.QueryRecord{
		Question: req.Message,
		Answer:   resp.Answer,
		SQL:      resp.SQL,
		Error:    resp.Error,
		RowCount: len(resp.Data),
		Attempts: resp.Attempts,
		Duration: time.Since(start),
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tables, err := s.db.Tables(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (s *Server) handleDescribeTable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name, ok := pathParam(r.URL.Path, "/tables/")
	if !ok {
		writeError(w, http.StatusBadRequest, "missing table name")
		return
	}

	info, err := s.db.DescribeTable(r.Context(), name)
	if errors.Is(err, database.ErrTableNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Table '%s' not found", name))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSQL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req sqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := tools.CheckReadOnly(req.SQL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := s.db.Execute(r.Context(), req.SQL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":      rows,
		"row_count": len(rows),
	})
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name, ok := pathParam(r.URL.Path, "/sample/")
	if !ok {
		writeError(w, http.StatusBadRequest, "missing table name")
		return
	}
	limit, err := intQuery(r, "limit", defaultSampleLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := s.db.Sample(r.Context(), name, limit)
	if errors.Is(err, database.ErrTableNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Table '%s' not found", name))
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table": name,
		"data":  rows,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	limit, err := intQuery(r, "limit", defaultHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.history.ListQueries(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": records})
}

// record stores rec in the history log. Failures are logged only, the
// answer has already been produced.
func (s *Server) record(ctx context.Context, rec *persistence.QueryRecord) {
	if s.history == nil {
		return
	}
	if err := s.history.RecordQuery(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("Failed to record query history: %v", err)
	}
}

// pathParam returns the unescaped remainder of path after prefix.
func pathParam(path, prefix string) (string, bool) {
	value := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if decoded, err := url.PathUnescape(value); err == nil {
		value = decoded
	}
	return value, value != ""
}

func intQuery(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
