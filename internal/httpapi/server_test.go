package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MimeLyc/cass/internal/agent"
	"github.com/MimeLyc/cass/internal/database"
	"github.com/MimeLyc/cass/internal/llm"
	"github.com/MimeLyc/cass/internal/persistence"
	"github.com/MimeLyc/cass/internal/schema"
	"github.com/MimeLyc/cass/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cannedProvider answers every question with the same text.
type cannedProvider struct {
	answer string
	err    error
}

func (p cannedProvider) Chat(context.Context, []llm.Message) (*llm.Answer, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Answer{Content: p.answer, Model: "canned"}, nil
}

func (p cannedProvider) ChatStream(context.Context, []llm.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if p.err != nil {
			yield("", p.err)
			return
		}
		for _, part := range strings.SplitAfter(p.answer, "\n") {
			if !yield(part, nil) {
				return
			}
		}
	}
}

// stallingProvider streams one fragment and then waits for ctx.
type stallingProvider struct{}

func (stallingProvider) Chat(context.Context, []llm.Message) (*llm.Answer, error) {
	return &llm.Answer{Content: "SELECT"}, nil
}

func (stallingProvider) ChatStream(ctx context.Context, _ []llm.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !yield("SELECT", nil) {
			return
		}
		<-ctx.Done()
		yield("", ctx.Err())
	}
}

type testEnv struct {
	server  *Server
	history *persistence.SQLiteStore
}

func newTestEnv(t *testing.T, provider llm.Provider, opts ...Option) *testEnv {
	t.Helper()

	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "shop.db")
	seed, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE customers (id INTEGER NOT NULL PRIMARY KEY, name TEXT NOT NULL)`,
		`INSERT INTO customers (id, name) VALUES (1, 'Ada'), (2, 'Linus'), (3, 'Grace')`,
	} {
		_, err := seed.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	require.NoError(t, seed.Close())

	db, err := database.Open(ctx, database.Config{URL: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	history, err := persistence.NewSQLiteStore(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	registry, err := tools.NewRegistry(tools.NewRunSQL(db, tools.WithReadOnly(true)))
	require.NoError(t, err)

	a := agent.New(provider, registry)
	opts = append([]Option{WithHistory(history)}, opts...)
	return &testEnv{
		server:  NewServer(a, db, schema.NewCache(db), opts...),
		history: history,
	}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var ret map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ret))
	return ret
}

const countAnswer = "```sql\nSELECT COUNT(*) AS count FROM customers\n```"

func TestServer_Root(t *testing.T) {
	env := newTestEnv(t, cannedProvider{})

	rec := env.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "ok", "message": "CASS is running!"}, decode(t, rec))

	rec = env.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Schema(t *testing.T) {
	env := newTestEnv(t, cannedProvider{})

	rec := env.do(t, http.MethodGet, "/schema", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Table: customers\n  - id (INTEGER, NOT NULL)\n  - name (TEXT, NOT NULL)", decode(t, rec)["schema"])

	rec = env.do(t, http.MethodGet, "/schema/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["loaded"])
}

func TestServer_Chat(t *testing.T) {
	env := newTestEnv(t, cannedProvider{answer: countAnswer})

	rec := env.do(t, http.MethodPost, "/chat", chatRequest{Message: "How many customers are there?"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"answer": "`+"```sql\\nSELECT COUNT(*) AS count FROM customers\\n```"+`",
		"sql": "SELECT COUNT(*) AS count FROM customers",
		"data": [{"count": 3}],
		"error": null
	}`, rec.Body.String())

	queries, err := env.history.ListQueries(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, "How many customers are there?", queries[0].Question)
	assert.Equal(t, 1, queries[0].RowCount)
	assert.False(t, queries[0].Streamed)
}

func TestServer_Chat_ProviderFailure(t *testing.T) {
	env := newTestEnv(t, cannedProvider{err: errors.New("timeout")})

	rec := env.do(t, http.MethodPost, "/chat", chatRequest{Message: "How many customers are there?"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"answer":"Failed to get response from AI","sql":null,"data":null,"error":"LLM Error: timeout"}`, rec.Body.String())
}

func TestServer_Chat_BadRequests(t *testing.T) {
	env := newTestEnv(t, cannedProvider{})

	rec := env.do(t, http.MethodPost, "/chat", chatRequest{Message: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "message is required", decode(t, rec)["error"])

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("{"))
	raw := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	rec = env.do(t, http.MethodGet, "/chat", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_ChatStream(t *testing.T) {
	env := newTestEnv(t, cannedProvider{answer: countAnswer})

	rec := env.do(t, http.MethodGet, "/chat/stream?message=How%20many%20customers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var types []string
	var events []map[string]any
	for _, block := range strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n") {
		require.True(t, strings.HasPrefix(block, "data: "), block)
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(block, "data: ")), &ev))
		events = append(events, ev)
		types = append(types, ev["type"].(string))
	}
	assert.Equal(t, []string{"start", "token", "token", "token", "sql", "data", "end"}, types)
	assert.Equal(t, "SELECT COUNT(*) AS count FROM customers", events[4]["content"])
	assert.Equal(t, []any{map[string]any{"count": float64(3)}}, events[5]["content"])

	queries, err := env.history.ListQueries(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.True(t, queries[0].Streamed)
	assert.Equal(t, countAnswer, queries[0].Answer)

	rec = env.do(t, http.MethodGet, "/chat/stream", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Tables(t *testing.T) {
	env := newTestEnv(t, cannedProvider{})

	rec := env.do(t, http.MethodGet, "/tables", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"customers"}, decode(t, rec)["tables"])

	rec = env.do(t, http.MethodGet, "/tables/customers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "customers", body["table"])
	assert.Equal(t, float64(3), body["row_count"])
	assert.Len(t, body["columns"], 2)

	rec = env.do(t, http.MethodGet, "/tables/customers%3B%20DROP%20TABLE%20customers", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Table 'customers; DROP TABLE customers' not found", decode(t, rec)["error"])
}

func TestServer_SQL(t *testing.T) {
	env := newTestEnv(t, cannedProvider{})

	tests := []struct {
		name       string
		sql        string
		wantStatus int
		wantError  string
	}{
		{name: "select", sql: "SELECT name FROM customers ORDER BY id LIMIT 2", wantStatus: http.StatusOK},
		{name: "not select", sql: "UPDATE customers SET name = 'x'", wantStatus: http.StatusBadRequest, wantError: "Only SELECT queries are allowed"},
		{name: "dangerous keyword", sql: "SELECT 1; DROP TABLE customers", wantStatus: http.StatusBadRequest, wantError: "Dangerous keyword 'DROP' not allowed"},
		{name: "database error", sql: "SELECT * FROM nowhere", wantStatus: http.StatusBadRequest, wantError: "nowhere"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/sql", sqlRequest{SQL: tt.sql})
			require.Equal(t, tt.wantStatus, rec.Code)
			body := decode(t, rec)
			if tt.wantError != "" {
				assert.Contains(t, body["error"], tt.wantError)
				return
			}
			assert.Equal(t, float64(2), body["row_count"])
			assert.Equal(t, []any{
				map[string]any{"name": "Ada"},
				map[string]any{"name": "Linus"},
			}, body["data"])
		})
	}
}

func TestServer_Sample(t *testing.T) {
	env := newTestEnv(t, cannedProvider{})

	rec := env.do(t, http.MethodGet, "/sample/customers?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "customers", body["table"])
	assert.Len(t, body["data"], 2)

	rec = env.do(t, http.MethodGet, "/sample/customers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["data"], 3)

	rec = env.do(t, http.MethodGet, "/sample/customers?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/sample/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_History(t *testing.T) {
	env := newTestEnv(t, cannedProvider{answer: "I only write SQL."})

	for range 3 {
		env.do(t, http.MethodPost, "/chat", chatRequest{Message: "hello"})
	}

	rec := env.do(t, http.MethodGet, "/history?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["queries"], 2)

	a := agent.New(cannedProvider{}, nil)
	bare := NewServer(a, nil, schema.NewCache(nil))
	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	raw := httptest.NewRecorder()
	bare.Handler().ServeHTTP(raw, req)
	assert.Equal(t, http.StatusNotFound, raw.Code)
}

func TestServer_CORS(t *testing.T) {
	env := newTestEnv(t, cannedProvider{}, WithCORS("*"))

	rec := env.do(t, http.MethodOptions, "/chat", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = env.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_ShutdownDetachesStreams(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := newTestEnv(t, stallingProvider{}, WithBaseContext(base))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- env.server.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/chat/stream?message=q")
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.Contains(line, `"type":"token"`) {
			break
		}
	}

	cancel()
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, reader)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream stayed open after the base context was cancelled")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	require.NoError(t, env.server.Shutdown(shutdownCtx))
	assert.ErrorIs(t, <-served, http.ErrServerClosed)
}
