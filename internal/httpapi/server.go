package httpapi

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MimeLyc/cass/internal/agent"
	"github.com/MimeLyc/cass/internal/database"
	"github.com/MimeLyc/cass/internal/persistence"
	"github.com/MimeLyc/cass/internal/schema"
)

type queryRunner interface {
	Execute(ctx context.Context, sql string) ([]map[string]any, error)
	Tables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, name string) (*database.TableInfo, error)
	Sample(ctx context.Context, name string, limit int) ([]map[string]any, error)
}

type schemaSupplier interface {
	Get(ctx context.Context) (string, error)
	Status(now time.Time) schema.Status
}

type historyStore interface {
	RecordQuery(ctx context.Context, rec *persistence.QueryRecord) error
	ListQueries(ctx context.Context, limit int) ([]persistence.QueryRecord, error)
}

type Server struct {
	agent   *agent.Agent
	stream  *agent.StreamCoordinator
	db      queryRunner
	schemas schemaSupplier
	history historyStore

	allowOrigin string
	baseCtx     context.Context

	mux    *http.ServeMux
	mu     sync.Mutex
	server *http.Server
}

type Option func(*Server)

// WithHistory records every answered question in store and enables
// GET /history.
func WithHistory(store historyStore) Option {
	return func(s *Server) {
		s.history = store
	}
}

// WithBaseContext makes ctx the parent of every request context. Cancelling
// it detaches open streams, which Shutdown alone does not do.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) {
		s.baseCtx = ctx
	}
}

// WithCORS answers cross-origin requests from origin ("*" for any).
func WithCORS(origin string) Option {
	return func(s *Server) {
		s.allowOrigin = origin
	}
}

func NewServer(a *agent.Agent, db queryRunner, schemas schemaSupplier, opts ...Option) *Server {
	s := &Server{
		agent:   a,
		stream:  agent.NewStreamCoordinator(a),
		db:      db,
		schemas: schemas,
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	if s.allowOrigin == "" {
		return s.mux
	}
	return s.withCORS(s.mux)
}

func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if s.baseCtx != nil {
		base := s.baseCtx
		srv.BaseContext = func(net.Listener) context.Context { return base }
	}

	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()
	return srv.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/schema", s.handleSchema)
	s.mux.HandleFunc("/schema/status", s.handleSchemaStatus)
	s.mux.HandleFunc("/chat", s.handleChat)
	s.mux.HandleFunc("/chat/stream", s.handleChatStream)
	s.mux.HandleFunc("/tables", s.handleListTables)
	s.mux.HandleFunc("/tables/", s.handleDescribeTable)
	s.mux.HandleFunc("/sql", s.handleSQL)
	s.mux.HandleFunc("/sample/", s.handleSample)
	s.mux.HandleFunc("/history", s.handleHistory)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.allowOrigin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
