package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/cass/internal/agent"
	"github.com/MimeLyc/cass/internal/config"
	"github.com/MimeLyc/cass/internal/database"
	"github.com/MimeLyc/cass/internal/httpapi"
	"github.com/MimeLyc/cass/internal/llm"
	"github.com/MimeLyc/cass/internal/persistence"
	"github.com/MimeLyc/cass/internal/schema"
	"github.com/MimeLyc/cass/internal/tools"
	"github.com/MimeLyc/cass/pkg/log"
)

const shutdownTimeout = 10 * time.Second

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func main() {
	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.GetLogger().SetLevel(log.ParseLevel(cfg.Log.Level))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to start CASS: %v", err)
	}
	defer app.close()

	if err := runWithComponents(ctx, cfg, app.jobs, app.cron, app.server); err != nil {
		log.Error("CASS stopped: %v", err)
		return
	}
	log.Info("Goodbye!")
}

type application struct {
	db      *database.Runner
	history *persistence.SQLiteStore
	cron    *cron.Cron
	jobs    *maintenance
	server  *httpapi.Server
}

// build connects to the database and assembles the objects shared by every
// request.
func build(ctx context.Context, cfg *config.Config) (*application, error) {
	db, err := database.Open(ctx, cfg.DatabaseConfig())
	if err != nil {
		return nil, err
	}
	app := &application{db: db, cron: cron.New()}

	provider, err := llm.NewProvider(cfg.LLMConfig())
	if err != nil {
		app.close()
		return nil, fmt.Errorf("create provider: %w", err)
	}

	registry, err := tools.NewRegistry(tools.NewRunSQL(db, tools.WithReadOnly(cfg.Agent.ReadOnly)))
	if err != nil {
		app.close()
		return nil, err
	}

	agentOpts := []agent.Option{agent.WithSystemPrompt(cfg.Agent.SystemPrompt)}
	if !cfg.Agent.Retry {
		agentOpts = append(agentOpts, agent.WithRetryPolicy(agent.NoRetry{}))
	}
	a := agent.New(provider, registry, agentOpts...)
	log.Info("Agent ready (tools: %v)", registry.List())

	serverOpts := []httpapi.Option{httpapi.WithBaseContext(ctx)}
	if cfg.HTTP.CORSOrigin != "" {
		serverOpts = append(serverOpts, httpapi.WithCORS(cfg.HTTP.CORSOrigin))
	}
	if cfg.History.Enabled {
		history, err := persistence.NewSQLiteStore(cfg.History.Path)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("open history: %w", err)
		}
		app.history = history
		serverOpts = append(serverOpts, httpapi.WithHistory(history))
	}

	schemas := schema.NewCache(db)
	app.jobs = &maintenance{
		cron:          app.cron,
		schemas:       schemas,
		schemaCron:    cfg.Schema.RefreshCron,
		historyMaxAge: cfg.HistoryRetention(),
	}
	if app.history != nil {
		app.jobs.history = app.history
	}
	app.server = httpapi.NewServer(a, db, schemas, serverOpts...)
	return app, nil
}

func (a *application) close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			log.Warn("Failed to close history: %v", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn("Failed to close database: %v", err)
		}
	}
}

// runWithComponents schedules background jobs and serves HTTP until ctx is
// done or the server fails.
func runWithComponents(
	ctx context.Context,
	cfg *config.Config,
	jobs scheduler,
	cronEngine cronEngine,
	httpSrv httpServer,
) error {
	if err := jobs.Schedule(ctx); err != nil {
		return fmt.Errorf("schedule jobs: %w", err)
	}
	cronEngine.Start()
	defer cronEngine.Stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
		errCh <- httpSrv.ListenAndServe(cfg.HTTP.Addr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}
