package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/cass/pkg/log"
)

type schemaCache interface {
	Refresh(ctx context.Context) (string, error)
	Schedule(ctx context.Context, cr *cron.Cron, expr string) error
}

type historyPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// maintenance owns the background jobs: the schema refresh and the daily
// history prune.
type maintenance struct {
	cron          *cron.Cron
	schemas       schemaCache
	schemaCron    string
	history       historyPruner
	historyMaxAge time.Duration
}

func (m *maintenance) Schedule(ctx context.Context) error {
	if _, err := m.schemas.Refresh(ctx); err != nil {
		log.Warn("Initial schema load failed: %v", err)
	}
	if m.schemaCron != "" {
		if err := m.schemas.Schedule(ctx, m.cron, m.schemaCron); err != nil {
			return err
		}
	}

	if m.history == nil || m.historyMaxAge <= 0 {
		return nil
	}
	if _, err := m.cron.AddFunc("@daily", func() { m.pruneHistory(ctx) }); err != nil {
		return fmt.Errorf("schedule history prune: %w", err)
	}
	return nil
}

func (m *maintenance) pruneHistory(ctx context.Context) {
	n, err := m.history.Prune(ctx, time.Now().Add(-m.historyMaxAge))
	if err != nil {
		log.Error("Failed to prune history: %v", err)
		return
	}
	log.Info("Pruned %d history records", n)
}
