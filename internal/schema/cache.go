package schema

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/cass/pkg/icron"
	"github.com/MimeLyc/cass/pkg/log"
)

// Source produces the schema text handed to the model.
type Source interface {
	Schema(ctx context.Context) (string, error)
}

type Status struct {
	Loaded      bool       `json:"loaded"`
	RefreshedAt *time.Time `json:"refreshed_at"`
	Cron        string     `json:"cron,omitempty"`
	NextRefresh *time.Time `json:"next_refresh,omitempty"`
}

// Cache supplies schema text to requests. Until Schedule is called every Get
// reads the source; concurrent reads share one load. Once a refresh job is
// scheduled Get serves the last loaded text.
type Cache struct {
	source Source
	group  singleflight.Group

	mu          sync.RWMutex
	text        string
	loaded      bool
	refreshedAt time.Time
	cronExpr    string
}

func NewCache(source Source) *Cache {
	return &Cache{source: source}
}

func (c *Cache) Get(ctx context.Context) (string, error) {
	c.mu.RLock()
	text, fresh := c.text, c.loaded && c.cronExpr != ""
	c.mu.RUnlock()
	if fresh {
		return text, nil
	}
	return c.Refresh(ctx)
}

// Refresh reloads the schema from the source. Concurrent callers share one
// load, which runs detached from any single caller's cancellation; each
// caller stops waiting when its own ctx is done. The source bounds the load
// with its query timeout.
func (c *Cache) Refresh(ctx context.Context) (string, error) {
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("schema", func() (any, error) {
		text, err := c.source.Schema(loadCtx)
		if err != nil {
			return "", fmt.Errorf("load schema: %w", err)
		}

		c.mu.Lock()
		c.text = text
		c.loaded = true
		c.refreshedAt = time.Now().UTC()
		c.mu.Unlock()
		return text, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Schedule registers a refresh job on cr and switches Get to the cached
// text. ctx bounds every scheduled refresh.
func (c *Cache) Schedule(ctx context.Context, cr *cron.Cron, expr string) error {
	if _, err := icron.Parse(expr); err != nil {
		return err
	}
	if _, err := cr.AddFunc(expr, func() {
		if _, err := c.Refresh(ctx); err != nil {
			log.Error("Failed to refresh schema: %v", err)
			return
		}
		log.Debug("Schema refreshed")
	}); err != nil {
		return fmt.Errorf("schedule schema refresh: %w", err)
	}

	c.mu.Lock()
	c.cronExpr = expr
	c.mu.Unlock()
	log.Info("Schema refresh scheduled (%s)", expr)
	return nil
}

func (c *Cache) Status(now time.Time) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{Loaded: c.loaded, Cron: c.cronExpr}
	if c.loaded {
		refreshed := c.refreshedAt
		st.RefreshedAt = &refreshed
	}
	if c.cronExpr != "" {
		if next, err := icron.NextRun(c.cronExpr, now); err == nil {
			st.NextRefresh = &next
		}
	}
	return st
}
