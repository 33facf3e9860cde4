package tools

import (
	"context"
	"fmt"

	"github.com/MimeLyc/cass/pkg/log"
)

// RunSQLName is the registry key of the SQL execution tool.
const RunSQLName = "run_sql"

// Executor runs a statement and returns its rows keyed by column name.
type Executor interface {
	Execute(ctx context.Context, sql string) ([]map[string]any, error)
}

// RunSQL executes model-generated SQL against a database.
type RunSQL struct {
	db       Executor
	readOnly bool
}

type RunSQLOption func(*RunSQL)

// WithReadOnly rejects anything but SELECT statements before execution.
func WithReadOnly(readOnly bool) RunSQLOption {
	return func(t *RunSQL) {
		t.readOnly = readOnly
	}
}

func NewRunSQL(db Executor, opts ...RunSQLOption) *RunSQL {
	t := &RunSQL{db: db}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *RunSQL) Name() string { return RunSQLName }

func (t *RunSQL) Description() string {
	return "Executes a SQL query against the database and returns the results."
}

func (t *RunSQL) Execute(ctx context.Context, sql string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("run_sql panicked: %v", r)
			result = Failure(fmt.Sprintf("query execution panicked: %v", r))
		}
	}()

	if t.readOnly {
		if err := CheckReadOnly(sql); err != nil {
			return Failure(err.Error())
		}
	}

	rows, err := t.db.Execute(ctx, sql)
	if err != nil {
		log.Warn("run_sql failed: %v", err)
		msg := err.Error()
		if msg == "" {
			msg = "query failed"
		}
		return Failure(msg)
	}
	if rows == nil {
		rows = make([]map[string]any, 0)
	}
	return Result{Success: true, Data: rows}
}
