package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MimeLyc/cass/pkg/log"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const maxSampleLimit = 1000

var ErrTableNotFound = errors.New("table not found")

type Config struct {
	Driver       string
	URL          string
	MaxOpenConns int
	QueryTimeout time.Duration
}

// Column mirrors one information_schema.columns row.
type Column struct {
	Name       string  `json:"column_name"`
	DataType   string  `json:"data_type"`
	IsNullable string  `json:"is_nullable"`
	Default    *string `json:"column_default"`
}

type TableInfo struct {
	Table    string   `json:"table"`
	Columns  []Column `json:"columns"`
	RowCount int64    `json:"row_count"`
}

// Runner executes SQL through database/sql and reads the catalog of the
// connected database. Safe for concurrent use.
type Runner struct {
	db           *sql.DB
	dialect      dialect
	queryTimeout time.Duration
}

// Open connects to the database described by cfg and verifies the
// connection.
func Open(ctx context.Context, cfg Config) (*Runner, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DetectDriver(cfg.URL)
	}
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.URL
	if d.name == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(d.sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w", d.name, err)
	}

	log.Info("Database connected (driver=%s)", d.name)
	return &Runner{db: db, dialect: d, queryTimeout: cfg.QueryTimeout}, nil
}

// NewRunner wraps an already opened handle.
func NewRunner(db *sql.DB, driver string, queryTimeout time.Duration) (*Runner, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &Runner{db: db, dialect: d, queryTimeout: queryTimeout}, nil
}

func (r *Runner) Driver() string {
	return r.dialect.name
}

func (r *Runner) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Runner) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Execute runs sql and returns every row as a column-name keyed record.
// Byte slices are returned as strings so records encode cleanly to JSON.
func (r *Runner) Execute(ctx context.Context, query string) ([]map[string]any, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	log.Debug("Executing SQL: %s", query)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	ret := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		record := make(map[string]any, len(columns))
		for i, name := range columns {
			if b, ok := values[i].([]byte); ok {
				record[name] = string(b)
				continue
			}
			record[name] = values[i]
		}
		ret = append(ret, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// Schema renders every table and column as the text block handed to the
// model:
//
//	Table: customers
//	  - id (integer, NOT NULL)
//	  - name (text, NULL)
func (r *Runner) Schema(ctx context.Context) (string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, r.dialect.columnsQuery)
	if err != nil {
		return "", fmt.Errorf("read schema: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	current := ""
	for rows.Next() {
		table, col, err := scanColumn(rows)
		if err != nil {
			return "", fmt.Errorf("read schema: %w", err)
		}
		if table != current {
			if current != "" {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "Table: %s\n", table)
			current = table
		}
		nullable := "NOT NULL"
		if strings.EqualFold(col.IsNullable, "YES") {
			nullable = "NULL"
		}
		fmt.Fprintf(&b, "  - %s (%s, %s)\n", col.Name, col.DataType, nullable)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("read schema: %w", err)
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

func (r *Runner) Tables(ctx context.Context) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, r.dialect.tablesQuery)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	ret := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		ret = append(ret, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return ret, nil
}

// DescribeTable returns the columns and row count of name, or
// ErrTableNotFound when the catalog has no such table.
func (r *Runner) DescribeTable(ctx context.Context, name string) (*TableInfo, error) {
	if err := r.requireTable(ctx, name); err != nil {
		return nil, err
	}

	columns, err := r.tableColumns(ctx, name)
	if err != nil {
		return nil, err
	}

	var count int64
	qctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.db.QueryRowContext(qctx, "SELECT COUNT(*) FROM "+quoteIdent(name)).Scan(&count); err != nil {
		return nil, fmt.Errorf("count rows of %s: %w", name, err)
	}

	return &TableInfo{Table: name, Columns: columns, RowCount: count}, nil
}

// Sample returns up to limit rows of name.
func (r *Runner) Sample(ctx context.Context, name string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	if limit > maxSampleLimit {
		limit = maxSampleLimit
	}
	if err := r.requireTable(ctx, name); err != nil {
		return nil, err
	}
	return r.Execute(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(name), limit))
}

func (r *Runner) requireTable(ctx context.Context, name string) error {
	tables, err := r.Tables(ctx)
	if err != nil {
		return err
	}
	for _, t := range tables {
		if t == name {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrTableNotFound, name)
}

func (r *Runner) tableColumns(ctx context.Context, name string) ([]Column, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, r.dialect.tableColumnsQuery, name)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", name, err)
	}
	defer rows.Close()

	ret := make([]Column, 0)
	for rows.Next() {
		_, col, err := scanColumn(rows)
		if err != nil {
			return nil, fmt.Errorf("describe %s: %w", name, err)
		}
		ret = append(ret, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe %s: %w", name, err)
	}
	return ret, nil
}

func scanColumn(rows *sql.Rows) (string, Column, error) {
	var (
		table    string
		col      Column
		dataType sql.NullString
		def      sql.NullString
	)
	if err := rows.Scan(&table, &col.Name, &dataType, &col.IsNullable, &def); err != nil {
		return "", Column{}, err
	}
	col.DataType = dataType.String
	if def.Valid {
		col.Default = &def.String
	}
	return table, col, nil
}

func (r *Runner) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}
