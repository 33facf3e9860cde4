package database

import (
	"fmt"
	"strings"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// dialect holds the catalog queries for one backend. Column queries return
// table_name, column_name, data_type, is_nullable and column_default in
// table then ordinal order.
type dialect struct {
	name         string
	sqlDriver    string
	tablesQuery  string
	columnsQuery string
	// tableColumnsQuery is columnsQuery restricted to a single table bound
	// as the only parameter.
	tableColumnsQuery string
}

var postgresDialect = dialect{
	name:      DriverPostgres,
	sqlDriver: "pgx",
	tablesQuery: `SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`,
	columnsQuery: `SELECT table_name, column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = 'public'
		ORDER BY table_name, ordinal_position`,
	tableColumnsQuery: `SELECT table_name, column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`,
}

var sqliteDialect = dialect{
	name:      DriverSQLite,
	sqlDriver: "sqlite",
	tablesQuery: `SELECT name
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`,
	columnsQuery: `SELECT m.name, p.name, p.type,
			CASE WHEN p."notnull" = 1 THEN 'NO' ELSE 'YES' END,
			p.dflt_value
		FROM sqlite_master m, pragma_table_info(m.name) p
		WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
		ORDER BY m.name, p.cid`,
	tableColumnsQuery: `SELECT m.name, p.name, p.type,
			CASE WHEN p."notnull" = 1 THEN 'NO' ELSE 'YES' END,
			p.dflt_value
		FROM sqlite_master m, pragma_table_info(m.name) p
		WHERE m.type = 'table' AND m.name = ?
		ORDER BY p.cid`,
}

// DetectDriver picks the backend for a connection URL when no driver is
// configured explicitly.
func DetectDriver(url string) string {
	lower := strings.ToLower(strings.TrimSpace(url))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DriverPostgres
	}
	return DriverSQLite
}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres, "postgresql", "pgx":
		return postgresDialect, nil
	case DriverSQLite, "sqlite3":
		return sqliteDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// quoteIdent quotes a table name for interpolation. Both backends accept
// ANSI double-quoted identifiers.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// sqliteDSN strips the URL scheme some users put in front of a file path.
func sqliteDSN(url string) string {
	for _, prefix := range []string{"sqlite://", "sqlite:"} {
		if strings.HasPrefix(url, prefix) {
			return strings.TrimPrefix(url, prefix)
		}
	}
	return url
}

// NormalizeDriver maps a configured driver name or alias to DriverPostgres
// or DriverSQLite.
func NormalizeDriver(driver string) (string, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return "", err
	}
	return d.name, nil
}
