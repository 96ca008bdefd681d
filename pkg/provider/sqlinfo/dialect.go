package sqlinfo

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/snowflakedb/gosnowflake"
	"github.com/trinodb/trino-go-client/trino"

	"github.com/ajitpratap0/harvester/pkg/config"
	"github.com/ajitpratap0/harvester/pkg/errors"
)

// Dialect holds the per-warehouse SQL of the provider. Queries reference
// the schema as $1 and the table as $2; {catalog} and {schema} are replaced
// by quoted identifiers.
type Dialect struct {
	Name        string
	Description string
	Driver      string

	// Catalog is the name reported for single-catalog sources when none is
	// configured. Empty means CatalogsQuery lists them.
	Catalog       string
	CatalogQuery  string
	CatalogsQuery string

	SchemasQuery  string
	TablesQuery   string
	ViewsQuery    string
	ColumnsQuery  string
	SystemSchemas []string

	DSN         func(cfg *config.SourceConfig) (string, error)
	Placeholder func(n int) string
	QuoteIdent  func(s string) string
}

// ImplicitCatalog reports whether the source exposes exactly one catalog.
func (d *Dialect) ImplicitCatalog() bool {
	return d.CatalogsQuery == ""
}

var paramRef = regexp.MustCompile(`\$(\d)`)

// bind expands identifiers and rewrites $n references into the driver's
// placeholders, returning the arguments in placeholder order.
func (d *Dialect) bind(q, catalog, schema string, params ...any) (string, []any) {
	q = strings.ReplaceAll(q, "{catalog}", d.QuoteIdent(catalog))
	q = strings.ReplaceAll(q, "{schema}", d.QuoteIdent(schema))
	var args []any
	q = paramRef.ReplaceAllStringFunc(q, func(ref string) string {
		n, _ := strconv.Atoi(ref[1:])
		args = append(args, params[n-1])
		return d.Placeholder(len(args))
	})
	return q, args
}

func (d *Dialect) isSystemSchema(schema string) bool {
	for _, s := range d.SystemSchemas {
		if strings.EqualFold(s, schema) {
			return true
		}
	}
	return false
}

func questionMark(int) string { return "?" }
func dollar(n int) string     { return "$" + strconv.Itoa(n) }
func atP(n int) string        { return "@p" + strconv.Itoa(n) }

func doubleQuote(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }
func backtick(s string) string    { return "`" + strings.ReplaceAll(s, "`", "``") + "`" }
func bracket(s string) string     { return "[" + strings.ReplaceAll(s, "]", "]]") + "]" }

const (
	infoTables = `SELECT table_name FROM {catalog}.information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE' ORDER BY table_name`
	infoViews = `SELECT table_name, view_definition FROM {catalog}.information_schema.views
WHERE table_schema = $1 ORDER BY table_name`
	infoColumns = `SELECT column_name, data_type, is_nullable, ordinal_position FROM {catalog}.information_schema.columns
WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`
	infoSchemas = `SELECT schema_name FROM {catalog}.information_schema.schemata ORDER BY schema_name`
)

var dialects = map[string]*Dialect{
	"trino": {
		Name:          "trino",
		Description:   "Trino / Presto via information_schema",
		Driver:        "trino",
		CatalogsQuery: `SELECT catalog_name FROM system.metadata.catalogs ORDER BY catalog_name`,
		SchemasQuery:  infoSchemas,
		TablesQuery:   infoTables,
		ViewsQuery:    infoViews,
		ColumnsQuery:  infoColumns,
		SystemSchemas: []string{"information_schema"},
		DSN:           trinoDSN,
		Placeholder:   questionMark,
		QuoteIdent:    doubleQuote,
	},
	"postgres": {
		Name:          "postgres",
		Description:   "PostgreSQL via information_schema",
		Driver:        "pgx",
		CatalogQuery:  `SELECT current_database()`,
		SchemasQuery:  `SELECT schema_name FROM information_schema.schemata ORDER BY schema_name`,
		TablesQuery:   strings.ReplaceAll(infoTables, "{catalog}.", ""),
		ViewsQuery:    strings.ReplaceAll(infoViews, "{catalog}.", ""),
		ColumnsQuery:  strings.ReplaceAll(infoColumns, "{catalog}.", ""),
		SystemSchemas: []string{"information_schema", "pg_catalog", "pg_toast"},
		DSN:           postgresDSN,
		Placeholder:   dollar,
		QuoteIdent:    doubleQuote,
	},
	"mysql": {
		Name:          "mysql",
		Description:   "MySQL / MariaDB via information_schema",
		Driver:        "mysql",
		Catalog:       "def",
		SchemasQuery:  `SELECT schema_name FROM information_schema.schemata ORDER BY schema_name`,
		TablesQuery:   strings.ReplaceAll(infoTables, "{catalog}.", ""),
		ViewsQuery:    strings.ReplaceAll(infoViews, "{catalog}.", ""),
		ColumnsQuery:  `SELECT column_name, column_type, is_nullable, ordinal_position FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`,
		SystemSchemas: []string{"information_schema", "mysql", "performance_schema", "sys"},
		DSN:           mysqlDSN,
		Placeholder:   questionMark,
		QuoteIdent:    backtick,
	},
	"snowflake": {
		Name:          "snowflake",
		Description:   "Snowflake via information_schema",
		Driver:        "snowflake",
		CatalogsQuery: `SELECT database_name FROM snowflake.information_schema.databases ORDER BY database_name`,
		SchemasQuery:  infoSchemas,
		TablesQuery:   infoTables,
		ViewsQuery:    infoViews,
		ColumnsQuery:  infoColumns,
		SystemSchemas: []string{"INFORMATION_SCHEMA"},
		DSN:           snowflakeDSN,
		Placeholder:   questionMark,
		QuoteIdent:    doubleQuote,
	},
	"sqlserver": {
		Name:          "sqlserver",
		Description:   "Microsoft SQL Server via information_schema",
		Driver:        "sqlserver",
		CatalogQuery:  `SELECT DB_NAME()`,
		SchemasQuery:  `SELECT schema_name FROM information_schema.schemata ORDER BY schema_name`,
		TablesQuery:   strings.ReplaceAll(infoTables, "{catalog}.", ""),
		ViewsQuery:    strings.ReplaceAll(infoViews, "{catalog}.", ""),
		ColumnsQuery:  strings.ReplaceAll(infoColumns, "{catalog}.", ""),
		SystemSchemas: []string{"INFORMATION_SCHEMA", "sys", "guest", "db_owner", "db_accessadmin", "db_securityadmin", "db_ddladmin", "db_backupoperator", "db_datareader", "db_datawriter", "db_denydatareader", "db_denydatawriter"},
		DSN:           sqlserverDSN,
		Placeholder:   atP,
		QuoteIdent:    bracket,
	},
	"sqlite": {
		Name:         "sqlite",
		Description:  "SQLite via sqlite_master and pragma_table_info",
		Driver:       "sqlite3",
		Catalog:      "sqlite",
		SchemasQuery: `SELECT name FROM pragma_database_list ORDER BY seq`,
		TablesQuery: `SELECT name FROM {schema}.sqlite_master WHERE type = 'table'
AND name NOT LIKE 'sqlite_%' ORDER BY name`,
		ViewsQuery:   `SELECT name, sql FROM {schema}.sqlite_master WHERE type = 'view' ORDER BY name`,
		ColumnsQuery: `SELECT name, type, CASE WHEN "notnull" = 1 THEN 'NO' ELSE 'YES' END, cid + 1
FROM pragma_table_info($2, $1) ORDER BY cid`,
		SystemSchemas: []string{"temp"},
		DSN:           sqliteDSN,
		Placeholder:   questionMark,
		QuoteIdent:    doubleQuote,
	},
}

// Lookup returns the dialect registered under name.
func Lookup(name string) (*Dialect, bool) {
	d, ok := dialects[name]
	return d, ok
}

func hostPort(cfg *config.SourceConfig, defPort int) string {
	port := cfg.Port
	if port == 0 {
		port = defPort
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func trinoDSN(cfg *config.SourceConfig) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	scheme := cfg.Property("scheme", "http")
	u := url.URL{Scheme: scheme, Host: hostPort(cfg, 8080)}
	user := cfg.Username
	if user == "" {
		user = "harvester"
	}
	if cfg.Password != "" {
		u.User = url.UserPassword(user, cfg.Password)
	} else {
		u.User = url.User(user)
	}
	tc := &trino.Config{
		ServerURI: u.String(),
		Source:    "harvester",
		Catalog:   cfg.Catalog,
		Schema:    cfg.Schema,
	}
	return tc.FormatDSN()
}

func postgresDSN(cfg *config.SourceConfig) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	u := url.URL{Scheme: "postgres", Host: hostPort(cfg, 5432), Path: "/" + cfg.Catalog}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	q := url.Values{}
	q.Set("sslmode", cfg.Property("sslmode", "prefer"))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func mysqlDSN(cfg *config.SourceConfig) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = hostPort(cfg, 3306)
	mc.Timeout = cfg.Timeouts.Connection
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN(), nil
}

func snowflakeDSN(cfg *config.SourceConfig) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	account := cfg.Property("account", "")
	if account == "" {
		return "", errors.New(errors.ErrorTypeConfig, "source.properties.account is required for snowflake")
	}
	return gosnowflake.DSN(&gosnowflake.Config{
		Account:      account,
		User:         cfg.Username,
		Password:     cfg.Password,
		Database:     cfg.Catalog,
		Warehouse:    cfg.Property("warehouse", ""),
		Role:         cfg.Property("role", ""),
		LoginTimeout: cfg.Timeouts.Connection,
	})
}

func sqlserverDSN(cfg *config.SourceConfig) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	u := url.URL{Scheme: "sqlserver", Host: hostPort(cfg, 1433)}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	q := url.Values{}
	if cfg.Catalog != "" {
		q.Set("database", cfg.Catalog)
	}
	if cfg.Timeouts.Connection > 0 {
		q.Set("dial timeout", fmt.Sprintf("%d", int(cfg.Timeouts.Connection.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sqliteDSN(cfg *config.SourceConfig) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	path := cfg.Property("path", "")
	if path == "" {
		return "", errors.New(errors.ErrorTypeConfig, "source.dsn or source.properties.path is required for sqlite")
	}
	return "file:" + path + "?mode=ro", nil
}
