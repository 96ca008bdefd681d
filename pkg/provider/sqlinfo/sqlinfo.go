// Package sqlinfo implements introspection providers for warehouses that
// expose their structure through SQL, mostly via information_schema.
//
// Each dialect registers itself under its source type:
//
//	trino, postgres, mysql, snowflake, sqlserver, sqlite
//
// Column lookups run once per table, so a table whose columns cannot be
// read fails alone with an introspection error.
package sqlinfo

import (
	"context"
	"database/sql"
	"database/sql/driver"
	stderrors "errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/harvester/pkg/config"
	"github.com/ajitpratap0/harvester/pkg/errors"
	"github.com/ajitpratap0/harvester/pkg/harvest/record"
	"github.com/ajitpratap0/harvester/pkg/provider"
)

// Provider introspects a database/sql source.
type Provider struct {
	dialect *Dialect
	cfg     config.SourceConfig
	log     *zap.Logger
	db      *sql.DB
}

// New creates a provider for the dialect registered under cfg.Type.
func New(cfg config.SourceConfig, log *zap.Logger) (*Provider, error) {
	d, ok := Lookup(cfg.Type)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "no sql dialect for source type %q", cfg.Type)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{dialect: d, cfg: cfg, log: log}, nil
}

// NewWithDB creates a provider over an open handle. The provider takes
// ownership of db.
func NewWithDB(d *Dialect, db *sql.DB, cfg config.SourceConfig, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{dialect: d, cfg: cfg, log: log, db: db}
}

// Kind implements provider.Provider.
func (p *Provider) Kind() string { return p.dialect.Name }

// Connect opens the pool and verifies the source answers.
func (p *Provider) Connect(ctx context.Context) error {
	opened := false
	if p.db == nil {
		dsn, err := p.dialect.DSN(&p.cfg)
		if err != nil {
			return err
		}
		db, err := sql.Open(p.dialect.Driver, dsn)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "failed to open source").
				WithDetail("driver", p.dialect.Driver)
		}
		db.SetMaxOpenConns(2)
		db.SetConnMaxIdleTime(time.Minute)
		p.db = db
		opened = true
	}

	pingCtx := ctx
	if t := p.cfg.Timeouts.Connection; t > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	if err := p.db.PingContext(pingCtx); err != nil {
		// A handle opened here is released so a failed Connect leaks nothing.
		if opened {
			_ = p.db.Close()
			p.db = nil
		}
		return errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "source is unreachable").
			WithDetail("provider", p.dialect.Name)
	}

	p.log.Info("connected to source", zap.String("driver", p.dialect.Driver))
	return nil
}

// ListCatalogs implements provider.Provider.
func (p *Provider) ListCatalogs(ctx context.Context) ([]string, error) {
	if p.cfg.Catalog != "" {
		return []string{p.cfg.Catalog}, nil
	}
	d := p.dialect
	switch {
	case d.CatalogsQuery != "":
		return p.queryNames(ctx, d.CatalogsQuery, "", "")
	case d.CatalogQuery != "":
		names, err := p.queryNames(ctx, d.CatalogQuery, "", "")
		if err != nil {
			return nil, err
		}
		if len(names) != 1 || names[0] == "" {
			return nil, errors.New(errors.ErrorTypeSourceUnavailable, "source did not report its current database")
		}
		return names, nil
	default:
		return []string{d.Catalog}, nil
	}
}

// ListSchemas implements provider.Provider. System schemas are left out.
func (p *Provider) ListSchemas(ctx context.Context, catalog string) ([]string, error) {
	names, err := p.queryNames(ctx, p.dialect.SchemasQuery, catalog, "")
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if !p.dialect.isSystemSchema(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// ListTables implements provider.Provider.
func (p *Provider) ListTables(ctx context.Context, catalog, schema string, fn provider.ItemFunc) error {
	names, err := p.queryNames(ctx, p.dialect.TablesQuery, catalog, schema, schema)
	if err != nil {
		return err
	}
	for _, name := range names {
		desc := &provider.Descriptor{Catalog: catalog, Schema: schema, Name: name, Kind: provider.EntityTable}
		if err := p.emit(ctx, desc, fn); err != nil {
			return err
		}
	}
	return nil
}

// ListViews implements provider.Provider.
func (p *Provider) ListViews(ctx context.Context, catalog, schema string, fn provider.ItemFunc) error {
	q, args := p.dialect.bind(p.dialect.ViewsQuery, catalog, schema, schema)
	type view struct{ name, definition string }
	var views []view
	err := p.query(ctx, q, args, func(rows *sql.Rows) error {
		var (
			v   view
			def sql.NullString
		)
		if err := rows.Scan(&v.name, &def); err != nil {
			return err
		}
		v.definition = def.String
		views = append(views, v)
		return nil
	})
	if err != nil {
		return err
	}

	for _, v := range views {
		desc := &provider.Descriptor{
			Catalog: catalog, Schema: schema, Name: v.name,
			Kind: provider.EntityView, Definition: v.definition,
		}
		if err := p.emit(ctx, desc, fn); err != nil {
			return err
		}
	}
	return nil
}

// Close implements provider.Provider.
func (p *Provider) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

// emit loads the columns of desc and hands it to fn. A column lookup that
// fails without losing the source is reported to fn as an item error.
func (p *Provider) emit(ctx context.Context, desc *provider.Descriptor, fn provider.ItemFunc) error {
	cols, err := p.columns(ctx, desc.Catalog, desc.Schema, desc.Name)
	if err != nil {
		if !errors.IsRecoverable(err) {
			return err
		}
		return fn(desc, err)
	}
	desc.Columns = cols
	return fn(desc, nil)
}

func (p *Provider) columns(ctx context.Context, catalog, schema, table string) ([]provider.Column, error) {
	q, args := p.dialect.bind(p.dialect.ColumnsQuery, catalog, schema, schema, table)
	var cols []provider.Column
	err := p.query(ctx, q, args, func(rows *sql.Rows) error {
		var (
			c        provider.Column
			dataType sql.NullString
			nullable sql.NullString
		)
		if err := rows.Scan(&c.Name, &dataType, &nullable, &c.Ordinal); err != nil {
			return err
		}
		c.DataType = dataType.String
		c.Nullable = nullable.String == "YES"
		cols = append(cols, c)
		return nil
	})
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeIntrospection) {
			return nil, errors.Wrap(err, errors.ErrorTypeIntrospection, "failed to read columns").
				WithDetail("fqn", record.FQN(catalog, schema, table))
		}
		return nil, err
	}
	return cols, nil
}

func (p *Provider) queryNames(ctx context.Context, query, catalog, schema string, params ...any) ([]string, error) {
	q, args := p.dialect.bind(query, catalog, schema, params...)
	var names []string
	err := p.query(ctx, q, args, func(rows *sql.Rows) error {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		names = append(names, name)
		return nil
	})
	return names, err
}

// query runs q and scans every row. Errors are classified: a lost
// connection is SourceUnavailable, a query timeout or any other failure is
// Introspection, and cancellation of ctx is returned as is.
func (p *Provider) query(ctx context.Context, q string, args []any, scan func(*sql.Rows) error) (err error) {
	if p.db == nil {
		return errors.New(errors.ErrorTypeSourceUnavailable, "provider is not connected")
	}
	parent := ctx
	if t := p.cfg.Timeouts.Query; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	defer func() {
		if err != nil {
			err = classify(parent, err)
		}
	}()

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// classify maps a driver error to the harvest error taxonomy.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(err, errors.ErrorTypeIntrospection, "introspection query timed out")
	case stderrors.Is(err, driver.ErrBadConn),
		stderrors.Is(err, sql.ErrConnDone),
		stderrors.Is(err, io.EOF),
		stderrors.Is(err, io.ErrUnexpectedEOF),
		stderrors.As(err, &netErr):
		return errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "lost connection to source")
	default:
		return errors.Wrap(err, errors.ErrorTypeIntrospection, "introspection query failed")
	}
}

var _ provider.Provider = (*Provider)(nil)
