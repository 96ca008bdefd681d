// Package bigquery implements an introspection provider for Google BigQuery.
// The catalog is the project, schemas are datasets, and tables and views
// are told apart by their metadata type.
package bigquery

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/harvester/pkg/config"
	"github.com/ajitpratap0/harvester/pkg/errors"
	"github.com/ajitpratap0/harvester/pkg/harvest/record"
	"github.com/ajitpratap0/harvester/pkg/provider"
)

// Kind is the registry key of the provider.
const Kind = "bigquery"

func init() {
	provider.Register(provider.Info{
		Name:            Kind,
		Description:     "Google BigQuery datasets, tables and views",
		ImplicitCatalog: true,
	}, func(cfg config.SourceConfig, log *zap.Logger) (provider.Provider, error) {
		return New(cfg, log)
	})
}

// Client is the part of the BigQuery API the provider reads.
type Client interface {
	Datasets(ctx context.Context) ([]string, error)
	Tables(ctx context.Context, dataset string) ([]string, error)
	Metadata(ctx context.Context, dataset, table string) (*bigquery.TableMetadata, error)
	Close() error
}

// Provider introspects one BigQuery project.
type Provider struct {
	cfg     config.SourceConfig
	project string
	log     *zap.Logger
	client  Client
	dial    func(ctx context.Context) (Client, error)

	mu     sync.Mutex
	cached string
	items  []*item
}

// item is one table of a cached dataset. An item whose metadata could not be
// read has an unknown type and is reported by the first listing to reach it.
type item struct {
	name     string
	meta     *bigquery.TableMetadata
	err      error
	reported bool
}

// New creates a provider for cfg.Project, falling back to cfg.Catalog.
func New(cfg config.SourceConfig, log *zap.Logger) (*Provider, error) {
	project := cfg.Project
	if project == "" {
		project = cfg.Catalog
	}
	if project == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "source.project is required for bigquery")
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Provider{cfg: cfg, project: project, log: log}
	p.dial = p.dialAPI
	return p, nil
}

// NewWithClient creates a provider over an existing client.
func NewWithClient(project string, client Client, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Provider{project: project, log: log}
	p.dial = func(context.Context) (Client, error) { return client, nil }
	return p
}

// Kind implements provider.Provider.
func (p *Provider) Kind() string { return Kind }

func (p *Provider) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case p.cfg.AccessToken != "":
		opts = append(opts, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: p.cfg.AccessToken})))
	case p.cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(p.cfg.CredentialsFile))
	}
	if endpoint := p.cfg.Property("endpoint", ""); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}
	return opts
}

func (p *Provider) dialAPI(ctx context.Context) (Client, error) {
	c, err := bigquery.NewClient(ctx, p.project, p.clientOptions()...)
	if err != nil {
		return nil, err
	}
	return &apiClient{c: c}, nil
}

// Connect creates the API client. Credentials are checked on first use.
func (p *Provider) Connect(ctx context.Context) error {
	client, err := p.dial(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "failed to create bigquery client").
			WithDetail("project", p.project)
	}
	p.client = client
	p.log.Info("connected to bigquery", zap.String("project", p.project))
	return nil
}

// ListCatalogs implements provider.Provider.
func (p *Provider) ListCatalogs(context.Context) ([]string, error) {
	return []string{p.project}, nil
}

// ListSchemas implements provider.Provider.
func (p *Provider) ListSchemas(ctx context.Context, _ string) ([]string, error) {
	if p.client == nil {
		return nil, errors.New(errors.ErrorTypeSourceUnavailable, "provider is not connected")
	}
	datasets, err := p.client.Datasets(ctx)
	if err != nil {
		return nil, classify(ctx, err, "failed to list datasets")
	}
	return datasets, nil
}

// ListTables implements provider.Provider. Tables whose metadata cannot be
// read are reported by whichever of ListTables and ListViews runs first,
// since their type is unknown.
func (p *Provider) ListTables(ctx context.Context, catalog, schema string, fn provider.ItemFunc) error {
	items, err := p.list(ctx, schema)
	if err != nil {
		return err
	}
	for _, it := range items {
		desc := &provider.Descriptor{Catalog: catalog, Schema: schema, Name: it.name, Kind: provider.EntityTable}
		if it.err != nil {
			if !p.claim(it) {
				continue
			}
			if err := fn(desc, it.err); err != nil {
				return err
			}
			continue
		}
		if !isTable(it.meta.Type) {
			continue
		}
		if err := fn(describe(desc, it.meta), nil); err != nil {
			return err
		}
	}
	return nil
}

// ListViews implements provider.Provider.
func (p *Provider) ListViews(ctx context.Context, catalog, schema string, fn provider.ItemFunc) error {
	items, err := p.list(ctx, schema)
	if err != nil {
		return err
	}
	for _, it := range items {
		desc := &provider.Descriptor{Catalog: catalog, Schema: schema, Name: it.name, Kind: provider.EntityView}
		if it.err != nil {
			if !p.claim(it) {
				continue
			}
			if err := fn(desc, it.err); err != nil {
				return err
			}
			continue
		}
		if isTable(it.meta.Type) {
			continue
		}
		if err := fn(describe(desc, it.meta), nil); err != nil {
			return err
		}
	}
	return nil
}

// Close implements provider.Provider.
func (p *Provider) Close() error {
	p.mu.Lock()
	p.cached, p.items = "", nil
	p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

// claim marks a failed item reported, returning false if it already was.
func (p *Provider) claim(it *item) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if it.reported {
		return false
	}
	it.reported = true
	return true
}

// list reads the metadata of every table of a dataset once; the table and
// view listings of the same dataset share it.
func (p *Provider) list(ctx context.Context, dataset string) ([]*item, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached == dataset && p.items != nil {
		return p.items, nil
	}
	if p.client == nil {
		return nil, errors.New(errors.ErrorTypeSourceUnavailable, "provider is not connected")
	}

	names, err := p.client.Tables(ctx, dataset)
	if err != nil {
		return nil, classify(ctx, err, "failed to list tables")
	}
	items := make([]*item, 0, len(names))
	for _, name := range names {
		meta, err := p.client.Metadata(ctx, dataset, name)
		if err != nil {
			err = classify(ctx, err, "failed to read metadata of "+record.FQN(p.project, dataset, name))
			if !errors.IsRecoverable(err) {
				return nil, err
			}
		}
		items = append(items, &item{name: name, meta: meta, err: err})
	}
	p.cached, p.items = dataset, items
	return items, nil
}

func isTable(t bigquery.TableType) bool {
	switch t {
	case bigquery.ViewTable, bigquery.MaterializedView:
		return false
	default:
		return true
	}
}

func describe(desc *provider.Descriptor, meta *bigquery.TableMetadata) *provider.Descriptor {
	desc.Comment = meta.Description
	desc.Columns = columns(meta.Schema)
	if meta.Type == bigquery.MaterializedView && meta.MaterializedView != nil {
		desc.Definition = meta.MaterializedView.Query
	} else {
		desc.Definition = meta.ViewQuery
	}
	props := map[string]string{"table_type": string(meta.Type)}
	if meta.Location != "" {
		props["location"] = meta.Location
	}
	for k, v := range meta.Labels {
		props["label."+k] = v
	}
	desc.Properties = props
	return desc
}

func columns(schema bigquery.Schema) []provider.Column {
	cols := make([]provider.Column, 0, len(schema))
	for i, f := range schema {
		cols = append(cols, provider.Column{
			Name:     f.Name,
			DataType: fieldType(f),
			Ordinal:  i + 1,
			Nullable: !f.Required && !f.Repeated,
			Comment:  f.Description,
		})
	}
	return cols
}

// fieldType renders a field as a SQL type, e.g. ARRAY<STRUCT<a INT64>>.
func fieldType(f *bigquery.FieldSchema) string {
	var t string
	switch f.Type {
	case bigquery.RecordFieldType:
		parts := make([]string, 0, len(f.Schema))
		for _, sub := range f.Schema {
			parts = append(parts, sub.Name+" "+fieldType(sub))
		}
		t = "STRUCT<" + strings.Join(parts, ", ") + ">"
	case bigquery.NumericFieldType, bigquery.BigNumericFieldType:
		t = string(f.Type)
		if f.Precision > 0 {
			t = fmt.Sprintf("%s(%d,%d)", f.Type, f.Precision, f.Scale)
		}
	case bigquery.StringFieldType, bigquery.BytesFieldType:
		t = string(f.Type)
		if f.MaxLength > 0 {
			t = fmt.Sprintf("%s(%d)", f.Type, f.MaxLength)
		}
	default:
		t = string(f.Type)
	}
	if f.Repeated {
		return "ARRAY<" + t + ">"
	}
	return t
}

// classify maps API failures: server errors and transport failures mean
// the source is unavailable, anything else concerns the entity.
func classify(ctx context.Context, err error, msg string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var (
		gerr   *googleapi.Error
		netErr net.Error
	)
	switch {
	case stderrors.As(err, &gerr) && (gerr.Code >= http.StatusInternalServerError || gerr.Code == http.StatusUnauthorized):
		return errors.Wrap(err, errors.ErrorTypeSourceUnavailable, msg)
	case stderrors.As(err, &gerr):
		return errors.Wrap(err, errors.ErrorTypeIntrospection, msg)
	case stderrors.As(err, &netErr):
		return errors.Wrap(err, errors.ErrorTypeSourceUnavailable, msg)
	default:
		return errors.Wrap(err, errors.ErrorTypeSourceUnavailable, msg)
	}
}

// apiClient adapts *bigquery.Client to Client.
type apiClient struct {
	c *bigquery.Client
}

func (a *apiClient) Datasets(ctx context.Context) ([]string, error) {
	var out []string
	it := a.c.Datasets(ctx)
	for {
		ds, err := it.Next()
		if err == iterator.Done {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ds.DatasetID)
	}
}

func (a *apiClient) Tables(ctx context.Context, dataset string) ([]string, error) {
	var out []string
	it := a.c.Dataset(dataset).Tables(ctx)
	for {
		t, err := it.Next()
		if err == iterator.Done {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t.TableID)
	}
}

func (a *apiClient) Metadata(ctx context.Context, dataset, table string) (*bigquery.TableMetadata, error) {
	return a.c.Dataset(dataset).Table(table).Metadata(ctx)
}

func (a *apiClient) Close() error {
	return a.c.Close()
}

var _ provider.Provider = (*Provider)(nil)
