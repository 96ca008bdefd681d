// Package mongodb implements an introspection provider for MongoDB. The
// deployment is the single catalog, databases are schemas, collections are
// tables and view collections are views.
//
// Collections carry no declared schema, so columns are inferred from the
// top-level fields of one sampled document. Only field names and BSON types
// leave the provider.
package mongodb

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/ajitpratap0/harvester/pkg/config"
	"github.com/ajitpratap0/harvester/pkg/errors"
	"github.com/ajitpratap0/harvester/pkg/provider"
)

// Kind is the registry key of the provider.
const Kind = "mongodb"

// DefaultCatalog names the deployment when source.catalog is unset.
const DefaultCatalog = "mongodb"

var systemDatabases = map[string]bool{"admin": true, "local": true, "config": true}

func init() {
	provider.Register(provider.Info{
		Name:            Kind,
		Description:     "MongoDB databases, collections and views",
		ImplicitCatalog: true,
	}, func(cfg config.SourceConfig, log *zap.Logger) (provider.Provider, error) {
		return New(cfg, log)
	})
}

// Provider introspects one MongoDB deployment.
type Provider struct {
	cfg    config.SourceConfig
	log    *zap.Logger
	client *mongo.Client
}

// New creates a provider. The connection is opened by Connect.
func New(cfg config.SourceConfig, log *zap.Logger) (*Provider, error) {
	if cfg.DSN == "" && cfg.Host == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "source.dsn or source.host is required for mongodb")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{cfg: cfg, log: log}, nil
}

// Kind implements provider.Provider.
func (p *Provider) Kind() string { return Kind }

// URI returns the connection string.
func (p *Provider) URI() string {
	if p.cfg.DSN != "" {
		return p.cfg.DSN
	}
	port := p.cfg.Port
	if port == 0 {
		port = 27017
	}
	u := url.URL{Scheme: "mongodb", Host: net.JoinHostPort(p.cfg.Host, strconv.Itoa(port))}
	if p.cfg.Username != "" {
		u.User = url.UserPassword(p.cfg.Username, p.cfg.Password)
	}
	if authSource := p.cfg.Property("authSource", ""); authSource != "" {
		u.RawQuery = url.Values{"authSource": {authSource}}.Encode()
	}
	return u.String()
}

// Connect opens the client and pings the primary.
func (p *Provider) Connect(ctx context.Context) error {
	opts := options.Client().ApplyURI(p.URI()).SetAppName("harvester")
	if t := p.cfg.Timeouts.Connection; t > 0 {
		opts.SetConnectTimeout(t).SetServerSelectionTimeout(t)
	}
	if t := p.cfg.Timeouts.Query; t > 0 {
		opts.SetTimeout(t)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid mongodb connection options")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return errors.Wrap(err, errors.ErrorTypeSourceUnavailable, "mongodb is unreachable")
	}
	p.client = client
	p.log.Info("connected to mongodb")
	return nil
}

// ListCatalogs implements provider.Provider.
func (p *Provider) ListCatalogs(context.Context) ([]string, error) {
	if p.cfg.Catalog != "" {
		return []string{p.cfg.Catalog}, nil
	}
	return []string{DefaultCatalog}, nil
}

// ListSchemas implements provider.Provider. admin, local and config are
// left out.
func (p *Provider) ListSchemas(ctx context.Context, _ string) ([]string, error) {
	if p.client == nil {
		return nil, errors.New(errors.ErrorTypeSourceUnavailable, "provider is not connected")
	}
	names, err := p.client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, classify(ctx, err, "failed to list databases")
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !systemDatabases[n] {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ListTables implements provider.Provider.
func (p *Provider) ListTables(ctx context.Context, catalog, schema string, fn provider.ItemFunc) error {
	return p.list(ctx, catalog, schema, "collection", fn)
}

// ListViews implements provider.Provider.
func (p *Provider) ListViews(ctx context.Context, catalog, schema string, fn provider.ItemFunc) error {
	return p.list(ctx, catalog, schema, "view", fn)
}

func (p *Provider) list(ctx context.Context, catalog, schema, collType string, fn provider.ItemFunc) error {
	if p.client == nil {
		return errors.New(errors.ErrorTypeSourceUnavailable, "provider is not connected")
	}
	db := p.client.Database(schema)
	specs, err := db.ListCollectionSpecifications(ctx, bson.D{{Key: "type", Value: collType}})
	if err != nil {
		return classify(ctx, err, "failed to list collections")
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })

	for _, spec := range specs {
		if strings.HasPrefix(spec.Name, "system.") {
			continue
		}
		desc := &provider.Descriptor{Catalog: catalog, Schema: schema, Name: spec.Name, Kind: provider.EntityTable}
		if collType == "view" {
			desc.Kind = provider.EntityView
			desc.Definition = viewDefinition(spec.Options)
		}

		cols, err := p.sample(ctx, db.Collection(spec.Name))
		if err != nil {
			if !errors.IsRecoverable(err) {
				return err
			}
			if err := fn(desc, err); err != nil {
				return err
			}
			continue
		}
		desc.Columns = cols
		if err := fn(desc, nil); err != nil {
			return err
		}
	}
	return nil
}

// sample infers columns from one document. An empty collection has none.
func (p *Provider) sample(ctx context.Context, coll *mongo.Collection) ([]provider.Column, error) {
	raw, err := coll.FindOne(ctx, bson.D{}).Raw()
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(ctx, err, "failed to sample "+coll.Name())
	}
	return Columns(raw)
}

// Columns describes the top-level fields of a document.
func Columns(doc bson.Raw) ([]provider.Column, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIntrospection, "malformed sample document")
	}
	cols := make([]provider.Column, 0, len(elems))
	for i, e := range elems {
		v := e.Value()
		cols = append(cols, provider.Column{
			Name:     e.Key(),
			DataType: TypeName(v),
			Ordinal:  i + 1,
			Nullable: e.Key() != "_id",
		})
	}
	return cols, nil
}

// TypeName maps a BSON value to a SQL-like type name.
func TypeName(v bson.RawValue) string {
	switch v.Type {
	case bsontype.String, bsontype.Symbol, bsontype.JavaScript:
		return "STRING"
	case bsontype.Int32:
		return "INT"
	case bsontype.Int64:
		return "BIGINT"
	case bsontype.Double:
		return "DOUBLE"
	case bsontype.Decimal128:
		return "DECIMAL"
	case bsontype.Boolean:
		return "BOOLEAN"
	case bsontype.DateTime, bsontype.Timestamp:
		return "TIMESTAMP"
	case bsontype.ObjectID:
		return "OBJECTID"
	case bsontype.Binary:
		return "BINARY"
	case bsontype.EmbeddedDocument:
		return "STRUCT"
	case bsontype.Array:
		values, err := v.Array().Values()
		if err != nil || len(values) == 0 {
			return "ARRAY"
		}
		return "ARRAY<" + TypeName(values[0]) + ">"
	case bsontype.Null, bsontype.Undefined:
		return "NULL"
	default:
		return "UNKNOWN"
	}
}

func viewDefinition(opts bson.Raw) string {
	if opts == nil {
		return ""
	}
	viewOn, _ := opts.Lookup("viewOn").StringValueOK()
	pipeline := opts.Lookup("pipeline")
	if pipeline.Type == bsontype.Array {
		return fmt.Sprintf("viewOn: %s, pipeline: %s", viewOn, pipeline.String())
	}
	return "viewOn: " + viewOn
}

// Close implements provider.Provider.
func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	err := p.client.Disconnect(context.Background())
	p.client = nil
	return err
}

func classify(ctx context.Context, err error, msg string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || stderrors.Is(err, mongo.ErrClientDisconnected) {
		return errors.Wrap(err, errors.ErrorTypeSourceUnavailable, msg)
	}
	return errors.Wrap(err, errors.ErrorTypeIntrospection, msg)
}

var _ provider.Provider = (*Provider)(nil)
