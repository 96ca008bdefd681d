// Package walker enumerates the catalog → schema → table/view namespace of a
// connected provider, honoring single-catalog and single-schema restrictions.
package walker

import (
	"context"
	stderrors "errors"

	"github.com/ajitpratap0/harvester/pkg/config"
	"github.com/ajitpratap0/harvester/pkg/errors"
	"github.com/ajitpratap0/harvester/pkg/provider"
)

// Walker lists the namespace of one provider.
type Walker struct {
	p       provider.Provider
	catalog string
	schema  string
}

// New creates a walker restricted by the catalog and schema of src.
func New(p provider.Provider, src config.SourceConfig) *Walker {
	return &Walker{p: p, catalog: src.Catalog, schema: src.Schema}
}

// ListCatalogs returns the configured catalog without discovery, or every
// catalog of the provider.
func (w *Walker) ListCatalogs(ctx context.Context) ([]string, error) {
	if w.catalog != "" {
		return []string{w.catalog}, nil
	}
	catalogs, err := w.p.ListCatalogs(ctx)
	if err != nil {
		return nil, classify(ctx, err, "failed to list catalogs")
	}
	return catalogs, nil
}

// ListSchemas returns the configured schema without querying the provider,
// or every schema of catalog.
func (w *Walker) ListSchemas(ctx context.Context, catalog string) ([]string, error) {
	if w.schema != "" {
		return []string{w.schema}, nil
	}
	schemas, err := w.p.ListSchemas(ctx, catalog)
	if err != nil {
		return nil, classify(ctx, err, "failed to list schemas").WithDetail("catalog", catalog)
	}
	return schemas, nil
}

// ListTables calls fn for every table of catalog.schema.
func (w *Walker) ListTables(ctx context.Context, catalog, schema string, fn provider.ItemFunc) error {
	return w.list(ctx, w.p.ListTables, catalog, schema, fn, "failed to list tables")
}

// ListViews calls fn for every view of catalog.schema.
func (w *Walker) ListViews(ctx context.Context, catalog, schema string, fn provider.ItemFunc) error {
	return w.list(ctx, w.p.ListViews, catalog, schema, fn, "failed to list views")
}

type listFunc func(ctx context.Context, catalog, schema string, fn provider.ItemFunc) error

// list returns errors raised by fn unchanged and classifies provider errors.
func (w *Walker) list(ctx context.Context, lf listFunc, catalog, schema string, fn provider.ItemFunc, msg string) error {
	var fnErr error
	err := lf(ctx, catalog, schema, func(desc *provider.Descriptor, itemErr error) error {
		if err := fn(desc, itemErr); err != nil {
			fnErr = err
			return err
		}
		return nil
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return classify(ctx, err, msg).
			WithDetail("catalog", catalog).
			WithDetail("schema", schema)
	}
	return nil
}

// classify keeps typed provider errors and treats anything else as a lost
// source. Cancellation stays recognizable through errors.Is.
func classify(ctx context.Context, err error, msg string) *errors.Error {
	var typed *errors.Error
	if stderrors.As(err, &typed) {
		return errors.Wrap(err, typed.Type, msg)
	}
	if ctx.Err() != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "harvest cancelled")
	}
	return errors.Wrap(err, errors.ErrorTypeSourceUnavailable, msg)
}
