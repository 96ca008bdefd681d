// Package provider defines the introspection capability a harvest run walks,
// and the registry that resolves a provider implementation from a source kind.
package provider

import (
	"context"
)

// EntityKind distinguishes tables from views.
type EntityKind string

const (
	EntityTable EntityKind = "table"
	EntityView  EntityKind = "view"
)

// Column is the introspected shape of one column.
type Column struct {
	Name     string
	DataType string
	Ordinal  int
	Nullable bool
	Comment  string
}

// Descriptor is a table or view as reported by the source.
type Descriptor struct {
	Catalog    string
	Schema     string
	Name       string
	Kind       EntityKind
	Columns    []Column
	Comment    string
	Definition string
	Properties map[string]string
}

// ItemFunc receives each listed item. When err is non-nil the item could
// not be read; desc then carries whatever identity is known and may be nil.
// Returning an error stops the listing and is returned from it unchanged.
type ItemFunc func(desc *Descriptor, err error) error

// Provider is a connected handle to a warehouse's metadata.
//
// A provider is owned by exactly one run at a time. Listing methods block on
// source I/O. Errors of type SourceUnavailable mean the handle is gone;
// errors of type Introspection returned from a listing mean that listing
// could not be read as a whole.
type Provider interface {
	// Kind returns the registry key of this provider.
	Kind() string
	// Connect establishes the introspection handle.
	Connect(ctx context.Context) error
	// ListCatalogs returns every catalog, or the single implicit one.
	ListCatalogs(ctx context.Context) ([]string, error)
	// ListSchemas returns the schemas of a catalog.
	ListSchemas(ctx context.Context, catalog string) ([]string, error)
	// ListTables calls fn for each table of a schema.
	ListTables(ctx context.Context, catalog, schema string, fn ItemFunc) error
	// ListViews calls fn for each view of a schema.
	ListViews(ctx context.Context, catalog, schema string, fn ItemFunc) error
	// Close releases the handle.
	Close() error
}
