package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/ajitpratap0/harvester/pkg/errors"
	"github.com/ajitpratap0/harvester/pkg/harvest/record"
	"github.com/ajitpratap0/harvester/pkg/provider"
)

// FakeItem is one scripted listing entry. A recoverable Err is handed to the
// listing callback; any other Err aborts the listing.
type FakeItem struct {
	Desc *provider.Descriptor
	Err  error
}

// FakeProvider is a scriptable in-memory provider.
type FakeProvider struct {
	mu sync.Mutex

	KindName string
	Catalogs []string
	Schemas  map[string][]string
	Tables   map[string][]FakeItem
	Views    map[string][]FakeItem

	ConnectErr  error
	CatalogsErr error
	SchemasErr  map[string]error
	TablesErr   map[string]error
	ViewsErr    map[string]error

	// OnListTables runs before each table listing, keyed by schema FQN.
	OnListTables func(schemaFQN string)

	calls     map[string]int
	connected bool
	closed    int
}

// NewFakeProvider returns an empty fake provider.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		KindName:   "fake",
		Schemas:    make(map[string][]string),
		Tables:     make(map[string][]FakeItem),
		Views:      make(map[string][]FakeItem),
		SchemasErr: make(map[string]error),
		TablesErr:  make(map[string]error),
		ViewsErr:   make(map[string]error),
		calls:      make(map[string]int),
	}
}

// AddSchema registers catalog and schema if they are not known yet.
func (f *FakeProvider) AddSchema(catalog, schema string) *FakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !contains(f.Catalogs, catalog) {
		f.Catalogs = append(f.Catalogs, catalog)
	}
	if !contains(f.Schemas[catalog], schema) {
		f.Schemas[catalog] = append(f.Schemas[catalog], schema)
	}
	return f
}

// AddTable adds a table with the given columns.
func (f *FakeProvider) AddTable(catalog, schema, name string, columns ...provider.Column) *FakeProvider {
	f.AddSchema(catalog, schema)
	f.mu.Lock()
	defer f.mu.Unlock()
	key := record.FQN(catalog, schema)
	f.Tables[key] = append(f.Tables[key], FakeItem{Desc: &provider.Descriptor{
		Catalog: catalog, Schema: schema, Name: name, Kind: provider.EntityTable, Columns: columns,
	}})
	return f
}

// AddView adds a view with a definition.
func (f *FakeProvider) AddView(catalog, schema, name, definition string) *FakeProvider {
	f.AddSchema(catalog, schema)
	f.mu.Lock()
	defer f.mu.Unlock()
	key := record.FQN(catalog, schema)
	f.Views[key] = append(f.Views[key], FakeItem{Desc: &provider.Descriptor{
		Catalog: catalog, Schema: schema, Name: name, Kind: provider.EntityView, Definition: definition,
	}})
	return f
}

// AddTableItem appends a raw scripted item to a schema's table listing.
func (f *FakeProvider) AddTableItem(catalog, schema string, item FakeItem) *FakeProvider {
	f.AddSchema(catalog, schema)
	f.mu.Lock()
	defer f.mu.Unlock()
	key := record.FQN(catalog, schema)
	f.Tables[key] = append(f.Tables[key], item)
	return f
}

// FailTable adds a table whose metadata cannot be read.
func (f *FakeProvider) FailTable(catalog, schema, name string) *FakeProvider {
	return f.AddTableItem(catalog, schema, FakeItem{
		Desc: &provider.Descriptor{Catalog: catalog, Schema: schema, Name: name, Kind: provider.EntityTable},
		Err: errors.New(errors.ErrorTypeIntrospection, "failed to read columns").
			WithDetail("fqn", record.FQN(catalog, schema, name)),
	})
}

// RemoveTable drops a table from a schema's listing.
func (f *FakeProvider) RemoveTable(catalog, schema, name string) *FakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := record.FQN(catalog, schema)
	items := f.Tables[key][:0]
	for _, it := range f.Tables[key] {
		if it.Desc != nil && it.Desc.Name == name {
			continue
		}
		items = append(items, it)
	}
	f.Tables[key] = items
	return f
}

// Calls returns how many times method was invoked.
func (f *FakeProvider) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Connected reports whether Connect succeeded and Close was not called since.
func (f *FakeProvider) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Closed returns how many times Close was called.
func (f *FakeProvider) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeProvider) track(method string) {
	f.mu.Lock()
	f.calls[method]++
	f.mu.Unlock()
}

// Kind implements provider.Provider.
func (f *FakeProvider) Kind() string { return f.KindName }

// Connect implements provider.Provider.
func (f *FakeProvider) Connect(ctx context.Context) error {
	f.track("Connect")
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return ctx.Err()
}

// ListCatalogs implements provider.Provider.
func (f *FakeProvider) ListCatalogs(context.Context) ([]string, error) {
	f.track("ListCatalogs")
	if f.CatalogsErr != nil {
		return nil, f.CatalogsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.Catalogs...)
	sort.Strings(out)
	return out, nil
}

// ListSchemas implements provider.Provider.
func (f *FakeProvider) ListSchemas(_ context.Context, catalog string) ([]string, error) {
	f.track("ListSchemas")
	if err := f.SchemasErr[catalog]; err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.Schemas[catalog]...)
	sort.Strings(out)
	return out, nil
}

// ListTables implements provider.Provider.
func (f *FakeProvider) ListTables(ctx context.Context, catalog, schema string, fn provider.ItemFunc) error {
	f.track("ListTables")
	key := record.FQN(catalog, schema)
	if f.OnListTables != nil {
		f.OnListTables(key)
	}
	return f.list(ctx, f.TablesErr[key], f.snapshot(f.Tables, key), fn)
}

// ListViews implements provider.Provider.
func (f *FakeProvider) ListViews(ctx context.Context, catalog, schema string, fn provider.ItemFunc) error {
	f.track("ListViews")
	key := record.FQN(catalog, schema)
	return f.list(ctx, f.ViewsErr[key], f.snapshot(f.Views, key), fn)
}

// Close implements provider.Provider.
func (f *FakeProvider) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.connected = false
	return nil
}

func (f *FakeProvider) snapshot(m map[string][]FakeItem, key string) []FakeItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeItem(nil), m[key]...)
}

func (f *FakeProvider) list(ctx context.Context, listErr error, items []FakeItem, fn provider.ItemFunc) error {
	if listErr != nil {
		return listErr
	}
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if it.Err != nil && !errors.IsRecoverable(it.Err) {
			return it.Err
		}
		if err := fn(it.Desc, it.Err); err != nil {
			return err
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
