package harvest

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/harvester/pkg/config"
	"github.com/ajitpratap0/harvester/pkg/errors"
	"github.com/ajitpratap0/harvester/pkg/harvest/record"
	"github.com/ajitpratap0/harvester/pkg/metrics"
	"github.com/ajitpratap0/harvester/pkg/provider"
	"github.com/ajitpratap0/harvester/pkg/sink"
	"github.com/ajitpratap0/harvester/pkg/testutil"
)

// ledger is a minimal catalog: it applies records and answers prior-known lookups.
type ledger struct {
	mu       sync.Mutex
	entities map[string]map[string]record.Kind // schema FQN -> entity FQN -> kind
	lookups  int
	err      error
}

func newLedger(schemaFQN string, known ...string) *ledger {
	l := &ledger{entities: make(map[string]map[string]record.Kind)}
	for _, fqn := range known {
		l.put(schemaFQN, fqn, record.KindTable)
	}
	return l
}

func (l *ledger) put(schemaFQN, fqn string, kind record.Kind) {
	if l.entities[schemaFQN] == nil {
		l.entities[schemaFQN] = make(map[string]record.Kind)
	}
	l.entities[schemaFQN][fqn] = kind
}

func (l *ledger) apply(r record.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch r.Kind {
	case record.KindTable, record.KindView:
		l.put(r.SchemaFQN(), r.FQN, r.Kind)
	case record.KindDeletion:
		delete(l.entities[r.SchemaFQN()], r.FQN)
	}
}

func (l *ledger) PriorKnown(_ context.Context, schemaFQN string, kinds ...record.Kind) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lookups++
	if l.err != nil {
		return nil, l.err
	}
	var out []string
	for fqn, kind := range l.entities[schemaFQN] {
		for _, k := range kinds {
			if k == kind {
				out = append(out, fqn)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func ingestion() config.IngestionConfig {
	return config.IngestionConfig{IncludeTables: true, IncludeViews: true, MarkDeletedTables: true}
}

func newHarvester(t *testing.T, p provider.Provider, ing config.IngestionConfig, known PriorKnown, src config.SourceConfig) *Harvester {
	t.Helper()
	rc := NewRunContext("test-run", testutil.TestLogger(t))
	h, err := New(p, Options{
		Service:   record.ServiceRef{Name: "warehouse", Type: "trino"},
		Source:    src,
		Ingestion: ing,
	}, known, rc)
	require.NoError(t, err)
	return h
}

// drain pulls every record, applying them to l when it is non-nil.
func drain(t *testing.T, h *Harvester, l *ledger) ([]record.Record, error) {
	t.Helper()
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	s := h.Run(ctx)
	defer s.Close()

	var out []record.Record
	for s.Next() {
		r := s.Record()
		if l != nil {
			l.apply(r)
		}
		out = append(out, r)
	}
	return out, s.Err()
}

func fqnsOf(records []record.Record, kinds ...record.Kind) []string {
	var out []string
	for _, r := range records {
		for _, k := range kinds {
			if r.Kind == k {
				out = append(out, string(r.Kind)+":"+r.FQN)
			}
		}
	}
	return out
}

func TestHarvester_EndToEnd(t *testing.T) {
	p := testutil.NewFakeProvider().
		AddTable("main", "public", "orders", provider.Column{Name: "id", DataType: "bigint"}).
		AddTable("main", "public", "customers")
	l := newLedger("main.public", "main.public.orders", "main.public.customers", "main.public.legacy")
	ing := ingestion()
	ing.IncludeViews = false

	h := newHarvester(t, p, ing, l, config.SourceConfig{})
	records, err := drain(t, h, l)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"database:main",
		"schema:main.public",
		"table:main.public.orders",
		"table:main.public.customers",
		"deletion:main.public.legacy",
	}, fqnsOf(records, record.KindDatabase, record.KindSchema, record.KindTable, record.KindDeletion))

	status := h.Status()
	assert.Equal(t, int64(2), status.Processed)
	assert.Equal(t, int64(0), status.Filtered)
	assert.Equal(t, int64(0), status.Failed)
	assert.Equal(t, int64(1), status.Deleted)
	assert.Equal(t, PhaseDone, status.Phase)
	assert.Equal(t, 1, p.Closed())
}

func TestHarvester_Idempotent(t *testing.T) {
	p := testutil.NewFakeProvider().
		AddTable("main", "public", "orders").
		AddView("main", "public", "big_orders", "SELECT 1")
	l := newLedger("main.public", "main.public.legacy")

	first, err := drain(t, newHarvester(t, p, ingestion(), l, config.SourceConfig{}), l)
	require.NoError(t, err)
	assert.Len(t, fqnsOf(first, record.KindDeletion), 1)

	second, err := drain(t, newHarvester(t, p, ingestion(), l, config.SourceConfig{}), l)
	require.NoError(t, err)
	assert.Empty(t, fqnsOf(second, record.KindDeletion))
	assert.Equal(t, []string{"table:main.public.orders", "view:main.public.big_orders"},
		fqnsOf(second, record.KindTable, record.KindView))
}

func TestHarvester_SameHarvesterTwice(t *testing.T) {
	p := testutil.NewFakeProvider().AddTable("main", "public", "orders")
	l := newLedger("main.public")
	h := newHarvester(t, p, ingestion(), l, config.SourceConfig{})

	_, err := drain(t, h, l)
	require.NoError(t, err)
	p.RemoveTable("main", "public", "orders")

	records, err := drain(t, h, l)
	require.NoError(t, err)
	assert.Equal(t, []string{"deletion:main.public.orders"}, fqnsOf(records, record.KindDeletion))
	assert.Equal(t, int64(0), h.Status().Processed)
	assert.Equal(t, 2, p.Calls("Connect"))
}

func TestHarvester_PerItemIsolation(t *testing.T) {
	p := testutil.NewFakeProvider().
		AddTable("main", "public", "a").
		FailTable("main", "public", "broken").
		AddTable("main", "public", "c").
		AddTableItem("main", "public", testutil.FakeItem{Desc: &provider.Descriptor{
			Catalog: "main", Schema: "public", Name: "no_columns", Kind: provider.EntityTable,
			Columns: []provider.Column{{DataType: "int"}},
		}})
	l := newLedger("main.public", "main.public.broken", "main.public.no_columns")

	h := newHarvester(t, p, ingestion(), l, config.SourceConfig{})
	records, err := drain(t, h, l)
	require.NoError(t, err)

	assert.Equal(t, []string{"table:main.public.a", "table:main.public.c"}, fqnsOf(records, record.KindTable))
	// Unreadable entities still exist, so they are not marked deleted.
	assert.Empty(t, fqnsOf(records, record.KindDeletion))

	status := h.Status()
	assert.Equal(t, int64(2), status.Processed)
	assert.Equal(t, int64(2), status.Failed)
	require.Len(t, status.Failures, 2)
	assert.Equal(t, "main.public.broken", status.Failures[0].Name)
	assert.Equal(t, errors.ErrorTypeIntrospection, status.Failures[0].Type)
	assert.Equal(t, errors.ErrorTypeMalformedDescriptor, status.Failures[1].Type)
}

func TestHarvester_FilteredSchema(t *testing.T) {
	p := testutil.NewFakeProvider().
		AddTable("main", "tmp_scratch", "t1").
		AddTable("main", "public", "orders")
	ing := ingestion()
	ing.MarkDeletedTables = false
	ing.SchemaFilter = config.FilterPattern{Excludes: []string{"^tmp_"}}

	h := newHarvester(t, p, ing, nil, config.SourceConfig{})
	records, err := drain(t, h, nil)
	require.NoError(t, err)

	for _, r := range records {
		assert.NotContains(t, r.FQN, "tmp_scratch")
	}
	status := h.Status()
	assert.Equal(t, int64(1), status.Filtered)
	assert.Equal(t, []Filtered{{Name: "main.tmp_scratch", Reason: "Schema pattern not allowed"}}, status.Skipped)
	assert.Equal(t, int64(1), status.Processed)
}

func TestHarvester_FilteredTablesAreNotSeen(t *testing.T) {
	p := testutil.NewFakeProvider().
		AddTable("main", "public", "orders").
		AddTable("main", "public", "orders_bak")
	ing := ingestion()
	ing.TableFilter = config.FilterPattern{Excludes: []string{"orders_bak"}}
	l := newLedger("main.public", "main.public.orders_bak")

	h := newHarvester(t, p, ing, l, config.SourceConfig{})
	records, err := drain(t, h, l)
	require.NoError(t, err)

	assert.Equal(t, []string{"table:main.public.orders", "deletion:main.public.orders_bak"},
		fqnsOf(records, record.KindTable, record.KindDeletion))
	assert.Equal(t, "Table pattern not allowed", h.Status().Skipped[0].Reason)
}

func TestHarvester_TrackerResetPerSchema(t *testing.T) {
	p := testutil.NewFakeProvider().
		AddTable("main", "a", "shared").
		AddSchema("main", "b")
	l := newLedger("main.b", "main.b.shared")

	h := newHarvester(t, p, ingestion(), l, config.SourceConfig{})
	records, err := drain(t, h, l)
	require.NoError(t, err)

	assert.Equal(t, []string{"deletion:main.b.shared"}, fqnsOf(records, record.KindDeletion))
}

func TestHarvester_SingleSchema(t *testing.T) {
	p := testutil.NewFakeProvider().
		AddTable("main", "public", "orders").
		AddTable("main", "sales", "invoices")
	ing := ingestion()
	ing.MarkDeletedTables = false

	h := newHarvester(t, p, ing, nil, config.SourceConfig{Catalog: "main", Schema: "sales"})
	records, err := drain(t, h, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"table:main.sales.invoices"}, fqnsOf(records, record.KindTable))
	assert.Equal(t, 0, p.Calls("ListSchemas"))
	assert.Equal(t, 0, p.Calls("ListCatalogs"))
}

func TestHarvester_ViewsDisabledAreNotReconciled(t *testing.T) {
	p := testutil.NewFakeProvider().AddTable("main", "public", "orders")
	l := newLedger("main.public")
	l.put("main.public", "main.public.v_orders", record.KindView)
	ing := ingestion()
	ing.IncludeViews = false

	records, err := drain(t, newHarvester(t, p, ing, l, config.SourceConfig{}), l)
	require.NoError(t, err)
	assert.Empty(t, fqnsOf(records, record.KindDeletion))
	assert.Equal(t, 0, p.Calls("ListViews"))
}

func TestHarvester_NoKindsEnabledSkipsReconciliation(t *testing.T) {
	tests := []struct {
		name          string
		includeTables bool
		includeViews  bool
		wantLookups   int
	}{
		{name: "tables and views disabled", wantLookups: 0},
		{name: "views only", includeViews: true, wantLookups: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testutil.NewFakeProvider().AddTable("main", "public", "orders")
			known := sink.NewMemory().Seed("main.public", "main.public.orders", record.KindTable)
			l := &countingKnown{known: known}
			ctx := context.Background()
			ing := config.IngestionConfig{
				IncludeTables:     tt.includeTables,
				IncludeViews:      tt.includeViews,
				MarkDeletedTables: true,
			}

			records, err := drain(t, newHarvester(t, p, ing, l, config.SourceConfig{}), nil)
			require.NoError(t, err)
			assert.Empty(t, fqnsOf(records, record.KindDeletion))
			assert.Equal(t, tt.wantLookups, l.lookups)

			for _, r := range records {
				require.NoError(t, known.Accept(ctx, r))
			}
			left, err := known.PriorKnown(ctx, "main.public")
			require.NoError(t, err)
			assert.Equal(t, []string{"main.public.orders"}, left)
		})
	}
}

// countingKnown counts prior-known lookups.
type countingKnown struct {
	known   PriorKnown
	lookups int
}

func (c *countingKnown) PriorKnown(ctx context.Context, schemaFQN string, kinds ...record.Kind) ([]string, error) {
	c.lookups++
	return c.known.PriorKnown(ctx, schemaFQN, kinds...)
}

func TestHarvester_SourceUnavailableMidRun(t *testing.T) {
	p := testutil.NewFakeProvider().
		AddTable("main", "a", "orders").
		AddTable("main", "b", "customers")
	p.TablesErr["main.b"] = stderrors.New("connection reset by peer")
	l := newLedger("main.b", "main.b.gone")

	h := newHarvester(t, p, ingestion(), l, config.SourceConfig{})
	records, err := drain(t, h, l)

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSourceUnavailable))
	assert.Equal(t, []string{"table:main.a.orders"}, fqnsOf(records, record.KindTable))
	assert.Empty(t, fqnsOf(records, record.KindDeletion))
	assert.Equal(t, PhaseFailed, h.Status().Phase)
	assert.Equal(t, 1, p.Closed())
}

func TestHarvester_RecoverableListingSkipsReconciliation(t *testing.T) {
	p := testutil.NewFakeProvider().AddView("main", "public", "v1", "SELECT 1")
	p.TablesErr["main.public"] = errors.New(errors.ErrorTypeIntrospection, "information_schema.tables unreadable")
	l := newLedger("main.public", "main.public.orders")

	h := newHarvester(t, p, ingestion(), l, config.SourceConfig{})
	records, err := drain(t, h, l)
	require.NoError(t, err)

	assert.Equal(t, []string{"view:main.public.v1"}, fqnsOf(records, record.KindView))
	assert.Empty(t, fqnsOf(records, record.KindDeletion))
	assert.Equal(t, int64(1), h.Status().Failed)
}

func TestHarvester_ConnectFailure(t *testing.T) {
	p := testutil.NewFakeProvider()
	p.ConnectErr = stderrors.New("dial tcp: connection refused")

	h := newHarvester(t, p, ingestion(), newLedger("x"), config.SourceConfig{})
	records, err := drain(t, h, nil)

	assert.Empty(t, records)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSourceUnavailable))
	assert.Equal(t, 0, p.Closed())
}

func TestHarvester_PriorKnownFailure(t *testing.T) {
	p := testutil.NewFakeProvider().AddTable("main", "public", "orders")
	l := newLedger("main.public")
	l.err = stderrors.New("catalog unreachable")

	_, err := drain(t, newHarvester(t, p, ingestion(), l, config.SourceConfig{}), l)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSink))
}

func TestHarvester_CancelBetweenSchemas(t *testing.T) {
	p := testutil.NewFakeProvider().
		AddTable("main", "a", "t1").
		AddTable("main", "b", "t2")
	ing := ingestion()
	ing.MarkDeletedTables = false

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.OnListTables = func(schemaFQN string) {
		if schemaFQN == "main.a" {
			cancel()
		}
	}

	h := newHarvester(t, p, ing, nil, config.SourceConfig{})
	s := h.Run(ctx)
	for s.Next() {
	}
	err := s.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, p.Calls("ListTables"))
}

func TestHarvester_CloseEarly(t *testing.T) {
	p := testutil.NewFakeProvider().
		AddTable("main", "public", "a").
		AddTable("main", "public", "b")
	ing := ingestion()
	ing.MarkDeletedTables = false

	h := newHarvester(t, p, ing, nil, config.SourceConfig{})
	s := h.Run(context.Background())
	require.True(t, s.Next())
	require.NoError(t, s.Close())
	assert.False(t, s.Next())
	assert.NoError(t, s.Err())

	testutil.AssertEventually(t, func() bool { return p.Closed() == 1 }, time.Second, "provider closed")
}

func TestHarvester_RejectsConcurrentRun(t *testing.T) {
	p := testutil.NewFakeProvider().AddTable("main", "public", "a")
	ing := ingestion()
	ing.MarkDeletedTables = false
	h := newHarvester(t, p, ing, nil, config.SourceConfig{})

	first := h.Run(context.Background())
	defer first.Close()

	second := h.Run(context.Background())
	assert.False(t, second.Next())
	err := second.Err()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
}

func TestHarvester_Metrics(t *testing.T) {
	p := testutil.NewFakeProvider().
		AddTable("main", "public", "orders").
		AddTable("main", "tmp_x", "t")
	ing := ingestion()
	ing.MarkDeletedTables = false
	ing.SchemaFilter.Excludes = []string{"tmp_"}

	reg := prometheus.NewRegistry()
	rc := NewRunContext("m", testutil.TestLogger(t))
	rc.Metrics = metrics.NewCollector(reg)
	h, err := New(p, Options{Ingestion: ing}, nil, rc)
	require.NoError(t, err)

	_, err = drain(t, h, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, promtestutil.CollectAndCount(reg, "harvest_entities_total"))
	assert.Equal(t, 1, promtestutil.CollectAndCount(reg, "harvest_runs_total"))
}

func TestNew_Errors(t *testing.T) {
	_, err := New(nil, Options{}, nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	p := testutil.NewFakeProvider()
	_, err = New(p, Options{Ingestion: config.IngestionConfig{MarkDeletedTables: true}}, nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = New(p, Options{Ingestion: config.IngestionConfig{
		SchemaFilter: config.FilterPattern{Includes: []string{"("}},
	}}, nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "reconciling_deletions", PhaseReconcilingDeletions.String())
	assert.Equal(t, "unknown", Phase(42).String())
	assert.True(t, PhaseFailed.Terminal())
	assert.False(t, PhaseEmittingViews.Terminal())
}
