package sink

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/harvester/pkg/errors"
	"github.com/ajitpratap0/harvester/pkg/harvest/record"
)

var emitter = record.NewEmitter(record.ServiceRef{Name: "warehouse", Type: "trino"})

func tableRecord(catalog, schema, name string, kind record.Kind) record.Record {
	tt := record.TableTypeRegular
	if kind == record.KindView {
		tt = record.TableTypeView
	}
	return record.Record{
		Kind: kind,
		FQN:  record.FQN(catalog, schema, name),
		Table: &record.Table{
			Name:      name,
			SchemaFQN: record.FQN(catalog, schema),
			TableType: tt,
		},
	}
}

func TestLedger_Apply(t *testing.T) {
	l := NewLedger()
	l.Apply(emitter.Database("main"))
	l.Apply(emitter.Schema("main", "public"))
	l.Apply(tableRecord("main", "public", "orders", record.KindTable))
	l.Apply(tableRecord("main", "public", "v_orders", record.KindView))
	l.Apply(tableRecord("main", "public", "legacy", record.KindTable))
	assert.Equal(t, 3, l.Len())

	l.Apply(emitter.Deletion("main.public", "main.public.legacy"))

	tests := []struct {
		name  string
		kinds []record.Kind
		want  []string
	}{
		{"all kinds", nil, []string{"main.public.orders", "main.public.v_orders"}},
		{"tables", []record.Kind{record.KindTable}, []string{"main.public.orders"}},
		{"views", []record.Kind{record.KindView}, []string{"main.public.v_orders"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, l.Known("main.public", tt.kinds...))
		})
	}
	assert.Empty(t, l.Known("main.other"))
	assert.NotNil(t, l.Known("main.other"))
}

func TestLedger_SnapshotRestore(t *testing.T) {
	l := NewLedger()
	l.Put("main.a", "main.a.t2", record.KindTable)
	l.Put("main.a", "main.a.t1", record.KindView)
	l.Put("main.b", "main.b.t", record.KindTable)

	snap := l.Snapshot()
	assert.Equal(t, []Entry{{FQN: "main.a.t1", Kind: record.KindView}, {FQN: "main.a.t2", Kind: record.KindTable}}, snap["main.a"])

	restored := NewLedger()
	restored.Put("stale.x", "stale.x.y", record.KindTable)
	restored.Restore(snap)
	assert.Equal(t, 3, restored.Len())
	assert.Equal(t, []string{"main.b.t"}, restored.Known("main.b"))
	assert.Empty(t, restored.Known("stale.x"))
}

func TestMemory_AcceptAndPriorKnown(t *testing.T) {
	ctx := context.Background()
	m := NewMemory().Seed("main.public", "main.public.legacy", record.KindTable)

	require.NoError(t, m.Accept(ctx, tableRecord("main", "public", "orders", record.KindTable)))
	prior, err := m.PriorKnown(ctx, "main.public", record.KindTable)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.public.legacy", "main.public.orders"}, prior)

	require.NoError(t, m.Accept(ctx, emitter.Deletion("main.public", "main.public.legacy")))
	prior, err = m.PriorKnown(ctx, "main.public", record.KindTable)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.public.orders"}, prior)
	assert.Len(t, m.Records(), 2)

	require.NoError(t, m.Close(ctx))
	err = m.Accept(ctx, tableRecord("main", "public", "x", record.KindTable))
	assert.True(t, errors.IsType(err, errors.ErrorTypeSink))

	m.Reset()
	assert.Empty(t, m.Records())
	require.NoError(t, m.Accept(ctx, tableRecord("main", "public", "x", record.KindTable)))
}

type fakePublisher struct {
	published []string
	err       error
	closed    bool
}

func (p *fakePublisher) Publish(_ context.Context, r record.Record) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, r.FQN)
	return nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func TestTee(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemory()
	pub := &fakePublisher{}
	s := Tee(ledger, pub)

	require.NoError(t, s.Accept(ctx, tableRecord("main", "public", "orders", record.KindTable)))
	assert.Equal(t, []string{"main.public.orders"}, pub.published)

	prior, err := s.PriorKnown(ctx, "main.public")
	require.NoError(t, err)
	assert.Equal(t, []string{"main.public.orders"}, prior)

	pub.err = stderrors.New("broker down")
	err = s.Accept(ctx, tableRecord("main", "public", "customers", record.KindTable))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSink))

	require.NoError(t, s.Close(ctx))
	assert.True(t, pub.closed)
	assert.Nil(t, s.(Outputs).Outputs())
}

func TestTee_NoPublishers(t *testing.T) {
	m := NewMemory()
	assert.Same(t, m, Tee(m))
}
