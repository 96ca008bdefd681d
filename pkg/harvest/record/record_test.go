package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/harvester/pkg/errors"
	"github.com/ajitpratap0/harvester/pkg/provider"
)

var svc = ServiceRef{Name: "warehouse", Type: "trino"}

func fixedEmitter() *Emitter {
	e := NewEmitter(svc)
	e.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func TestFQN(t *testing.T) {
	tests := []struct {
		name     string
		segments []string
		want     string
	}{
		{"plain", []string{"main", "public", "orders"}, "main.public.orders"},
		{"dotted segment", []string{"main", "sales.eu", "orders"}, `main."sales.eu".orders`},
		{"quote in segment", []string{"main", `we"ird.x`}, `main."we""ird.x"`},
		{"single", []string{"main"}, "main"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FQN(tt.segments...)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.segments, Split(got))
		})
	}
}

func TestLast(t *testing.T) {
	assert.Equal(t, "orders", Last("main.public.orders"))
	assert.Equal(t, "sales.eu", Last(`main."sales.eu"`))
	assert.Equal(t, "main", Last("main"))
}

func TestParseDataType(t *testing.T) {
	tests := []struct {
		raw  string
		want DataType
	}{
		{"varchar(255)", DataType{Base: "VARCHAR", Display: "varchar(255)", Length: 255}},
		{"decimal(10,2)", DataType{Base: "DECIMAL", Display: "decimal(10,2)", Precision: 10, Scale: 2}},
		{"numeric(12, 4)", DataType{Base: "DECIMAL", Display: "numeric(12, 4)", Precision: 12, Scale: 4}},
		{"bigint", DataType{Base: "BIGINT", Display: "bigint"}},
		{"integer", DataType{Base: "INT", Display: "integer"}},
		{"array(varchar)", DataType{Base: "ARRAY", Display: "array(varchar)", ArrayOf: "VARCHAR"}},
		{"array<string>", DataType{Base: "ARRAY", Display: "array<string>", ArrayOf: "STRING"}},
		{"integer[]", DataType{Base: "ARRAY", Display: "integer[]", ArrayOf: "INT"}},
		{"map(varchar, bigint)", DataType{Base: "MAP", Display: "map(varchar, bigint)"}},
		{"row(a int, b varchar(3))", DataType{Base: "STRUCT", Display: "row(a int, b varchar(3))"}},
		{"timestamp(3) with time zone", DataType{Base: "TIMESTAMP WITH TIME ZONE", Display: "timestamp(3) with time zone", Precision: 3}},
		{"character varying(40)", DataType{Base: "VARCHAR", Display: "character varying(40)", Length: 40}},
		{"nvarchar(max)", DataType{Base: "NVARCHAR", Display: "nvarchar(max)"}},
		{"varchar(", DataType{Base: "VARCHAR", Display: "varchar("}},
		{"", DataType{Base: "UNKNOWN"}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDataType(tt.raw))
		})
	}
}

func TestEmitter_ToRecord_Table(t *testing.T) {
	desc := &provider.Descriptor{
		Catalog: "main",
		Schema:  "public",
		Name:    "orders",
		Kind:    provider.EntityTable,
		Comment: "all orders",
		Columns: []provider.Column{
			{Name: "id", DataType: "bigint", Ordinal: 1},
			{Name: "amount", DataType: "decimal(10,2)", Nullable: true},
		},
	}

	rec, err := fixedEmitter().ToRecord(desc)
	require.NoError(t, err)

	assert.Equal(t, KindTable, rec.Kind)
	assert.Equal(t, "main.public.orders", rec.FQN)
	assert.Equal(t, svc, rec.Service)
	assert.Equal(t, "main.public", rec.SchemaFQN())
	require.NotNil(t, rec.Table)
	assert.Equal(t, TableTypeRegular, rec.Table.TableType)
	assert.Equal(t, "all orders", rec.Table.Description)
	require.Len(t, rec.Table.Columns, 2)
	assert.Equal(t, 2, rec.Table.Columns[1].OrdinalPosition)
	assert.Equal(t, 10, rec.Table.Columns[1].Precision)
	assert.True(t, rec.Table.Columns[1].Nullable)
}

func TestEmitter_ToRecord_View(t *testing.T) {
	rec, err := ToRecord(&provider.Descriptor{
		Catalog:    "main",
		Schema:     "public",
		Name:       "big_orders",
		Kind:       provider.EntityView,
		Definition: "SELECT * FROM orders WHERE amount > 100",
	}, svc)
	require.NoError(t, err)

	assert.Equal(t, KindView, rec.Kind)
	assert.Equal(t, TableTypeView, rec.Table.TableType)
	assert.Equal(t, "SELECT * FROM orders WHERE amount > 100", rec.Table.ViewDefinition)
	assert.NotNil(t, rec.Table.Columns)
}

func TestEmitter_ToRecord_Malformed(t *testing.T) {
	tests := []struct {
		name string
		desc *provider.Descriptor
	}{
		{"nil", nil},
		{"no name", &provider.Descriptor{Catalog: "main", Schema: "public"}},
		{"no schema", &provider.Descriptor{Catalog: "main", Name: "orders"}},
		{"unknown kind", &provider.Descriptor{Catalog: "main", Schema: "public", Name: "x", Kind: "index"}},
		{"unnamed column", &provider.Descriptor{
			Catalog: "main", Schema: "public", Name: "orders",
			Columns: []provider.Column{{DataType: "int"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fixedEmitter().ToRecord(tt.desc)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeMalformedDescriptor))
			assert.True(t, errors.IsRecoverable(err))
		})
	}
}

func TestEmitter_NamespaceRecords(t *testing.T) {
	e := fixedEmitter()

	db := e.Database("main")
	assert.Equal(t, KindDatabase, db.Kind)
	assert.Equal(t, "main", db.FQN)
	assert.Equal(t, "", db.SchemaFQN())

	schema := e.Schema("main", "sales.eu")
	assert.Equal(t, `main."sales.eu"`, schema.FQN)
	assert.Equal(t, "main", schema.Schema.DatabaseFQN)

	del := e.Deletion("main.public", "main.public.legacy")
	assert.Equal(t, KindDeletion, del.Kind)
	assert.Equal(t, "main.public.legacy", del.FQN)
	assert.Equal(t, "main.public", del.SchemaFQN())
}

func TestCodec(t *testing.T) {
	rec, err := fixedEmitter().ToRecord(&provider.Descriptor{
		Catalog: "main", Schema: "public", Name: "orders",
		Columns: []provider.Column{{Name: "id", DataType: "bigint"}},
	})
	require.NoError(t, err)

	data, err := Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"fqn":"main.public.orders"`)
	assert.NotContains(t, string(data), `"deletion"`)

	var decoded Record
	require.NoError(t, Unmarshal(data, &decoded))
	assert.Equal(t, rec, decoded)
}
