package record

import (
	"time"

	"github.com/ajitpratap0/harvester/pkg/errors"
	"github.com/ajitpratap0/harvester/pkg/provider"
)

// Emitter turns descriptors into records for one owning service.
type Emitter struct {
	service ServiceRef
	now     func() time.Time
}

// NewEmitter creates an emitter stamping records with service.
func NewEmitter(service ServiceRef) *Emitter {
	return &Emitter{service: service, now: time.Now}
}

// Database builds the record of a catalog.
func (e *Emitter) Database(catalog string) Record {
	return Record{
		Kind:      KindDatabase,
		FQN:       FQN(catalog),
		Service:   e.service,
		EmittedAt: e.now().UTC(),
		Database:  &Database{Name: catalog},
	}
}

// Schema builds the record of a schema.
func (e *Emitter) Schema(catalog, schema string) Record {
	return Record{
		Kind:      KindSchema,
		FQN:       FQN(catalog, schema),
		Service:   e.service,
		EmittedAt: e.now().UTC(),
		Schema:    &Schema{Name: schema, DatabaseFQN: FQN(catalog)},
	}
}

// Deletion builds the marker for an entity absent from the source.
func (e *Emitter) Deletion(schemaFQN, entityFQN string) Record {
	return Record{
		Kind:      KindDeletion,
		FQN:       entityFQN,
		Service:   e.service,
		EmittedAt: e.now().UTC(),
		Deletion:  &Deletion{SchemaFQN: schemaFQN},
	}
}

// ToRecord converts a table or view descriptor. The only failure is a
// MalformedDescriptor error when a required field is missing.
func (e *Emitter) ToRecord(desc *provider.Descriptor) (Record, error) {
	if desc == nil {
		return Record{}, errors.New(errors.ErrorTypeMalformedDescriptor, "descriptor is nil")
	}
	if desc.Catalog == "" || desc.Schema == "" || desc.Name == "" {
		return Record{}, errors.New(errors.ErrorTypeMalformedDescriptor, "descriptor is missing catalog, schema or name").
			WithDetail("catalog", desc.Catalog).
			WithDetail("schema", desc.Schema).
			WithDetail("name", desc.Name)
	}

	kind, tableType := KindTable, TableTypeRegular
	switch desc.Kind {
	case provider.EntityTable, "":
	case provider.EntityView:
		kind, tableType = KindView, TableTypeView
	default:
		return Record{}, errors.Newf(errors.ErrorTypeMalformedDescriptor, "unknown entity kind %q", desc.Kind).
			WithDetail("name", desc.Name)
	}

	fqn := FQN(desc.Catalog, desc.Schema, desc.Name)
	columns := make([]Column, 0, len(desc.Columns))
	for i, c := range desc.Columns {
		if c.Name == "" {
			return Record{}, errors.Newf(errors.ErrorTypeMalformedDescriptor, "column %d has no name", i+1).
				WithDetail("fqn", fqn)
		}
		dt := ParseDataType(c.DataType)
		ordinal := c.Ordinal
		if ordinal == 0 {
			ordinal = i + 1
		}
		columns = append(columns, Column{
			Name:            c.Name,
			DataType:        dt.Base,
			DataTypeDisplay: dt.Display,
			ArrayDataType:   dt.ArrayOf,
			DataLength:      dt.Length,
			Precision:       dt.Precision,
			Scale:           dt.Scale,
			OrdinalPosition: ordinal,
			Nullable:        c.Nullable,
			Description:     c.Comment,
		})
	}

	return Record{
		Kind:      kind,
		FQN:       fqn,
		Service:   e.service,
		EmittedAt: e.now().UTC(),
		Table: &Table{
			Name:           desc.Name,
			SchemaFQN:      FQN(desc.Catalog, desc.Schema),
			TableType:      tableType,
			Description:    desc.Comment,
			Columns:        columns,
			ViewDefinition: desc.Definition,
			Properties:     desc.Properties,
		},
	}, nil
}

// ToRecord converts desc into a record owned by service.
func ToRecord(desc *provider.Descriptor, service ServiceRef) (Record, error) {
	return NewEmitter(service).ToRecord(desc)
}
