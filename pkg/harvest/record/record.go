// Package record defines the normalized ingestion records a harvest run emits
// and the pure transformation from introspected descriptors into them.
package record

import (
	"strings"
	"time"
)

// Kind is the kind of an ingestion record.
type Kind string

const (
	KindDatabase Kind = "database"
	KindSchema   Kind = "schema"
	KindTable    Kind = "table"
	KindView     Kind = "view"
	KindDeletion Kind = "deletion"
)

// ServiceRef identifies the catalog service owning a record.
type ServiceRef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Record is one normalized output unit. Exactly one payload is set, matching
// Kind. Records are immutable once emitted.
type Record struct {
	Kind      Kind       `json:"kind"`
	FQN       string     `json:"fqn"`
	Service   ServiceRef `json:"service"`
	EmittedAt time.Time  `json:"emitted_at"`

	Database *Database `json:"database,omitempty"`
	Schema   *Schema   `json:"schema,omitempty"`
	Table    *Table    `json:"table,omitempty"`
	Deletion *Deletion `json:"deletion,omitempty"`
}

// Database is the payload of a catalog record.
type Database struct {
	Name string `json:"name"`
}

// Schema is the payload of a schema record.
type Schema struct {
	Name        string `json:"name"`
	DatabaseFQN string `json:"database_fqn"`
}

// TableType is Regular for base tables and View for views.
type TableType string

const (
	TableTypeRegular TableType = "Regular"
	TableTypeView    TableType = "View"
)

// Table is the payload of table and view records.
type Table struct {
	Name           string            `json:"name"`
	SchemaFQN      string            `json:"schema_fqn"`
	TableType      TableType         `json:"table_type"`
	Description    string            `json:"description,omitempty"`
	Columns        []Column          `json:"columns"`
	ViewDefinition string            `json:"view_definition,omitempty"`
	Properties     map[string]string `json:"properties,omitempty"`
}

// Column is a normalized column.
type Column struct {
	Name            string `json:"name"`
	DataType        string `json:"data_type"`
	DataTypeDisplay string `json:"data_type_display"`
	ArrayDataType   string `json:"array_data_type,omitempty"`
	DataLength      int    `json:"data_length,omitempty"`
	Precision       int    `json:"precision,omitempty"`
	Scale           int    `json:"scale,omitempty"`
	OrdinalPosition int    `json:"ordinal_position"`
	Nullable        bool   `json:"nullable"`
	Description     string `json:"description,omitempty"`
}

// Deletion marks an entity that is no longer present in the source.
type Deletion struct {
	SchemaFQN string `json:"schema_fqn"`
}

// SchemaFQN returns the fully-qualified name of the schema a record belongs
// to, or "" for database records.
func (r Record) SchemaFQN() string {
	switch {
	case r.Schema != nil:
		return r.FQN
	case r.Table != nil:
		return r.Table.SchemaFQN
	case r.Deletion != nil:
		return r.Deletion.SchemaFQN
	default:
		return ""
	}
}

// FQN joins name segments with '.', double-quoting any segment that
// contains a '.' or a '"'.
func FQN(segments ...string) string {
	var b strings.Builder
	for i, s := range segments {
		if i > 0 {
			b.WriteByte('.')
		}
		if strings.ContainsAny(s, `."`) {
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(s, `"`, `""`))
			b.WriteByte('"')
			continue
		}
		b.WriteString(s)
	}
	return b.String()
}

// Split is the inverse of FQN.
func Split(fqn string) []string {
	var (
		segments []string
		cur      strings.Builder
		quoted   bool
	)
	for i := 0; i < len(fqn); i++ {
		c := fqn[i]
		switch {
		case c == '"' && quoted && i+1 < len(fqn) && fqn[i+1] == '"':
			cur.WriteByte('"')
			i++
		case c == '"':
			quoted = !quoted
		case c == '.' && !quoted:
			segments = append(segments, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(segments, cur.String())
}

// Last returns the unqualified name of fqn.
func Last(fqn string) string {
	segments := Split(fqn)
	return segments[len(segments)-1]
}
