package record

import (
	"strconv"
	"strings"
)

// lengthTypes take a single length argument rather than a precision.
var lengthTypes = map[string]bool{
	"CHAR":              true,
	"CHARACTER":         true,
	"VARCHAR":           true,
	"CHARACTER VARYING": true,
	"NCHAR":             true,
	"NVARCHAR":          true,
	"BPCHAR":            true,
	"BINARY":            true,
	"VARBINARY":         true,
	"STRING":            true,
	"BYTES":             true,
}

var typeAliases = map[string]string{
	"ROW":               "STRUCT",
	"RECORD":            "STRUCT",
	"CHARACTER VARYING": "VARCHAR",
	"INT4":              "INT",
	"INTEGER":           "INT",
	"INT8":              "BIGINT",
	"INT64":             "BIGINT",
	"FLOAT8":            "DOUBLE",
	"FLOAT64":           "DOUBLE",
	"DOUBLE PRECISION":  "DOUBLE",
	"BOOL":              "BOOLEAN",
	"NUMERIC":           "DECIMAL",
}

// DataType is a parsed source type.
type DataType struct {
	Base      string
	Display   string
	ArrayOf   string
	Length    int
	Precision int
	Scale     int
}

// ParseDataType normalizes a source type string such as "varchar(255)",
// "decimal(10,2)", "array(varchar)" or "timestamp(3) with time zone".
func ParseDataType(raw string) DataType {
	display := strings.TrimSpace(raw)
	dt := DataType{Display: display}
	if display == "" {
		dt.Base = "UNKNOWN"
		return dt
	}

	// Postgres style arrays: integer[]
	if strings.HasSuffix(display, "[]") {
		dt.Base = "ARRAY"
		dt.ArrayOf = ParseDataType(strings.TrimSuffix(display, "[]")).Base
		return dt
	}

	open := strings.IndexAny(display, "(<")
	if open == -1 {
		dt.Base = normalizeBase(display)
		return dt
	}

	closer := matchingClose(display, open)
	head := display[:open]
	args := display[open+1 : closer]
	tail := ""
	if closer < len(display) {
		tail = display[closer+1:]
	}
	dt.Base = normalizeBase(head + " " + tail)

	switch dt.Base {
	case "ARRAY":
		dt.ArrayOf = ParseDataType(args).Base
		return dt
	case "MAP", "STRUCT":
		return dt
	}

	params := strings.Split(args, ",")
	first, err := strconv.Atoi(strings.TrimSpace(params[0]))
	if err != nil {
		// varchar(max) and friends
		return dt
	}
	if lengthTypes[dt.Base] && len(params) == 1 {
		dt.Length = first
		return dt
	}
	dt.Precision = first
	if len(params) > 1 {
		if scale, err := strconv.Atoi(strings.TrimSpace(params[1])); err == nil {
			dt.Scale = scale
		}
	}
	return dt
}

func normalizeBase(s string) string {
	base := strings.ToUpper(strings.Join(strings.Fields(s), " "))
	if alias, ok := typeAliases[base]; ok {
		return alias
	}
	return base
}

// matchingClose returns the index of the bracket closing the one at open,
// or len(s) when the type string is unbalanced.
func matchingClose(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(', '<':
			depth++
		case ')', '>':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return len(s)
}
