package record

import (
	"github.com/goccy/go-json"
)

// Marshal encodes a record as a single JSON document.
func Marshal(r Record) ([]byte, error) {
	return json.Marshal(r)
}

// Unmarshal decodes a record produced by Marshal.
func Unmarshal(data []byte, r *Record) error {
	return json.Unmarshal(data, r)
}
