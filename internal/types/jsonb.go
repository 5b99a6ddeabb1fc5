package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

var (
	_ sql.Scanner   = (*Metadata)(nil)
	_ driver.Valuer = Metadata(nil)
)

// Metadata is the opaque provider key-value payload kept on subscriptions and
// invoices for audit. It is stored as JSONB.
type Metadata map[string]string

// Get returns the first non-empty value among keys.
func (m Metadata) Get(keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}

// Merge returns a new Metadata holding m overlaid with other. Values in other
// win; empty values in other are ignored.
func (m Metadata) Merge(other Metadata) Metadata {
	out := make(Metadata, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, m)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// FlattenMetadata decodes a provider JSON object into Metadata. String values
// are kept as-is, null is dropped, and any other value is kept as its JSON
// encoding. A missing or non-object payload yields an empty map.
func FlattenMetadata(raw json.RawMessage) Metadata {
	out := Metadata{}
	if len(raw) == 0 {
		return out
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return out
	}
	for k, v := range fields {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		if string(v) == "null" {
			continue
		}
		out[k] = string(v)
	}
	return out
}
