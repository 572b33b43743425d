package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
)

// Field is one name/value pair of a Record.
type Field struct {
	Name  string
	Value any
}

// Record is one row of ingested data: an ordered mapping from field name to
// a scalar (string, float64, bool) or nil. The zero value is an empty record.
//
// JSON encoding keeps field order, and decoding keeps the source key order.
// Copies of a Record share storage; Clone before calling Set on a copy.
type Record struct {
	names  []string
	values map[string]any
}

// NewRecord builds a record from fields in order. A repeated name keeps its
// first position and takes the last value.
func NewRecord(fields ...Field) Record {
	var r Record
	for _, f := range fields {
		r.Set(f.Name, f.Value)
	}
	return r
}

// Set assigns a value, appending the name if it is new.
func (r *Record) Set(name string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[name]; !ok {
		r.names = append(r.names, name)
	}
	r.values[name] = value
}

// Get returns the value for name and whether the record has that field.
func (r Record) Get(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Names returns the field names in order.
func (r Record) Names() []string {
	return slices.Clone(r.names)
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.names) }

// Map returns an unordered copy of the record.
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.names))
	for _, n := range r.names {
		m[n] = r.values[n]
	}
	return m
}

// Clone returns a deep copy; scalar values need no further copying.
func (r Record) Clone() Record {
	c := Record{names: slices.Clone(r.names)}
	if r.values != nil {
		c.values = make(map[string]any, len(r.values))
		for k, v := range r.values {
			c.values[k] = v
		}
	}
	return c
}

// Equal reports whether both records have the same fields, in the same
// order, with equal values.
func (r Record) Equal(o Record) bool {
	if !slices.Equal(r.names, o.names) {
		return false
	}
	for _, n := range r.names {
		if !reflect.DeepEqual(r.values[n], o.values[n]) {
			return false
		}
	}
	return true
}

func (r Record) String() string {
	b, err := r.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Record(%v)", r.Map())
	}
	return string(b)
}

// MarshalJSON encodes the record as an object with fields in order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range r.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(n)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.values[n])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", n, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping key order. Nested objects and
// arrays are stored as their compact JSON text.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record must be a JSON object, got %s", describeToken(tok))
	}

	*r = Record{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected object key %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		val, err := scalarFromJSON(raw)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		r.Set(key, val)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// scalarFromJSON converts a raw JSON value into a record scalar.
func scalarFromJSON(raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && (raw[0] == '{' || raw[0] == '[') {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil, err
		}
		return buf.String(), nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func describeToken(tok json.Token) string {
	switch v := tok.(type) {
	case json.Delim:
		if v == '[' {
			return "array"
		}
		return string(v)
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", tok)
	}
}

// RecordSet is the outcome of parsing or importing: either records or an
// error, never both.
type RecordSet struct {
	records []Record
	err     error
}

// NewRecordSet wraps successfully parsed records.
func NewRecordSet(records []Record) RecordSet {
	return RecordSet{records: records}
}

// FailedRecordSet wraps a parse or import failure. It holds no records.
func FailedRecordSet(err error) RecordSet {
	if err == nil {
		err = fmt.Errorf("unknown parse failure")
	}
	return RecordSet{err: err}
}

// Err returns the failure, if any.
func (rs RecordSet) Err() error { return rs.err }

// Len returns the number of records.
func (rs RecordSet) Len() int { return len(rs.records) }

// Records returns the records. The slice is a copy; the records are shared
// and must be treated as read-only.
func (rs RecordSet) Records() []Record {
	return slices.Clone(rs.records)
}

// At returns record i.
func (rs RecordSet) At(i int) Record { return rs.records[i] }
