package core

import (
	"fmt"
	"strconv"
)

// DefaultPreviewRows is the number of rows shown when no limit is given.
const DefaultPreviewRows = 10

// NormalizedPreview is a display view over a RecordSet. Rows are copies;
// the source set stays intact for submission.
type NormalizedPreview struct {
	Fields    []string `json:"fields"`
	Rows      []Record `json:"rows"`
	Total     int      `json:"total"`
	Truncated bool     `json:"truncated"`
}

// Normalize builds a preview of at most limit rows. A non-positive limit
// means DefaultPreviewRows. A failed set yields an empty preview.
func Normalize(rs RecordSet, limit int) NormalizedPreview {
	if limit <= 0 {
		limit = DefaultPreviewRows
	}
	if rs.Err() != nil {
		return NormalizedPreview{Fields: []string{}, Rows: []Record{}}
	}

	n := min(limit, rs.Len())
	rows := make([]Record, n)
	for i := range n {
		rows[i] = rs.At(i).Clone()
	}

	return NormalizedPreview{
		Fields:    FieldUnion(rs.records),
		Rows:      rows,
		Total:     rs.Len(),
		Truncated: rs.Len() > n,
	}
}

// FieldUnion returns every field name across records: the first record's
// fields in order, then fields from later records on first sight.
func FieldUnion(records []Record) []string {
	fields := []string{}
	seen := make(map[string]struct{})
	for _, r := range records {
		for _, name := range r.names {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			fields = append(fields, name)
		}
	}
	return fields
}

// Cell returns the value of field in preview row i, or nil when the row
// lacks the field.
func (p NormalizedPreview) Cell(i int, field string) any {
	if i < 0 || i >= len(p.Rows) {
		return nil
	}
	v, _ := p.Rows[i].Get(field)
	return v
}

// Table renders the preview rows as strings aligned to Fields.
func (p NormalizedPreview) Table() [][]string {
	out := make([][]string, len(p.Rows))
	for i := range p.Rows {
		row := make([]string, len(p.Fields))
		for j, f := range p.Fields {
			row[j] = FormatValue(p.Cell(i, f))
		}
		out[i] = row
	}
	return out
}

// FormatValue renders a record scalar for display. nil renders empty.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
