package core

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_RaggedFields(t *testing.T) {
	rs := NewRecordSet([]Record{
		rec("id", "1", "name", "a"),
		rec("name", "b", "email", "b@example.com"),
		rec("id", "3", "phone", "555"),
	})

	p := Normalize(rs, 0)

	assert.Equal(t, []string{"id", "name", "email", "phone"}, p.Fields)
	assert.Equal(t, 3, p.Total)
	assert.False(t, p.Truncated)
	assert.Nil(t, p.Cell(1, "id"), "missing fields render as nil")
	assert.Equal(t, "555", p.Cell(2, "phone"))
	assert.Nil(t, p.Cell(9, "id"))
}

func TestNormalize_TruncatesWithoutTouchingSource(t *testing.T) {
	records := make([]Record, 25)
	for i := range records {
		records[i] = rec("n", float64(i))
	}
	rs := NewRecordSet(records)

	p := Normalize(rs, 0)
	require.Len(t, p.Rows, DefaultPreviewRows)
	assert.True(t, p.Truncated)
	assert.Equal(t, 25, p.Total)

	p.Rows[0].Set("n", "changed")
	p.Rows[0].Set("extra", true)

	v, _ := rs.At(0).Get("n")
	assert.Equal(t, float64(0), v)
	assert.Equal(t, 1, rs.At(0).Len())
	assert.Equal(t, 25, rs.Len(), "submission set keeps every record")
}

func TestNormalize_Limit(t *testing.T) {
	rs := NewRecordSet([]Record{rec("a", "1"), rec("a", "2"), rec("a", "3")})

	p := Normalize(rs, 2)
	assert.Len(t, p.Rows, 2)
	assert.True(t, p.Truncated)

	p = Normalize(rs, 3)
	assert.Len(t, p.Rows, 3)
	assert.False(t, p.Truncated)
}

func TestNormalize_FailedSet(t *testing.T) {
	p := Normalize(FailedRecordSet(errors.New("boom")), 10)

	assert.Empty(t, p.Fields)
	assert.Empty(t, p.Rows)
	assert.Zero(t, p.Total)
}

func TestNormalizedPreview_Table(t *testing.T) {
	rs := NewRecordSet([]Record{
		rec("name", "Acme", "amount", 12.5, "active", true),
		rec("name", "Globex", "note", nil),
	})

	got := Normalize(rs, 0).Table()

	want := [][]string{
		{"Acme", "12.5", "true", ""},
		{"Globex", "", "", ""},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("table mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"x", "x"},
		{float64(3), "3"},
		{1e21, "1000000000000000000000"},
		{0.25, "0.25"},
		{false, "false"},
		{42, "42"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatValue(tt.in))
	}
}
