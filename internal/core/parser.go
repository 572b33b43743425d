package core

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// oleMagic opens every legacy binary (.xls) workbook.
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// Parse detects the format from in.Filename and parses in.Data.
// It never panics; failures are reported through the RecordSet.
func Parse(in RawInput) RecordSet {
	format, err := DetectFormat(in.Filename)
	if err != nil {
		return FailedRecordSet(&ParseError{Filename: in.Filename, Err: err})
	}
	return parseFormat(format, in.Filename, in.Data)
}

// ParseFormat parses data as the given format.
func ParseFormat(format Format, data []byte) RecordSet {
	return parseFormat(format, "", data)
}

func parseFormat(format Format, filename string, data []byte) RecordSet {
	fail := func(line int, err error) RecordSet {
		return FailedRecordSet(&ParseError{Format: format, Filename: filename, Line: line, Err: err})
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return fail(0, ErrEmptyInput)
	}

	var (
		records []Record
		line    int
		err     error
	)
	switch format {
	case FormatCSV:
		records, line, err = parseCSV(data)
	case FormatJSON:
		records, line, err = parseJSON(data)
	case FormatWorkbook:
		records, line, err = parseWorkbook(data)
	default:
		return FailedRecordSet(&ParseError{Filename: filename, Err: fmt.Errorf("%w %q", ErrUnsupportedFormat, format)})
	}
	if err != nil {
		return fail(line, err)
	}
	return NewRecordSet(records)
}

// parseCSV reads a header row followed by data rows. Quoting is strict and
// every data row must match the header width.
func parseCSV(data []byte) ([]Record, int, error) {
	r := csv.NewReader(newTextReader(bytes.NewReader(data)))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, 0, ErrEmptyInput
	}
	if err != nil {
		return nil, csvErrorLine(err), csvErrorCause(err)
	}
	if blankRow(header) {
		return nil, 1, errors.New("header row is blank")
	}
	names := headerNames(header)

	var records []Record
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, csvErrorLine(err), csvErrorCause(err)
		}
		if blankRow(row) {
			continue
		}
		if len(row) != len(names) {
			line, _ := r.FieldPos(0)
			return nil, line, fmt.Errorf("row has %d fields, header has %d", len(row), len(names))
		}

		var rec Record
		for i, v := range row {
			rec.Set(names[i], v)
		}
		records = append(records, rec)
	}
	return records, 0, nil
}

func csvErrorLine(err error) int {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return pe.Line
	}
	return 0
}

func csvErrorCause(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return fmt.Errorf("column %d: %w", pe.Column, pe.Err)
	}
	return err
}

// parseJSON accepts a single object or an array of objects.
func parseJSON(data []byte) ([]Record, int, error) {
	text, err := io.ReadAll(newTextReader(bytes.NewReader(data)))
	if err != nil {
		return nil, 0, err
	}
	text = bytes.TrimSpace(text)
	if len(text) == 0 {
		return nil, 0, ErrEmptyInput
	}

	// Syntax is checked over the whole document first so error offsets are
	// absolute and trailing data is rejected.
	var raw json.RawMessage
	if err := json.Unmarshal(text, &raw); err != nil {
		return nil, jsonErrorLine(text, err), err
	}

	dec := json.NewDecoder(bytes.NewReader(text))
	var records []Record

	switch text[0] {
	case '{':
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, jsonErrorLine(text, err), err
		}
		records = append(records, rec)

	case '[':
		if _, err := dec.Token(); err != nil {
			return nil, jsonErrorLine(text, err), err
		}
		for i := 0; dec.More(); i++ {
			var rec Record
			if err := dec.Decode(&rec); err != nil {
				return nil, jsonErrorLine(text, err), fmt.Errorf("element %d: %w", i, err)
			}
			records = append(records, rec)
		}
		if _, err := dec.Token(); err != nil {
			return nil, jsonErrorLine(text, err), err
		}

	default:
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, jsonErrorLine(text, err), err
		}
		return nil, 0, fmt.Errorf("expected an object or an array of objects, got %s", jsonKind(v))
	}
	return records, 0, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case string:
		return "a string"
	case float64:
		return "a number"
	case bool:
		return "a boolean"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func jsonErrorLine(text []byte, err error) int {
	var se *json.SyntaxError
	if errors.As(err, &se) {
		return lineAt(text, se.Offset)
	}
	var te *json.UnmarshalTypeError
	if errors.As(err, &te) {
		return lineAt(text, te.Offset)
	}
	return 0
}

func lineAt(text []byte, offset int64) int {
	if offset > int64(len(text)) {
		offset = int64(len(text))
	}
	return bytes.Count(text[:offset], []byte{'\n'}) + 1
}

// parseWorkbook reads the first sheet. Row 1 is the header; cells are typed
// from the stored cell type and empty cells become nil.
func parseWorkbook(data []byte) (records []Record, line int, err error) {
	if bytes.HasPrefix(data, oleMagic) {
		return parseLegacyWorkbook(data)
	}

	defer func() {
		if r := recover(); r != nil {
			records, line, err = nil, 0, fmt.Errorf("unreadable workbook: %v", r)
		}
	}()

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("unreadable workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, 0, ErrEmptyInput
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, 0, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 || blankRow(rows[0]) {
		return nil, 1, ErrEmptyInput
	}
	names := headerNames(rows[0])

	for i, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		rowNum := i + 2

		var rec Record
		width := max(len(names), len(row))
		for c := 0; c < width; c++ {
			name := "column_" + strconv.Itoa(c+1)
			if c < len(names) {
				name = names[c]
			}
			if c >= len(row) || row[c] == "" {
				rec.Set(name, nil)
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, rowNum)
			if err != nil {
				return nil, rowNum, err
			}
			typ, err := f.GetCellType(sheet, cell)
			if err != nil {
				return nil, rowNum, fmt.Errorf("cell %s: %w", cell, err)
			}
			rec.Set(name, workbookValue(row[c], typ))
		}
		records = append(records, rec)
	}
	return records, 0, nil
}

// parseLegacyWorkbook reads the first sheet of a binary .xls workbook with
// the same header rule as parseWorkbook. The reader only exposes formatted
// text, so values stay strings; empty cells become nil.
func parseLegacyWorkbook(data []byte) (records []Record, line int, err error) {
	defer func() {
		if r := recover(); r != nil {
			records, line, err = nil, 0, fmt.Errorf("unreadable workbook: %v", r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, 0, fmt.Errorf("unreadable workbook: %w", err)
	}
	if wb.NumSheets() == 0 {
		return nil, 0, ErrEmptyInput
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, 0, ErrEmptyInput
	}

	var rows [][]string
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, row.LastCol())
		for c := row.FirstCol(); c < row.LastCol(); c++ {
			cells[c] = strings.TrimSpace(row.Col(c))
		}
		rows = append(rows, cells)
	}

	if len(rows) == 0 || blankRow(rows[0]) {
		return nil, 1, ErrEmptyInput
	}
	names := headerNames(rows[0])

	for _, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		var rec Record
		width := max(len(names), len(row))
		for c := 0; c < width; c++ {
			name := "column_" + strconv.Itoa(c+1)
			if c < len(names) {
				name = names[c]
			}
			if c >= len(row) || row[c] == "" {
				rec.Set(name, nil)
				continue
			}
			rec.Set(name, row[c])
		}
		records = append(records, rec)
	}
	return records, 0, nil
}

func workbookValue(raw string, typ excelize.CellType) any {
	switch typ {
	case excelize.CellTypeBool:
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	case excelize.CellTypeNumber, excelize.CellTypeUnset, excelize.CellTypeDate:
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return n
		}
	}
	return raw
}

// headerNames trims header cells, names blank cells column_N and suffixes
// duplicates with _2, _3 and so on.
func headerNames(header []string) []string {
	names := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			name = name + "_" + strconv.Itoa(n)
		}
		names[i] = name
	}
	return names
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
