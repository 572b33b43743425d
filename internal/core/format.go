package core

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format identifies a supported input format.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
	FormatWorkbook Format = "xlsx"
)

var formatsByExt = map[string]Format{
	".csv":  FormatCSV,
	".json": FormatJSON,
	".xlsx": FormatWorkbook,
	".xlsm": FormatWorkbook,
	".xls":  FormatWorkbook,
}

// RawInput is an uploaded file. The extension of Filename selects the parser.
type RawInput struct {
	Filename string
	Data     []byte
}

// DetectFormat maps a filename's extension to a Format.
// Unrecognized extensions fail with ErrUnsupportedFormat.
func DetectFormat(filename string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if f, ok := formatsByExt[ext]; ok {
		return f, nil
	}
	if ext == "" {
		return "", fmt.Errorf("%w: file %q has no extension (expected .csv, .json, .xlsx or .xls)", ErrUnsupportedFormat, filename)
	}
	return "", fmt.Errorf("%w %q (expected .csv, .json, .xlsx or .xls)", ErrUnsupportedFormat, ext)
}
