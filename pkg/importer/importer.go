// Package importer reads asset snapshots from .xlsx workbooks into raw records
// for reconciliation.
package importer

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/tealeg/xlsx/v3"
	"gopkg.in/yaml.v3"

	"asset-census-api/pkg/inventory"
	"asset-census-api/pkg/reconcile"
)

//go:embed default_mapping.yaml
var defaultMapping []byte

// Record fields a header can map to.
const (
	FieldKey         = "key"
	FieldDescription = "description"
	FieldBrand       = "brand"
	FieldModel       = "model"
	FieldSerial      = "serial"
	FieldOriginArea  = "origin_area"
)

var ErrNoKeyColumn = errors.New("no key column in header row")

// Options defines the configuration for a workbook read
type Options struct {
	MappingPath string // empty uses the embedded default mapping
	MaxErrors   int    // default 50
}

// RowError represents an error that occurred during row processing
type RowError struct {
	Sheet   string `json:"sheet"`
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// SheetSummary contains the read statistics for a single sheet
type SheetSummary struct {
	Name    string     `json:"name"`
	Area    string     `json:"area,omitempty"`
	Rows    int        `json:"rows"`
	Skipped int        `json:"skipped"`
	Errors  int        `json:"errors"`
	Samples []RowError `json:"error_samples,omitempty"`
}

// Summary contains the overall read statistics
type Summary struct {
	Rows    int            `json:"rows"`
	Skipped int            `json:"skipped"`
	Errors  int            `json:"errors"`
	Sheets  []SheetSummary `json:"sheets"`
}

// Mapping is the YAML column mapping.
type Mapping struct {
	Version int                    `yaml:"version"`
	Columns map[string][]string    `yaml:"columns"`
	Sheets  map[string]SheetConfig `yaml:"sheets"`

	headers map[string]string // normalized alias -> field
}

// SheetConfig overrides per sheet. Area is used for rows without an origin
// area column; when it is empty the sheet name is used.
type SheetConfig struct {
	Skip bool   `yaml:"skip"`
	Area string `yaml:"area"`
}

// LoadMapping reads a mapping file, or the embedded default when path is empty.
func LoadMapping(path string) (*Mapping, error) {
	data := defaultMapping
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read mapping %s: %w", path, err)
		}
		data = b
	}
	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse mapping: %w", err)
	}
	if len(m.Columns[FieldKey]) == 0 {
		return nil, fmt.Errorf("mapping has no aliases for %q", FieldKey)
	}
	if err := m.index(); err != nil {
		return nil, err
	}
	return &m, nil
}

// index builds the header lookup. An alias claimed by two fields is an error.
func (m *Mapping) index() error {
	fields := make([]string, 0, len(m.Columns))
	for field := range m.Columns {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	m.headers = make(map[string]string)
	for _, field := range fields {
		for _, alias := range append([]string{field}, m.Columns[field]...) {
			h := reconcile.Normalize(alias)
			if h == "" {
				continue
			}
			if prev, ok := m.headers[h]; ok && prev != field {
				return fmt.Errorf("mapping alias %q used by both %q and %q", alias, prev, field)
			}
			m.headers[h] = field
		}
	}
	return nil
}

// resolve maps a header cell to a record field, or "".
func (m *Mapping) resolve(header string) string {
	h := reconcile.Normalize(header)
	if h == "" {
		return ""
	}
	return m.headers[h]
}

// Read parses every mapped sheet of the workbook in r. Rows are returned as
// found; validation of keys and areas is left to reconciliation.
func Read(r io.Reader, opts Options) ([]inventory.RawRecord, Summary, error) {
	summary := Summary{Sheets: []SheetSummary{}}
	if opts.MaxErrors == 0 {
		opts.MaxErrors = 50
	}

	mapping, err := LoadMapping(opts.MappingPath)
	if err != nil {
		return nil, summary, fmt.Errorf("failed to load mapping config: %w", err)
	}

	// xlsx.OpenReaderAt needs io.ReaderAt, so read everything first.
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, summary, fmt.Errorf("failed to read Excel file: %w", err)
	}
	xlFile, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, summary, fmt.Errorf("failed to open Excel file: %w", err)
	}

	var records []inventory.RawRecord
	for _, sheet := range xlFile.Sheets {
		cfg := mapping.Sheets[sheet.Name]
		if cfg.Skip {
			continue
		}
		rows, sheetSummary := processSheet(sheet, mapping, cfg)
		records = append(records, rows...)
		summary.Sheets = append(summary.Sheets, sheetSummary)

		summary.Rows += sheetSummary.Rows
		summary.Skipped += sheetSummary.Skipped
		summary.Errors += sheetSummary.Errors

		if summary.Errors > opts.MaxErrors {
			return records, summary, fmt.Errorf("too many errors (%d), stopping import", summary.Errors)
		}
	}
	return records, summary, nil
}

func processSheet(sheet *xlsx.Sheet, mapping *Mapping, cfg SheetConfig) ([]inventory.RawRecord, SheetSummary) {
	summary := SheetSummary{Name: sheet.Name, Area: strings.TrimSpace(cfg.Area)}
	if summary.Area == "" {
		summary.Area = strings.TrimSpace(sheet.Name)
	}
	if sheet.MaxRow == 0 {
		return nil, summary
	}

	headerRow, err := sheet.Row(0)
	if err != nil {
		summary.Errors++
		summary.Samples = append(summary.Samples, RowError{
			Sheet:   sheet.Name,
			Row:     1,
			Message: "failed to read header row: " + err.Error(),
		})
		return nil, summary
	}

	columns := make(map[int]string)
	hasKey := false
	for col := 0; col < sheet.MaxCol; col++ {
		field := mapping.resolve(headerRow.GetCell(col).String())
		if field == "" {
			continue
		}
		columns[col] = field
		hasKey = hasKey || field == FieldKey
	}
	if !hasKey {
		summary.Errors++
		summary.Samples = append(summary.Samples, RowError{Sheet: sheet.Name, Row: 1, Message: ErrNoKeyColumn.Error()})
		return nil, summary
	}

	var out []inventory.RawRecord
	for rowIdx := 1; rowIdx < sheet.MaxRow; rowIdx++ {
		row, err := sheet.Row(rowIdx)
		if err != nil {
			summary.Errors++
			summary.Samples = append(summary.Samples, RowError{Sheet: sheet.Name, Row: rowIdx + 1, Message: err.Error()})
			continue
		}

		values := make(map[string]string, len(columns))
		for col, field := range columns {
			if v := strings.TrimSpace(row.GetCell(col).String()); v != "" {
				values[field] = v
			}
		}
		if len(values) == 0 {
			summary.Skipped++
			continue
		}

		rec := inventory.RawRecord{
			Key:         values[FieldKey],
			Description: values[FieldDescription],
			Brand:       values[FieldBrand],
			Model:       values[FieldModel],
			Serial:      values[FieldSerial],
			OriginArea:  values[FieldOriginArea],
			Sheet:       sheet.Name,
			Row:         rowIdx + 1,
		}
		if rec.OriginArea == "" {
			rec.OriginArea = summary.Area
		}
		out = append(out, rec)
		summary.Rows++
	}
	return out, summary
}
