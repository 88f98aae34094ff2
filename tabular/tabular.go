// Package tabular reads link datasets and embedding matrices from flat files
// and writes evaluation results back out. CSV, TSV and Parquet are supported.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/wizenheimer/linkknn"
)

// ErrUnknownFormat is returned for a file format that cannot be detected or
// is not supported.
var ErrUnknownFormat = errors.New("unknown tabular format")

// Format is a flat-file encoding.
type Format string

const (
	CSV     Format = "csv"
	TSV     Format = "tsv"
	Parquet Format = "parquet"
)

// DetectFormat returns explicit when set, otherwise the format implied by
// the file extension.
func DetectFormat(path string, explicit Format) (Format, error) {
	if explicit != "" {
		switch f := Format(strings.ToLower(string(explicit))); f {
		case CSV, TSV, Parquet:
			return f, nil
		default:
			return "", fmt.Errorf("%w: %s", ErrUnknownFormat, explicit)
		}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return CSV, nil
	case ".tsv", ".tab":
		return TSV, nil
	case ".parquet", ".pq":
		return Parquet, nil
	default:
		return "", fmt.Errorf("%w: cannot infer from %q", ErrUnknownFormat, path)
	}
}

// RowOptions describes where the link, context and target columns of a
// dataset live. Column indexes are zero based and ignored for Parquet, whose
// columns are matched by name.
type RowOptions struct {
	Format        Format
	LinkColumn    int
	ContextColumn int
	TargetColumn  int
	Header        bool // skip the first record
	Limit         int  // keep at most Limit rows, 0 = all
}

// DefaultRowOptions reads columns 0, 1 and 2 without a header.
func DefaultRowOptions() RowOptions {
	return RowOptions{LinkColumn: 0, ContextColumn: 1, TargetColumn: 2}
}

// rowRecord is the Parquet layout of a dataset row.
type rowRecord struct {
	Link    string `parquet:"link"`
	Context string `parquet:"context,optional"`
	Target  string `parquet:"target"`
}

// LoadRows reads a link dataset.
func LoadRows(path string, opts RowOptions) ([]linkknn.Row, error) {
	format, err := DetectFormat(path, opts.Format)
	if err != nil {
		return nil, err
	}

	var rows []linkknn.Row
	switch format {
	case Parquet:
		records, err := parquet.ReadFile[rowRecord](path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		rows = make([]linkknn.Row, len(records))
		for i, r := range records {
			rows[i] = linkknn.Row{Link: r.Link, Context: r.Context, Target: r.Target}
		}
	default:
		records, err := readDelimited(path, format, opts.Header)
		if err != nil {
			return nil, err
		}
		width := max(opts.LinkColumn, opts.ContextColumn, opts.TargetColumn) + 1
		rows = make([]linkknn.Row, 0, len(records))
		for i, rec := range records {
			if len(rec) < width {
				return nil, fmt.Errorf("%s record %d: %d fields, need %d", path, i, len(rec), width)
			}
			rows = append(rows, linkknn.Row{
				Link:    rec[opts.LinkColumn],
				Context: rec[opts.ContextColumn],
				Target:  rec[opts.TargetColumn],
			})
		}
	}

	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	return rows, nil
}

// SaveRows writes a link dataset with a link,context,target header (CSV/TSV)
// or named columns (Parquet).
func SaveRows(path string, format Format, rows []linkknn.Row) error {
	format, err := DetectFormat(path, format)
	if err != nil {
		return err
	}
	if format == Parquet {
		records := make([]rowRecord, len(rows))
		for i, r := range rows {
			records[i] = rowRecord{Link: r.Link, Context: r.Context, Target: r.Target}
		}
		return parquet.WriteFile(path, records)
	}
	records := make([][]string, 0, len(rows)+1)
	records = append(records, []string{"link", "context", "target"})
	for _, r := range rows {
		records = append(records, []string{r.Link, r.Context, r.Target})
	}
	return writeDelimited(path, format, records)
}

// MatrixOptions describes an embedding matrix file.
type MatrixOptions struct {
	Format Format

	// IndexColumn marks a leading row-label column (as written by a pandas
	// DataFrame export). It is dropped on read and written on save.
	IndexColumn bool

	// Header skips the first record on read and writes one on save.
	Header bool
}

// vectorRecord is the Parquet layout of one embedding row.
type vectorRecord struct {
	Position int64     `parquet:"position"`
	Vector   []float32 `parquet:"vector"`
}

// LoadMatrix reads an embedding matrix, one row per entity. Parquet rows are
// ordered by their position column.
func LoadMatrix(path string, opts MatrixOptions) (linkknn.Matrix, error) {
	format, err := DetectFormat(path, opts.Format)
	if err != nil {
		return nil, err
	}

	var m linkknn.Matrix
	switch format {
	case Parquet:
		records, err := parquet.ReadFile[vectorRecord](path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Position < records[j].Position
		})
		m = make(linkknn.Matrix, len(records))
		for i, r := range records {
			m[i] = r.Vector
		}
	default:
		records, err := readDelimited(path, format, opts.Header)
		if err != nil {
			return nil, err
		}
		m = make(linkknn.Matrix, len(records))
		for i, rec := range records {
			if opts.IndexColumn {
				if len(rec) == 0 {
					return nil, fmt.Errorf("%s record %d: missing index column", path, i)
				}
				rec = rec[1:]
			}
			row := make([]float32, len(rec))
			for j, field := range rec {
				v, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
				if err != nil {
					return nil, fmt.Errorf("%s record %d field %d: %w", path, i, j, err)
				}
				row[j] = float32(v)
			}
			m[i] = row
		}
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// SaveMatrix writes an embedding matrix.
func SaveMatrix(path string, m linkknn.Matrix, opts MatrixOptions) error {
	format, err := DetectFormat(path, opts.Format)
	if err != nil {
		return err
	}
	if format == Parquet {
		records := make([]vectorRecord, len(m))
		for i, row := range m {
			records[i] = vectorRecord{Position: int64(i), Vector: row}
		}
		return parquet.WriteFile(path, records)
	}

	records := make([][]string, 0, len(m)+1)
	if opts.Header {
		header := make([]string, 0, m.Dim()+1)
		if opts.IndexColumn {
			header = append(header, "")
		}
		for j := 0; j < m.Dim(); j++ {
			header = append(header, strconv.Itoa(j))
		}
		records = append(records, header)
	}
	for i, row := range m {
		rec := make([]string, 0, len(row)+1)
		if opts.IndexColumn {
			rec = append(rec, strconv.Itoa(i))
		}
		for _, v := range row {
			rec = append(rec, strconv.FormatFloat(float64(v), 'g', -1, 32))
		}
		records = append(records, rec)
	}
	return writeDelimited(path, format, records)
}

// WriteResults writes a grid as a model,k,t,accuracy,mrr,queries table.
func WriteResults(path string, format Format, results []linkknn.GridResult) error {
	format, err := DetectFormat(path, format)
	if err != nil {
		return err
	}
	if format == Parquet {
		return parquet.WriteFile(path, results)
	}
	records := make([][]string, 0, len(results)+1)
	records = append(records, []string{"model", "k", "t", "accuracy", "mrr", "queries"})
	for _, r := range results {
		records = append(records, []string{
			r.Model,
			strconv.Itoa(r.K),
			strconv.Itoa(r.T),
			strconv.FormatFloat(r.Accuracy, 'f', 6, 64),
			strconv.FormatFloat(r.MRR, 'f', 6, 64),
			strconv.Itoa(r.Queries),
		})
	}
	return writeDelimited(path, format, records)
}

// ReadResults reads a table written by WriteResults.
func ReadResults(path string, format Format) ([]linkknn.GridResult, error) {
	format, err := DetectFormat(path, format)
	if err != nil {
		return nil, err
	}
	if format == Parquet {
		return parquet.ReadFile[linkknn.GridResult](path)
	}
	records, err := readDelimited(path, format, true)
	if err != nil {
		return nil, err
	}
	out := make([]linkknn.GridResult, len(records))
	for i, rec := range records {
		if len(rec) != 6 {
			return nil, fmt.Errorf("%s record %d: %d fields, want 6", path, i, len(rec))
		}
		r := linkknn.GridResult{Model: rec[0]}
		if r.K, err = strconv.Atoi(rec[1]); err != nil {
			return nil, fmt.Errorf("%s record %d: k: %w", path, i, err)
		}
		if r.T, err = strconv.Atoi(rec[2]); err != nil {
			return nil, fmt.Errorf("%s record %d: t: %w", path, i, err)
		}
		if r.Accuracy, err = strconv.ParseFloat(rec[3], 64); err != nil {
			return nil, fmt.Errorf("%s record %d: accuracy: %w", path, i, err)
		}
		if r.MRR, err = strconv.ParseFloat(rec[4], 64); err != nil {
			return nil, fmt.Errorf("%s record %d: mrr: %w", path, i, err)
		}
		if r.Queries, err = strconv.Atoi(rec[5]); err != nil {
			return nil, fmt.Errorf("%s record %d: queries: %w", path, i, err)
		}
		out[i] = r
	}
	return out, nil
}

func delimiter(format Format) rune {
	if format == TSV {
		return '\t'
	}
	return ','
}

func readDelimited(path string, format Format, header bool) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = delimiter(format)
	r.FieldsPerRecord = -1
	if format == TSV {
		r.LazyQuotes = true
	}

	var records [][]string
	first := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if first && header {
			first = false
			continue
		}
		first = false
		records = append(records, rec)
	}
	return records, nil
}

func writeDelimited(path string, format Format, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	w.Comma = delimiter(format)
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
