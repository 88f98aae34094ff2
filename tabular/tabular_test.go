package tabular

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/wizenheimer/linkknn"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path     string
		explicit Format
		want     Format
		wantErr  bool
	}{
		{"data.csv", "", CSV, false},
		{"data.TSV", "", TSV, false},
		{"vectors.parquet", "", Parquet, false},
		{"data.txt", "tsv", TSV, false},
		{"data.txt", "", "", true},
		{"data.csv", "xlsx", "", true},
	}
	for _, tt := range tests {
		got, err := DetectFormat(tt.path, tt.explicit)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownFormat) {
				t.Errorf("DetectFormat(%q, %q) error = %v, want ErrUnknownFormat", tt.path, tt.explicit, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("DetectFormat(%q, %q) = %q, %v; want %q", tt.path, tt.explicit, got, err, tt.want)
		}
	}
}

func TestLoadRowsCSV(t *testing.T) {
	path := writeFile(t, "rows.csv", "link,context,target\n"+
		"apple,bake an apple,apple pie\n"+
		"banana,\"split, it\",banana split\n"+
		"tart,a small tart,apple tart\n")

	opts := DefaultRowOptions()
	opts.Header = true
	rows, err := LoadRows(path, opts)
	if err != nil {
		t.Fatalf("LoadRows() error = %v", err)
	}
	want := []linkknn.Row{
		{Link: "apple", Context: "bake an apple", Target: "apple pie"},
		{Link: "banana", Context: "split, it", Target: "banana split"},
		{Link: "tart", Context: "a small tart", Target: "apple tart"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %+v, want %+v", rows, want)
	}
}

func TestLoadRowsColumnsAndLimit(t *testing.T) {
	path := writeFile(t, "rows.tsv", "x\tpie text\tapple\tctx\n"+
		"y\tsplit text\tbanana\tctx2\n")

	rows, err := LoadRows(path, RowOptions{LinkColumn: 2, ContextColumn: 3, TargetColumn: 1, Limit: 1})
	if err != nil {
		t.Fatalf("LoadRows() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	if rows[0] != (linkknn.Row{Link: "apple", Context: "ctx", Target: "pie text"}) {
		t.Errorf("rows[0] = %+v", rows[0])
	}
}

func TestLoadRowsShortRecord(t *testing.T) {
	path := writeFile(t, "rows.csv", "apple,ctx\n")
	if _, err := LoadRows(path, DefaultRowOptions()); err == nil {
		t.Error("expected error for a record without a target column")
	}
}

func TestRowsParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.parquet")
	rows := []linkknn.Row{
		{Link: "apple", Context: "c0", Target: "apple pie"},
		{Link: "banana", Context: "", Target: "banana split"},
	}
	if err := SaveRows(path, "", rows); err != nil {
		t.Fatalf("SaveRows() error = %v", err)
	}
	got, err := LoadRows(path, RowOptions{})
	if err != nil {
		t.Fatalf("LoadRows() error = %v", err)
	}
	if !reflect.DeepEqual(got, rows) {
		t.Errorf("got %+v, want %+v", got, rows)
	}
}

func TestLoadMatrixIndexColumn(t *testing.T) {
	// pandas DataFrame.to_csv layout: header of column names, row labels first.
	path := writeFile(t, "eq.csv", ",0,1\n0,1.5,-2\n1,0,0.25\n")

	m, err := LoadMatrix(path, MatrixOptions{IndexColumn: true, Header: true})
	if err != nil {
		t.Fatalf("LoadMatrix() error = %v", err)
	}
	want := linkknn.Matrix{{1.5, -2}, {0, 0.25}}
	if !reflect.DeepEqual(m, want) {
		t.Errorf("matrix = %v, want %v", m, want)
	}
}

func TestLoadMatrixErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantIs  error
	}{
		{"not a number", "1,abc\n", nil},
		{"ragged", "1,2\n3\n", linkknn.ErrDimensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "m.csv", tt.content)
			_, err := LoadMatrix(path, MatrixOptions{})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("error = %v, want %v", err, tt.wantIs)
			}
		})
	}
}

func TestMatrixRoundTrip(t *testing.T) {
	m := linkknn.Matrix{{0.1, 0.2, 0.3}, {-1, 2.5, 1e-3}}
	tests := []struct {
		name string
		file string
		opts MatrixOptions
	}{
		{"csv", "m.csv", MatrixOptions{}},
		{"csv with index and header", "m.csv", MatrixOptions{IndexColumn: true, Header: true}},
		{"tsv", "m.tsv", MatrixOptions{}},
		{"parquet", "m.parquet", MatrixOptions{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := SaveMatrix(path, m, tt.opts); err != nil {
				t.Fatalf("SaveMatrix() error = %v", err)
			}
			got, err := LoadMatrix(path, tt.opts)
			if err != nil {
				t.Fatalf("LoadMatrix() error = %v", err)
			}
			if !reflect.DeepEqual(got, m) {
				t.Errorf("got %v, want %v", got, m)
			}
		})
	}
}

func TestResultsRoundTrip(t *testing.T) {
	results := []linkknn.GridResult{
		{Model: "identity", K: 1, T: 10, Accuracy: 0.5, MRR: 0.625, Queries: 8},
		{Model: "pca(2)", K: 5, T: 10, Accuracy: 0.875, MRR: 0.7, Queries: 8},
	}
	for _, file := range []string{"results.csv", "results.parquet"} {
		t.Run(file, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), file)
			if err := WriteResults(path, "", results); err != nil {
				t.Fatalf("WriteResults() error = %v", err)
			}
			got, err := ReadResults(path, "")
			if err != nil {
				t.Fatalf("ReadResults() error = %v", err)
			}
			if !reflect.DeepEqual(got, results) {
				t.Errorf("got %+v, want %+v", got, results)
			}
		})
	}
}

func TestWriteResultsHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	if err := WriteResults(path, "", []linkknn.GridResult{{Model: "raw_tf", K: 1, T: 1, Accuracy: 1, MRR: 1, Queries: 3}}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "model,k,t,accuracy,mrr,queries\nraw_tf,1,1,1.000000,1.000000,3\n"
	if string(data) != want {
		t.Errorf("file = %q, want %q", data, want)
	}
}
