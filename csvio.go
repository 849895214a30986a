package aspectscore

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// Well-known course CSV columns.
const (
	ColumnRowID     = "row_id"
	ColumnText      = "text"
	ColumnEmbedding = "embedding"
)

// CourseTable is a course CSV held in memory. Columns other than the ones
// this package reads or writes are carried through untouched.
type CourseTable struct {
	Header  []string
	Records [][]string
}

// ReadCourseTable parses a course CSV. A text column is required; without a
// row_id column rows are identified by their 0-based index. Short rows are
// padded with empty cells and rows longer than the header are rejected.
func ReadCourseTable(r io.Reader) (*CourseTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	all, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("read csv: no header")
	}

	t := &CourseTable{Header: all[0], Records: all[1:]}
	t.Header[0] = strings.TrimPrefix(t.Header[0], "\ufeff")
	if t.column(ColumnText) < 0 {
		return nil, fmt.Errorf("read csv: missing %q column", ColumnText)
	}
	for i, rec := range t.Records {
		if len(rec) > len(t.Header) {
			return nil, fmt.Errorf("read csv: row %d has %d fields, header has %d", i+1, len(rec), len(t.Header))
		}
		if len(rec) < len(t.Header) {
			t.Records[i] = append(rec, make([]string, len(t.Header)-len(rec))...)
		}
	}
	return t, nil
}

// ReadCourseFile reads a course CSV from disk.
func ReadCourseFile(path string) (*CourseTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCourseTable(f)
}

func (t *CourseTable) column(name string) int {
	return slices.Index(t.Header, name)
}

// ensureColumn returns the index of name, appending an empty column if needed.
func (t *CourseTable) ensureColumn(name string) int {
	if i := t.column(name); i >= 0 {
		return i
	}
	t.Header = append(t.Header, name)
	for i := range t.Records {
		t.Records[i] = append(t.Records[i], "")
	}
	return len(t.Header) - 1
}

// RowID returns the course id of row i.
func (t *CourseTable) RowID(i int) string {
	if c := t.column(ColumnRowID); c >= 0 {
		return strings.TrimSpace(t.Records[i][c])
	}
	return strconv.Itoa(i)
}

// CourseRows converts the table into import rows. Embedding cells that are
// empty or not a JSON number array are treated as missing.
func (t *CourseTable) CourseRows() []CourseRow {
	textCol, embCol := t.column(ColumnText), t.column(ColumnEmbedding)
	rows := make([]CourseRow, len(t.Records))
	for i, rec := range t.Records {
		rows[i] = CourseRow{ID: t.RowID(i), Text: rec[textCol]}
		if embCol >= 0 {
			rows[i].Vector = ParseEmbedding(rec[embCol])
		}
	}
	return rows
}

// SetEmbeddings writes course vectors into the embedding column, matching
// rows by id. Courses without a vector leave their cell unchanged.
func (t *CourseTable) SetEmbeddings(courses []Course) error {
	col := t.ensureColumn(ColumnEmbedding)
	byID := make(map[string][]float32, len(courses))
	for _, c := range courses {
		if len(c.Vector) > 0 {
			byID[c.ID] = c.Vector
		}
	}
	for i := range t.Records {
		v, ok := byID[t.RowID(i)]
		if !ok {
			continue
		}
		cell, err := FormatEmbedding(v)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		t.Records[i][col] = cell
	}
	return nil
}

// ApplyScores adds or overwrites the score columns of every aspect in recs.
// Rows whose id has no record keep empty score cells.
func (t *CourseTable) ApplyScores(aspects []string, recs []ScoreRecord, p Params) {
	type key struct{ course, aspect string }
	byKey := make(map[key]ScoreRecord, len(recs))
	for _, r := range recs {
		byKey[key{r.CourseID, r.Aspect}] = r
	}

	for _, aspect := range aspects {
		names := ScoreColumns(aspect, p)
		cols := make([]int, len(names))
		for j, name := range names {
			cols[j] = t.ensureColumn(name)
		}
		for i := range t.Records {
			r, ok := byKey[key{t.RowID(i), aspect}]
			for j, v := range ColumnValues(r) {
				cell := ""
				if ok {
					cell = strconv.FormatFloat(v, 'g', -1, 64)
				}
				t.Records[i][cols[j]] = cell
			}
		}
	}
}

// Write encodes the table as CSV.
func (t *CourseTable) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Records); err != nil {
		return err
	}
	return cw.Error()
}

// WriteFile replaces path atomically with the table contents.
func (t *CourseTable) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".courses-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := t.Write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ParseEmbedding decodes a JSON number array cell, returning nil when the
// cell is empty or malformed.
func ParseEmbedding(cell string) []float32 {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return nil
	}
	var vals []float64
	if err := json.Unmarshal([]byte(cell), &vals); err != nil || len(vals) == 0 {
		return nil
	}
	vec := make([]float32, len(vals))
	for i, v := range vals {
		vec[i] = float32(v)
	}
	return vec
}

// FormatEmbedding encodes a vector as a compact JSON array.
func FormatEmbedding(v []float32) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
