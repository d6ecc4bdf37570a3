// Package analytics is the metrics engine behind the three dashboards.
// Uploaded CSV exports are read into a Table, remapped to canonical
// column names and reduced to KPIs in a single pass.
package analytics

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table is a parsed CSV with a header row. Cells are trimmed strings.
type Table struct {
	Header []string
	Rows   [][]string
	index  map[string]int
}

// ReadCSV decodes an uploaded export. UTF-8 (with or without BOM) and
// Latin-1 are accepted, the latter read as Windows-1252 so the euro sign
// survives. The delimiter is sniffed from the header line.
func ReadCSV(content []byte) (*Table, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, errors.New("file is empty")
	}

	if !utf8.Valid(content) {
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(content)
		if err != nil {
			return nil, errors.Wrap(err, "decode windows-1252")
		}
		content = decoded
	}

	r := csv.NewReader(bytes.NewReader(content))
	r.Comma = sniffDelimiter(content)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}

	t := &Table{Header: make([]string, len(header))}
	for i, h := range header {
		t.Header[i] = strings.TrimSpace(h)
	}

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read row %d", len(t.Rows)+2)
		}
		if blank(rec) {
			continue
		}
		row := make([]string, len(t.Header))
		for i := range row {
			if i < len(rec) {
				row[i] = strings.TrimSpace(rec[i])
			}
		}
		t.Rows = append(t.Rows, row)
	}

	t.reindex()
	return t, nil
}

func sniffDelimiter(content []byte) rune {
	line := content
	if i := bytes.IndexByte(content, '\n'); i >= 0 {
		line = content[:i]
	}
	best, bestCount := ',', bytes.Count(line, []byte{','})
	for _, d := range []rune{';', '\t'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Header))
	for i, h := range t.Header {
		if _, dup := t.index[h]; !dup {
			t.index[h] = i
		}
	}
}

// Has reports whether a column exists.
func (t *Table) Has(col string) bool {
	_, ok := t.index[col]
	return ok
}

// Value returns the cell of row i in col, or "" when the column is absent.
func (t *Table) Value(i int, col string) string {
	j, ok := t.index[col]
	if !ok {
		return ""
	}
	return t.Rows[i][j]
}

// Len is the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

// Missing lists the required columns not present.
func (t *Table) Missing(required ...string) []string {
	var out []string
	for _, c := range required {
		if !t.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Remap renames columns through a synonym table and returns a new Table.
// For each canonical name, a column already carrying that name wins;
// otherwise the first alias present, in alias order, is renamed. A
// canonical table is returned unchanged in content, so Remap is idempotent.
func (t *Table) Remap(synonyms []Synonym) (*Table, map[string]string) {
	header := append([]string(nil), t.Header...)
	present := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := present[h]; !dup {
			present[h] = i
		}
	}

	renamed := make(map[string]string)
	for _, s := range synonyms {
		if _, ok := present[s.Canonical]; ok {
			continue
		}
		for _, alias := range s.Aliases {
			i, ok := present[alias]
			if !ok {
				continue
			}
			header[i] = s.Canonical
			delete(present, alias)
			present[s.Canonical] = i
			renamed[alias] = s.Canonical
			break
		}
	}

	out := &Table{Header: header, Rows: t.Rows}
	out.reindex()
	return out, renamed
}
