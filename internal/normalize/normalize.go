// Package normalize turns raw decoded tables into canonical ones: unique
// sanitized column names, null tokens collapsed to a single NULL sentinel,
// and an advisory type tag per column.
//
// Normalization never fails. Malformed cells stay as trimmed text, ragged
// rows are padded or truncated to the header width, and the type tags are
// metadata only: storage stays text regardless of what inference says.
package normalize

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/blacksamuraiiii/xiyan-web/internal/decode"
)

// ColType is an advisory per-column type tag. It informs query generation;
// it never changes how values are stored.
type ColType string

const (
	TypeText    ColType = "text"
	TypeNumeric ColType = "numeric"
	TypeDate    ColType = "date"
	TypeUnknown ColType = "unknown"
)

// CanonicalTable is a normalized table ready for materialization. Cells are
// either a trimmed string or nil for NULL.
type CanonicalTable struct {
	Name    string
	Columns []string
	Types   []ColType
	Rows    [][]any
	// SkippedRows carries the decoder's count of dropped source rows forward
	// so import summaries can report it.
	SkippedRows int
}

// DefaultNullTokens are the cell values treated as NULL after trimming.
var DefaultNullTokens = []string{"", "NULL", "null", "NA", "N/A", "#N/A", "nan", "NaN"}

// inference threshold: the fraction of non-null cells that must parse for a
// column to earn a numeric or date tag.
const typeThreshold = 0.9

// Options tunes normalization. The zero value uses the defaults.
type Options struct {
	// NullTokens overrides DefaultNullTokens when non-nil.
	NullTokens []string
}

// Table normalizes one raw table.
func Table(raw decode.RawTable, opts Options) CanonicalTable {
	nulls := tokenSet(opts.NullTokens)

	header, body := splitHeader(raw.Rows)
	columns := SanitizeColumns(header)

	rows := make([][]any, 0, len(body))
	for _, rec := range body {
		row := make([]any, len(columns))
		for i := range columns {
			if i >= len(rec) {
				continue
			}
			v := strings.TrimSpace(rec[i])
			if _, isNull := nulls[v]; isNull {
				continue
			}
			row[i] = v
		}
		rows = append(rows, row)
	}

	return CanonicalTable{
		Name:        raw.Name,
		Columns:     columns,
		Types:       inferTypes(len(columns), rows),
		Rows:        rows,
		SkippedRows: raw.SkippedRows,
	}
}

func tokenSet(tokens []string) map[string]struct{} {
	if tokens == nil {
		tokens = DefaultNullTokens
	}
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[strings.TrimSpace(t)] = struct{}{}
	}
	return set
}

// splitHeader decides whether the first row is a header. It is one when none
// of its non-empty cells parses as a number; otherwise column names are
// synthesized and every row is data.
func splitHeader(rows [][]string) ([]string, [][]string) {
	if len(rows) == 0 {
		return nil, nil
	}

	first := rows[0]
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}

	headerish := false
	for _, cell := range first {
		v := strings.TrimSpace(cell)
		if v == "" {
			continue
		}
		if _, err := strconv.ParseFloat(v, 64); err == nil {
			return synthHeader(width), rows
		}
		headerish = true
	}
	if !headerish {
		return synthHeader(width), rows
	}

	header := make([]string, width)
	for i := range header {
		if i < len(first) {
			header[i] = first[i]
		}
	}
	return header, rows[1:]
}

func synthHeader(width int) []string {
	header := make([]string, width)
	for i := range header {
		header[i] = "col" + strconv.Itoa(i+1)
	}
	return header
}

// SanitizeColumns maps raw header cells to unique canonical names: lowercase,
// every rune outside [a-z0-9_] replaced by '_', a 'col_N' fallback when the
// result is empty or starts with a digit, and a '_k' counter on duplicates.
func SanitizeColumns(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))

	for i, h := range header {
		name := sanitizeIdent(h)
		if name == "" || !validStart(name) {
			name = "col_" + strconv.Itoa(i+1)
		}

		base := name
		for n := seen[base]; ; n = seen[base] {
			if _, taken := seen[name]; !taken {
				break
			}
			seen[base] = n + 1
			name = base + "_" + strconv.Itoa(n+1)
		}
		if _, ok := seen[name]; !ok {
			seen[name] = 1
		}
		out[i] = name
	}
	return out
}

func sanitizeIdent(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func validStart(s string) bool {
	r := rune(s[0])
	return r == '_' || unicode.IsLower(r)
}

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
	"2006/01/02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// inferTypes tags each column with an advisory type. A tag other than text
// requires at least typeThreshold of the non-null cells to parse.
func inferTypes(width int, rows [][]any) []ColType {
	types := make([]ColType, width)

	for col := 0; col < width; col++ {
		var total, numeric, date int
		for _, row := range rows {
			v, ok := row[col].(string)
			if !ok {
				continue
			}
			total++
			if isNumeric(v) {
				numeric++
			}
			if isDate(v) {
				date++
			}
		}

		switch {
		case total == 0:
			types[col] = TypeUnknown
		case float64(numeric)/float64(total) >= typeThreshold:
			types[col] = TypeNumeric
		case float64(date)/float64(total) >= typeThreshold:
			types[col] = TypeDate
		default:
			types[col] = TypeText
		}
	}
	return types
}

func isNumeric(v string) bool {
	v = strings.ReplaceAll(v, ",", "")
	_, err := strconv.ParseFloat(v, 64)
	return err == nil
}

func isDate(v string) bool {
	for _, lay := range dateLayouts {
		if _, err := time.Parse(lay, v); err == nil {
			return true
		}
	}
	return false
}
