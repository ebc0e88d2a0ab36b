package normalize

import (
	"testing"

	"github.com/blacksamuraiiii/xiyan-web/internal/decode"
)

func TestSanitizeColumns(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		header []string
		want   []string
	}{
		{
			"keeps valid names",
			[]string{"name", "age_years"},
			[]string{"name", "age_years"},
		},
		{
			"lowercases and replaces punctuation",
			[]string{"Full Name", "Price ($)"},
			[]string{"full_name", "price____"},
		},
		{
			"digit start falls back to position",
			[]string{"2024 sales", "ok"},
			[]string{"col_1", "ok"},
		},
		{
			"empty falls back to position",
			[]string{"", "  ", "x"},
			[]string{"col_1", "col_2", "x"},
		},
		{
			"duplicates get counters",
			[]string{"id", "id", "id"},
			[]string{"id", "id_2", "id_3"},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := SanitizeColumns(tc.header)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("column %d = %q, want %q (all: %v)", i, got[i], tc.want[i], got)
				}
			}
		})
	}
}

func TestTable_NullTokensBecomeNil(t *testing.T) {
	t.Parallel()

	raw := decode.RawTable{
		Name: "t",
		Rows: [][]string{
			{"a", "b"},
			{"NULL", "1"},
			{"N/A", "2"},
			{"nan", "3"},
			{"#N/A", "4"},
			{"  ", "5"},
			{"keep", "NaN"},
		},
	}

	ct := Table(raw, Options{})
	for i, row := range ct.Rows[:5] {
		if row[0] != nil {
			t.Fatalf("row %d col a = %v, want nil", i, row[0])
		}
	}
	if ct.Rows[5][0] != "keep" {
		t.Fatalf("row 5 col a = %v, want keep", ct.Rows[5][0])
	}
	if ct.Rows[5][1] != nil {
		t.Fatalf("row 5 col b = %v, want nil", ct.Rows[5][1])
	}
}

func TestTable_HeaderDetection(t *testing.T) {
	t.Parallel()

	t.Run("label row becomes header", func(t *testing.T) {
		t.Parallel()
		ct := Table(decode.RawTable{Rows: [][]string{
			{"name", "age"},
			{"alice", "30"},
		}}, Options{})
		if ct.Columns[0] != "name" || ct.Columns[1] != "age" {
			t.Fatalf("columns = %v", ct.Columns)
		}
		if len(ct.Rows) != 1 {
			t.Fatalf("len(Rows) = %d, want 1", len(ct.Rows))
		}
	})

	t.Run("numeric first row is data", func(t *testing.T) {
		t.Parallel()
		ct := Table(decode.RawTable{Rows: [][]string{
			{"1", "alice"},
			{"2", "bob"},
		}}, Options{})
		if ct.Columns[0] != "col1" || ct.Columns[1] != "col2" {
			t.Fatalf("columns = %v", ct.Columns)
		}
		if len(ct.Rows) != 2 {
			t.Fatalf("len(Rows) = %d, want 2", len(ct.Rows))
		}
	})

	t.Run("ragged rows pad to header width", func(t *testing.T) {
		t.Parallel()
		ct := Table(decode.RawTable{Rows: [][]string{
			{"a", "b", "c"},
			{"1"},
		}}, Options{})
		if len(ct.Rows[0]) != 3 {
			t.Fatalf("row width = %d, want 3", len(ct.Rows[0]))
		}
		if ct.Rows[0][1] != nil || ct.Rows[0][2] != nil {
			t.Fatalf("missing cells should be nil: %v", ct.Rows[0])
		}
	})
}

func TestTable_AdvisoryTypes(t *testing.T) {
	t.Parallel()

	raw := decode.RawTable{Rows: [][]string{
		{"amount", "when", "label", "void"},
		{"1.5", "2024-01-02", "abc", "NULL"},
		{"2", "2024-02-03", "1", ""},
		{"3,000", "03.04.2024", "xyz", "N/A"},
		{"NULL", "2024-05-06", "q", "NA"},
	}}

	ct := Table(raw, Options{})
	want := []ColType{TypeNumeric, TypeDate, TypeText, TypeUnknown}
	for i, w := range want {
		if ct.Types[i] != w {
			t.Fatalf("type[%d] (%s) = %q, want %q", i, ct.Columns[i], ct.Types[i], w)
		}
	}
}

func TestTable_NeverDropsMalformedCells(t *testing.T) {
	t.Parallel()

	raw := decode.RawTable{Rows: [][]string{
		{"v"},
		{"not a number \x01 at all"},
	}}
	ct := Table(raw, Options{})
	if len(ct.Rows) != 1 {
		t.Fatalf("len(Rows) = %d, want 1", len(ct.Rows))
	}
	if ct.Rows[0][0] == nil {
		t.Fatal("malformed cell must be kept as text")
	}
}
