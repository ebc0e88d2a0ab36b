package decode

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/blacksamuraiiii/xiyan-web/internal/capability"
	"github.com/blacksamuraiiii/xiyan-web/internal/errs"
)

func TestDetectKind_SniffOverridesExtension(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		filename string
		data     string
		want     Kind
	}{
		{"plain csv", "a.csv", "a,b\n1,2\n", KindDelimited},
		{"xls that is html", "report.xls", "<html><table></table></html>", KindHTML},
		{"csv that is a workbook", "data.csv", "PK\x03\x04rest", KindSpreadsheet},
		{"real xlsx", "data.xlsx", "PK\x03\x04rest", KindSpreadsheet},
		{"pdf by magic", "scan.dat", "%PDF-1.7 ...", KindPDF},
		{"pdf by extension", "scan.pdf", "whatever", KindPDF},
		{"image", "photo.jpg", "\xff\xd8\xff", KindImage},
		{"html with leading space", "page.txt", "  \n<table>", KindHTML},
		{"html behind a bom", "page.txt", "\uFEFF<table>", KindHTML},
		{"unknown extension", "dump.log", "x|y\n", KindDelimited},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := DetectKind(tc.filename, []byte(tc.data)); got != tc.want {
				t.Fatalf("DetectKind(%q) = %v, want %v", tc.filename, got, tc.want)
			}
		})
	}
}

func TestDecodeText_EncodingOrder(t *testing.T) {
	t.Parallel()

	t.Run("utf8 with bom", func(t *testing.T) {
		t.Parallel()
		got, err := decodeText([]byte("\xef\xbb\xbfname,age"))
		if err != nil {
			t.Fatalf("decodeText: %v", err)
		}
		if got != "name,age" {
			t.Fatalf("got %q, want bom stripped", got)
		}
	})

	t.Run("gb18030", func(t *testing.T) {
		t.Parallel()
		// "中文" in GB18030.
		got, err := decodeText([]byte("\xd6\xd0\xce\xc4,x"))
		if err != nil {
			t.Fatalf("decodeText: %v", err)
		}
		if got != "中文,x" {
			t.Fatalf("got %q, want %q", got, "中文,x")
		}
	})

	t.Run("windows-1252 fallback", func(t *testing.T) {
		t.Parallel()
		// 0xE9 is a GB18030 lead byte, so the truncated sequence falls
		// through to Windows-1252 where it is "é".
		got, err := decodeText([]byte("caf\xe9"))
		if err != nil {
			t.Fatalf("decodeText: %v", err)
		}
		if got != "café" {
			t.Fatalf("got %q, want %q", got, "café")
		}
	})
}

func TestSniffDelimiter(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want rune
	}{
		{"a,b,c\n1,2,3\n", ','},
		{"a;b;c\n1;2;3\n", ';'},
		{"a\tb\tc\n", '\t'},
		{"single column\n", ','},
		{"\n\na;b\n", ';'},
	}
	for _, tc := range cases {
		if got := sniffDelimiter(tc.text); got != tc.want {
			t.Fatalf("sniffDelimiter(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestParseDelimited_SkipsEmptyKeepsRagged(t *testing.T) {
	t.Parallel()

	text := "name,age\nalice,30\n,\n\nbob,25,extra\n"
	tab, err := parseDelimited(text, "people")
	if err != nil {
		t.Fatalf("parseDelimited: %v", err)
	}
	if len(tab.Rows) != 3 {
		t.Fatalf("len(Rows) = %d, want 3", len(tab.Rows))
	}
	if tab.SkippedRows != 1 {
		t.Fatalf("SkippedRows = %d, want 1", tab.SkippedRows)
	}
	if len(tab.Rows[2]) != 3 {
		t.Fatalf("ragged row lost: %v", tab.Rows[2])
	}
}

func TestParseDelimited_NoRowsIsDecodeError(t *testing.T) {
	t.Parallel()

	_, err := parseDelimited("\n \n", "empty")
	if !errs.Is(err, errs.Decode) {
		t.Fatalf("kind = %q, want %q", errs.KindOf(err), errs.Decode)
	}
}

func TestDecodeHTMLTables(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<table><tr><th>name</th><th>age</th></tr><tr><td>alice</td><td>30</td></tr></table>
		<p>between</p>
		<table><tr><td>x</td></tr></table>
	</body></html>`

	tables, err := decodeHTMLTables([]byte(html), "export")
	if err != nil {
		t.Fatalf("decodeHTMLTables: %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("len(tables) = %d, want 2", len(tables))
	}
	if tables[0].Name != "export_1" || tables[1].Name != "export_2" {
		t.Fatalf("names = %q, %q", tables[0].Name, tables[1].Name)
	}
	if got := tables[0].Rows[1][0]; got != "alice" {
		t.Fatalf("cell = %q, want alice", got)
	}
}

type fakeExtractor struct {
	reply string
	err   error
	calls int
}

func (f *fakeExtractor) ExtractTables(ctx context.Context, images []capability.Image) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func TestDecode_ImageGoesThroughExtractor(t *testing.T) {
	t.Parallel()

	fx := &fakeExtractor{reply: "name,age\nalice,30\n"}
	d := &Decoder{Extractor: fx}

	tables, err := d.Decode(context.Background(), "scan.png", []byte{0x89, 'P', 'N', 'G'})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if fx.calls != 1 {
		t.Fatalf("extractor calls = %d, want 1", fx.calls)
	}
	if len(tables) != 1 || tables[0].Name != "scan" {
		t.Fatalf("tables = %+v", tables)
	}
}

func TestDecode_ExtractorFailureIsExtractionError(t *testing.T) {
	t.Parallel()

	d := &Decoder{Extractor: &fakeExtractor{err: errors.New("timeout")}}
	_, err := d.Decode(context.Background(), "scan.png", []byte{1})
	if !errs.Is(err, errs.Extraction) {
		t.Fatalf("kind = %q, want %q", errs.KindOf(err), errs.Extraction)
	}
}

func TestDecode_NonTabularReplyIsExtractionError(t *testing.T) {
	t.Parallel()

	d := &Decoder{Extractor: &fakeExtractor{reply: "   \n"}}
	_, err := d.Decode(context.Background(), "scan.png", []byte{1})
	if !errs.Is(err, errs.Extraction) {
		t.Fatalf("kind = %q, want %q", errs.KindOf(err), errs.Extraction)
	}
}

func TestDecode_NoExtractorConfigured(t *testing.T) {
	t.Parallel()

	d := &Decoder{}
	_, err := d.Decode(context.Background(), "scan.pdf", []byte("%PDF"))
	if !errs.Is(err, errs.Extraction) {
		t.Fatalf("kind = %q, want %q", errs.KindOf(err), errs.Extraction)
	}
}

func TestDecodeSpreadsheet_HTMLFallback(t *testing.T) {
	t.Parallel()

	html := "<table><tr><td>a</td><td>b</td></tr></table>"
	tables, err := decodeSpreadsheet([]byte(html), "legacy")
	if err != nil {
		t.Fatalf("decodeSpreadsheet: %v", err)
	}
	if len(tables) != 1 {
		t.Fatalf("len(tables) = %d, want 1", len(tables))
	}
	if !strings.HasPrefix(tables[0].Name, "legacy") {
		t.Fatalf("name = %q", tables[0].Name)
	}
}
