// Package decode turns uploaded files into raw in-memory tables.
//
// A file's kind is guessed from its extension and then corrected by sniffing
// the leading bytes, because real-world exports lie: ".xls" files are very
// often HTML tables, and ".csv" files sometimes arrive as zipped workbooks.
// Each kind maps to an ordered list of engines; the first engine that yields
// at least one table wins, and exhausting the list is a decode error.
//
// Images and PDFs are not decoded locally. They are handed to the configured
// vision capability, whose reply is parsed as delimited text.
package decode

import (
	"bytes"
	"context"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blacksamuraiiii/xiyan-web/internal/capability"
	"github.com/blacksamuraiiii/xiyan-web/internal/errs"
)

// RawTable is one decoded table before normalization: ordered rows of raw
// cell strings, exactly as the source engine produced them.
type RawTable struct {
	// Name is the suggested table name: the file stem, suffixed with the
	// sheet or table index when one file yields several tables.
	Name string
	// Rows holds every decoded row; rows may have differing lengths.
	Rows [][]string
	// SkippedRows counts source rows dropped because they were structurally
	// unparseable or entirely empty.
	SkippedRows int
}

// Kind classifies a file by how it should be decoded.
type Kind int

const (
	KindUnknown Kind = iota
	KindDelimited
	KindSpreadsheet
	KindHTML
	KindImage
	KindPDF
)

var (
	zipMagic = []byte("PK\x03\x04")
	pdfMagic = []byte("%PDF")
)

// Decoder decodes uploaded files into RawTables.
type Decoder struct {
	// Extractor handles image and PDF files. Nil means document uploads are
	// rejected with an extraction error.
	Extractor capability.TableExtractor
	// MaxPDFPages caps how many leading pages of a PDF are rendered for the
	// extractor; zero means the default of 3.
	MaxPDFPages int
	// PDFRenderDPI is the raster resolution for PDF pages; zero means 300.
	PDFRenderDPI float64
}

// Decode decodes one uploaded file into its raw tables.
func (d *Decoder) Decode(ctx context.Context, filename string, data []byte) ([]RawTable, error) {
	if len(data) == 0 {
		return nil, errs.Newf(errs.Decode, "file %s is empty", filename)
	}

	base := fileStem(filename)

	switch DetectKind(filename, data) {
	case KindSpreadsheet:
		return decodeSpreadsheet(data, base)
	case KindHTML:
		tables, err := decodeHTMLTables(data, base)
		if err != nil {
			return nil, err
		}
		return tables, nil
	case KindImage:
		return d.decodeDocument(ctx, filename, data, false)
	case KindPDF:
		return d.decodeDocument(ctx, filename, data, true)
	default:
		t, err := decodeDelimited(data, base)
		if err != nil {
			return nil, err
		}
		return []RawTable{t}, nil
	}
}

// DetectKind picks the decode path for a file. The extension is only a hint;
// the leading bytes win when they contradict it.
func DetectKind(filename string, data []byte) Kind {
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".png", ".jpg", ".jpeg", ".bmp", ".webp", ".tif", ".tiff":
		return KindImage
	case ".pdf":
		return KindPDF
	}

	if bytes.HasPrefix(data, pdfMagic) {
		return KindPDF
	}
	if bytes.HasPrefix(data, zipMagic) {
		return KindSpreadsheet
	}
	if looksLikeHTML(data) {
		return KindHTML
	}

	switch ext {
	case ".xlsx", ".xls", ".xlsm":
		return KindSpreadsheet
	case ".html", ".htm":
		return KindHTML
	case ".csv", ".tsv", ".txt", "":
		return KindDelimited
	default:
		return KindDelimited
	}
}

func looksLikeHTML(data []byte) bool {
	head := bytes.TrimLeft(data, " \t\r\n\uFEFF")
	return len(head) > 0 && head[0] == '<'
}

func fileStem(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// subName names the i-th table from a multi-table file. A single table keeps
// the bare stem.
func subName(base, sub string, i, total int) string {
	if total <= 1 {
		return base
	}
	if sub != "" {
		return base + "_" + sub
	}
	return base + "_" + strconv.Itoa(i+1)
}
