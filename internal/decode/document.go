package decode

import (
	"bytes"
	"context"
	"image/jpeg"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/blacksamuraiiii/xiyan-web/internal/capability"
	"github.com/blacksamuraiiii/xiyan-web/internal/errs"
)

const (
	defaultMaxPDFPages  = 3
	defaultPDFRenderDPI = 300
	jpegQuality         = 90
)

// decodeDocument sends an image or PDF through the vision capability and
// parses its reply as delimited text. Any capability failure, and any reply
// that yields no rows, is an extraction error; there is no retry here.
func (d *Decoder) decodeDocument(ctx context.Context, filename string, data []byte, isPDF bool) ([]RawTable, error) {
	if d.Extractor == nil {
		return nil, errs.Newf(errs.Extraction, "no table extractor configured for %s", filename)
	}

	var (
		images []capability.Image
		err    error
	)
	if isPDF {
		images, err = renderPDFPages(data, d.maxPDFPages(), d.pdfRenderDPI())
		if err != nil {
			return nil, err
		}
	} else {
		images = []capability.Image{{MIME: imageMIME(filename), Data: data}}
	}

	text, err := d.Extractor.ExtractTables(ctx, images)
	if err != nil {
		return nil, errs.Wrap(errs.Extraction, "table extraction failed for "+filename, err)
	}

	t, err := parseDelimited(text, fileStem(filename))
	if err != nil {
		return nil, errs.Newf(errs.Extraction, "extractor reply for %s is not tabular", filename)
	}
	return []RawTable{t}, nil
}

// renderPDFPages rasterizes the leading pages of a PDF to JPEG.
func renderPDFPages(data []byte, maxPages int, dpi float64) ([]capability.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, errs.Wrap(errs.Extraction, "open pdf", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n > maxPages {
		n = maxPages
	}

	images := make([]capability.Image, 0, n)
	for page := 0; page < n; page++ {
		img, err := doc.ImageDPI(page, dpi)
		if err != nil {
			return nil, errs.Wrap(errs.Extraction, "render pdf page", err)
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, errs.Wrap(errs.Extraction, "encode pdf page", err)
		}
		images = append(images, capability.Image{MIME: "image/jpeg", Data: buf.Bytes()})
	}

	if len(images) == 0 {
		return nil, errs.New(errs.Extraction, "pdf has no pages")
	}
	return images, nil
}

func (d *Decoder) maxPDFPages() int {
	if d.MaxPDFPages > 0 {
		return d.MaxPDFPages
	}
	return defaultMaxPDFPages
}

func (d *Decoder) pdfRenderDPI() float64 {
	if d.PDFRenderDPI > 0 {
		return d.PDFRenderDPI
	}
	return defaultPDFRenderDPI
}

func imageMIME(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".bmp":
		return "image/bmp"
	case ".webp":
		return "image/webp"
	case ".tif", ".tiff":
		return "image/tiff"
	default:
		return "image/jpeg"
	}
}
