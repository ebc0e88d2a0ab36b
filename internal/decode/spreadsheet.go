package decode

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xuri/excelize/v2"

	"github.com/blacksamuraiiii/xiyan-web/internal/errs"
)

// decodeSpreadsheet runs the spreadsheet engine chain: a real workbook first,
// then HTML tables (the usual ".xls" that is actually an HTML export), then
// delimited text as the last resort.
func decodeSpreadsheet(data []byte, name string) ([]RawTable, error) {
	if tables, err := decodeWorkbook(data, name); err == nil {
		return tables, nil
	}
	if looksLikeHTML(data) {
		if tables, err := decodeHTMLTables(data, name); err == nil {
			return tables, nil
		}
	}
	if t, err := decodeDelimited(data, name); err == nil {
		return []RawTable{t}, nil
	}
	return nil, errs.Newf(errs.Decode, "no spreadsheet engine could read %s", name)
}

// decodeWorkbook reads an xlsx workbook, yielding one RawTable per non-empty
// sheet.
func decodeWorkbook(data []byte, name string) ([]RawTable, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(errs.Decode, "open workbook", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()

	var tables []RawTable
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, errs.Wrap(errs.Decode, "read sheet "+sheet, err)
		}

		t := RawTable{Name: sheet}
		for _, rec := range rows {
			row := make([]string, len(rec))
			empty := true
			for i, v := range rec {
				row[i] = strings.TrimSpace(v)
				if row[i] != "" {
					empty = false
				}
			}
			if empty {
				t.SkippedRows++
				continue
			}
			t.Rows = append(t.Rows, row)
		}
		if len(t.Rows) > 0 {
			tables = append(tables, t)
		}
	}

	if len(tables) == 0 {
		return nil, errs.Newf(errs.Decode, "workbook %s has no non-empty sheet", name)
	}
	for i := range tables {
		tables[i].Name = subName(name, tables[i].Name, i, len(tables))
	}
	return tables, nil
}

// decodeHTMLTables extracts every <table> in an HTML document, one RawTable
// each, preserving DOM order.
func decodeHTMLTables(data []byte, name string) ([]RawTable, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(errs.Decode, "parse html", err)
	}

	var tables []RawTable
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		t := RawTable{}
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var row []string
			empty := true
			tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
				v := strings.TrimSpace(cell.Text())
				if v != "" {
					empty = false
				}
				row = append(row, v)
			})
			if len(row) == 0 || empty {
				t.SkippedRows++
				return
			}
			t.Rows = append(t.Rows, row)
		})
		if len(t.Rows) > 0 {
			tables = append(tables, t)
		}
	})

	if len(tables) == 0 {
		return nil, errs.Newf(errs.Decode, "no html tables found in %s", name)
	}
	for i := range tables {
		tables[i].Name = subName(name, "", i, len(tables))
	}
	return tables, nil
}
