package decode

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/blacksamuraiiii/xiyan-web/internal/errs"
)

// decodeDelimited parses delimited text into one RawTable. The character
// encoding and the delimiter are sniffed; rows the CSV reader cannot parse
// are counted as skipped instead of failing the file.
func decodeDelimited(data []byte, name string) (RawTable, error) {
	text, err := decodeText(data)
	if err != nil {
		return RawTable{}, err
	}
	return parseDelimited(text, name)
}

// decodeText converts raw bytes to a UTF-8 string, trying encodings in a
// fixed order: UTF-8 with an optional BOM, then GB18030, then Windows-1252.
// The first encoding that decodes without loss wins.
func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	if utf8.Valid(data) {
		return string(data), nil
	}

	if s, err := simplifiedchinese.GB18030.NewDecoder().Bytes(data); err == nil {
		// The decoder substitutes U+FFFD for undecodable bytes rather than
		// erroring, so lossiness has to be checked on the output.
		if !bytes.ContainsRune(s, utf8.RuneError) {
			return string(s), nil
		}
	}

	s, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", errs.Wrap(errs.Decode, "no supported text encoding fits", err)
	}
	return string(s), nil
}

// sniffDelimiter picks the delimiter with the most occurrences on the first
// non-empty line, among comma, semicolon and tab. Ties and absence default
// to comma.
func sniffDelimiter(text string) rune {
	line := text
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			line = l
			break
		}
	}

	best, bestN := ',', strings.Count(line, ",")
	for _, cand := range []rune{';', '\t'} {
		if n := strings.Count(line, string(cand)); n > bestN {
			best, bestN = cand, n
		}
	}
	return best
}

func parseDelimited(text, name string) (RawTable, error) {
	cr := csv.NewReader(strings.NewReader(text))
	cr.Comma = sniffDelimiter(text)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	t := RawTable{Name: name}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.SkippedRows++
			continue
		}

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

	if len(t.Rows) == 0 {
		return RawTable{}, errs.Newf(errs.Decode, "no parsable rows in %s", name)
	}
	return t, nil
}
