package query

import (
	"strings"

	"github.com/blacksamuraiiii/xiyan-web/internal/errs"
)

// Validate enforces the execution policy on one generated statement and
// returns it cleaned (single trailing terminator stripped).
//
// This is deliberately not a SQL parser. The checks are conservative string
// and token scans: exactly one statement, an allow-listed leading verb, and
// every referenced table owned by the calling session. Anything the scan is
// unsure about is rejected; a validation failure is terminal and the
// statement is never executed.
func Validate(sql string, owned func(string) bool, modify bool) (string, error) {
	cleaned := strings.TrimSpace(sql)
	cleaned = strings.TrimSuffix(cleaned, ";")
	if strings.TrimSpace(cleaned) == "" {
		return "", errs.New(errs.Validation, "empty statement")
	}

	tokens := tokenize(cleaned)
	if len(tokens) == 0 {
		return "", errs.New(errs.Validation, "empty statement")
	}
	for _, tok := range tokens {
		if tok == ";" {
			return "", errs.New(errs.Validation, "multiple statements are not allowed")
		}
	}

	verb := strings.ToLower(tokens[0])
	switch verb {
	case "select", "with":
	case "insert", "update", "delete":
		if !modify {
			return "", errs.Newf(errs.Validation, "%s requires an explicit modification request", strings.ToUpper(verb))
		}
	default:
		return "", errs.Newf(errs.Validation, "statement kind %s is not allowed", strings.ToUpper(verb))
	}

	for _, table := range referencedTables(tokens) {
		if !owned(table) {
			return "", errs.Newf(errs.Validation, "table %s is not owned by this session", table)
		}
	}

	return cleaned, nil
}

// tokenize splits a statement into identifiers, punctuation, and stray
// terminators, skipping string literals and comments so a ';' inside a
// quoted value does not read as a statement boundary.
func tokenize(sql string) []string {
	var tokens []string
	i := 0
	n := len(sql)

	for i < n {
		c := sql[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			// Literal or quoted identifier: scan to the matching quote,
			// honoring doubled quotes as escapes.
			quote := c
			j := i + 1
			for j < n {
				if sql[j] == quote {
					if j+1 < n && sql[j+1] == quote {
						j += 2
						continue
					}
					break
				}
				j++
			}
			if j > n {
				j = n
			}
			if quote != '\'' {
				tokens = append(tokens, strings.ToLower(sql[i+1:j]))
			}
			i = j + 1
		case c == '[':
			j := strings.IndexByte(sql[i:], ']')
			if j < 0 {
				j = n - i
			}
			tokens = append(tokens, strings.ToLower(sql[i+1:i+j]))
			i += j + 1
		case c == '-' && i+1 < n && sql[i+1] == '-':
			j := strings.IndexByte(sql[i:], '\n')
			if j < 0 {
				return tokens
			}
			i += j + 1
		case c == '/' && i+1 < n && sql[i+1] == '*':
			j := strings.Index(sql[i+2:], "*/")
			if j < 0 {
				return tokens
			}
			i += j + 4
		case isIdentByte(c):
			j := i
			for j < n && (isIdentByte(sql[j]) || sql[j] == '.') {
				j++
			}
			tokens = append(tokens, strings.ToLower(sql[i:j]))
			i = j
		case c == '(' || c == ')' || c == ',' || c == ';':
			tokens = append(tokens, string(c))
			i++
		default:
			i++
		}
	}
	return tokens
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// sqlKeywords are tokens that can follow FROM/JOIN without naming a table.
var sqlKeywords = map[string]bool{
	"select": true, "lateral": true, "values": true, "unnest": true,
	"as": true, "on": true, "where": true, "group": true, "order": true,
	"inner": true, "left": true, "right": true, "full": true, "cross": true,
	"outer": true, "join": true, "set": true, "only": true,
}

// referencedTables scans for identifiers in table position: after FROM, any
// JOIN, INSERT INTO, or UPDATE. Names defined by the statement's own WITH
// clauses are excluded.
func referencedTables(tokens []string) []string {
	ctes := make(map[string]bool)
	for i := 0; i+2 < len(tokens); i++ {
		if tokens[i+1] == "as" && tokens[i+2] == "(" && !sqlKeywords[tokens[i]] {
			ctes[tokens[i]] = true
		}
	}

	var tables []string
	seen := make(map[string]bool)

	add := func(tok string) {
		name := tok
		if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
			name = name[dot+1:]
		}
		if name == "" || ctes[name] || seen[name] {
			return
		}
		seen[name] = true
		tables = append(tables, name)
	}

	for i := 0; i < len(tokens)-1; i++ {
		switch tokens[i] {
		case "from", "join":
			// FROM may list several tables separated by commas.
			j := i + 1
			for j < len(tokens) {
				tok := tokens[j]
				if tok == "(" || sqlKeywords[tok] {
					break
				}
				add(tok)
				// Skip a trailing alias, then continue only across commas.
				j++
				if j < len(tokens) && tokens[j] == "as" {
					j += 2
				} else if j < len(tokens) && !sqlKeywords[tokens[j]] && isWordToken(tokens[j]) {
					j++
				}
				if j < len(tokens) && tokens[j] == "," {
					j++
					continue
				}
				break
			}
		case "into", "update":
			if tokens[i] == "into" && (i == 0 || tokens[i-1] != "insert") {
				continue
			}
			if tok := tokens[i+1]; tok != "(" && !sqlKeywords[tok] {
				add(tok)
			}
		}
	}
	return tables
}

func isWordToken(tok string) bool {
	return tok != "" && isIdentByte(tok[0])
}
