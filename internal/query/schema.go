package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/blacksamuraiiii/xiyan-web/internal/session"
	"github.com/blacksamuraiiii/xiyan-web/internal/store"
)

// DescribeSchema renders the session's owned tables as compact text for the
// SQL generator. Column names come from the store so the description never
// drifts from what actually exists; advisory type tags recorded at import
// time are appended where they say more than "text".
//
//	TABLE sales
//	  region: text
//	  amount: text (numeric values)
func DescribeSchema(ctx context.Context, conn store.Conn, sess *session.Session) (string, error) {
	tables := sess.Tables()
	if len(tables) == 0 {
		return "", fmt.Errorf("session owns no tables")
	}

	cols, err := conn.TableColumns(ctx, tables)
	if err != nil {
		return "", fmt.Errorf("describe schema: %w", err)
	}

	var b strings.Builder
	first := true
	for _, table := range tables {
		names := cols[table]
		if len(names) == 0 {
			continue
		}
		if !first {
			b.WriteString("\n")
		}
		first = false

		types := sess.ColumnTypes(table)
		fmt.Fprintf(&b, "TABLE %s\n", table)
		for i, col := range names {
			fmt.Fprintf(&b, "  %s: text%s\n", col, typeHint(types, i))
		}
	}

	if first {
		return "", fmt.Errorf("session tables not found in store")
	}
	return b.String(), nil
}

func typeHint(types []string, i int) string {
	if i >= len(types) {
		return ""
	}
	switch types[i] {
	case "numeric":
		return " (numeric values)"
	case "date":
		return " (date values)"
	default:
		return ""
	}
}
