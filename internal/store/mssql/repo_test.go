package mssql

import (
	"strings"
	"testing"
)

func TestBuildInsertSQL_NamedPlaceholders(t *testing.T) {
	t.Parallel()

	sql, args := buildInsertSQL("orders", []string{"id", "status"}, [][]any{
		{"1", "open"},
		{"2", "closed"},
	})
	if !strings.Contains(sql, "(@p1, @p2), (@p3, @p4)") {
		t.Fatalf("unexpected placeholders: %q", sql)
	}
	if len(args) != 4 {
		t.Fatalf("len(args) = %d, want 4", len(args))
	}
}

func TestMsIdent_EscapesBrackets(t *testing.T) {
	t.Parallel()

	if got := msIdent("we]ird"); got != "[we]]ird]" {
		t.Fatalf("msIdent = %q", got)
	}
}
