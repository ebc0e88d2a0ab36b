package sqlite

import (
	"context"
	"testing"

	"github.com/blacksamuraiiii/xiyan-web/internal/store"
)

func openTestConn(t *testing.T) store.Conn {
	t.Helper()

	s, err := New(context.Background(), store.Config{Kind: "sqlite", DSN: "file:" + t.Name() + "?mode=memory&cache=shared"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	conn, err := s.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(context.Background()) })
	return conn
}

func TestEnsureTable_Idempotent(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)

	for i := 0; i < 2; i++ {
		if err := conn.EnsureTable(ctx, "people", []string{"name", "age"}); err != nil {
			t.Fatalf("EnsureTable (call %d): %v", i+1, err)
		}
	}

	exists, err := conn.TableExists(ctx, "people")
	if err != nil {
		t.Fatalf("TableExists: %v", err)
	}
	if !exists {
		t.Fatal("table people should exist")
	}
}

func TestInsertBatch_RollsBackAsOneTransaction(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)

	if err := conn.EnsureTable(ctx, "t", []string{"a"}); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if err := conn.InsertBatch(ctx, "t", []string{"a"}, [][]any{{"1"}, {"2"}}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	// A batch against a missing table must fail without partial writes.
	if err := conn.InsertBatch(ctx, "missing", []string{"a"}, [][]any{{"x"}}); err == nil {
		t.Fatal("expected error inserting into missing table")
	}

	n, err := conn.CountRows(ctx, "t")
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if n != 2 {
		t.Fatalf("CountRows = %d, want 2", n)
	}
}

func TestQuery_NullsAndText(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)

	if err := conn.EnsureTable(ctx, "q", []string{"v"}); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if err := conn.InsertRow(ctx, "q", []string{"v"}, []any{nil}); err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	if err := conn.InsertRow(ctx, "q", []string{"v"}, []any{"hello"}); err != nil {
		t.Fatalf("InsertRow: %v", err)
	}

	rs, err := conn.Query(ctx, `SELECT v FROM q ORDER BY v IS NULL`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rs.Columns) != 1 || rs.Columns[0] != "v" {
		t.Fatalf("Columns = %v", rs.Columns)
	}
	if len(rs.Rows) != 2 {
		t.Fatalf("len(Rows) = %d, want 2", len(rs.Rows))
	}
	if rs.Rows[0][0] != "hello" {
		t.Fatalf("Rows[0][0] = %v, want hello", rs.Rows[0][0])
	}
	if rs.Rows[1][0] != nil {
		t.Fatalf("Rows[1][0] = %v, want nil", rs.Rows[1][0])
	}
}

func TestTableColumns_OrderedAndSkipsMissing(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)

	if err := conn.EnsureTable(ctx, "wide", []string{"c", "a", "b"}); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	cols, err := conn.TableColumns(ctx, []string{"wide", "nope"})
	if err != nil {
		t.Fatalf("TableColumns: %v", err)
	}
	got, ok := cols["wide"]
	if !ok {
		t.Fatal("missing entry for wide")
	}
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("column order = %v, want %v", got, want)
		}
	}
	if _, ok := cols["nope"]; ok {
		t.Fatal("missing table should be absent from result")
	}
}

func TestExec_ReportsAffectedRows(t *testing.T) {
	ctx := context.Background()
	conn := openTestConn(t)

	if err := conn.EnsureTable(ctx, "items", []string{"status"}); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	rows := [][]any{{"old"}, {"old"}, {"new"}}
	if err := conn.InsertBatch(ctx, "items", []string{"status"}, rows); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}

	n, err := conn.Exec(ctx, `UPDATE items SET status = 'done' WHERE status = 'old'`)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if n != 2 {
		t.Fatalf("affected = %d, want 2", n)
	}
}
