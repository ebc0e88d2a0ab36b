// Package mssql implements store.Store over github.com/microsoft/go-mssqldb.
//
// Key differences vs the Postgres backend:
//   - identifiers are bracket-quoted
//   - placeholders are @pN
//   - SQL Server caps a statement at ~2100 parameters, so batch inserts are
//     chunked to stay under the limit while keeping one transaction per batch
//   - text columns use NVARCHAR(MAX)
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/blacksamuraiiii/xiyan-web/internal/store"
)

// paramLimit keeps chunked inserts well below SQL Server's 2100-parameter cap.
const paramLimit = 2000

type msStore struct {
	dsn string
}

type msConn struct {
	db *sql.DB
}

func init() {
	store.Register("mssql", New)
}

// New creates an MSSQL-backed store.
func New(ctx context.Context, cfg store.Config) (store.Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("mssql: empty DSN")
	}
	return &msStore{dsn: cfg.DSN}, nil
}

func (s *msStore) Connect(ctx context.Context) (store.Conn, error) {
	db, err := sql.Open("sqlserver", s.dsn)
	if err != nil {
		return nil, fmt.Errorf("mssql open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql ping: %w", err)
	}
	return &msConn{db: db}, nil
}

func (s *msStore) Close() {}

func (c *msConn) Close(ctx context.Context) error { return c.db.Close() }

func (c *msConn) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *msConn) EnsureTable(ctx context.Context, table string, columns []string) error {
	var cols strings.Builder
	for i, col := range columns {
		if i > 0 {
			cols.WriteString(", ")
		}
		cols.WriteString(msIdent(col))
		cols.WriteString(" NVARCHAR(MAX)")
	}

	// CREATE TABLE has no IF NOT EXISTS on SQL Server; guard with OBJECT_ID.
	stmt := fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s);",
		strings.ReplaceAll(table, "'", "''"), msIdent(table), cols.String(),
	)
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

func (c *msConn) InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	chunk := paramLimit / len(columns)
	if chunk < 1 {
		chunk = 1
	}
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		sqlText, args := buildInsertSQL(table, columns, rows[start:end])
		if _, err := tx.ExecContext(ctx, sqlText, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c *msConn) InsertRow(ctx context.Context, table string, columns []string, row []any) error {
	sqlText, args := buildInsertSQL(table, columns, [][]any{row})
	_, err := c.db.ExecContext(ctx, sqlText, args...)
	return err
}

func (c *msConn) TableExists(ctx context.Context, table string) (bool, error) {
	const q = `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME = @p1`
	var n int64
	if err := c.db.QueryRowContext(ctx, q, table).Scan(&n); err != nil {
		return false, fmt.Errorf("table exists %s: %w", table, err)
	}
	return n > 0, nil
}

func (c *msConn) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	q := "SELECT COUNT(*) FROM " + msIdent(table)
	if err := c.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows %s: %w", table, err)
	}
	return n, nil
}

func (c *msConn) TableColumns(ctx context.Context, tables []string) (map[string][]string, error) {
	if len(tables) == 0 {
		return map[string][]string{}, nil
	}

	var b strings.Builder
	b.WriteString(`SELECT TABLE_NAME, COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME IN (`)
	args := make([]any, 0, len(tables))
	for i, t := range tables {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "@p%d", i+1)
		args = append(args, t)
	}
	b.WriteString(") ORDER BY TABLE_NAME, ORDINAL_POSITION")

	rows, err := c.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("table columns: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string, len(tables))
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, err
		}
		out[table] = append(out[table], column)
	}
	return out, rows.Err()
}

func (c *msConn) Query(ctx context.Context, sqlText string) (*store.ResultSet, error) {
	rows, err := c.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rs := &store.ResultSet{Columns: cols}

	for rows.Next() {
		out := make([]any, len(cols))
		dests := make([]any, len(cols))
		for i := range out {
			dests[i] = &out[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		for i, v := range out {
			if b, ok := v.([]byte); ok {
				out[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, out)
	}
	return rs, rows.Err()
}

func (c *msConn) Exec(ctx context.Context, sqlText string) (int64, error) {
	res, err := c.db.ExecContext(ctx, sqlText)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(msIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(msIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String(), args
}

// msIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func msIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}
