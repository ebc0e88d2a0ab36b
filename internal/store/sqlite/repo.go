// Package sqlite implements store.Store over modernc.org/sqlite.
//
// Each Connect opens its own database handle capped at one underlying
// connection, so a leased Conn behaves like a single session connection even
// though database/sql is itself a pool. An in-memory DSN uses a shared cache
// so every lease sees the same schema, which also makes this backend the
// store used by package-level tests across the repo.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/blacksamuraiiii/xiyan-web/internal/store"
)

type sqStore struct {
	dsn string
}

type sqConn struct {
	db *sql.DB
}

func init() {
	store.Register("sqlite", New)
}

// New creates a SQLite-backed store.
func New(ctx context.Context, cfg store.Config) (store.Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("sqlite: empty DSN")
	}
	if dsn == ":memory:" {
		// Plain :memory: gives every handle a private database; leases must
		// share one.
		dsn = "file:xiyanweb?mode=memory&cache=shared"
	}
	return &sqStore{dsn: dsn}, nil
}

func (s *sqStore) Connect(ctx context.Context) (store.Conn, error) {
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	return &sqConn{db: db}, nil
}

func (s *sqStore) Close() {}

func (c *sqConn) Close(ctx context.Context) error { return c.db.Close() }

func (c *sqConn) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *sqConn) EnsureTable(ctx context.Context, table string, columns []string) error {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	for i, col := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(col))
		b.WriteString(" TEXT")
	}
	b.WriteString(");")

	if _, err := c.db.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

func (c *sqConn) InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	sqlText, args := buildInsertSQL(table, columns, rows)
	if _, err := tx.ExecContext(ctx, sqlText, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *sqConn) InsertRow(ctx context.Context, table string, columns []string, row []any) error {
	sqlText, args := buildInsertSQL(table, columns, [][]any{row})
	_, err := c.db.ExecContext(ctx, sqlText, args...)
	return err
}

func (c *sqConn) TableExists(ctx context.Context, table string) (bool, error) {
	const q = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	var n int64
	if err := c.db.QueryRowContext(ctx, q, table).Scan(&n); err != nil {
		return false, fmt.Errorf("table exists %s: %w", table, err)
	}
	return n > 0, nil
}

func (c *sqConn) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	q := "SELECT COUNT(*) FROM " + sqlIdent(table)
	if err := c.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows %s: %w", table, err)
	}
	return n, nil
}

func (c *sqConn) TableColumns(ctx context.Context, tables []string) (map[string][]string, error) {
	out := make(map[string][]string, len(tables))
	for _, t := range tables {
		exists, err := c.TableExists(ctx, t)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}

		rows, err := c.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?) ORDER BY cid", t)
		if err != nil {
			return nil, fmt.Errorf("table columns %s: %w", t, err)
		}
		for rows.Next() {
			var col string
			if err := rows.Scan(&col); err != nil {
				rows.Close()
				return nil, err
			}
			out[t] = append(out[t], col)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

func (c *sqConn) Query(ctx context.Context, sqlText string) (*store.ResultSet, error) {
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

func (c *sqConn) Exec(ctx context.Context, sqlText string) (int64, error) {
	res, err := c.db.ExecContext(ctx, sqlText)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, row[j])
		}
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String(), args
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
