// Package postgres implements store.Store over a single pgx connection per
// lease. Pooling happens one layer up (internal/session), so this backend
// deliberately uses pgx.Conn rather than pgxpool.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/blacksamuraiiii/xiyan-web/internal/store"
)

type pgStore struct {
	dsn string
}

type pgConn struct {
	conn *pgx.Conn
}

func init() {
	store.Register("postgres", New)
}

// New creates a Postgres-backed store. The DSN is validated lazily on the
// first Connect.
func New(ctx context.Context, cfg store.Config) (store.Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres: empty DSN")
	}
	return &pgStore{dsn: cfg.DSN}, nil
}

func (s *pgStore) Connect(ctx context.Context) (store.Conn, error) {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	return &pgConn{conn: conn}, nil
}

func (s *pgStore) Close() {}

func (c *pgConn) Close(ctx context.Context) error { return c.conn.Close(ctx) }

func (c *pgConn) Ping(ctx context.Context) error { return c.conn.Ping(ctx) }

func (c *pgConn) EnsureTable(ctx context.Context, table string, columns []string) error {
	_, err := c.conn.Exec(ctx, buildCreateSQL(table, columns))
	if err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

func (c *pgConn) InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	sql, args := buildInsertSQL(table, columns, rows)
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (c *pgConn) InsertRow(ctx context.Context, table string, columns []string, row []any) error {
	sql, args := buildInsertSQL(table, columns, [][]any{row})
	_, err := c.conn.Exec(ctx, sql, args...)
	return err
}

func (c *pgConn) TableExists(ctx context.Context, table string) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = $1)`

	var exists bool
	if err := c.conn.QueryRow(ctx, q, table).Scan(&exists); err != nil {
		return false, fmt.Errorf("table exists %s: %w", table, err)
	}
	return exists, nil
}

func (c *pgConn) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	q := "SELECT COUNT(*) FROM " + pgIdent(table)
	if err := c.conn.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows %s: %w", table, err)
	}
	return n, nil
}

func (c *pgConn) TableColumns(ctx context.Context, tables []string) (map[string][]string, error) {
	if len(tables) == 0 {
		return map[string][]string{}, nil
	}

	var b strings.Builder
	b.WriteString(`SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name IN (`)
	args := make([]any, 0, len(tables))
	for i, t := range tables {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i+1)
		args = append(args, t)
	}
	b.WriteString(") ORDER BY table_name, ordinal_position")

	rows, err := c.conn.Query(ctx, b.String(), args...)
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

func (c *pgConn) Query(ctx context.Context, sql string) (*store.ResultSet, error) {
	rows, err := c.conn.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	rs := &store.ResultSet{Columns: make([]string, len(fields))}
	for i, f := range fields {
		rs.Columns[i] = f.Name
	}

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make([]any, len(vals))
		for i, v := range vals {
			// pgx returns TEXT as string but some OIDs surface []byte;
			// normalize so callers see one representation.
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			} else {
				row[i] = v
			}
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, rows.Err()
}

func (c *pgConn) Exec(ctx context.Context, sql string) (int64, error) {
	tag, err := c.conn.Exec(ctx, sql)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

/* ---------- SQL builders (pure, unit-testable without a database) ---------- */

// buildCreateSQL renders an idempotent all-text CREATE TABLE statement.
func buildCreateSQL(table string, columns []string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
		b.WriteString(" TEXT")
	}
	b.WriteString(");")
	return b.String()
}

// buildInsertSQL constructs a single multi-row INSERT and its args.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
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
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String(), args
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
