// Package materialize writes canonical tables into the relational store.
//
// Everything lands as nullable text in an idempotent create-if-absent table,
// so the structural write cannot fail on a value. Rows go in batches of one
// transaction each; a failed batch is retried row by row and only the rows
// that still fail are dropped, counted, and reported. Partial success is the
// normal outcome, not an error.
package materialize

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/blacksamuraiiii/xiyan-web/internal/errs"
	"github.com/blacksamuraiiii/xiyan-web/internal/logging"
	"github.com/blacksamuraiiii/xiyan-web/internal/normalize"
	"github.com/blacksamuraiiii/xiyan-web/internal/session"
	"github.com/blacksamuraiiii/xiyan-web/internal/store"
)

const defaultBatchSize = 500

// PersistedTable reports what one materialization actually did.
type PersistedTable struct {
	Name     string
	Columns  []string
	Types    []normalize.ColType
	Appended bool

	Attempted int
	Inserted  int
	Skipped   int
	// RowErrors lists the first error text per dropped row, capped so a
	// fully broken file does not flood the caller.
	RowErrors []string
}

// Options tunes one materialization call.
type Options struct {
	// Append writes into the existing session-owned relation of the same
	// name when its columns match, instead of deriving a suffixed name.
	Append bool
	// FallbackIndex numbers the table_<n> name used when the source name
	// sanitizes to nothing.
	FallbackIndex int
}

// Materializer persists canonical tables under a session's connection lease.
type Materializer struct {
	// BatchSize is rows per transaction; zero means 500.
	BatchSize int
}

const maxRowErrors = 20

// Materialize writes one canonical table and registers the resulting
// relation with the session.
func (m *Materializer) Materialize(ctx context.Context, conn store.Conn, sess *session.Session, ct normalize.CanonicalTable, opts Options) (PersistedTable, error) {
	log := logging.FromContext(ctx)

	if len(ct.Columns) == 0 {
		return PersistedTable{}, errs.Newf(errs.Materialization, "table %s has no columns", ct.Name)
	}

	name := DeriveName(ct.Name, opts.FallbackIndex)

	appended := false
	if opts.Append && sess.Owns(name) {
		ok, err := columnsMatch(ctx, conn, name, ct.Columns)
		if err != nil {
			return PersistedTable{}, errs.Wrap(errs.Materialization, "inspect existing table "+name, err)
		}
		if !ok {
			return PersistedTable{}, errs.Newf(errs.Materialization, "cannot append to %s: column sets differ", name)
		}
		appended = true
	} else {
		name = nextFreeName(name, sess)
	}

	baseline := int64(0)
	if appended {
		n, err := conn.CountRows(ctx, name)
		if err != nil {
			return PersistedTable{}, errs.Wrap(errs.Materialization, "count existing rows of "+name, err)
		}
		baseline = n
	}

	if err := conn.EnsureTable(ctx, name, ct.Columns); err != nil {
		return PersistedTable{}, errs.Wrap(errs.Materialization, "create table "+name, err)
	}

	out := PersistedTable{
		Name:      name,
		Columns:   ct.Columns,
		Types:     ct.Types,
		Appended:  appended,
		Attempted: len(ct.Rows),
		Skipped:   ct.SkippedRows,
	}

	batch := m.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	for lo := 0; lo < len(ct.Rows); lo += batch {
		hi := lo + batch
		if hi > len(ct.Rows) {
			hi = len(ct.Rows)
		}
		rows := ct.Rows[lo:hi]

		if err := conn.InsertBatch(ctx, name, ct.Columns, rows); err == nil {
			out.Inserted += len(rows)
			continue
		}

		// Batch failed as a whole; salvage it row by row.
		for _, row := range rows {
			if err := conn.InsertRow(ctx, name, ct.Columns, row); err != nil {
				out.Skipped++
				if len(out.RowErrors) < maxRowErrors {
					out.RowErrors = append(out.RowErrors, err.Error())
				}
				continue
			}
			out.Inserted++
		}
	}

	if err := validatePersisted(ctx, conn, name, baseline+int64(out.Inserted)); err != nil {
		return PersistedTable{}, err
	}

	sess.OwnTable(name)
	if len(ct.Types) == len(ct.Columns) {
		types := make([]string, len(ct.Types))
		for i, tt := range ct.Types {
			types[i] = string(tt)
		}
		sess.SetColumnTypes(name, types)
	}
	log.InfoContext(ctx, "table materialized",
		slog.String("table", name),
		slog.Int("attempted", out.Attempted),
		slog.Int("inserted", out.Inserted),
		slog.Int("skipped", out.Skipped),
		slog.Bool("appended", appended),
	)
	return out, nil
}

// validatePersisted confirms the relation exists and holds at least the rows
// reported as inserted.
func validatePersisted(ctx context.Context, conn store.Conn, name string, want int64) error {
	exists, err := conn.TableExists(ctx, name)
	if err != nil {
		return errs.Wrap(errs.Materialization, "verify table "+name, err)
	}
	if !exists {
		return errs.Newf(errs.Materialization, "table %s missing after write", name)
	}
	n, err := conn.CountRows(ctx, name)
	if err != nil {
		return errs.Wrap(errs.Materialization, "verify row count of "+name, err)
	}
	if n < want {
		return errs.Newf(errs.Materialization, "table %s holds %d rows, expected at least %d", name, n, want)
	}
	return nil
}

func columnsMatch(ctx context.Context, conn store.Conn, name string, want []string) (bool, error) {
	cols, err := conn.TableColumns(ctx, []string{name})
	if err != nil {
		return false, err
	}
	got := cols[name]
	if len(got) != len(want) {
		return false, nil
	}
	for i := range want {
		if got[i] != want[i] {
			return false, nil
		}
	}
	return true, nil
}

// DeriveName sanitizes a source name into a relation name: alphanumerics
// only, lowercased. A name that sanitizes to nothing becomes table_<n>.
func DeriveName(source string, fallbackIndex int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(source) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		if fallbackIndex < 1 {
			fallbackIndex = 1
		}
		return "table_" + strconv.Itoa(fallbackIndex)
	}
	return b.String()
}

// nextFreeName suffixes the derived name with _2, _3, ... until it does not
// collide with a relation the session already owns.
func nextFreeName(name string, sess *session.Session) string {
	if !sess.Owns(name) {
		return name
	}
	for i := 2; ; i++ {
		cand := name + "_" + strconv.Itoa(i)
		if !sess.Owns(cand) {
			return cand
		}
	}
}
