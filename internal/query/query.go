// Package query answers natural-language questions against a session's
// tables: it renders the schema, asks the text-to-SQL capability for one
// statement, validates that statement against the execution policy, and runs
// it under the session's connection lease.
//
// A failed execution earns exactly one repair: the statement and its
// database error go back to the generator, and the corrected statement is
// validated and executed again. The cycle is driven by an explicit counter,
// never recursion, so the model can not talk the pipeline into a loop.
package query

import (
	"context"
	"strings"
	"time"

	"github.com/blacksamuraiiii/xiyan-web/internal/capability"
	"github.com/blacksamuraiiii/xiyan-web/internal/errs"
	"github.com/blacksamuraiiii/xiyan-web/internal/logging"
	"github.com/blacksamuraiiii/xiyan-web/internal/metrics"
	"github.com/blacksamuraiiii/xiyan-web/internal/session"
	"github.com/blacksamuraiiii/xiyan-web/internal/store"
)

// Status is a query's position in its lifecycle. Succeeded and Failed are
// terminal.
type Status string

const (
	StatusDrafted   Status = "drafted"
	StatusGenerated Status = "generated"
	StatusValidated Status = "validated"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// maxGenerations bounds model calls per question: the initial generation
// plus one repair.
const maxGenerations = 2

// Query carries one question through the pipeline and records what happened
// to it.
type Query struct {
	Question string
	SQL      string
	Status   Status

	// Generations counts model calls, Attempts counts executions. Both are
	// capped at two.
	Generations int
	Attempts    int

	// Result holds the rows of a successful read; RowsAffected reports a
	// successful modification.
	Result       *store.ResultSet
	RowsAffected int64
}

// Pipeline turns questions into executed SQL.
type Pipeline struct {
	Generator capability.SQLGenerator
	// StatementTimeout bounds each database execution; zero means no extra
	// bound beyond the caller's context.
	StatementTimeout time.Duration
	// Metrics receives per-query counters and durations; nil means none.
	Metrics metrics.Backend
}

// Ask answers one question for the session. The returned Query always
// reflects how far processing got, even when err is non-nil.
func (p *Pipeline) Ask(ctx context.Context, sess *session.Session, question string, modify bool) (*Query, error) {
	start := time.Now()
	q, err := p.run(ctx, sess, question, modify)

	sess.Touch()
	ex := session.Exchange{Question: question, SQL: q.SQL, At: time.Now()}
	outcome := "ok"
	if err != nil {
		ex.Err = err.Error()
		outcome = string(errs.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	sess.Record(ex)

	if p.Metrics != nil {
		p.Metrics.IncCounter(metrics.QueriesTotal, 1, metrics.Labels{"outcome": outcome})
		metrics.Since(p.Metrics, metrics.QueryDurationSeconds, start, metrics.Labels{"outcome": outcome})
	}
	return q, err
}

func (p *Pipeline) run(ctx context.Context, sess *session.Session, question string, modify bool) (*Query, error) {
	log := logging.FromContext(ctx)
	q := &Query{Question: question, Status: StatusDrafted}

	conn := sess.AcquireConn()
	defer sess.ReleaseConn()

	schema, err := DescribeSchema(ctx, conn, sess)
	if err != nil {
		q.Status = StatusFailed
		return q, errs.Wrap(errs.Generation, "cannot describe session schema", err)
	}

	var priorSQL, dbError string
	var lastErr error

	for q.Generations < maxGenerations {
		sql, err := p.Generator.GenerateSQL(ctx, capability.GenerateRequest{
			Question: question,
			Schema:   schema,
			Modify:   modify,
			PriorSQL: priorSQL,
			DBError:  dbError,
		})
		q.Generations++
		if err != nil {
			q.Status = StatusFailed
			if errs.KindOf(err) == "" {
				err = errs.Wrap(errs.Generation, "sql generation failed", err)
			}
			return q, err
		}
		q.SQL = sql
		q.Status = StatusGenerated

		cleaned, err := Validate(sql, sess.Owns, modify)
		if err != nil {
			// Rejected statements are terminal and never executed, repair
			// included: a model that answers policy violations with more
			// policy violations gets no further chances.
			q.Status = StatusFailed
			return q, err
		}
		q.SQL = cleaned
		q.Status = StatusValidated

		result, affected, execErr := p.execute(ctx, conn, cleaned)
		q.Attempts++
		if execErr == nil {
			q.Status = StatusSucceeded
			q.Result = result
			q.RowsAffected = affected
			return q, nil
		}

		log.WarnContext(ctx, "statement failed, repairing",
			"attempt", q.Attempts, "error", execErr.Error())
		priorSQL, dbError, lastErr = cleaned, execErr.Error(), execErr
	}

	q.Status = StatusFailed
	return q, errs.Wrap(errs.Execution, "statement failed after repair: "+priorSQL, lastErr)
}

func (p *Pipeline) execute(ctx context.Context, conn store.Conn, sql string) (*store.ResultSet, int64, error) {
	if p.StatementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.StatementTimeout)
		defer cancel()
	}

	if isRead(sql) {
		rs, err := conn.Query(ctx, sql)
		return rs, 0, err
	}
	n, err := conn.Exec(ctx, sql)
	return nil, n, err
}

func isRead(sql string) bool {
	switch strings.ToLower(firstWord(sql)) {
	case "select", "with":
		return true
	default:
		return false
	}
}

func firstWord(s string) string {
	s = strings.TrimSpace(s)
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return s[:i]
		}
	}
	return s
}
