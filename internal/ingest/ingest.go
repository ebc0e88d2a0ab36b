// Package ingest runs the full file-to-table pipeline: decode the upload,
// normalize every raw table it yields, and materialize each one under the
// session's connection lease.
//
// One file can fan out into several relations (workbook sheets, multiple
// HTML tables). A file that cannot be decoded fails as a whole; a file that
// decodes materializes as far as it can, with per-row failures absorbed into
// the import summary.
package ingest

import (
	"context"
	"time"

	"github.com/blacksamuraiiii/xiyan-web/internal/decode"
	"github.com/blacksamuraiiii/xiyan-web/internal/errs"
	"github.com/blacksamuraiiii/xiyan-web/internal/logging"
	"github.com/blacksamuraiiii/xiyan-web/internal/materialize"
	"github.com/blacksamuraiiii/xiyan-web/internal/metrics"
	"github.com/blacksamuraiiii/xiyan-web/internal/normalize"
	"github.com/blacksamuraiiii/xiyan-web/internal/session"
)

// Importer wires the three pipeline stages together.
type Importer struct {
	Decoder      *decode.Decoder
	Materializer *materialize.Materializer
	// NullTokens overrides the normalizer's default NULL token set.
	NullTokens []string
	// Metrics receives import counters and durations; nil means none.
	Metrics metrics.Backend
}

// Options tunes one import call.
type Options struct {
	// Append re-imports into an existing owned relation when columns match.
	Append bool
}

// ImportFile runs one uploaded file through the pipeline and returns what
// was persisted, one entry per decoded table.
func (im *Importer) ImportFile(ctx context.Context, sess *session.Session, filename string, data []byte, opts Options) ([]materialize.PersistedTable, error) {
	start := time.Now()
	log := logging.WithFields(ctx, "file", filename, "session_id", sess.ID)

	tables, err := im.importFile(ctx, sess, filename, data, opts)
	sess.Touch()

	status := "ok"
	if err != nil {
		status = string(errs.KindOf(err))
		if status == "" {
			status = "error"
		}
		log.ErrorContext(ctx, "import failed", "error", err.Error())
	}

	if im.Metrics != nil {
		im.Metrics.IncCounter(metrics.ImportsTotal, 1, metrics.Labels{"status": status})
		metrics.Since(im.Metrics, metrics.ImportDurationSeconds, start, metrics.Labels{"status": status})
		for _, pt := range tables {
			im.Metrics.IncCounter(metrics.ImportRowsTotal, float64(pt.Inserted), metrics.Labels{"kind": "inserted"})
			im.Metrics.IncCounter(metrics.ImportRowsTotal, float64(pt.Skipped), metrics.Labels{"kind": "skipped"})
		}
	}
	return tables, err
}

func (im *Importer) importFile(ctx context.Context, sess *session.Session, filename string, data []byte, opts Options) ([]materialize.PersistedTable, error) {
	raws, err := im.Decoder.Decode(ctx, filename, data)
	if err != nil {
		return nil, err
	}

	conn := sess.AcquireConn()
	defer sess.ReleaseConn()

	out := make([]materialize.PersistedTable, 0, len(raws))
	for i, raw := range raws {
		ct := normalize.Table(raw, normalize.Options{NullTokens: im.NullTokens})
		pt, err := im.Materializer.Materialize(ctx, conn, sess, ct, materialize.Options{
			Append:        opts.Append,
			FallbackIndex: i + 1,
		})
		if err != nil {
			// Tables already persisted from this file stay; they are owned
			// and usable even though the file did not import completely.
			return out, err
		}
		out = append(out, pt)
	}
	return out, nil
}
