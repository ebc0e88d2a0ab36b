// Command xiyan-web serves the chat-with-your-data API: upload tabular files
// into session-scoped database tables and query them in natural language.
// The import subcommand runs the same pipeline once from the shell.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blacksamuraiiii/xiyan-web/internal/capability"
	"github.com/blacksamuraiiii/xiyan-web/internal/config"
	"github.com/blacksamuraiiii/xiyan-web/internal/decode"
	"github.com/blacksamuraiiii/xiyan-web/internal/ingest"
	"github.com/blacksamuraiiii/xiyan-web/internal/logging"
	"github.com/blacksamuraiiii/xiyan-web/internal/materialize"
	"github.com/blacksamuraiiii/xiyan-web/internal/metrics"
	"github.com/blacksamuraiiii/xiyan-web/internal/metrics/datadog"
	"github.com/blacksamuraiiii/xiyan-web/internal/query"
	"github.com/blacksamuraiiii/xiyan-web/internal/session"
	"github.com/blacksamuraiiii/xiyan-web/internal/store"
	_ "github.com/blacksamuraiiii/xiyan-web/internal/store/all"
	"github.com/blacksamuraiiii/xiyan-web/internal/web"
)

var appendImport bool

var rootCmd = &cobra.Command{
	Use:   "xiyan-web",
	Short: "Upload tabular files and query them in natural language",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE:  runServe,
}

var importCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Import files into a one-shot session and print the resulting tables",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runImport,
}

func init() {
	importCmd.Flags().BoolVar(&appendImport, "append", false, "append to existing tables when columns match")
	rootCmd.AddCommand(serveCmd, importCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds the assembled pipeline shared by both subcommands.
type app struct {
	cfg      *config.Config
	pool     *session.Pool
	registry *session.Registry
	importer *ingest.Importer
	pipeline *query.Pipeline
	metrics  metrics.Backend
	ddClose  func() error
}

func buildApp(ctx context.Context) (*app, error) {
	cfg := config.MustLoad()
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	st, err := store.Open(ctx, store.Config{Kind: cfg.Database.Kind, DSN: cfg.Database.DSN})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var backend metrics.Backend = metrics.Nop{}
	var ddClose func() error
	if cfg.Metrics.Backend == "datadog" {
		dd, err := datadog.NewBackend(ctx, datadog.Options{Service: cfg.Metrics.Service})
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("datadog backend: %w", err)
		}
		backend = dd
		ddClose = dd.Close
	}

	pool := session.NewPool(st, cfg.Database.PoolSize, cfg.Database.CheckoutTimeout)
	registry := session.NewRegistry(pool, cfg.Import.SessionMaxAge, slog.Default())
	registry.Metrics = backend

	decoder := &decode.Decoder{}
	if cfg.OCR.BaseURL != "" {
		// Without a configured vision model, image and PDF uploads are
		// rejected with an extraction error instead of failing mid-call.
		decoder.Extractor = capability.NewVisionClient(cfg.OCR)
	}

	importer := &ingest.Importer{
		Decoder:      decoder,
		Materializer: &materialize.Materializer{BatchSize: cfg.Import.BatchSize},
		Metrics:      backend,
	}
	pipeline := &query.Pipeline{
		Generator:        capability.NewSQLClient(cfg.SQLGen),
		StatementTimeout: cfg.Database.StatementTimeout,
		Metrics:          backend,
	}

	return &app{
		cfg:      cfg,
		pool:     pool,
		registry: registry,
		importer: importer,
		pipeline: pipeline,
		metrics:  backend,
		ddClose:  ddClose,
	}, nil
}

func (a *app) shutdown(ctx context.Context) {
	a.pool.Drain(ctx)
	if a.ddClose != nil {
		if err := a.ddClose(); err != nil {
			slog.Error("metrics flush on shutdown failed", "error", err)
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown(context.Background())

	a.registry.StartSweeper(ctx, a.cfg.Import.SessionMaxAge/4)

	srv := web.NewServer(*a.cfg, a.registry, a.importer, a.pipeline)
	slog.Info("listening",
		"host", a.cfg.Server.Host,
		"port", a.cfg.Server.Port,
		"db_kind", a.cfg.Database.Kind,
	)
	return srv.ListenAndServe(ctx)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown(context.Background())

	sess, err := a.registry.Connect(ctx)
	if err != nil {
		return err
	}
	defer a.registry.Disconnect(context.Background(), sess.ID)

	var failed bool
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
			continue
		}

		tables, err := a.importer.ImportFile(ctx, sess, path, data, ingest.Options{Append: appendImport})
		for _, pt := range tables {
			fmt.Printf("%s -> %s (%d rows inserted, %d skipped)\n", path, pt.Name, pt.Inserted, pt.Skipped)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("one or more files failed to import")
	}
	return nil
}
