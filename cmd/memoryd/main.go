package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/memoryd/memoryd/internal/audit"
	"github.com/memoryd/memoryd/internal/config"
	"github.com/memoryd/memoryd/internal/db"
	"github.com/memoryd/memoryd/internal/ingest"
	"github.com/memoryd/memoryd/internal/llm"
	"github.com/memoryd/memoryd/internal/persist"
	"github.com/memoryd/memoryd/internal/prompts"
	"github.com/memoryd/memoryd/internal/queue"
	"github.com/memoryd/memoryd/internal/resolver"
	"github.com/memoryd/memoryd/internal/schema"
	"github.com/memoryd/memoryd/internal/server"
	"github.com/memoryd/memoryd/internal/telemetry"
	"github.com/memoryd/memoryd/internal/types"
	"github.com/memoryd/memoryd/internal/worker"
)

var listenAddr string

func main() {
	rootCmd := &cobra.Command{
		Use:   "memoryd",
		Short: "Multi-tenant memory service: ingest, extract, embed, retrieve",
		SilenceUsage: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API plus an embedded ingest worker",
		RunE:  func(cmd *cobra.Command, _ []string) error { return runServe(cmd.Context()) },
	}
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "HTTP listen address")

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a standalone ingest worker (deploy N for N-way job parallelism)",
		RunE:  func(cmd *cobra.Command, _ []string) error { return runWorker(cmd.Context()) },
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Emit and apply table/index definitions from the record registry",
		RunE:  func(cmd *cobra.Command, _ []string) error { return runMigrate(cmd.Context()) },
	}

	rootCmd.AddCommand(serveCmd, workerCmd, migrateCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "memoryd: %v\n", err)
		os.Exit(1)
	}
}

// deps is the shared wiring every subcommand needs some subset of.
type deps struct {
	cfg  *config.Config
	conn db.Conn
	exec *db.Executor
}

func connect(ctx context.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.StoragePath != "" {
		if err := audit.Init(cfg.StoragePath); err != nil {
			return nil, err
		}
	}
	conn, err := db.Connect(ctx, db.Config{
		URI:       cfg.SurrealURI,
		Username:  cfg.SurrealUsername,
		Password:  cfg.SurrealPassword,
		Namespace: cfg.SurrealNamespace,
		Database:  cfg.SurrealDatabase,
	})
	if err != nil {
		return nil, err
	}
	return &deps{cfg: cfg, conn: conn, exec: db.NewExecutor(conn)}, nil
}

// applySchema runs every registry-derived DDL statement; SCHEMALESS table
// and index definitions are idempotent, so this is safe on every start.
func applySchema(ctx context.Context, exec *db.Executor) error {
	for _, stmt := range schema.Generate() {
		if _, err := exec.Execute(ctx, stmt.SQL, nil); err != nil {
			return fmt.Errorf("apply schema for %s: %w", stmt.Table, err)
		}
	}
	return nil
}

func buildWorker(d *deps, q *queue.Queue, client *llm.Client) *worker.Worker {
	return worker.New(
		q,
		persist.NewRepository[types.IngestJob, *types.IngestJob](d.exec),
		persist.NewRepository[types.Artifact, *types.Artifact](d.exec),
		persist.NewRepository[types.ArtifactChunk, *types.ArtifactChunk](d.exec),
		client,
		d.cfg.EmbeddingModel,
	)
}

func runServe(ctx context.Context) error {
	shutdownMetrics := telemetry.Setup("memoryd")
	defer func() { _ = shutdownMetrics(context.Background()) }()

	d, err := connect(ctx)
	if err != nil {
		return err
	}
	defer d.conn.Close()

	if err := applySchema(ctx, d.exec); err != nil {
		return err
	}

	q, err := queue.Connect(ctx, d.cfg.RedisURI, d.cfg.RedisQueueName)
	if err != nil {
		return err
	}
	defer q.Close()

	client, err := llm.New(d.cfg.OpenRouterAPIKey, d.cfg.OpenRouterBaseURL, d.cfg.OpenRouterAPIKey)
	if err != nil {
		return err
	}
	store := prompts.New(d.cfg.PromptSource)
	extractor := llm.NewExtractor(client, store, d.cfg.LLMModel)

	pipeline := ingest.NewPipeline(d.exec, q)
	res := resolver.New(d.exec, extractor, client, d.cfg.EmbeddingModel)
	srv := server.New(d.exec, pipeline, res, d.cfg.CORSOrigins)

	httpSrv := &http.Server{Addr: listenAddr, Handler: srv.Handler()}

	errCh := make(chan error, 2)
	go func() {
		w := buildWorker(d, q, client)
		errCh <- w.Run(ctx)
	}()
	go func() {
		fmt.Printf("memoryd: listening on %s\n", listenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func runWorker(ctx context.Context) error {
	shutdownMetrics := telemetry.Setup("memoryd-worker")
	defer func() { _ = shutdownMetrics(context.Background()) }()

	d, err := connect(ctx)
	if err != nil {
		return err
	}
	defer d.conn.Close()

	q, err := queue.Connect(ctx, d.cfg.RedisURI, d.cfg.RedisQueueName)
	if err != nil {
		return err
	}
	defer q.Close()

	client, err := llm.New(d.cfg.OpenRouterAPIKey, d.cfg.OpenRouterBaseURL, d.cfg.OpenRouterAPIKey)
	if err != nil {
		return err
	}

	fmt.Printf("memoryd: worker consuming queue %q\n", d.cfg.RedisQueueName)
	return buildWorker(d, q, client).Run(ctx)
}

func runMigrate(ctx context.Context) error {
	d, err := connect(ctx)
	if err != nil {
		return err
	}
	defer d.conn.Close()

	statements := schema.Generate()
	if err := applySchema(ctx, d.exec); err != nil {
		return err
	}
	fmt.Printf("memoryd: applied %d schema statements\n", len(statements))
	return nil
}
