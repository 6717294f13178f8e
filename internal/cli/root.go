// Package cli provides the command-line interface for escograph.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/escograph/internal/config"
	"github.com/raphaelgruber/escograph/internal/db"
	"github.com/raphaelgruber/escograph/internal/ingest"
	"github.com/raphaelgruber/escograph/internal/llm"
	"github.com/raphaelgruber/escograph/internal/metrics"
	"github.com/raphaelgruber/escograph/internal/reader"
	"github.com/raphaelgruber/escograph/internal/service"
	"github.com/raphaelgruber/escograph/internal/store"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config and db client
	cfg      config.Config
	dbClient *db.Client
	closeLog func() error

	// Lazy-initialized embedder
	embedder *llm.Embedder
)

// offline marks commands that never touch the database.
const offline = "offline"

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "escograph",
	Short: "ESCO taxonomy ingestion and search on SurrealDB",
	Long: `Escograph loads the ESCO taxonomy (occupations, skills, ISCO groups,
skill groups and collections) from its CSV export into SurrealDB and answers
semantic queries over it.

Ingestion progress is tracked in a status record so that concurrent
containers agree on whether a run is needed, in progress, or done.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}

		var logger *slog.Logger
		logger, closeLog = config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		slog.SetDefault(logger)

		if cmd.Annotations[offline] == "true" || (cmd == ingestCmd && ingestDryRun) {
			return nil
		}

		ctx := cmd.Context()
		dbClient, err = connect(ctx)
		if err != nil {
			return err
		}
		if err := dbClient.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if dbClient != nil {
			if err := dbClient.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// connect opens the database, retrying ConnectRetries times since the
// database container may still be starting.
func connect(ctx context.Context) (*db.Client, error) {
	dbCfg := db.Config{
		URL:        cfg.SurrealDBURL,
		Namespace:  cfg.SurrealDBNamespace,
		Database:   cfg.SurrealDBDatabase,
		Username:   cfg.SurrealDBUser,
		Password:   cfg.SurrealDBPass,
		AuthLevel:  cfg.SurrealDBAuthLevel,
		MaxRetries: cfg.SurrealDBMaxRetries,
	}
	if cfg.EmbeddingsEnabled() {
		dbCfg.EmbeddingDimension = cfg.EmbedDimension
	}

	attempts := max(cfg.ConnectRetries, 1)
	var lastErr error
	for i := 1; i <= attempts; i++ {
		client, err := db.NewClient(ctx, dbCfg, slog.Default())
		if err == nil {
			return client, nil
		}
		lastErr = err
		slog.Warn("database not reachable", "attempt", i, "max_attempts", attempts, "error", err)
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.ConnectRetryInterval):
		}
	}
	return nil, fmt.Errorf("connect to database after %d attempts: %w", attempts, lastErr)
}

// getEmbedder creates the embedder on first use. It returns nil when
// embeddings are disabled.
func getEmbedder(ctx context.Context) (*llm.Embedder, error) {
	if !cfg.EmbeddingsEnabled() {
		return nil, nil
	}
	if embedder == nil {
		var err error
		embedder, err = llm.NewEmbedder(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init embedder: %w", err)
		}
	}
	return embedder, nil
}

// getIngestionService wires the pipeline over st. The returned collector
// receives the step timings of a run.
func getIngestionService(ctx context.Context, st store.Store, withEmbeddings bool) (*service.IngestionService, *metrics.Collector, error) {
	var emb ingest.Embedder
	if withEmbeddings {
		e, err := getEmbedder(ctx)
		if err != nil {
			return nil, nil, err
		}
		if e != nil {
			emb = e
		}
	}

	collector := metrics.NewCollector()
	orch := ingest.NewOrchestrator(st, reader.New(cfg.DataDir, cfg.BatchSize), emb, collector)
	return service.NewIngestionService(st, orch, cfg), collector, nil
}

// getSearchService returns a search service over the database.
func getSearchService(ctx context.Context) (*service.SearchService, error) {
	e, err := getEmbedder(ctx)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return service.NewSearchService(dbClient, nil).WithConcurrency(cfg.EnrichConcurrency), nil
	}
	return service.NewSearchService(dbClient, e).WithConcurrency(cfg.EnrichConcurrency), nil
}

// Execute adds all child commands to the root command and runs it until
// completion or SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(waitCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(enrichCmd)
	rootCmd.AddCommand(resetCmd)
}
