// Package main provides the index maintenance CLI for the Miliastra
// knowledge base.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/1475505/Miliastra-toolbox/internal/config"
	"github.com/1475505/Miliastra-toolbox/internal/document"
	"github.com/1475505/Miliastra-toolbox/internal/embedding"
	"github.com/1475505/Miliastra-toolbox/internal/indexer"
	"github.com/1475505/Miliastra-toolbox/internal/markdown"
	"github.com/1475505/Miliastra-toolbox/internal/quota"
	"github.com/1475505/Miliastra-toolbox/internal/source"
	"github.com/1475505/Miliastra-toolbox/internal/storage"
)

var (
	flagForce     bool
	flagClear     bool
	flagGitHub    string
	flagBasePath  string
	flagSourceDir string
	flagKeepDays  int
)

var rootCmd = &cobra.Command{
	Use:   "miliastra-sync",
	Short: "Miliastra knowledge base indexing tool",
	Long:  "CLI tool for maintaining the Miliastra knowledge index in Qdrant",
}

var syncCmd = &cobra.Command{
	Use:   "sync [dir ...]",
	Short: "Incrementally index markdown directories",
	Long: `Indexes every markdown file under the given directories.

Each directory's base name becomes the provenance tag of its documents,
so a corpus laid out as knowledge/official and knowledge/user_contrib
tags itself. Already-indexed documents are skipped unless --force is set
or the document's frontmatter carries a truthy force flag.

Environment variables:
  QDRANT_HOST      Qdrant hostname (default: localhost)
  QDRANT_PORT      Qdrant gRPC port (default: 6334)
  OPENAI_API_KEY   API key for the embedding backend (required)
  OPENAI_BASE_URL  OpenAI-compatible endpoint (optional)`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSync,
}

var embedCmd = &cobra.Command{
	Use:   "embed <file.md>",
	Short: "Index a single markdown file",
	Args:  cobra.ExactArgs(1),
	RunE:  runEmbed,
}

var checkCmd = &cobra.Command{
	Use:   "check <doc_id>",
	Short: "Report whether a document is indexed",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report collection health and chunk count",
	RunE:  runStatus,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete quota counters older than the retention window",
	RunE:  runPrune,
}

func init() {
	syncCmd.Flags().BoolVar(&flagForce, "force", false, "re-embed documents even when already indexed")
	syncCmd.Flags().BoolVar(&flagClear, "clear", false, "drop and recreate the collection before indexing")
	syncCmd.Flags().StringVar(&flagGitHub, "github", "", "also index a GitHub repo, as owner/repo")
	syncCmd.Flags().StringVar(&flagBasePath, "github-path", "", "subdirectory of the GitHub repo to index")
	embedCmd.Flags().BoolVar(&flagForce, "force", false, "re-embed even when already indexed")
	embedCmd.Flags().StringVar(&flagSourceDir, "source-dir", "official", "provenance tag for the document")
	pruneCmd.Flags().IntVar(&flagKeepDays, "keep-days", 30, "days of quota history to keep")
	rootCmd.AddCommand(syncCmd, embedCmd, checkCmd, statusCmd, pruneCmd)
}

func main() {
	// Load .env if present (local development), ignore if missing.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.Load()
	start := time.Now()

	store, ix, err := buildIndexer(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if flagClear {
		fmt.Println("Clearing existing collection...")
		if err := store.ClearCollection(ctx); err != nil {
			return fmt.Errorf("clear collection: %w", err)
		}
	}

	var sources []source.Source
	for _, dir := range args {
		sources = append(sources, source.NewDirSource(dir))
	}
	if flagGitHub != "" {
		gh, err := githubSource(flagGitHub, flagBasePath)
		if err != nil {
			return err
		}
		sources = append(sources, gh)
	}

	fmt.Println("Indexing documents...")
	summary, err := ix.Sync(ctx, sources, flagForce)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Println()
	fmt.Println("Sync complete!")
	fmt.Printf("  Processed: %d\n", summary.Processed)
	fmt.Printf("  Updated:   %d\n", summary.Updated)
	fmt.Printf("  Skipped:   %d\n", summary.Skipped)
	fmt.Printf("  Errors:    %d\n", summary.Errors)
	fmt.Printf("  Chunks:    %d\n", summary.Chunks)
	fmt.Printf("  Duration:  %s\n", summary.Duration.Round(time.Second))

	if len(summary.Failed) > 0 {
		fmt.Println()
		fmt.Println("Failed documents:")
		for _, failed := range summary.Failed {
			fmt.Printf("  - %s: %s\n", failed.DocID, failed.Reason)
		}
	}

	fmt.Println()
	fmt.Printf("Total time: %s\n", time.Since(start).Round(time.Second))
	return nil
}

func runEmbed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.Load()

	store, ix, err := buildIndexer(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	meta, body := markdown.ExtractFrontmatter(string(raw))
	doc := document.New(flagSourceDir, filepath.Base(args[0]), body, meta)

	outcome, err := ix.EmbedOne(ctx, doc, flagForce)
	if err != nil {
		if errors.Is(err, indexer.ErrEmptyDocument) {
			return fmt.Errorf("%s has an empty body", args[0])
		}
		return err
	}
	fmt.Printf("%s: %s\n", doc.DocID, outcome)
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.Load()

	store, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	exists, err := store.Exists(ctx, args[0])
	if err != nil {
		return fmt.Errorf("existence check failed: %w", err)
	}
	if exists {
		fmt.Printf("%s: indexed\n", args[0])
	} else {
		fmt.Printf("%s: not indexed\n", args[0])
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.Load()

	store, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	count, err := store.Count(ctx)
	if err != nil {
		return fmt.Errorf("count failed: %w", err)
	}
	fmt.Printf("Collection: %s\n", cfg.Collection)
	fmt.Printf("Chunks:     %d\n", count)
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.Load()

	counters, err := quota.OpenSQLite(cfg.QuotaDBPath)
	if err != nil {
		return err
	}
	defer counters.Close()

	ledger := quota.NewLedger(counters, cfg.LimitedChannels, cfg.DailyLimit, slog.Default())
	deleted, err := ledger.Prune(ctx, flagKeepDays)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d counter rows older than %d days\n", deleted, flagKeepDays)
	return nil
}

func connect(ctx context.Context, cfg *config.Config) (*storage.QdrantStore, error) {
	fmt.Printf("Connecting to Qdrant at %s:%d...\n", cfg.QdrantHost, cfg.QdrantPort)
	store, err := storage.NewQdrantStore(cfg.QdrantHost, cfg.QdrantPort, cfg.Collection, cfg.VectorDim)
	if err != nil {
		return nil, fmt.Errorf("connect to Qdrant: %w", err)
	}
	if err := store.EnsureCollection(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	return store, nil
}

func buildIndexer(ctx context.Context, cfg *config.Config) (*storage.QdrantStore, *indexer.Indexer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	store, err := connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	embedder, err := embedding.NewEmbedder(cfg.APIKey, cfg.APIBaseURL, cfg.EmbeddingModel, 0)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	chunker := markdown.NewChunker(cfg.MaxChunkSize, cfg.ChunkOverlap)
	return store, indexer.New(chunker, embedder, store, slog.Default()), nil
}

func githubSource(spec, basePath string) (source.Source, error) {
	owner, repo, ok := splitRepo(spec)
	if !ok {
		return nil, fmt.Errorf("invalid --github value %q, want owner/repo", spec)
	}
	return source.NewGitHubSource(owner, repo, basePath, repo, os.Getenv("GITHUB_TOKEN"))
}

func splitRepo(spec string) (owner, repo string, ok bool) {
	for i := range spec {
		if spec[i] == '/' {
			if i == 0 || i == len(spec)-1 {
				return "", "", false
			}
			return spec[:i], spec[i+1:], true
		}
	}
	return "", "", false
}
