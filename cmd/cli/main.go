package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-repo-activity/internal/clock"
	"github.com/kurihiro0119/github-repo-activity/internal/collector"
	"github.com/kurihiro0119/github-repo-activity/internal/config"
	"github.com/kurihiro0119/github-repo-activity/internal/domain"
	"github.com/kurihiro0119/github-repo-activity/internal/executor"
	"github.com/kurihiro0119/github-repo-activity/internal/job"
	"github.com/kurihiro0119/github-repo-activity/internal/ratelimit"
	"github.com/kurihiro0119/github-repo-activity/internal/scheduler"
	"github.com/kurihiro0119/github-repo-activity/internal/storage"
	"github.com/kurihiro0119/github-repo-activity/internal/storage/document"
	"github.com/kurihiro0119/github-repo-activity/internal/storage/postgres"
	"github.com/kurihiro0119/github-repo-activity/internal/storage/sqlite"
	"github.com/kurihiro0119/github-repo-activity/pkg/client"
)

var (
	outputJSON bool
	repoList   string
	batchFile  string
	resources  string
	workers    int
	itemLimit  int
	remote     bool
	listLimit  int
)

var rootCmd = &cobra.Command{
	Use:   "repo-activity",
	Short: "GitHub repository activity collector",
	Long: `A CLI tool for collecting activity data from many GitHub repositories.

Repositories are collected in parallel under one shared rate budget. Each
repository yields overview, commits, issues, pull requests, contributors,
branches, events, stars and an activity summary, stored locally per batch.`,
	SilenceUsage: true,
}

var collectCmd = &cobra.Command{
	Use:   "collect [owner/repo...]",
	Short: "Collect data for a batch of repositories",
	Long: `Collect resources for the given repositories, a repo list file
(owner/repo[:kind,kind] per line) or a TOML batch file, and store the results.`,
	RunE: runCollect,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [owner/repo] [kind]",
	Short: "Fetch one resource and print it as JSON lines",
	Args:  cobra.ExactArgs(2),
	RunE:  runFetch,
}

var reportCmd = &cobra.Command{
	Use:   "report [batch-id]",
	Short: "Show the report of a batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "List recent batches",
	Args:  cobra.NoArgs,
	RunE:  runBatches,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	collectCmd.Flags().StringVar(&repoList, "repo-list", "", "file with one owner/repo[:kinds] per line")
	collectCmd.Flags().StringVar(&batchFile, "batch-file", "", "TOML batch file")
	collectCmd.Flags().StringVar(&resources, "resources", "full", "comma separated resource kinds (default all)")
	collectCmd.Flags().IntVar(&workers, "workers", 0, "parallel workers (default WORKERS)")

	fetchCmd.Flags().IntVar(&itemLimit, "limit", -1, "maximum items (default LIMIT_<KIND>, 0 for no limit)")

	reportCmd.Flags().BoolVar(&remote, "remote", false, "read the report from the API server")
	batchesCmd.Flags().BoolVar(&remote, "remote", false, "read batches from the API server")
	batchesCmd.Flags().IntVar(&listLimit, "limit", 20, "number of batches")

	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(batchesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case "postgres":
		return postgres.NewPostgresStorage(cfg.PostgresURL)
	case "document":
		return document.NewDocumentStorage(cfg.DataDir)
	default:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	return logger
}

// newCollector wires transport, rate budget and retry policy
func newCollector(cfg *config.Config, logger *slog.Logger) (collector.Collector, error) {
	httpClient := collector.NewHTTPClient(cfg.GitHubToken, cfg.HTTPCache)
	gh, err := collector.NewGitHubClient(httpClient, cfg.GitHubAPIURL)
	if err != nil {
		return nil, err
	}

	clk := clock.Real()
	tracker := ratelimit.New(clk,
		ratelimit.WithResetMargin(cfg.ResetMargin),
		ratelimit.WithPacing(cfg.RequestsPerSecond),
		ratelimit.WithLogger(logger),
	)
	exec := executor.New(tracker, clk, executor.RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		BaseDelay:      cfg.RetryBaseDelay,
		MaxDelay:       cfg.RetryMaxDelay,
		RequestTimeout: cfg.RequestTimeout,
		SecondaryWait:  cfg.SecondaryWait,
	}, logger)

	return collector.NewGitHubCollector(gh, exec,
		collector.WithActivityWindow(cfg.ActivityWindow()),
		collector.WithLogger(logger),
	), nil
}

// gatherJobs merges positional repositories, the repo list and the batch file
func gatherJobs(args []string) ([]domain.JobRequest, int, error) {
	kinds, err := domain.ParseResourceKinds(resources)
	if err != nil {
		return nil, 0, err
	}

	var jobs []domain.JobRequest
	for _, arg := range args {
		repo, err := domain.ParseOwnerRepo(arg)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, domain.JobRequest{Repo: repo, Kinds: kinds})
	}

	if repoList != "" {
		batch, err := config.LoadBatchFile(repoList)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, batch.Jobs...)
	}

	fileWorkers := 0
	if batchFile != "" {
		batch, err := config.LoadBatchFile(batchFile)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, batch.Jobs...)
		fileWorkers = batch.Workers
	}

	if len(jobs) == 0 {
		return nil, 0, fmt.Errorf("no repositories given; pass owner/repo arguments, --repo-list or --batch-file")
	}
	return jobs, fileWorkers, nil
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg)

	jobs, fileWorkers, err := gatherJobs(args)
	if err != nil {
		return err
	}
	poolSize := cfg.Workers
	if fileWorkers > 0 {
		poolSize = fileWorkers
	}
	if workers > 0 {
		poolSize = workers
	}

	store, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	coll, err := newCollector(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// bookkeeping still has to land after an interrupt
	persistCtx := context.WithoutCancel(ctx)

	batch := newBatch(jobs, poolSize)
	if err := store.CreateBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	fmt.Printf("Batch %s: %d repositories, %d workers\n", batch.ID, len(jobs), poolSize)

	runner := job.NewRunner(coll, store,
		job.WithLimits(cfg.Limits),
		job.WithLogger(logger),
	)

	done := 0
	sched := scheduler.New(runner,
		scheduler.WithLogger(logger),
		scheduler.WithJobDone(func(result *domain.JobResult) {
			done++
			fmt.Printf("[%d/%d] %s: %s (%d items)\n", done, len(jobs), result.Repo, result.Status, result.ItemCount())
			if err := store.SaveJobResult(persistCtx, batch.ID, result); err != nil {
				logger.Warn("failed to save job result", "repo", result.Repo.String(), "error", err)
			}
		}),
	)

	report := sched.RunJobs(ctx, jobs, poolSize)
	report.BatchID = batch.ID

	batch.Status = domain.BatchCompleted
	if report.Cancelled {
		batch.Status = domain.BatchCancelled
	}
	batch.Succeeded = report.Succeeded
	batch.Partial = report.Partial
	batch.Failed = report.Failed
	batch.UpdatedAt = report.FinishedAt
	finished := report.FinishedAt
	batch.FinishedAt = &finished
	if err := store.UpdateBatch(persistCtx, batch); err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}

	if err := renderBatch(batch, report.Jobs); err != nil {
		return err
	}
	if report.Cancelled {
		return fmt.Errorf("batch %s was cancelled", batch.ID)
	}
	return nil
}

func newBatch(jobs []domain.JobRequest, poolSize int) *domain.CollectionBatch {
	var repos []domain.OwnerRepo
	var kinds []domain.ResourceKind
	for _, j := range jobs {
		repos = append(repos, j.Repo)
		kinds = append(kinds, j.Kinds...)
	}

	now := clock.Real().Now()
	return &domain.CollectionBatch{
		ID:        uuid.NewString(),
		Repos:     repos,
		Kinds:     domain.OrderKinds(kinds),
		Workers:   poolSize,
		Status:    domain.BatchInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func runFetch(cmd *cobra.Command, args []string) error {
	repo, err := domain.ParseOwnerRepo(args[0])
	if err != nil {
		return err
	}
	kind, err := domain.ParseResourceKind(args[1])
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.GitHubToken == "" {
		return fmt.Errorf("invalid config: %w", &config.ConfigError{Field: "GITHUB_TOKEN", Message: "GitHub token is required"})
	}
	logger := newLogger(cfg)

	coll, err := newCollector(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	itemCap := cfg.Limits[kind]
	if itemLimit >= 0 {
		itemCap = itemLimit
	}

	stream := coll.Fetch(domain.FetchSpec{Kind: kind, Repo: repo, ItemCap: itemCap})
	enc := json.NewEncoder(os.Stdout)
	n := 0
	for stream.Next(ctx) {
		if err := enc.Encode(stream.Item()); err != nil {
			return err
		}
		n++
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("fetched %d %s before failing: %w", n, kind, err)
	}
	logger.Info("fetch complete", "repo", repo.String(), "kind", string(kind), "items", n)
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	batchID := args[0]
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if remote {
		detail, err := client.NewClient(cfg.APIEndpoint).GetBatch(ctx, batchID)
		if err != nil {
			return fmt.Errorf("failed to get batch: %w", err)
		}
		return renderBatch(detail.Batch, detail.Jobs)
	}

	if err := cfg.ValidateStorage(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	store, err := getStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	batch, err := store.GetBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to get batch: %w", err)
	}
	jobs, err := store.GetJobResults(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to get job results: %w", err)
	}
	return renderBatch(batch, jobs)
}

func runBatches(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var batches []*domain.CollectionBatch
	if remote {
		batches, err = client.NewClient(cfg.APIEndpoint).ListBatches(ctx, listLimit)
		if err != nil {
			return fmt.Errorf("failed to list batches: %w", err)
		}
	} else {
		if err := cfg.ValidateStorage(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		store, err := getStorage(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer store.Close()

		batches, err = store.ListBatches(ctx, listLimit)
		if err != nil {
			return fmt.Errorf("failed to list batches: %w", err)
		}
	}

	return renderBatches(batches)
}

func joinKinds(kinds []domain.ResourceKind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ",")
}
