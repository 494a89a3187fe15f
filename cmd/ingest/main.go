package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/openhealth/gho-ingest/internal/config"
	"github.com/openhealth/gho-ingest/internal/exitcodes"
	"github.com/openhealth/gho-ingest/internal/gho"
	"github.com/openhealth/gho-ingest/internal/ledger"
	"github.com/openhealth/gho-ingest/internal/logging"
	"github.com/openhealth/gho-ingest/internal/notify"
	"github.com/openhealth/gho-ingest/internal/pipeline"
	"github.com/openhealth/gho-ingest/internal/progress"
	"github.com/openhealth/gho-ingest/internal/store"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "gho-ingest",
		Usage:   "Resumable WHO GHO observation ingest into PostgreSQL",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.BoolFlag{
				Name:  "output-json",
				Usage: "Output JSON run summary to stdout on completion (logs go to stderr)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			// Set log level from flag
			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return err
			}
			logging.SetLevel(level)

			// Set log format
			if c.String("log-format") == "json" {
				logging.SetFormat("json")
			}

			// Redirect logs to stderr when JSON output is enabled
			if c.Bool("output-json") {
				logging.SetOutput(os.Stderr)
			}

			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Start an ingest run (resumes from checkpoints by default)",
				Action: runIngest,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Cap on total fetched records across partitions (dev runs)",
					},
					&cli.BoolFlag{
						Name:  "full-reingest",
						Usage: "Discard checkpoints and re-extract every partition from the start",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of parallel partition workers",
					},
					&cli.StringFlag{
						Name:  "indicators",
						Usage: "Comma-separated indicator allow-list (default: all indicators)",
					},
					&cli.StringFlag{
						Name:  "run-id",
						Usage: "Explicit run ID (for Airflow, default: auto-generated UUID)",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show the last ingest run",
				Action: showStatus,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output status as JSON",
					},
				},
			},
			{
				Name:   "history",
				Usage:  "List recent ingest runs",
				Action: showHistory,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitcodes.FromError(err))
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	configPath := c.String("config")
	if _, err := os.Stat(configPath); os.IsNotExist(err) && !c.IsSet("config") {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}
	return config.Load(configPath)
}

func runIngest(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override from flags
	if c.IsSet("workers") {
		cfg.Ingest.Workers = c.Int("workers")
	}
	if c.IsSet("limit") {
		cfg.Ingest.DevRunLimit = c.Int("limit")
	}
	if c.Bool("full-reingest") {
		cfg.Ingest.FullReingest = true
	}
	if c.IsSet("indicators") {
		cfg.API.IndicatorCodes = c.String("indicators")
	}

	runID := c.String("run-id")
	if runID == "" {
		runID = uuid.New().String()
	}

	// Handle graceful shutdown; the in-flight page commits before exit
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted. Checkpoints hold committed progress...")
		cancel()
	}()

	st, err := store.New(ctx, &cfg.Database, cfg.Ingest.BatchSize)
	if err != nil {
		return fmt.Errorf("connecting to analytics database: %w", err)
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	runs, err := ledger.Open(cfg.Ingest.DataDir)
	if err != nil {
		return err
	}
	defer runs.Close()

	retry := gho.RetryPolicy{
		MaxAttempts:    cfg.API.MaxRetries,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
	client := gho.NewClient(cfg.API.BaseURL, cfg.API.PageSize,
		time.Duration(cfg.API.TimeoutSecs)*time.Second, retry)

	coord := pipeline.New(cfg,
		pipeline.ClientSource{Client: client},
		st, runs, notify.New(&cfg.Slack), progress.New())

	logging.Info("Starting ingest run %s", runID)
	result, runErr := coord.Run(ctx, runID)

	if c.Bool("output-json") && result != nil {
		if err := printRunJSON(result, runErr); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to output JSON: %v\n", err)
		}
	}

	return runErr
}

// runOutput is the machine-readable run summary for --output-json.
type runOutput struct {
	RunID               string   `json:"run_id"`
	Status              string   `json:"status"`
	PartitionsProcessed int      `json:"partitions_processed"`
	PartitionsSkipped   int      `json:"partitions_skipped"`
	RecordsFetched      int64    `json:"records_fetched"`
	RecordsAccepted     int64    `json:"records_accepted"`
	RecordsRejected     int64    `json:"records_rejected"`
	DurationSecs        float64  `json:"duration_secs"`
	SkippedPartitions   []string `json:"skipped_partitions,omitempty"`
	Error               string   `json:"error,omitempty"`
}

func printRunJSON(result *pipeline.Result, runErr error) error {
	out := runOutput{
		RunID:               result.RunID,
		Status:              result.Status,
		PartitionsProcessed: result.Summary.PartitionsProcessed,
		PartitionsSkipped:   result.Summary.PartitionsSkipped,
		RecordsFetched:      result.Summary.RecordsFetched,
		RecordsAccepted:     result.Summary.RecordsAccepted,
		RecordsRejected:     result.Summary.RecordsRejected,
		DurationSecs:        result.Summary.DurationSecs,
		SkippedPartitions:   result.SkippedPartitions,
	}
	if runErr != nil {
		out.Error = runErr.Error()
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func openLedger(c *cli.Context) (*ledger.Ledger, error) {
	dataDir := ""
	if cfg, err := loadConfig(c); err == nil {
		dataDir = cfg.Ingest.DataDir
	}
	if dataDir == "" {
		dir, err := config.DefaultDataDir()
		if err != nil {
			return nil, err
		}
		dataDir = dir
	}
	return ledger.Open(dataDir)
}

func showStatus(c *cli.Context) error {
	runs, err := openLedger(c)
	if err != nil {
		return err
	}
	defer runs.Close()

	last, err := runs.GetLastRun()
	if err != nil {
		return err
	}

	if c.Bool("json") {
		out := map[string]any{"status": "no_runs"}
		if last != nil {
			out = map[string]any{
				"run_id":               last.ID,
				"status":               last.Status,
				"started_at":           last.StartedAt.Format(time.RFC3339),
				"partitions_processed": last.PartitionsProcessed,
				"partitions_skipped":   last.PartitionsSkipped,
				"records_fetched":      last.RecordsFetched,
				"records_accepted":     last.RecordsAccepted,
				"records_rejected":     last.RecordsRejected,
			}
			if last.FinishedAt != nil {
				out["finished_at"] = last.FinishedAt.Format(time.RFC3339)
			}
			if last.Error != "" {
				out["error"] = last.Error
			}
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if last == nil {
		fmt.Println("No ingest runs found")
		return nil
	}

	printRun(last)
	return nil
}

func printRun(run *ledger.Run) {
	fmt.Printf("Run:        %s\n", run.ID)
	fmt.Printf("Status:     %s\n", run.Status)
	fmt.Printf("Started:    %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.FinishedAt != nil {
		fmt.Printf("Finished:   %s\n", run.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Partitions: %d processed, %d skipped\n", run.PartitionsProcessed, run.PartitionsSkipped)
	fmt.Printf("Records:    %d fetched, %d accepted, %d rejected\n",
		run.RecordsFetched, run.RecordsAccepted, run.RecordsRejected)
	if run.Error != "" {
		fmt.Printf("Error:      %s\n", run.Error)
	}
}

func showHistory(c *cli.Context) error {
	runs, err := openLedger(c)
	if err != nil {
		return err
	}
	defer runs.Close()

	all, err := runs.GetAllRuns()
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Println("No ingest runs found")
		return nil
	}

	fmt.Printf("%-38s %-9s %-20s %12s %12s %10s\n",
		"Run ID", "Status", "Started", "Accepted", "Rejected", "Skipped")
	for _, run := range all {
		fmt.Printf("%-38s %-9s %-20s %12d %12d %10d\n",
			run.ID,
			run.Status,
			run.StartedAt.Format("2006-01-02 15:04:05"),
			run.RecordsAccepted,
			run.RecordsRejected,
			run.PartitionsSkipped)
	}
	return nil
}
