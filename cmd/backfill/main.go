// Command backfill ingests bulk public-spending exports over a date
// range, window by window, resolving organization names to tickers and
// merging the rows into the warehouse.
//
// Dates come from --start/--end, then BACKFILL_START/BACKFILL_END, then
// a hard-coded default range. DATABASE_URL points at the warehouse
// (not required with --dry-run).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"govsignal/pkg/core/bulkexport"
	"govsignal/pkg/core/logging"
	"govsignal/pkg/core/pipeline"
	"govsignal/pkg/core/resolver"
	"govsignal/pkg/core/source"
	"govsignal/pkg/core/warehouse"
)

const (
	dateLayout = "2006-01-02"

	// Fallback range when neither flags nor env provide one.
	defaultStart = "2024-01-01"
	defaultEnd   = "2024-06-30"

	registryCacheDir = ".cache/registry"
)

func main() {
	// The .env file must be in the environment before cobra runs, so the
	// BACKFILL_* fallbacks in resolveRange can see it.
	loadEnv()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadEnv pulls a .env file into the process environment. A missing
// file is the normal case outside development.
func loadEnv() {
	_ = godotenv.Load()
}

func newRootCommand() *cobra.Command {
	var (
		startStr   string
		endStr     string
		sourceName string
		chunkDays  int
		dryRun     bool
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Backfill public-spending signals into the warehouse",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := resolveRange(startStr, endStr)
			if err != nil {
				return err
			}
			return run(cmd.Context(), runConfig{
				start:      start,
				end:        end,
				sourceName: sourceName,
				chunkDays:  chunkDays,
				dryRun:     dryRun,
				logger:     logging.New(logLevel),
			})
		},
	}

	cmd.Flags().StringVar(&startStr, "start", "", "range start, YYYY-MM-DD (default: BACKFILL_START or "+defaultStart+")")
	cmd.Flags().StringVar(&endStr, "end", "", "range end, YYYY-MM-DD (default: BACKFILL_END or "+defaultEnd+")")
	cmd.Flags().StringVar(&sourceName, "source", "awards", "feed to ingest: awards, lobbying, or all")
	cmd.Flags().IntVar(&chunkDays, "chunk-days", 7, "days per export window")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the full pipeline without writing the warehouse")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	return cmd
}

// resolveRange applies the flag > env > default precedence and parses
// both dates. A date that does not parse is a usage error.
func resolveRange(startStr, endStr string) (time.Time, time.Time, error) {
	if startStr == "" {
		startStr = os.Getenv("BACKFILL_START")
	}
	if startStr == "" {
		startStr = defaultStart
	}
	if endStr == "" {
		endStr = os.Getenv("BACKFILL_END")
	}
	if endStr == "" {
		endStr = defaultEnd
	}

	start, err := time.Parse(dateLayout, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q, expected YYYY-MM-DD", startStr)
	}
	end, err := time.Parse(dateLayout, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q, expected YYYY-MM-DD", endStr)
	}
	return start, end, nil
}

type runConfig struct {
	start, end time.Time
	sourceName string
	chunkDays  int
	dryRun     bool
	logger     *slog.Logger
}

func run(ctx context.Context, cfg runConfig) error {
	logger := cfg.logger

	var sources []source.Source
	if cfg.sourceName == "all" {
		sources = source.All()
	} else {
		s, err := source.ByName(cfg.sourceName)
		if err != nil {
			return err
		}
		sources = []source.Source{s}
	}

	windows, err := pipeline.Windows(cfg.start, cfg.end, cfg.chunkDays)
	if err != nil {
		return err
	}

	// The resolver is shared across sources; a load failure degrades it
	// but does not stop the run.
	registry := resolver.NewRegistryClient("", registryCacheDir, logger)
	res := resolver.New(ctx, registry, logger)

	var merger pipeline.Merger = pipeline.DiscardMerger{}
	if cfg.dryRun {
		logger.Info("dry run: warehouse writes disabled")
	} else {
		dsn := os.Getenv("DATABASE_URL")
		if dsn == "" {
			return fmt.Errorf("DATABASE_URL is not set (use --dry-run to skip warehouse writes)")
		}
		store, err := warehouse.New(ctx, dsn, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.EnsureSchema(ctx, sources); err != nil {
			return err
		}
		merger = store
	}

	exporter := bulkexport.NewClient(logger)

	for _, src := range sources {
		logger.Info("backfill starting",
			"source", src.Name,
			"start", cfg.start.Format(dateLayout), "end", cfg.end.Format(dateLayout),
			"windows", len(windows), "chunk_days", cfg.chunkDays)

		orch := pipeline.NewOrchestrator(exporter, res, merger, src, logger)
		reports := orch.Backfill(ctx, windows)

		var done, failed, upserted int
		for _, rep := range reports {
			if rep.State == pipeline.StateDone {
				done++
				upserted += rep.Upserted
			} else {
				failed++
			}
		}
		logger.Info("backfill finished",
			"source", src.Name, "windows_done", done, "windows_failed", failed, "rows_upserted", upserted)
	}
	return nil
}
