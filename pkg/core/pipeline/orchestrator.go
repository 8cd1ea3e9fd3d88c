// Package pipeline orchestrates the windowed ingestion flow: request a
// bulk export per date window, wait for generation, download, parse,
// resolve organization names to tickers, and merge the survivors into
// the warehouse. One window's failure never stops the backfill.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"govsignal/pkg/core/bulkexport"
	"govsignal/pkg/core/resolver"
	"govsignal/pkg/core/retry"
	"govsignal/pkg/core/source"
	"govsignal/pkg/models"
)

// State is where a window's run ended up.
type State string

const (
	StateRequested State = "REQUESTED"
	StatePolling   State = "POLLING"
	StateReady     State = "READY"
	StateParsing   State = "PARSING"
	StateUpserting State = "UPSERTING"
	StateDone      State = "DONE"
	StateAborted   State = "ABORTED"
	StateTimeout   State = "TIMEOUT"
)

// Exporter is the bulk-export protocol the orchestrator drives.
// *bulkexport.Client implements it.
type Exporter interface {
	Request(ctx context.Context, url string, payload any) (fileURL, statusURL string, err error)
	AwaitFile(ctx context.Context, statusURL string) (string, error)
	Download(ctx context.Context, fileURL string) ([]byte, error)
}

// TickerResolver maps an organization name to a ticker, or reports no
// match. *resolver.Resolver implements it.
type TickerResolver interface {
	Resolve(name string) (string, bool)
}

// Merger persists resolved rows idempotently. *warehouse.Store
// implements it.
type Merger interface {
	MergeRows(ctx context.Context, src source.Source, rows []models.ResolvedRecord) (int, error)
}

// DiscardMerger satisfies Merger without a warehouse behind it, for dry
// runs. It accepts every batch and reports zero rows written.
type DiscardMerger struct{}

func (DiscardMerger) MergeRows(ctx context.Context, src source.Source, rows []models.ResolvedRecord) (int, error) {
	return 0, nil
}

// Report summarizes one window's run, including row attrition at each
// stage.
type Report struct {
	Window Window
	RunID  string
	State  State
	Err    error

	Scanned        int // rows read from the export
	Torn           int // dropped: csv lines that did not parse as rows
	Malformed      int // dropped: unparseable amount, date, or name
	BelowThreshold int // dropped: amount under the source threshold
	NonCorporate   int // dropped: name has no company-style token
	Unresolved     int // dropped: no registry entry cleared the threshold
	Resolved       int // rows that resolved to a ticker
	Upserted       int // rows the merger reported written
}

// Orchestrator runs the per-window state machine for one source.
type Orchestrator struct {
	exporter Exporter
	resolver TickerResolver
	store    Merger
	src      source.Source
	logger   *slog.Logger

	chunkSize int
	batchSize int
	pause     time.Duration
	sleep     retry.SleepFunc
}

// NewOrchestrator wires an orchestrator with production defaults: 5000
// CSV rows per parse chunk, 500 rows per merge batch, 2s pause between
// windows.
func NewOrchestrator(exporter Exporter, res TickerResolver, store Merger, src source.Source, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		exporter:  exporter,
		resolver:  res,
		store:     store,
		src:       src,
		logger:    logger,
		chunkSize: bulkexport.DefaultChunkSize,
		batchSize: 500,
		pause:     2 * time.Second,
		sleep:     time.Sleep,
	}
}

// SetPause overrides the inter-window pause and the sleep hook.
func (o *Orchestrator) SetPause(d time.Duration, sleep retry.SleepFunc) {
	o.pause = d
	if sleep != nil {
		o.sleep = sleep
	}
}

// Backfill runs every window in order, isolating failures: an aborted
// or timed-out window is logged and the driver moves on. Reports come
// back in window order.
func (o *Orchestrator) Backfill(ctx context.Context, windows []Window) []Report {
	reports := make([]Report, 0, len(windows))
	for i, w := range windows {
		rep := o.RunWindow(ctx, w)
		reports = append(reports, rep)

		if rep.State != StateDone {
			o.logger.Error("window failed, continuing backfill",
				"source", o.src.Name, "window", w.String(), "run_id", rep.RunID,
				"state", string(rep.State), "error", rep.Err)
		}

		if i < len(windows)-1 {
			o.sleep(o.pause)
		}
	}
	return reports
}

// RunWindow drives one window through the export state machine and
// returns its report. Failures land in Report.State and Report.Err
// rather than an error return, so the backfill loop stays simple.
func (o *Orchestrator) RunWindow(ctx context.Context, w Window) Report {
	rep := Report{Window: w, RunID: uuid.NewString()[:8], State: StateRequested}
	log := o.logger.With("source", o.src.Name, "window", w.String(), "run_id", rep.RunID)
	log.Info("window started", "days", w.Days())

	fileURL, statusURL, err := o.exporter.Request(ctx, o.src.RequestURL, o.src.BuildRequest(w.Start, w.End))
	if err != nil {
		return rep.abort(err)
	}

	if fileURL == "" {
		rep.State = StatePolling
		fileURL, err = o.exporter.AwaitFile(ctx, statusURL)
		if errors.Is(err, retry.ErrExhausted) {
			rep.State = StateTimeout
			rep.Err = err
			return rep
		}
		if err != nil {
			return rep.abort(err)
		}
	}

	rep.State = StateReady
	archive, err := o.exporter.Download(ctx, fileURL)
	if err != nil {
		return rep.abort(err)
	}

	rep.State = StateParsing
	csvReader, err := bulkexport.OpenArchiveCSV(archive)
	if err != nil {
		return rep.abort(err)
	}
	defer csvReader.Close()

	batch := make([]models.ResolvedRecord, 0, o.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		rep.State = StateUpserting
		n, err := o.store.MergeRows(ctx, o.src, batch)
		if err != nil {
			return err
		}
		rep.Upserted += n
		batch = batch[:0]
		rep.State = StateParsing
		return nil
	}

	torn, err := bulkexport.StreamCSV(csvReader, o.chunkSize, func(header []string, rows [][]string) error {
		idx := source.HeaderIndex(header)
		for _, row := range rows {
			rep.Scanned++

			rec, err := o.src.ParseRow(idx, row)
			if err != nil {
				rep.Malformed++
				continue
			}
			// Cheap filters run before any fuzzy scoring.
			if rec.Amount.LessThan(o.src.AmountThreshold) {
				rep.BelowThreshold++
				continue
			}
			if !resolver.LooksCorporate(rec.OrgName) {
				rep.NonCorporate++
				continue
			}

			ticker, ok := o.resolver.Resolve(rec.OrgName)
			if !ok {
				rep.Unresolved++
				continue
			}

			rep.Resolved++
			batch = append(batch, models.ResolvedRecord{RawRecord: rec, Ticker: ticker})
			if len(batch) >= o.batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	rep.Torn = torn
	if err != nil {
		return rep.abort(err)
	}
	if err := flush(); err != nil {
		return rep.abort(err)
	}

	rep.State = StateDone
	log.Info("window done",
		"scanned", rep.Scanned, "torn", rep.Torn, "malformed", rep.Malformed,
		"below_threshold", rep.BelowThreshold, "non_corporate", rep.NonCorporate,
		"unresolved", rep.Unresolved, "resolved", rep.Resolved, "upserted", rep.Upserted)
	return rep
}

func (r Report) abort(err error) Report {
	r.State = StateAborted
	r.Err = err
	return r
}
