// Package pipeline coordinates an ingest run: dimension loads, partition
// workers, checkpointed page loops, and the run summary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openhealth/gho-ingest/internal/config"
	"github.com/openhealth/gho-ingest/internal/gho"
	"github.com/openhealth/gho-ingest/internal/ledger"
	"github.com/openhealth/gho-ingest/internal/logging"
	"github.com/openhealth/gho-ingest/internal/notify"
	"github.com/openhealth/gho-ingest/internal/progress"
	"github.com/openhealth/gho-ingest/internal/store"
	"github.com/openhealth/gho-ingest/internal/transform"
	"github.com/openhealth/gho-ingest/internal/validate"
)

// Source is the extraction surface the coordinator needs.
type Source interface {
	Indicators(ctx context.Context) ([]gho.RawRecord, error)
	Countries(ctx context.Context) ([]gho.RawRecord, error)
	Observations(key gho.PartitionKey, cur gho.Cursor) PageSource
	PageSize() int
}

// PageSource yields pages for one partition until exhaustion.
type PageSource interface {
	Next(ctx context.Context) (*gho.Page, error)
}

// Loader is the persistence surface the coordinator needs.
type Loader interface {
	LoadPage(ctx context.Context, batch store.PageBatch) error
	UpsertIndicators(ctx context.Context, rows []transform.IndicatorRow) error
	UpsertCountries(ctx context.Context, rows []transform.CountryRow) error
	InsertRejections(ctx context.Context, partition string, rejections []*validate.Rejection) error
	GetCheckpoint(ctx context.Context, key gho.PartitionKey) (*store.Checkpoint, error)
	ResetCheckpoints(ctx context.Context, keys []gho.PartitionKey) error
	MarkPartitionSuccess(ctx context.Context, key gho.PartitionKey) error
}

// RunLedger records run summaries.
type RunLedger interface {
	CreateRun(id string) error
	FinalizeRun(run *ledger.Run) error
}

// ClientSource adapts *gho.Client to the Source interface.
type ClientSource struct {
	*gho.Client
}

// Observations returns the page sequence for a partition.
func (s ClientSource) Observations(key gho.PartitionKey, cur gho.Cursor) PageSource {
	return s.Client.Observations(key, cur)
}

// Coordinator owns one ingest run end to end.
type Coordinator struct {
	cfg      *config.Config
	source   Source
	loader   Loader
	runs     RunLedger
	notifier notify.Provider
	tracker  *progress.Tracker
}

// New creates a coordinator.
func New(cfg *config.Config, source Source, loader Loader, runs RunLedger, notifier notify.Provider, tracker *progress.Tracker) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		source:   source,
		loader:   loader,
		runs:     runs,
		notifier: notifier,
		tracker:  tracker,
	}
}

// Result is the outcome of an ingest run.
type Result struct {
	RunID             string
	Status            string
	Summary           notify.Summary
	SkippedPartitions []string
}

// runStats aggregates counters across partition workers.
type runStats struct {
	fetched   atomic.Int64
	accepted  atomic.Int64
	rejected  atomic.Int64
	processed atomic.Int64
	skipped   atomic.Int64
}

// Run executes an ingest run. The returned error is the fatal cause when
// the run failed; skipped partitions alone do not fail a run.
func (c *Coordinator) Run(ctx context.Context, runID string) (*Result, error) {
	start := time.Now()

	if err := c.runs.CreateRun(runID); err != nil {
		return nil, fmt.Errorf("creating run record: %w", err)
	}

	stats := &runStats{}
	result := &Result{RunID: runID}
	runErr := c.execute(ctx, runID, stats, result)

	result.Summary = notify.Summary{
		PartitionsProcessed: int(stats.processed.Load()),
		PartitionsSkipped:   int(stats.skipped.Load()),
		RecordsFetched:      stats.fetched.Load(),
		RecordsAccepted:     stats.accepted.Load(),
		RecordsRejected:     stats.rejected.Load(),
		DurationSecs:        time.Since(start).Seconds(),
	}

	run := &ledger.Run{
		ID:                  runID,
		PartitionsProcessed: result.Summary.PartitionsProcessed,
		PartitionsSkipped:   result.Summary.PartitionsSkipped,
		RecordsFetched:      result.Summary.RecordsFetched,
		RecordsAccepted:     result.Summary.RecordsAccepted,
		RecordsRejected:     result.Summary.RecordsRejected,
	}

	if runErr != nil {
		result.Status = ledger.StatusFailed
		run.Status = ledger.StatusFailed
		run.Error = runErr.Error()
		if err := c.runs.FinalizeRun(run); err != nil {
			logging.Warn("Failed to finalize run record: %v", err)
		}
		if err := c.notifier.RunFailed(runID, runErr, result.Summary); err != nil {
			logging.Warn("Failed to send run-failed notification: %v", err)
		}
		return result, runErr
	}

	result.Status = ledger.StatusDone
	run.Status = ledger.StatusDone
	if err := c.runs.FinalizeRun(run); err != nil {
		logging.Warn("Failed to finalize run record: %v", err)
	}
	if err := c.notifier.RunCompleted(runID, result.Summary); err != nil {
		logging.Warn("Failed to send run-completed notification: %v", err)
	}
	return result, nil
}

func (c *Coordinator) execute(ctx context.Context, runID string, stats *runStats, result *Result) error {
	indicatorCodes, err := c.loadDimensions(ctx, stats)
	if err != nil {
		return err
	}

	codes := c.cfg.API.IndicatorList()
	if len(codes) == 0 {
		codes = indicatorCodes
	}
	partitions := gho.BuildPartitions(codes, nil)
	if len(partitions) == 0 {
		return fmt.Errorf("no partitions to ingest")
	}
	logging.Info("Ingesting %d partitions with %d workers", len(partitions), c.cfg.Ingest.Workers)

	if c.cfg.Ingest.FullReingest {
		if err := c.loader.ResetCheckpoints(ctx, partitions); err != nil {
			return err
		}
	}

	if err := c.notifier.RunStarted(runID, len(partitions)); err != nil {
		logging.Warn("Failed to send run-started notification: %v", err)
	}

	if c.tracker != nil {
		c.tracker.Start()
		defer c.tracker.Finish()
	}

	limit := newRecordLimit(c.cfg.Ingest.DevRunLimit)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, c.cfg.Ingest.Workers)
	var wg sync.WaitGroup
	errCh := make(chan error, len(partitions))

	var mu sync.Mutex
	var skipped []string

dispatch:
	for _, key := range partitions {
		select {
		case <-runCtx.Done():
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(k gho.PartitionKey) {
			defer wg.Done()
			defer func() { <-sem }()

			err := c.ingestPartition(runCtx, k, limit, stats)
			if err == nil {
				return
			}
			if c.cfg.API.SkipTransientErrors && gho.IsTransient(err) {
				stats.skipped.Add(1)
				mu.Lock()
				skipped = append(skipped, k.String())
				mu.Unlock()
				logging.Warn("Skipping partition %s: %v", k, err)
				if nerr := c.notifier.PartitionSkipped(runID, k.String(), err); nerr != nil {
					logging.Warn("Failed to send partition-skipped notification: %v", nerr)
				}
				return
			}
			errCh <- err
			cancel()
		}(key)
	}

	wg.Wait()
	close(errCh)

	mu.Lock()
	result.SkippedPartitions = skipped
	mu.Unlock()

	// Prefer the originating fatal error over the cancellations it caused
	var fatal error
	for err := range errCh {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if fatal == nil {
				fatal = err
			}
			continue
		}
		if fatal == nil || errors.Is(fatal, context.Canceled) || errors.Is(fatal, context.DeadlineExceeded) {
			fatal = err
		}
	}
	if fatal != nil {
		return fatal
	}
	return ctx.Err()
}

// loadDimensions fetches and loads the indicator and country dimension
// listings, quarantining records that fail validation. Returns the full
// list of indicator codes for partition building.
func (c *Coordinator) loadDimensions(ctx context.Context, stats *runStats) ([]string, error) {
	rawIndicators, err := c.source.Indicators(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching indicator dimension: %w", err)
	}
	var indicators []*validate.Indicator
	var rejections []*validate.Rejection
	for _, raw := range rawIndicators {
		ind, rej := validate.IndicatorRecord(raw)
		if rej != nil {
			rejections = append(rejections, rej)
			continue
		}
		indicators = append(indicators, ind)
	}
	indicatorRows := transform.Indicators(indicators)
	if err := c.loader.UpsertIndicators(ctx, indicatorRows); err != nil {
		return nil, err
	}
	if err := c.loader.InsertRejections(ctx, "dim_indicator", rejections); err != nil {
		return nil, err
	}
	stats.rejected.Add(int64(len(rejections)))

	rawCountries, err := c.source.Countries(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching country dimension: %w", err)
	}
	var countries []*validate.Country
	rejections = nil
	for _, raw := range rawCountries {
		cty, rej := validate.CountryRecord(raw)
		if rej != nil {
			rejections = append(rejections, rej)
			continue
		}
		countries = append(countries, cty)
	}
	countryRows := transform.Countries(countries)
	if err := c.loader.UpsertCountries(ctx, countryRows); err != nil {
		return nil, err
	}
	if err := c.loader.InsertRejections(ctx, "dim_country", rejections); err != nil {
		return nil, err
	}
	stats.rejected.Add(int64(len(rejections)))

	logging.Info("Dimension load complete: %d indicators, %d countries", len(indicatorRows), len(countryRows))

	codes := make([]string, 0, len(indicatorRows))
	for _, row := range indicatorRows {
		codes = append(codes, row.Code)
	}
	return codes, nil
}

// ingestPartition runs the page loop for one partition: resume from the
// persisted cursor, then fetch, validate, transform, and load page by
// page until exhaustion, cancellation, or the shared dev limit.
func (c *Coordinator) ingestPartition(ctx context.Context, key gho.PartitionKey, limit *recordLimit, stats *runStats) error {
	name := key.String()
	if c.tracker != nil {
		c.tracker.StartPartition(name)
		defer c.tracker.EndPartition(name)
	}

	cur := gho.StartCursor(c.source.PageSize())
	cp, err := c.loader.GetCheckpoint(ctx, key)
	if err != nil {
		return err
	}
	if cp != nil {
		cur, err = gho.ParseCursor(cp.Cursor, c.source.PageSize())
		if err != nil {
			return fmt.Errorf("corrupt checkpoint for %s: %w", key, err)
		}
		if cur.Skip > 0 {
			logging.Info("Resuming %s from cursor %s", key, cp.Cursor)
		}
	}

	seq := c.source.Observations(key, cur)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if limit.Exhausted() {
			logging.Info("Dev run limit reached, stopping %s", key)
			stats.processed.Add(1)
			return nil
		}

		page, err := seq.Next(ctx)
		if err != nil {
			return err
		}
		if page == nil {
			break
		}

		consumed := limit.Take(len(page.Records))
		if consumed == 0 && len(page.Records) > 0 {
			stats.processed.Add(1)
			return nil
		}

		facts, rejections := classify(page.Records[:consumed])
		next := page.Cursor.Advance(consumed)

		if err := c.loader.LoadPage(ctx, store.PageBatch{
			Partition:  key,
			Facts:      facts,
			Rejections: rejections,
			NextCursor: next.String(),
		}); err != nil {
			return err
		}

		stats.fetched.Add(int64(consumed))
		stats.accepted.Add(int64(len(facts)))
		stats.rejected.Add(int64(len(rejections)))
		if c.tracker != nil {
			c.tracker.Add(int64(consumed))
		}

		if consumed < len(page.Records) {
			// Limit cut this page short; the cursor only covers what committed
			stats.processed.Add(1)
			return nil
		}
		if page.Last {
			break
		}
	}

	if err := c.loader.MarkPartitionSuccess(ctx, key); err != nil {
		return err
	}
	stats.processed.Add(1)
	return nil
}

// classify validates and transforms one page's raw records into fact rows
// and quarantined rejections. Record order is preserved within each slice.
func classify(records []gho.RawRecord) ([]transform.FactRow, []*validate.Rejection) {
	var facts []transform.FactRow
	var rejections []*validate.Rejection
	for _, raw := range records {
		res := validate.Record(raw)
		if !res.Accepted() {
			rejections = append(rejections, res.Rej)
			continue
		}
		row, rej := transform.Observation(res.Obs)
		if rej != nil {
			rejections = append(rejections, rej)
			continue
		}
		facts = append(facts, row)
	}
	return facts, rejections
}

// recordLimit is the shared dev-run cap on fetched records. A zero or
// negative configured limit means unlimited.
type recordLimit struct {
	unlimited bool
	remaining atomic.Int64
}

func newRecordLimit(n int) *recordLimit {
	l := &recordLimit{unlimited: n <= 0}
	l.remaining.Store(int64(n))
	return l
}

// Exhausted reports whether the cap has been fully claimed.
func (l *recordLimit) Exhausted() bool {
	return !l.unlimited && l.remaining.Load() <= 0
}

// Take claims up to n records, returning how many were granted.
func (l *recordLimit) Take(n int) int {
	if l.unlimited {
		return n
	}
	for {
		cur := l.remaining.Load()
		if cur <= 0 {
			return 0
		}
		take := int64(n)
		if take > cur {
			take = cur
		}
		if l.remaining.CompareAndSwap(cur, cur-take) {
			return int(take)
		}
	}
}
