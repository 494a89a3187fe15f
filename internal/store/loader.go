package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openhealth/gho-ingest/internal/gho"
	"github.com/openhealth/gho-ingest/internal/logging"
	"github.com/openhealth/gho-ingest/internal/transform"
	"github.com/openhealth/gho-ingest/internal/validate"
)

// Checkpoint is the persisted extraction progress for one partition.
type Checkpoint struct {
	Partition     string
	Cursor        string
	Watermark     int
	LastSuccessAt *time.Time
	UpdatedAt     time.Time
}

// PageBatch is one page's worth of canonical rows plus the checkpoint to
// advance to if the commit succeeds.
type PageBatch struct {
	Partition  gho.PartitionKey
	Facts      []transform.FactRow
	Rejections []*validate.Rejection
	NextCursor string
}

// LoadPage applies one extracted page atomically: dimension stubs first,
// then facts, then quarantined rejects, then the checkpoint. A failure
// rolls everything back and leaves the checkpoint at its prior value.
func (s *Store) LoadPage(ctx context.Context, batch PageBatch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	indicators, countries := transform.StubDimensions(batch.Facts)
	if len(indicators) > 0 {
		sql, args := buildIndicatorUpsert(indicators)
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("upserting indicator stubs: %w", err)
		}
	}
	if len(countries) > 0 {
		sql, args := buildCountryUpsert(countries)
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("upserting country stubs: %w", err)
		}
	}

	for _, chunk := range factChunks(batch.Facts, s.batchSize) {
		sql, args := buildFactUpsert(chunk)
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("upserting facts: %w", err)
		}
	}

	if len(batch.Rejections) > 0 {
		sql, args := buildRejectedInsert(batch.Partition.String(), batch.Rejections)
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("inserting rejected records: %w", err)
		}
	}

	watermark := maxYear(batch.Facts)
	if _, err := tx.Exec(ctx, checkpointUpsertSQL, batch.Partition.String(), batch.NextCursor, watermark); err != nil {
		return fmt.Errorf("advancing checkpoint: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing page: %w", err)
	}

	logging.Debug("committed page for %s: %d facts, %d rejected, cursor=%s",
		batch.Partition, len(batch.Facts), len(batch.Rejections), batch.NextCursor)
	return nil
}

func maxYear(rows []transform.FactRow) int {
	year := 0
	for _, row := range rows {
		if row.Year > year {
			year = row.Year
		}
	}
	return year
}

// UpsertIndicators bulk-loads the indicator dimension listing.
func (s *Store) UpsertIndicators(ctx context.Context, rows []transform.IndicatorRow) error {
	if len(rows) == 0 {
		return nil
	}
	for _, chunk := range indicatorChunks(rows) {
		sql, args := buildIndicatorUpsert(chunk)
		if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("upserting indicators: %w", err)
		}
	}
	return nil
}

// UpsertCountries bulk-loads the country dimension listing.
func (s *Store) UpsertCountries(ctx context.Context, rows []transform.CountryRow) error {
	if len(rows) == 0 {
		return nil
	}
	for _, chunk := range countryChunks(rows) {
		sql, args := buildCountryUpsert(chunk)
		if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("upserting countries: %w", err)
		}
	}
	return nil
}

// InsertRejections quarantines rejects outside a page transaction
// (dimension-stage rejections have no checkpoint to advance).
func (s *Store) InsertRejections(ctx context.Context, partition string, rejections []*validate.Rejection) error {
	if len(rejections) == 0 {
		return nil
	}
	sql, args := buildRejectedInsert(partition, rejections)
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("inserting rejected records: %w", err)
	}
	return nil
}

// GetCheckpoint returns the persisted checkpoint for a partition, or nil
// if the partition has never been extracted.
func (s *Store) GetCheckpoint(ctx context.Context, key gho.PartitionKey) (*Checkpoint, error) {
	var cp Checkpoint
	var watermark *int
	err := s.pool.QueryRow(ctx,
		`SELECT partition_key, cursor, watermark, last_success_at, updated_at
		 FROM etl_state WHERE partition_key = $1`,
		key.String(),
	).Scan(&cp.Partition, &cp.Cursor, &watermark, &cp.LastSuccessAt, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint for %s: %w", key, err)
	}
	if watermark != nil {
		cp.Watermark = *watermark
	}
	return &cp, nil
}

// ResetCheckpoints deletes the checkpoints for the given partitions,
// forcing a full reingest from the first page.
func (s *Store) ResetCheckpoints(ctx context.Context, keys []gho.PartitionKey) error {
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = key.String()
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM etl_state WHERE partition_key = ANY($1)`, names); err != nil {
		return fmt.Errorf("resetting checkpoints: %w", err)
	}
	logging.Info("reset %d checkpoints for full reingest", len(keys))
	return nil
}

// MarkPartitionSuccess records the completion timestamp after a partition
// drains; the cursor keeps its final position for incremental resume.
func (s *Store) MarkPartitionSuccess(ctx context.Context, key gho.PartitionKey) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE etl_state SET last_success_at = now(), updated_at = now() WHERE partition_key = $1`,
		key.String())
	if err != nil {
		return fmt.Errorf("marking partition %s complete: %w", key, err)
	}
	return nil
}

func indicatorChunks(rows []transform.IndicatorRow) [][]transform.IndicatorRow {
	const cols = 3
	limit := maxParams / cols
	var chunks [][]transform.IndicatorRow
	for start := 0; start < len(rows); start += limit {
		end := start + limit
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}

func countryChunks(rows []transform.CountryRow) [][]transform.CountryRow {
	const cols = 2
	limit := maxParams / cols
	var chunks [][]transform.CountryRow
	for start := 0; start < len(rows); start += limit {
		end := start + limit
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}
