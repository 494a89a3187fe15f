package store

import (
	"fmt"
	"strings"

	"github.com/openhealth/gho-ingest/internal/transform"
	"github.com/openhealth/gho-ingest/internal/validate"
)

// PostgreSQL caps statements at ~65535 bind parameters; stay under it.
const maxParams = 65000

// buildValuesPlaceholders renders ($1,$2,...),($n+1,...),... for numRows
// rows of numCols columns, starting at parameter offset start (1-based).
func buildValuesPlaceholders(start, numRows, numCols int) string {
	var sb strings.Builder
	p := start
	for r := 0; r < numRows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for c := 0; c < numCols; c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", p)
			p++
		}
		sb.WriteString(")")
	}
	return sb.String()
}

// buildIndicatorUpsert generates a multi-row upsert for dim_indicator.
// Attribute refresh keeps existing values when the incoming row is a
// code-only stub (empty name/language).
func buildIndicatorUpsert(rows []transform.IndicatorRow) (string, []any) {
	args := make([]any, 0, len(rows)*3)
	for _, row := range rows {
		args = append(args, row.Code, row.Name, row.Language)
	}
	sql := fmt.Sprintf(`INSERT INTO dim_indicator (indicator_code, indicator_name, language)
VALUES %s
ON CONFLICT (indicator_code) DO UPDATE SET
	indicator_name = COALESCE(NULLIF(EXCLUDED.indicator_name, ''), dim_indicator.indicator_name),
	language = COALESCE(NULLIF(EXCLUDED.language, ''), dim_indicator.language),
	updated_at = now()`,
		buildValuesPlaceholders(1, len(rows), 3))
	return sql, args
}

// buildCountryUpsert generates a multi-row upsert for dim_country.
func buildCountryUpsert(rows []transform.CountryRow) (string, []any) {
	args := make([]any, 0, len(rows)*2)
	for _, row := range rows {
		args = append(args, row.Code, row.Name)
	}
	sql := fmt.Sprintf(`INSERT INTO dim_country (country_code, country_name)
VALUES %s
ON CONFLICT (country_code) DO UPDATE SET
	country_name = COALESCE(NULLIF(EXCLUDED.country_name, ''), dim_country.country_name),
	updated_at = now()`,
		buildValuesPlaceholders(1, len(rows), 2))
	return sql, args
}

// buildFactUpsert generates a multi-row upsert for fact_observation keyed
// on the composite natural key. Replaying a page replaces values in place.
func buildFactUpsert(rows []transform.FactRow) (string, []any) {
	args := make([]any, 0, len(rows)*8)
	for _, row := range rows {
		args = append(args,
			row.IndicatorCode, row.CountryCode, row.Year,
			row.ObservationID, row.SpatialDimType, row.Value,
			row.RawValue, row.Comment)
	}
	sql := fmt.Sprintf(`INSERT INTO fact_observation
	(indicator_code, country_code, year, observation_id, spatial_dim_type, value, raw_value, comment)
VALUES %s
ON CONFLICT (indicator_code, country_code, year) DO UPDATE SET
	observation_id = EXCLUDED.observation_id,
	spatial_dim_type = EXCLUDED.spatial_dim_type,
	value = EXCLUDED.value,
	raw_value = EXCLUDED.raw_value,
	comment = EXCLUDED.comment,
	updated_at = now()`,
		buildValuesPlaceholders(1, len(rows), 8))
	return sql, args
}

// buildRejectedInsert generates a plain multi-row insert; the quarantine
// table is append-only and never upserted.
func buildRejectedInsert(partition string, rejections []*validate.Rejection) (string, []any) {
	args := make([]any, 0, len(rejections)*4)
	for _, rej := range rejections {
		args = append(args, partition, rej.PayloadJSON(), string(rej.Reason), rej.Detail)
	}
	sql := fmt.Sprintf(`INSERT INTO rejected_records (partition_key, source_payload, reason, detail)
VALUES %s`,
		buildValuesPlaceholders(1, len(rejections), 4))
	return sql, args
}

// checkpointUpsertSQL advances a partition's checkpoint. The watermark
// only moves forward; replays can never regress it.
const checkpointUpsertSQL = `INSERT INTO etl_state (partition_key, cursor, watermark, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (partition_key) DO UPDATE SET
	cursor = EXCLUDED.cursor,
	watermark = GREATEST(COALESCE(etl_state.watermark, 0), COALESCE(EXCLUDED.watermark, 0)),
	updated_at = now()`

// factChunks bounds rows per statement so a single multi-row VALUES stays
// under the parameter limit and under the configured batch size.
func factChunks(rows []transform.FactRow, batchSize int) [][]transform.FactRow {
	const cols = 8
	limit := maxParams / cols
	if batchSize > 0 && batchSize < limit {
		limit = batchSize
	}
	if limit < 1 {
		limit = 1
	}

	var chunks [][]transform.FactRow
	for start := 0; start < len(rows); start += limit {
		end := start + limit
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}
