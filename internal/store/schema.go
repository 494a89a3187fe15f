package store

import (
	"context"
	"fmt"

	"github.com/openhealth/gho-ingest/internal/logging"
)

// schemaDDL is the bit-exact storage contract. Dimension tables are
// natural-keyed; the fact table is unique on its composite natural key so
// replays upsert instead of duplicating; rejected_records is append-only.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS dim_country (
	country_code  TEXT PRIMARY KEY,
	country_name  TEXT NOT NULL DEFAULT '',
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dim_indicator (
	indicator_code TEXT PRIMARY KEY,
	indicator_name TEXT NOT NULL DEFAULT '',
	language       TEXT NOT NULL DEFAULT '',
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS fact_observation (
	indicator_code   TEXT NOT NULL REFERENCES dim_indicator(indicator_code),
	country_code     TEXT NOT NULL REFERENCES dim_country(country_code),
	year             INTEGER NOT NULL,
	observation_id   TEXT NOT NULL DEFAULT '',
	spatial_dim_type TEXT NOT NULL DEFAULT '',
	value            DOUBLE PRECISION,
	raw_value        TEXT NOT NULL DEFAULT '',
	comment          TEXT NOT NULL DEFAULT '',
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (indicator_code, country_code, year)
);

CREATE TABLE IF NOT EXISTS etl_state (
	partition_key   TEXT PRIMARY KEY,
	cursor          TEXT NOT NULL DEFAULT 'start',
	watermark       INTEGER,
	last_success_at TIMESTAMPTZ,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rejected_records (
	id             BIGSERIAL PRIMARY KEY,
	partition_key  TEXT NOT NULL DEFAULT '',
	source_payload TEXT NOT NULL,
	reason         TEXT NOT NULL,
	detail         TEXT NOT NULL DEFAULT '',
	rejected_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_rejected_reason ON rejected_records(reason);
CREATE INDEX IF NOT EXISTS idx_fact_country_year ON fact_observation(country_code, year);
`

// EnsureSchema creates the analytics tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	logging.Debug("schema created or already exists")
	return nil
}
