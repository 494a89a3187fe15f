// Package transform maps validated observations into canonical row shapes
// for the dimension and fact tables. Everything here is pure: no I/O, and
// inputs are already validated.
package transform

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/openhealth/gho-ingest/internal/gho"
	"github.com/openhealth/gho-ingest/internal/validate"
)

// Numeric values are stored at fixed precision so re-ingesting the same
// observation always produces a byte-identical value.
const valuePrecision = 6

// FactRow is the canonical shape of a fact_observation row.
type FactRow struct {
	ObservationID  string
	IndicatorCode  string
	CountryCode    string
	SpatialDimType string
	Year           int
	Value          *float64
	RawValue       string
	Comment        string
}

// IndicatorRow is the canonical shape of a dim_indicator row.
type IndicatorRow struct {
	Code     string
	Name     string
	Language string
}

// CountryRow is the canonical shape of a dim_country row.
type CountryRow struct {
	Code string
	Name string
}

// Observation maps a validated observation to a fact row. A normalization
// inconsistency that validation did not catch is routed back through the
// rejection path as malformed_payload.
func Observation(obs *validate.Observation) (FactRow, *validate.Rejection) {
	indicator := strings.ToUpper(strings.TrimSpace(obs.IndicatorCode))
	country := strings.ToUpper(strings.TrimSpace(obs.CountryCode))

	if indicator == "" || country == "" || obs.Year <= 0 {
		return FactRow{}, &validate.Rejection{
			Reason: validate.ReasonMalformedPayload,
			Detail: "normalization produced an empty key",
			Payload: gho.RawRecord{
				"IndicatorCode": obs.IndicatorCode,
				"SpatialDim":    obs.CountryCode,
				"TimeDim":       obs.Year,
			},
		}
	}

	return FactRow{
		ObservationID:  obs.ObservationID,
		IndicatorCode:  indicator,
		CountryCode:    country,
		SpatialDimType: strings.ToUpper(strings.TrimSpace(obs.SpatialDimType)),
		Year:           obs.Year,
		Value:          normalizeValue(obs.NumericValue),
		RawValue:       strings.TrimSpace(obs.RawValue),
		Comment:        strings.TrimSpace(obs.Comment),
	}, nil
}

// normalizeValue rounds to fixed precision via decimal arithmetic to avoid
// float drift between runs.
func normalizeValue(v *float64) *float64 {
	if v == nil {
		return nil
	}
	rounded, _ := decimal.NewFromFloat(*v).Round(valuePrecision).Float64()
	return &rounded
}

// Indicators deduplicates validated indicator records into dimension rows,
// sorted by code for deterministic load order.
func Indicators(records []*validate.Indicator) []IndicatorRow {
	seen := make(map[string]IndicatorRow)
	for _, rec := range records {
		if rec == nil {
			continue
		}
		code := strings.ToUpper(strings.TrimSpace(rec.Code))
		if code == "" {
			continue
		}
		seen[code] = IndicatorRow{
			Code:     code,
			Name:     strings.TrimSpace(rec.Name),
			Language: strings.TrimSpace(rec.Language),
		}
	}
	return sortedIndicators(seen)
}

// Countries deduplicates validated country records into dimension rows.
func Countries(records []*validate.Country) []CountryRow {
	seen := make(map[string]CountryRow)
	for _, rec := range records {
		if rec == nil {
			continue
		}
		code := strings.ToUpper(strings.TrimSpace(rec.Code))
		if code == "" {
			continue
		}
		seen[code] = CountryRow{Code: code, Name: strings.TrimSpace(rec.Name)}
	}
	return sortedCountries(seen)
}

// StubDimensions derives minimal dimension rows from a batch of facts so
// referential integrity holds even when an observation references a code
// the dimension listing did not carry. Upserts refresh attributes later.
func StubDimensions(rows []FactRow) ([]IndicatorRow, []CountryRow) {
	indicators := make(map[string]IndicatorRow)
	countries := make(map[string]CountryRow)
	for _, row := range rows {
		if _, ok := indicators[row.IndicatorCode]; !ok {
			indicators[row.IndicatorCode] = IndicatorRow{Code: row.IndicatorCode}
		}
		if _, ok := countries[row.CountryCode]; !ok {
			countries[row.CountryCode] = CountryRow{Code: row.CountryCode}
		}
	}
	return sortedIndicators(indicators), sortedCountries(countries)
}

func sortedIndicators(m map[string]IndicatorRow) []IndicatorRow {
	rows := make([]IndicatorRow, 0, len(m))
	for _, row := range m {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Code < rows[j].Code })
	return rows
}

func sortedCountries(m map[string]CountryRow) []CountryRow {
	rows := make([]CountryRow, 0, len(m))
	for _, row := range m {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Code < rows[j].Code })
	return rows
}
