// Package validate performs structural and type validation of raw source
// records. Classification is per record: a bad record becomes a Rejection
// with a stable reason, never an error that stops the stream.
package validate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openhealth/gho-ingest/internal/gho"
)

// Reason enumerates the stable set of rejection reasons persisted to
// rejected_records. Downstream analysis depends on these values not changing.
type Reason string

const (
	ReasonMissingField     Reason = "missing_field"
	ReasonTypeMismatch     Reason = "type_mismatch"
	ReasonOutOfRange       Reason = "out_of_range"
	ReasonUnknownCode      Reason = "unknown_code"
	ReasonMalformedPayload Reason = "malformed_payload"
)

// Year bounds considered plausible for GHO observations.
const minYear = 1900

// Observation is a validated observation record.
type Observation struct {
	ObservationID  string
	IndicatorCode  string
	CountryCode    string // SpatialDim
	SpatialDimType string
	Year           int // TimeDim
	NumericValue   *float64
	RawValue       string // original Value string
	Comment        string
}

// Indicator is a validated indicator dimension record.
type Indicator struct {
	Code     string
	Name     string
	Language string
}

// Country is a validated country dimension record.
type Country struct {
	Code string
	Name string
}

// Rejection captures a record that failed validation, with its payload
// serialized for the quarantine table.
type Rejection struct {
	Reason  Reason
	Detail  string
	Payload gho.RawRecord
}

// PayloadJSON serializes the rejected payload for persistence.
func (r *Rejection) PayloadJSON() string {
	data, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Sprintf("%v", r.Payload)
	}
	return string(data)
}

// Result is the tagged outcome of validating one record:
// exactly one of Obs or Rej is set.
type Result struct {
	Obs *Observation
	Rej *Rejection
}

// Accepted reports whether the record passed validation.
func (r Result) Accepted() bool {
	return r.Obs != nil
}

func reject(raw gho.RawRecord, reason Reason, format string, args ...any) Result {
	return Result{Rej: &Rejection{
		Reason:  reason,
		Detail:  fmt.Sprintf(format, args...),
		Payload: raw,
	}}
}

// Record validates a raw observation record.
func Record(raw gho.RawRecord) Result {
	if raw == nil {
		return reject(raw, ReasonMalformedPayload, "nil record")
	}

	indicator, ok := stringField(raw, "IndicatorCode")
	if !ok || indicator == "" {
		return reject(raw, ReasonMissingField, "missing IndicatorCode")
	}
	country, ok := stringField(raw, "SpatialDim")
	if !ok || country == "" {
		return reject(raw, ReasonMissingField, "missing SpatialDim")
	}

	indicator = strings.ToUpper(strings.TrimSpace(indicator))
	country = strings.ToUpper(strings.TrimSpace(country))
	if !CodeOK(indicator) {
		return reject(raw, ReasonUnknownCode, "malformed indicator code %q", indicator)
	}
	if !CodeOK(country) {
		return reject(raw, ReasonUnknownCode, "malformed country code %q", country)
	}

	yearRaw, present := raw["TimeDim"]
	if !present || yearRaw == nil {
		return reject(raw, ReasonMissingField, "missing TimeDim")
	}
	year, ok := parseYear(yearRaw)
	if !ok {
		return reject(raw, ReasonTypeMismatch, "TimeDim %v is not a year", yearRaw)
	}
	if year < minYear || year > time.Now().Year()+1 {
		return reject(raw, ReasonOutOfRange, "year %d outside plausible range", year)
	}

	numeric, ok := parseNumeric(raw["NumericValue"])
	if !ok {
		return reject(raw, ReasonTypeMismatch, "NumericValue %v is not numeric", raw["NumericValue"])
	}

	id, _ := stringField(raw, "Id")
	spatialType, _ := stringField(raw, "SpatialDimType")
	rawValue, _ := stringField(raw, "Value")
	comment, _ := stringField(raw, "Comments")

	return Result{Obs: &Observation{
		ObservationID:  id,
		IndicatorCode:  indicator,
		CountryCode:    country,
		SpatialDimType: spatialType,
		Year:           year,
		NumericValue:   numeric,
		RawValue:       rawValue,
		Comment:        comment,
	}}
}

// IndicatorRecord validates a raw indicator dimension record.
func IndicatorRecord(raw gho.RawRecord) (*Indicator, *Rejection) {
	code, ok := stringField(raw, "IndicatorCode")
	if !ok || code == "" {
		return nil, &Rejection{Reason: ReasonMissingField, Detail: "missing IndicatorCode", Payload: raw}
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if !CodeOK(code) {
		return nil, &Rejection{Reason: ReasonUnknownCode, Detail: fmt.Sprintf("malformed indicator code %q", code), Payload: raw}
	}
	name, _ := stringField(raw, "IndicatorName")
	language, _ := stringField(raw, "Language")
	return &Indicator{Code: code, Name: name, Language: language}, nil
}

// CountryRecord validates a raw country dimension record.
func CountryRecord(raw gho.RawRecord) (*Country, *Rejection) {
	code, ok := stringField(raw, "Code")
	if !ok || code == "" {
		return nil, &Rejection{Reason: ReasonMissingField, Detail: "missing Code", Payload: raw}
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if !CodeOK(code) {
		return nil, &Rejection{Reason: ReasonUnknownCode, Detail: fmt.Sprintf("malformed country code %q", code), Payload: raw}
	}
	name, _ := stringField(raw, "Title")
	return &Country{Code: code, Name: name}, nil
}

// CodeOK reports whether a dimension code matches the expected format:
// upper-case letters, digits, underscore, dot, or dash.
func CodeOK(code string) bool {
	if code == "" {
		return false
	}
	for _, r := range code {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '.' || r == '-':
		default:
			return false
		}
	}
	return true
}

// stringField coerces a field to string. Numbers are accepted and
// formatted (the API is inconsistent about quoting identifiers).
func stringField(raw gho.RawRecord, key string) (string, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		// JSON numbers decode as float64; render integers without decimals
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

// parseYear accepts integers, JSON numbers, and strings like "2019" or
// "2019-2019" (year ranges collapse to their first year).
func parseYear(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case float64:
		if t != float64(int(t)) {
			return 0, false
		}
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	case string:
		s := strings.TrimSpace(t)
		if idx := strings.Index(s, "-"); idx > 0 {
			s = s[:idx]
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// parseNumeric accepts null, numbers, and numeric strings.
// The bool result is false only on a type mismatch.
func parseNumeric(v any) (*float64, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case float64:
		return &t, true
	case int:
		f := float64(t)
		return &f, true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, false
		}
		return &f, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false
		}
		return &f, true
	default:
		return nil, false
	}
}
