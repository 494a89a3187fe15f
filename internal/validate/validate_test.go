package validate

import (
	"strings"
	"testing"

	"github.com/openhealth/gho-ingest/internal/gho"
)

func goodRecord() gho.RawRecord {
	return gho.RawRecord{
		"Id":             float64(12345),
		"IndicatorCode":  "WHOSIS_000001",
		"SpatialDim":     "ALB",
		"SpatialDimType": "COUNTRY",
		"TimeDim":        float64(2019),
		"NumericValue":   76.3,
		"Value":          "76.3",
	}
}

func TestRecordAccepted(t *testing.T) {
	res := Record(goodRecord())
	if !res.Accepted() {
		t.Fatalf("expected acceptance, got rejection: %+v", res.Rej)
	}

	obs := res.Obs
	if obs.IndicatorCode != "WHOSIS_000001" {
		t.Errorf("IndicatorCode = %q", obs.IndicatorCode)
	}
	if obs.CountryCode != "ALB" {
		t.Errorf("CountryCode = %q", obs.CountryCode)
	}
	if obs.Year != 2019 {
		t.Errorf("Year = %d", obs.Year)
	}
	if obs.NumericValue == nil || *obs.NumericValue != 76.3 {
		t.Errorf("NumericValue = %v", obs.NumericValue)
	}
	if obs.ObservationID != "12345" {
		t.Errorf("ObservationID = %q", obs.ObservationID)
	}
}

func TestRecordRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(gho.RawRecord)
		want   Reason
	}{
		{
			name:   "missing indicator",
			mutate: func(r gho.RawRecord) { delete(r, "IndicatorCode") },
			want:   ReasonMissingField,
		},
		{
			name:   "missing country",
			mutate: func(r gho.RawRecord) { r["SpatialDim"] = nil },
			want:   ReasonMissingField,
		},
		{
			name:   "missing year",
			mutate: func(r gho.RawRecord) { delete(r, "TimeDim") },
			want:   ReasonMissingField,
		},
		{
			name:   "year not a number",
			mutate: func(r gho.RawRecord) { r["TimeDim"] = "not-a-number" },
			want:   ReasonTypeMismatch,
		},
		{
			name:   "year out of range",
			mutate: func(r gho.RawRecord) { r["TimeDim"] = float64(1450) },
			want:   ReasonOutOfRange,
		},
		{
			name:   "year absurdly future",
			mutate: func(r gho.RawRecord) { r["TimeDim"] = float64(3000) },
			want:   ReasonOutOfRange,
		},
		{
			name:   "value not numeric",
			mutate: func(r gho.RawRecord) { r["NumericValue"] = "abc" },
			want:   ReasonTypeMismatch,
		},
		{
			name:   "bad country code",
			mutate: func(r gho.RawRecord) { r["SpatialDim"] = "not a code!" },
			want:   ReasonUnknownCode,
		},
		{
			name:   "bad indicator code",
			mutate: func(r gho.RawRecord) { r["IndicatorCode"] = "wh@t" },
			want:   ReasonUnknownCode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := goodRecord()
			tt.mutate(raw)
			res := Record(raw)
			if res.Accepted() {
				t.Fatal("expected rejection")
			}
			if res.Rej.Reason != tt.want {
				t.Errorf("reason = %s, want %s", res.Rej.Reason, tt.want)
			}
			if res.Rej.Payload == nil {
				t.Error("rejection should carry the original payload")
			}
		})
	}
}

func TestRecordNilPayload(t *testing.T) {
	res := Record(nil)
	if res.Accepted() || res.Rej.Reason != ReasonMalformedPayload {
		t.Errorf("nil record should be malformed_payload, got %+v", res)
	}
}

func TestYearRangeCollapses(t *testing.T) {
	raw := goodRecord()
	raw["TimeDim"] = "2019-2019"
	res := Record(raw)
	if !res.Accepted() {
		t.Fatalf("year range should validate: %+v", res.Rej)
	}
	if res.Obs.Year != 2019 {
		t.Errorf("Year = %d, want 2019", res.Obs.Year)
	}
}

func TestNullNumericValueAccepted(t *testing.T) {
	raw := goodRecord()
	raw["NumericValue"] = nil
	raw["Value"] = "Data not available"

	res := Record(raw)
	if !res.Accepted() {
		t.Fatalf("null numeric value should validate: %+v", res.Rej)
	}
	if res.Obs.NumericValue != nil {
		t.Errorf("NumericValue = %v, want nil", res.Obs.NumericValue)
	}
	if res.Obs.RawValue != "Data not available" {
		t.Errorf("RawValue = %q", res.Obs.RawValue)
	}
}

func TestCodeNormalization(t *testing.T) {
	raw := goodRecord()
	raw["IndicatorCode"] = "  whosis_000001 "
	raw["SpatialDim"] = "alb"

	res := Record(raw)
	if !res.Accepted() {
		t.Fatalf("lower-case codes should normalize: %+v", res.Rej)
	}
	if res.Obs.IndicatorCode != "WHOSIS_000001" || res.Obs.CountryCode != "ALB" {
		t.Errorf("codes not normalized: %q / %q", res.Obs.IndicatorCode, res.Obs.CountryCode)
	}
}

func TestIndicatorRecord(t *testing.T) {
	ind, rej := IndicatorRecord(gho.RawRecord{
		"IndicatorCode": "WHOSIS_000001",
		"IndicatorName": "Life expectancy at birth",
		"Language":      "EN",
	})
	if rej != nil {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
	if ind.Code != "WHOSIS_000001" || ind.Name != "Life expectancy at birth" {
		t.Errorf("indicator = %+v", ind)
	}

	_, rej = IndicatorRecord(gho.RawRecord{"IndicatorName": "orphan"})
	if rej == nil || rej.Reason != ReasonMissingField {
		t.Errorf("missing code should reject: %+v", rej)
	}
}

func TestCountryRecord(t *testing.T) {
	cty, rej := CountryRecord(gho.RawRecord{"Code": "ALB", "Title": "Albania"})
	if rej != nil {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
	if cty.Code != "ALB" || cty.Name != "Albania" {
		t.Errorf("country = %+v", cty)
	}

	_, rej = CountryRecord(gho.RawRecord{"Code": "not a code"})
	if rej == nil || rej.Reason != ReasonUnknownCode {
		t.Errorf("bad code should reject: %+v", rej)
	}
}

func TestPayloadJSON(t *testing.T) {
	res := Record(gho.RawRecord{"TimeDim": "x"})
	if res.Accepted() {
		t.Fatal("expected rejection")
	}
	payload := res.Rej.PayloadJSON()
	if !strings.Contains(payload, "TimeDim") {
		t.Errorf("payload JSON missing field: %s", payload)
	}
}
