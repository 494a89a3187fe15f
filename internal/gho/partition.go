package gho

import (
	"fmt"
	"strings"
)

// PartitionKey identifies the unit of extraction and checkpointing:
// an indicator, optionally narrowed to a single country.
type PartitionKey struct {
	IndicatorCode string
	CountryCode   string // empty = indicator-only fetch
}

// String returns the stable process name persisted in etl_state.
func (k PartitionKey) String() string {
	if k.CountryCode == "" {
		return fmt.Sprintf("gho_observations_%s", k.IndicatorCode)
	}
	return fmt.Sprintf("gho_observations_%s_%s", k.IndicatorCode, k.CountryCode)
}

// Valid reports whether the partition key holds plausible codes.
func (k PartitionKey) Valid() bool {
	if !validCode(k.IndicatorCode) {
		return false
	}
	if k.CountryCode != "" && !validCode(k.CountryCode) {
		return false
	}
	return true
}

func validCode(code string) bool {
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

// BuildPartitions crosses indicator codes with country codes.
// An empty country list yields one indicator-only partition per indicator.
func BuildPartitions(indicatorCodes, countryCodes []string) []PartitionKey {
	var keys []PartitionKey
	for _, ind := range indicatorCodes {
		ind = strings.TrimSpace(ind)
		if ind == "" {
			continue
		}
		if len(countryCodes) == 0 {
			keys = append(keys, PartitionKey{IndicatorCode: ind})
			continue
		}
		for _, cty := range countryCodes {
			cty = strings.TrimSpace(cty)
			if cty == "" {
				continue
			}
			keys = append(keys, PartitionKey{IndicatorCode: ind, CountryCode: cty})
		}
	}
	return keys
}
