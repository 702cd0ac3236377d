package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/zmcp/odata-codec/internal/constants"
)

// OData v2 legacy date format: /Date(milliseconds[+/-offset])/
var odataLegacyDateRegex = regexp.MustCompile(`^/Date\((-?\d+)([\+\-]\d{4})?\)/$`)

// IsODataLegacyDate checks if a string is in OData v2 legacy date format
func IsODataLegacyDate(s string) bool {
	return odataLegacyDateRegex.MatchString(s)
}

// ParseODataLegacyDate extracts milliseconds and offset from an OData legacy date
func ParseODataLegacyDate(s string) (milliseconds int64, offset string, ok bool) {
	matches := odataLegacyDateRegex.FindStringSubmatch(s)
	if len(matches) < 2 {
		return 0, "", false
	}

	ms, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, "", false
	}

	if len(matches) > 2 && matches[2] != "" {
		offset = matches[2]
	}

	return ms, offset, true
}

// legacyToTime converts a legacy date to a time in the zone its offset names
func legacyToTime(s string) (time.Time, bool) {
	ms, offset, ok := ParseODataLegacyDate(s)
	if !ok {
		return time.Time{}, false
	}
	t := time.UnixMilli(ms).UTC()
	if offset != "" {
		hours, _ := strconv.Atoi(offset[1:3])
		minutes, _ := strconv.Atoi(offset[3:5])
		seconds := hours*3600 + minutes*60
		if offset[0] == '-' {
			seconds = -seconds
		}
		t = t.In(time.FixedZone("", seconds))
	}
	return t, true
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
}

// ParseDateTime parses a DateTimeOffset, DateTime or Date wire value. Legacy
// /Date(ms)/ values are accepted for every date-time type.
func ParseDateTime(edmType, s string) (time.Time, error) {
	if t, ok := legacyToTime(s); ok {
		return t, nil
	}

	if edmType == constants.EdmDate {
		if t, err := time.Parse(time.DateOnly, s); err == nil {
			return t, nil
		}
	}

	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid %s value %q", edmType, s)
}

// FormatDateForOData formats a time for the given Edm type
func FormatDateForOData(t time.Time, edmType string, useLegacyFormat bool) string {
	switch edmType {
	case constants.EdmDateTime:
		if useLegacyFormat {
			return fmt.Sprintf("/Date(%d)/", t.UnixMilli())
		}
		return t.Format("2006-01-02T15:04:05")

	case constants.EdmDateTimeOffset:
		if useLegacyFormat {
			_, offset := t.Zone()
			sign := "+"
			if offset < 0 {
				sign = "-"
				offset = -offset
			}
			return fmt.Sprintf("/Date(%d%s%02d%02d)/", t.UnixMilli(), sign, offset/3600, (offset%3600)/60)
		}
		return t.Format(time.RFC3339Nano)

	case constants.EdmDate:
		return t.Format(time.DateOnly)

	case constants.EdmTimeOfDay:
		return t.Format("15:04:05.999999999")

	default:
		return t.Format(time.RFC3339Nano)
	}
}
