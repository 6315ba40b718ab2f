package billing

import (
	"strings"
	"time"

	"github.com/trackmystartup/tms-payments/app/models"
)

// NormalizeInterval maps free-form interval strings onto monthly or yearly.
// Anything unrecognised bills monthly.
func NormalizeInterval(interval string) string {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case "yearly", "year", "annual", "annually":
		return models.IntervalYearly
	default:
		return models.IntervalMonthly
	}
}

func normalizeTier(tier string) string {
	t := strings.ToLower(strings.TrimSpace(tier))
	if t == "" {
		return models.PlanTierFree
	}
	return t
}

// PeriodEnd returns the end of a billing period starting at start. Month and
// year additions are calendar aware and clamp to the last day of the target
// month, so 2024-01-31 + 1 month is 2024-02-29.
func PeriodEnd(start time.Time, interval string) time.Time {
	if NormalizeInterval(interval) == models.IntervalYearly {
		return addMonthsClamped(start, 12)
	}
	return addMonthsClamped(start, 1)
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	first := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, hour, min, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
