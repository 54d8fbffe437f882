// Package issuegen computes the table-driven set of quality issues for an
// element (spec §4.8): stale or malformed verification dates, misspelled
// payment tags, and missing icons.
package issuegen

import (
	"encoding/json"
	"time"

	"github.com/btcmap/btcmap-api/internal/types"
)

const verificationDateLayout = "2006-01-02"

// misspelledPaymentTags are upstream OSM tag keys known to be common typos
// of "payment:lightning".
var misspelledPaymentTags = []string{
	"payment:lighting",
	"payment:lightning_contacless",
	"payment:lighting_contactless",
}

const questionMarkIcon = "question_mark"

// Issue is one (code, severity) pair the generator determined applies.
type Issue struct {
	Code     string
	Severity int
}

// Generate computes the full issue set for one element, given its upstream
// overpass tags and its local annotation tag bag, evaluated against now.
func Generate(overpassDataJSON, elementTagsJSON string, now time.Time) []Issue {
	var oe types.OverpassElement
	_ = json.Unmarshal([]byte(overpassDataJSON), &oe)

	var localTags map[string]any
	_ = json.Unmarshal([]byte(elementTagsJSON), &localTags)

	var issues []Issue

	if hasUnparseableVerificationDate(oe.Tags) {
		issues = append(issues, Issue{types.IssueDateFormat, types.IssueSeverity[types.IssueDateFormat]})
	}

	if hasMisspelledPaymentTag(oe.Tags) {
		issues = append(issues, Issue{types.IssueMisspelledTag, types.IssueSeverity[types.IssueMisspelledTag]})
	}

	if isMissingIcon(localTags) {
		issues = append(issues, Issue{types.IssueMissingIcon, types.IssueSeverity[types.IssueMissingIcon]})
	}

	verifiedAt, ok := verificationDate(oe.Tags)
	switch {
	case !ok:
		issues = append(issues, Issue{types.IssueNotVerified, types.IssueSeverity[types.IssueNotVerified]})
	default:
		age := now.Sub(verifiedAt)
		switch {
		case age > 365*24*time.Hour:
			issues = append(issues, Issue{types.IssueOutOfDate, types.IssueSeverity[types.IssueOutOfDate]})
		case age >= 275*24*time.Hour:
			issues = append(issues, Issue{types.IssueOutOfDateSoon, types.IssueSeverity[types.IssueOutOfDateSoon]})
		}
	}

	return issues
}

func hasUnparseableVerificationDate(tags map[string]string) bool {
	for _, key := range []string{"survey:date", "check_date", "check_date:currency:XBT"} {
		v, present := tags[key]
		if !present {
			continue
		}
		if _, err := time.Parse(verificationDateLayout, v); err != nil {
			return true
		}
	}
	return false
}

func hasMisspelledPaymentTag(tags map[string]string) bool {
	for _, key := range misspelledPaymentTags {
		if _, present := tags[key]; present {
			return true
		}
	}
	return false
}

func isMissingIcon(localTags map[string]any) bool {
	v, present := localTags["icon:android"]
	if !present {
		return true
	}
	s, ok := v.(string)
	return !ok || s == questionMarkIcon
}

// verificationDate is the max of survey:date, check_date,
// check_date:currency:XBT, and source:date, each parsed as YYYY-MM-DD,
// ignoring values that fail to parse.
func verificationDate(tags map[string]string) (time.Time, bool) {
	var (
		best  time.Time
		found bool
	)
	for _, key := range []string{"survey:date", "check_date", "check_date:currency:XBT", "source:date"} {
		v, present := tags[key]
		if !present {
			continue
		}
		t, err := time.Parse(verificationDateLayout, v)
		if err != nil {
			continue
		}
		if !found || t.After(best) {
			best = t
			found = true
		}
	}
	return best, found
}
