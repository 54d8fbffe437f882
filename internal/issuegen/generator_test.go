package issuegen

import (
	"testing"
	"time"

	"github.com/btcmap/btcmap-api/internal/types"
)

func TestGenerateNotVerifiedWhenNoDate(t *testing.T) {
	overpass := `{"type":"node","id":1,"tags":{}}`
	issues := Generate(overpass, `{"icon:android":"shop"}`, time.Now())
	if !hasCode(issues, types.IssueNotVerified) {
		t.Fatalf("expected not_verified, got %+v", issues)
	}
}

func TestGenerateOutOfDate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	overpass := `{"type":"node","id":1,"tags":{"survey:date":"2024-01-01"}}`
	issues := Generate(overpass, `{"icon:android":"shop"}`, now)
	if !hasCode(issues, types.IssueOutOfDate) {
		t.Fatalf("expected out_of_date, got %+v", issues)
	}
}

func TestGenerateOutOfDateSoon(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	overpass := `{"type":"node","id":1,"tags":{"survey:date":"2025-03-01"}}`
	issues := Generate(overpass, `{"icon:android":"shop"}`, now)
	if !hasCode(issues, types.IssueOutOfDateSoon) {
		t.Fatalf("expected out_of_date_soon, got %+v", issues)
	}
}

func TestGenerateDateFormat(t *testing.T) {
	overpass := `{"type":"node","id":1,"tags":{"survey:date":"not-a-date"}}`
	issues := Generate(overpass, `{"icon:android":"shop"}`, time.Now())
	if !hasCode(issues, types.IssueDateFormat) {
		t.Fatalf("expected date_format, got %+v", issues)
	}
}

func TestGenerateMisspelledTag(t *testing.T) {
	overpass := `{"type":"node","id":1,"tags":{"payment:lighting":"yes","survey:date":"2026-01-01"}}`
	issues := Generate(overpass, `{"icon:android":"shop"}`, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if !hasCode(issues, types.IssueMisspelledTag) {
		t.Fatalf("expected misspelled_tag, got %+v", issues)
	}
}

func TestGenerateMissingIcon(t *testing.T) {
	overpass := `{"type":"node","id":1,"tags":{"survey:date":"2026-01-01"}}`
	issues := Generate(overpass, `{}`, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if !hasCode(issues, types.IssueMissingIcon) {
		t.Fatalf("expected missing_icon, got %+v", issues)
	}

	issues = Generate(overpass, `{"icon:android":"question_mark"}`, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if !hasCode(issues, types.IssueMissingIcon) {
		t.Fatalf("expected missing_icon for question_mark sentinel, got %+v", issues)
	}
}

func TestGenerateHealthyElementHasNoDateIssue(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	overpass := `{"type":"node","id":1,"tags":{"survey:date":"2025-12-01"}}`
	issues := Generate(overpass, `{"icon:android":"shop"}`, now)
	for _, code := range []string{types.IssueDateFormat, types.IssueNotVerified, types.IssueOutOfDate, types.IssueOutOfDateSoon} {
		if hasCode(issues, code) {
			t.Fatalf("did not expect %s for a recently verified element, got %+v", code, issues)
		}
	}
}

func hasCode(issues []Issue, code string) bool {
	for _, i := range issues {
		if i.Code == code {
			return true
		}
	}
	return false
}
