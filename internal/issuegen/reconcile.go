package issuegen

import (
	"context"
	"fmt"
	"time"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/types"
)

// ElementIssueRepo is the subset of ElementIssueRepo Reconcile needs.
type ElementIssueRepo interface {
	SelectLiveByElementID(ctx context.Context, elementID int64) ([]*types.ElementIssue, error)
	SelectByElementAndCode(ctx context.Context, elementID int64, code string) (*types.ElementIssue, error)
	Insert(ctx context.Context, elementID int64, code string, severity int) (*types.ElementIssue, error)
	Reinstate(ctx context.Context, id int64) error
	SetDeletedAt(ctx context.Context, id int64, at *time.Time) error
}

// Reconcile computes the current issue set for one element and brings its
// element_issue rows in line: inserting new codes, reinstating codes that
// reappeared, and soft-deleting codes that no longer apply.
func Reconcile(ctx context.Context, repo ElementIssueRepo, elementID int64, overpassDataJSON, elementTagsJSON string, now time.Time) error {
	wanted := Generate(overpassDataJSON, elementTagsJSON, now)
	wantedByCode := make(map[string]int, len(wanted))
	for _, issue := range wanted {
		wantedByCode[issue.Code] = issue.Severity
	}

	live, err := repo.SelectLiveByElementID(ctx, elementID)
	if err != nil {
		return fmt.Errorf("loading live issues for element %d: %w", elementID, err)
	}
	liveByCode := make(map[string]*types.ElementIssue, len(live))
	for _, issue := range live {
		liveByCode[issue.Code] = issue
	}

	for code, severity := range wantedByCode {
		if _, present := liveByCode[code]; present {
			continue
		}
		existing, err := repo.SelectByElementAndCode(ctx, elementID, code)
		switch {
		case apperr.Is(err, apperr.KindNotFound):
			if _, err := repo.Insert(ctx, elementID, code, severity); err != nil {
				return fmt.Errorf("inserting issue %d/%s: %w", elementID, code, err)
			}
		case err != nil:
			return fmt.Errorf("looking up issue %d/%s: %w", elementID, code, err)
		default:
			if err := repo.Reinstate(ctx, existing.ID); err != nil {
				return fmt.Errorf("reinstating issue %d/%s: %w", elementID, code, err)
			}
		}
	}

	for code, issue := range liveByCode {
		if _, stillApplies := wantedByCode[code]; stillApplies {
			continue
		}
		at := time.Now().UTC()
		if err := repo.SetDeletedAt(ctx, issue.ID, &at); err != nil {
			return fmt.Errorf("tombstoning issue %d/%s: %w", elementID, code, err)
		}
	}

	return nil
}

// ReconcileDeleted soft-deletes every live issue for an element that has
// itself been soft-deleted, per spec §4.8.
func ReconcileDeleted(ctx context.Context, repo ElementIssueRepo, elementID int64) error {
	live, err := repo.SelectLiveByElementID(ctx, elementID)
	if err != nil {
		return fmt.Errorf("loading live issues for element %d: %w", elementID, err)
	}
	at := time.Now().UTC()
	for _, issue := range live {
		if err := repo.SetDeletedAt(ctx, issue.ID, &at); err != nil {
			return fmt.Errorf("tombstoning issue %d/%s: %w", elementID, issue.Code, err)
		}
	}
	return nil
}
