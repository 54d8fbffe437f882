// Package annotate keeps two derived element tags in sync with their
// underlying state (spec §4.9): tags.comments (a live comment count) and
// tags.boost:expires (a lightning-boost expiry timestamp).
package annotate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcmap/btcmap-api/internal/tagpatch"
	"github.com/btcmap/btcmap-api/internal/types"
)

const (
	commentsTagKey    = "comments"
	boostExpiresTagKey = "boost:expires"
)

// ElementRepo is the subset of ElementRepo the maintainer needs.
type ElementRepo interface {
	SelectByID(ctx context.Context, id int64) (*types.Element, error)
	SetTags(ctx context.Context, id int64, tags string) error
}

// ElementCommentRepo is the subset of ElementCommentRepo the maintainer needs.
type ElementCommentRepo interface {
	CountLiveByElementID(ctx context.Context, elementID int64) (int, error)
}

// RefreshCommentCount brings tags.comments in line with the live comment
// count for elementID: removed when zero (per spec's "absent when count is
// zero"), set otherwise. A write is skipped when the tag is already
// correct, so repeated runs against an unchanged comment set are no-ops.
func RefreshCommentCount(ctx context.Context, elements ElementRepo, comments ElementCommentRepo, elementID int64) error {
	el, err := elements.SelectByID(ctx, elementID)
	if err != nil {
		return fmt.Errorf("loading element %d: %w", elementID, err)
	}

	count, err := comments.CountLiveByElementID(ctx, elementID)
	if err != nil {
		return fmt.Errorf("counting comments for element %d: %w", elementID, err)
	}

	current, hasCurrent := tagpatch.GetKey(el.Tags, commentsTagKey)

	if count == 0 {
		if !hasCurrent {
			return nil
		}
		newTags, err := tagpatch.RemoveKey(el.Tags, commentsTagKey)
		if err != nil {
			return fmt.Errorf("removing comments tag for element %d: %w", elementID, err)
		}
		return elements.SetTags(ctx, elementID, newTags)
	}

	wantRaw := fmt.Sprintf("%d", count)
	if hasCurrent && current == wantRaw {
		return nil
	}
	newTags, err := tagpatch.SetKey(el.Tags, commentsTagKey, count)
	if err != nil {
		return fmt.Errorf("setting comments tag for element %d: %w", elementID, err)
	}
	return elements.SetTags(ctx, elementID, newTags)
}

// ApplyBoost extends an element's boost:expires tag by days, measured from
// whichever is later: now or the current expiry (so stacking boosts before
// the previous one lapses extends rather than resets it).
func ApplyBoost(ctx context.Context, elements ElementRepo, elementID int64, days int, now time.Time) error {
	el, err := elements.SelectByID(ctx, elementID)
	if err != nil {
		return fmt.Errorf("loading element %d: %w", elementID, err)
	}

	base := now
	if raw, ok := tagpatch.GetKey(el.Tags, boostExpiresTagKey); ok {
		var current string
		if err := json.Unmarshal([]byte(raw), &current); err == nil {
			if parsed, err := time.Parse(time.RFC3339, current); err == nil && parsed.After(base) {
				base = parsed
			}
		}
	}

	newExpiry := base.Add(time.Duration(days) * 24 * time.Hour)
	newTags, err := tagpatch.SetKey(el.Tags, boostExpiresTagKey, newExpiry.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("setting boost:expires for element %d: %w", elementID, err)
	}
	return elements.SetTags(ctx, elementID, newTags)
}
