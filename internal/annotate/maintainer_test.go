package annotate

import (
	"context"
	"testing"
	"time"

	"github.com/btcmap/btcmap-api/internal/types"
)

type fakeElementRepo struct {
	el        *types.Element
	setCalls  int
}

func (f *fakeElementRepo) SelectByID(ctx context.Context, id int64) (*types.Element, error) {
	return f.el, nil
}
func (f *fakeElementRepo) SetTags(ctx context.Context, id int64, tags string) error {
	f.setCalls++
	f.el.Tags = tags
	return nil
}

type fakeCommentRepo struct{ count int }

func (f *fakeCommentRepo) CountLiveByElementID(ctx context.Context, elementID int64) (int, error) {
	return f.count, nil
}

func TestRefreshCommentCountSetsNonZero(t *testing.T) {
	elements := &fakeElementRepo{el: &types.Element{ID: 1, Tags: `{}`}}
	comments := &fakeCommentRepo{count: 3}

	if err := RefreshCommentCount(context.Background(), elements, comments, 1); err != nil {
		t.Fatalf("RefreshCommentCount: %v", err)
	}
	if elements.setCalls != 1 {
		t.Fatalf("expected one write, got %d", elements.setCalls)
	}
	if elements.el.Tags != `{"comments":3}` {
		t.Fatalf("got %q", elements.el.Tags)
	}
}

func TestRefreshCommentCountRemovesWhenZero(t *testing.T) {
	elements := &fakeElementRepo{el: &types.Element{ID: 1, Tags: `{"comments":5}`}}
	comments := &fakeCommentRepo{count: 0}

	if err := RefreshCommentCount(context.Background(), elements, comments, 1); err != nil {
		t.Fatalf("RefreshCommentCount: %v", err)
	}
	if elements.el.Tags != `{}` {
		t.Fatalf("expected comments key removed, got %q", elements.el.Tags)
	}
}

func TestRefreshCommentCountIsIdempotent(t *testing.T) {
	elements := &fakeElementRepo{el: &types.Element{ID: 1, Tags: `{"comments":3}`}}
	comments := &fakeCommentRepo{count: 3}

	if err := RefreshCommentCount(context.Background(), elements, comments, 1); err != nil {
		t.Fatalf("RefreshCommentCount: %v", err)
	}
	if elements.setCalls != 0 {
		t.Fatalf("expected no write when already consistent, got %d", elements.setCalls)
	}
}

func TestApplyBoostFromScratch(t *testing.T) {
	elements := &fakeElementRepo{el: &types.Element{ID: 1, Tags: `{}`}}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := ApplyBoost(context.Background(), elements, 1, 30, now); err != nil {
		t.Fatalf("ApplyBoost: %v", err)
	}
	want := now.Add(30 * 24 * time.Hour).Format(time.RFC3339)
	if elements.el.Tags != `{"boost:expires":"`+want+`"}` {
		t.Fatalf("got %q", elements.el.Tags)
	}
}

func TestApplyBoostStacksOnUnexpiredBoost(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := now.Add(10 * 24 * time.Hour)
	elements := &fakeElementRepo{el: &types.Element{ID: 1, Tags: `{"boost:expires":"` + existing.Format(time.RFC3339) + `"}`}}

	if err := ApplyBoost(context.Background(), elements, 1, 5, now); err != nil {
		t.Fatalf("ApplyBoost: %v", err)
	}
	want := existing.Add(5 * 24 * time.Hour).Format(time.RFC3339)
	if elements.el.Tags != `{"boost:expires":"`+want+`"}` {
		t.Fatalf("got %q, want expiry extended from existing boost: %q", elements.el.Tags, want)
	}
}
