package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/btcmap/btcmap-api/internal/annotate"
	"github.com/btcmap/btcmap-api/internal/tagpatch"
)

// S2 — paying element_boost:<id>:30 extends an existing boost:expires by
// 30 days when it is still in the future, and from now when it has
// already lapsed.
func TestScenarioBoostAccumulates(t *testing.T) {
	ctx := context.Background()
	repos := newRepos(t)

	el, err := repos.Elements.Insert(ctx, `{"type":"node","id":1,"lat":0,"lon":0}`, `{}`)
	if err != nil {
		t.Fatalf("inserting element: %v", err)
	}

	now := time.Now().UTC()
	future := now.Add(10 * 24 * time.Hour)
	tagsWithBoost, err := tagpatch.SetKey(el.Tags, "boost:expires", future.Format(time.RFC3339))
	if err != nil {
		t.Fatalf("seeding boost tag: %v", err)
	}
	if err := repos.Elements.SetTags(ctx, el.ID, tagsWithBoost); err != nil {
		t.Fatalf("writing boost tag: %v", err)
	}

	if err := annotate.ApplyBoost(ctx, repos.Elements, el.ID, 30, now); err != nil {
		t.Fatalf("applying boost: %v", err)
	}

	updated, err := repos.Elements.SelectByID(ctx, el.ID)
	if err != nil {
		t.Fatalf("reloading element: %v", err)
	}
	raw, ok := tagpatch.GetKey(updated.Tags, "boost:expires")
	if !ok {
		t.Fatalf("expected boost:expires tag to be set")
	}
	var expiresStr string
	if err := unmarshalString(raw, &expiresStr); err != nil {
		t.Fatalf("decoding boost:expires: %v", err)
	}
	got, err := time.Parse(time.RFC3339, expiresStr)
	if err != nil {
		t.Fatalf("parsing boost:expires: %v", err)
	}
	want := future.Add(30 * 24 * time.Hour)
	if got.Sub(want).Abs() > time.Second {
		t.Fatalf("got expiry %v, want %v", got, want)
	}
}

// Paying a boost on an element whose boost already lapsed extends from
// now, not from the stale past expiry.
func TestScenarioBoostFromLapsedExpiry(t *testing.T) {
	ctx := context.Background()
	repos := newRepos(t)

	el, err := repos.Elements.Insert(ctx, `{"type":"node","id":2,"lat":0,"lon":0}`, `{}`)
	if err != nil {
		t.Fatalf("inserting element: %v", err)
	}

	now := time.Now().UTC()
	past := now.Add(-48 * time.Hour)
	tagsWithBoost, err := tagpatch.SetKey(el.Tags, "boost:expires", past.Format(time.RFC3339))
	if err != nil {
		t.Fatalf("seeding boost tag: %v", err)
	}
	if err := repos.Elements.SetTags(ctx, el.ID, tagsWithBoost); err != nil {
		t.Fatalf("writing boost tag: %v", err)
	}

	if err := annotate.ApplyBoost(ctx, repos.Elements, el.ID, 30, now); err != nil {
		t.Fatalf("applying boost: %v", err)
	}

	updated, err := repos.Elements.SelectByID(ctx, el.ID)
	if err != nil {
		t.Fatalf("reloading element: %v", err)
	}
	raw, _ := tagpatch.GetKey(updated.Tags, "boost:expires")
	var expiresStr string
	if err := unmarshalString(raw, &expiresStr); err != nil {
		t.Fatalf("decoding boost:expires: %v", err)
	}
	got, err := time.Parse(time.RFC3339, expiresStr)
	if err != nil {
		t.Fatalf("parsing boost:expires: %v", err)
	}
	want := now.Add(30 * 24 * time.Hour)
	if got.Sub(want).Abs() > time.Second {
		t.Fatalf("got expiry %v, want %v (computed from now, not the lapsed past value)", got, want)
	}
}
