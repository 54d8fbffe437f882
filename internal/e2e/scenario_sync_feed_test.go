package e2e

import (
	"context"
	"testing"
	"time"
)

// S5 — sync-feed monotonicity: paging through updated_since with a small
// limit and feeding each page's last updated_at back in as the next
// page's cursor covers every row exactly once.
func TestScenarioSyncFeedMonotonicity(t *testing.T) {
	ctx := context.Background()
	repos := newRepos(t)

	var ids []int64
	for i := 0; i < 5; i++ {
		el, err := repos.Elements.Insert(ctx, `{"type":"node","id":1,"lat":0,"lon":0}`, `{}`)
		if err != nil {
			t.Fatalf("inserting element %d: %v", i, err)
		}
		ids = append(ids, el.ID)
		time.Sleep(time.Millisecond)
	}

	var epoch time.Time
	firstPage, err := repos.Elements.SelectUpdatedSince(ctx, epoch, 3)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(firstPage) != 3 {
		t.Fatalf("got %d elements in first page, want 3", len(firstPage))
	}

	cursor := firstPage[len(firstPage)-1].UpdatedAt
	secondPage, err := repos.Elements.SelectUpdatedSince(ctx, cursor, 3)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}

	seen := map[int64]bool{}
	for _, el := range firstPage {
		seen[el.ID] = true
	}
	for _, el := range secondPage {
		if seen[el.ID] {
			t.Fatalf("element %d appeared in both pages", el.ID)
		}
		seen[el.ID] = true
	}
	if len(seen) != 5 {
		t.Fatalf("got %d distinct elements across both pages, want 5", len(seen))
	}
	for _, id := range ids {
		if !seen[id] {
			t.Fatalf("element %d missing from combined pages", id)
		}
	}
}

// S6 — tombstone visibility: a read anchored just before the delete still
// surfaces the tombstoned row; a read anchored at or after it does not.
func TestScenarioTombstoneVisibility(t *testing.T) {
	ctx := context.Background()
	repos := newRepos(t)

	el, err := repos.Elements.Insert(ctx, `{"type":"node","id":1,"lat":0,"lon":0}`, `{}`)
	if err != nil {
		t.Fatalf("inserting element: %v", err)
	}
	t0 := el.UpdatedAt

	time.Sleep(time.Millisecond)
	t1 := time.Now().UTC()
	if err := repos.Elements.SetDeletedAt(ctx, el.ID, &t1); err != nil {
		t.Fatalf("soft-deleting element: %v", err)
	}

	beforeDelete, err := repos.Elements.SelectUpdatedSince(ctx, t0.Add(-time.Millisecond), 10)
	if err != nil {
		t.Fatalf("reading before delete cursor: %v", err)
	}
	found := false
	for _, row := range beforeDelete {
		if row.ID == el.ID {
			found = true
			if row.DeletedAt == nil {
				t.Fatalf("expected tombstoned element to report deleted_at")
			}
		}
	}
	if !found {
		t.Fatalf("expected tombstoned element to still appear in a page anchored before its delete")
	}

	reloaded, err := repos.Elements.SelectByID(ctx, el.ID)
	if err != nil {
		t.Fatalf("reloading element: %v", err)
	}
	afterDelete, err := repos.Elements.SelectUpdatedSince(ctx, reloaded.UpdatedAt, 10)
	if err != nil {
		t.Fatalf("reading at delete cursor: %v", err)
	}
	for _, row := range afterDelete {
		if row.ID == el.ID {
			t.Fatalf("expected tombstoned element to be absent once the cursor passed its delete")
		}
	}
}
