package search

import (
	"strconv"
	"testing"

	"github.com/btcmap/btcmap-api/internal/types"
)

func elementNamed(id int64, name string) *types.Element {
	return &types.Element{ID: id, OverpassData: `{"type":"node","id":` + strconv.FormatInt(id, 10) + `,"tags":{"name":"` + name + `"}}`}
}

func TestElementsSubstringMatch(t *testing.T) {
	els := []*types.Element{
		elementNamed(1, "Coffee Shop"),
		elementNamed(2, "Bicycle Repair"),
	}
	got := Elements(els, "coffee", 10)
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("got %+v, want only element 1", got)
	}
}

func TestElementsEmptyQueryReturnsAllUpToLimit(t *testing.T) {
	els := []*types.Element{elementNamed(1, "A"), elementNamed(2, "B"), elementNamed(3, "C")}
	got := Elements(els, "", 2)
	if len(got) != 2 {
		t.Fatalf("got %d elements, want 2", len(got))
	}
}

func TestElementsFallsBackToTypoCorrection(t *testing.T) {
	els := []*types.Element{elementNamed(1, "Satoshi Cafe")}
	got := Elements(els, "Satohsi Cafe", 10)
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("got %+v, want typo-corrected match on element 1", got)
	}
}

func TestElementsNoMatchReturnsEmpty(t *testing.T) {
	els := []*types.Element{elementNamed(1, "Coffee Shop")}
	got := Elements(els, "zzzzzzzzzz", 10)
	if len(got) != 0 {
		t.Fatalf("got %+v, want no matches", got)
	}
}
