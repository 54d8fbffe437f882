package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/btcmap/btcmap-api/internal/storagedb"
)

func newTestRepos(t *testing.T) *storagedb.Repos {
	t.Helper()
	dir := t.TempDir()
	eng, err := storagedb.Open(filepath.Join(dir, "primary.db"), filepath.Join(dir, "log.db"), storagedb.Options{})
	if err != nil {
		t.Fatalf("opening test databases: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	if err := eng.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test databases: %v", err)
	}
	return eng.NewRepos()
}

func TestHealthzReturnsOK(t *testing.T) {
	repos := newTestRepos(t)
	router := NewRouter(repos)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
}

func TestV3ElementsListReturnsEmptyArray(t *testing.T) {
	repos := newTestRepos(t)
	router := NewRouter(repos)

	req := httptest.NewRequest(http.MethodGet, "/v3/elements", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	if rec.Body.String() != "[]\n" {
		t.Fatalf("got body %q, want an empty JSON array", rec.Body.String())
	}
}

func TestV3ElementByIDNotFound(t *testing.T) {
	repos := newTestRepos(t)
	router := NewRouter(repos)

	req := httptest.NewRequest(http.MethodGet, "/v3/elements/999", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want 404", rec.Code)
	}
}

func TestV3ElementRoundTrip(t *testing.T) {
	repos := newTestRepos(t)
	router := NewRouter(repos)

	el, err := repos.Elements.Insert(context.Background(), `{"type":"node","id":1,"tags":{"name":"Shop"}}`, "{}")
	if err != nil {
		t.Fatalf("inserting element: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v3/elements/"+strconv.FormatInt(el.ID, 10), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestLegacyV2ElementsListReturnsEmptyArray(t *testing.T) {
	repos := newTestRepos(t)
	router := NewRouter(repos)

	req := httptest.NewRequest(http.MethodGet, "/v2/elements", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
}
