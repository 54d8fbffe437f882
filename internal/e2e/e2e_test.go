// Package e2e drives the scenarios described in spec.md §8 end to end
// against real SQLite-backed repositories, the way the teacher's
// storage_test.go exercises the Storage interface as a whole rather than
// one method at a time.
package e2e

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/btcmap/btcmap-api/internal/logging"
	"github.com/btcmap/btcmap-api/internal/storagedb"
)

func unmarshalString(raw string, out *string) error {
	return json.Unmarshal([]byte(raw), out)
}

func newEngine(t *testing.T) *storagedb.Engine {
	t.Helper()
	dir := t.TempDir()
	eng, err := storagedb.Open(filepath.Join(dir, "primary.db"), filepath.Join(dir, "log.db"), storagedb.Options{})
	if err != nil {
		t.Fatalf("opening databases: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	if err := eng.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return eng
}

func newRepos(t *testing.T) *storagedb.Repos {
	t.Helper()
	return newEngine(t).NewRepos()
}

func testLogger() logging.Logger { return logging.Nop() }
