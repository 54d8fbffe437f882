package storagedb

import (
	"strings"

	"github.com/btcmap/btcmap-api/internal/apperr"
)

// classifyUnique turns a SQLite UNIQUE-constraint failure into a typed
// Conflict error (spec §7), leaving every other error untouched for the
// caller to wrap as Internal.
func classifyUnique(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return apperr.Conflict("unique constraint violated: %v", err)
	}
	return err
}
