// Package httpapi implements the read-only HTTP surface (spec §6): the
// versioned sync-feed endpoints and the health check, served by
// github.com/go-chi/chi/v5 the way the rest of the corpus reaches for a
// router instead of hand-rolled path parsing.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/btcmap/btcmap-api/internal/apperr"
)

const (
	defaultLimit = 500
	maxLimit     = 1000
)

// syncEntity is satisfied by every collection's row type (spec §4.4): it
// lets one generic handler shape any collection's tombstones the same
// way, instead of a bespoke MarshalJSON per entity.
type syncEntity interface {
	SyncID() int64
	SyncUpdatedAt() time.Time
	SyncDeletedAt() *time.Time
}

// tombstoneView is what a soft-deleted row reduces to in a sync feed: spec
// §4.4's "non-tombstoned view is NOT emitted in the same page after the
// tombstone".
type tombstoneView struct {
	ID        int64      `json:"id"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at"`
}

func shapeRow[T syncEntity](row T) any {
	if d := row.SyncDeletedAt(); d != nil {
		return tombstoneView{ID: row.SyncID(), UpdatedAt: row.SyncUpdatedAt(), DeletedAt: d}
	}
	return row
}

func shapeRows[T syncEntity](rows []T) []any {
	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = shapeRow(row)
	}
	return out
}

func parseSyncParams(r *http.Request) (since time.Time, limit int, err error) {
	q := r.URL.Query()
	if v := q.Get("updated_since"); v != "" {
		since, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, 0, apperr.BadRequest("malformed updated_since: %v", err)
		}
	}
	limit = defaultLimit
	if v := q.Get("limit"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n <= 0 {
			return time.Time{}, 0, apperr.BadRequest("malformed limit %q", v)
		}
		limit = n
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return since, limit, nil
}

// listHandler builds the GET /v3/<collection> handler (spec §4.4) over
// the collection's SelectUpdatedSince reader.
func listHandler[T syncEntity](selectSince func(ctx context.Context, since time.Time, limit int) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		since, limit, err := parseSyncParams(r)
		if err != nil {
			writeError(w, err)
			return
		}
		rows, err := selectSince(r.Context(), since, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, shapeRows(rows))
	}
}

// getHandler builds the GET /v3/<collection>/{id} handler.
func getHandler[T syncEntity](selectByID func(ctx context.Context, id int64) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, apperr.BadRequest("malformed id"))
			return
		}
		row, err := selectByID(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, shapeRow(row))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindBadRequest:
		status = http.StatusBadRequest
	case apperr.KindUnauthorized:
		status = http.StatusUnauthorized
	case apperr.KindForbidden:
		status = http.StatusForbidden
	case apperr.KindUpstreamUnavailable:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
