package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/storagedb"
	"github.com/btcmap/btcmap-api/internal/types"
)

// Legacy v2 view shapes are wire-frozen (spec §9 "Legacy v2 compatibility"):
// field names and casing come from the original controllers
// (controller/element_v2.rs, controller/area_v2.rs, report/v2.rs,
// controller/user_v2.rs), not from this service's v3 model.

func deletedAtString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func parseTagsV2(tagsJSON string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(tagsJSON), &m); err != nil {
		return map[string]any{}
	}
	return m
}

type elementV2 struct {
	ID        string         `json:"id"`
	OsmJSON   map[string]any `json:"osm_json"`
	Tags      map[string]any `json:"tags"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
	DeletedAt string         `json:"deleted_at"`
}

func toElementV2(e *types.Element) elementV2 {
	var osm types.OverpassElement
	_ = json.Unmarshal([]byte(e.OverpassData), &osm)
	return elementV2{
		ID:        osm.Key(),
		OsmJSON:   parseTagsV2(e.OverpassData),
		Tags:      parseTagsV2(e.Tags),
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
		UpdatedAt: e.UpdatedAt.Format(time.RFC3339),
		DeletedAt: deletedAtString(e.DeletedAt),
	}
}

type areaV2 struct {
	ID        string         `json:"id"`
	Tags      map[string]any `json:"tags"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
	DeletedAt string         `json:"deleted_at"`
}

func toAreaV2(a *types.Area) areaV2 {
	return areaV2{
		ID:        a.Alias,
		Tags:      parseTagsV2(a.Tags),
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
		UpdatedAt: a.UpdatedAt.Format(time.RFC3339),
		DeletedAt: deletedAtString(a.DeletedAt),
	}
}

type reportV2 struct {
	ID        int64          `json:"id"`
	AreaID    string         `json:"area_id"`
	Date      string         `json:"date"`
	Tags      map[string]any `json:"tags"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
	DeletedAt string         `json:"deleted_at"`
}

// toReportV2 needs the owning area's alias (report/v2.rs's area_url_alias,
// blanked out for the sentinel "earth" area).
func toReportV2(r *types.Report, areaAlias string) reportV2 {
	if areaAlias == "earth" {
		areaAlias = ""
	}
	return reportV2{
		ID:        r.ID,
		AreaID:    areaAlias,
		Date:      r.Date,
		Tags:      parseTagsV2(r.Tags),
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
		UpdatedAt: r.UpdatedAt.Format(time.RFC3339),
		DeletedAt: deletedAtString(r.DeletedAt),
	}
}

type userV2 struct {
	ID        int64          `json:"id"`
	OsmJSON   map[string]any `json:"osm_json"`
	Tags      map[string]any `json:"tags"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
	DeletedAt string         `json:"deleted_at"`
}

func toUserV2(u *types.User) userV2 {
	return userV2{
		ID:        u.ID,
		OsmJSON:   map[string]any{},
		Tags:      map[string]any{},
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
		UpdatedAt: u.UpdatedAt.Format(time.RFC3339),
		DeletedAt: deletedAtString(u.DeletedAt),
	}
}

func mountLegacyV2(r chi.Router, repos *storagedb.Repos) {
	r.Route("/v2", func(r chi.Router) {
		r.Get("/elements", func(w http.ResponseWriter, r *http.Request) {
			since, limit, err := parseSyncParams(r)
			if err != nil {
				writeError(w, err)
				return
			}
			rows, err := repos.Elements.SelectUpdatedSince(r.Context(), since, limit)
			if err != nil {
				writeError(w, err)
				return
			}
			out := make([]elementV2, len(rows))
			for i, e := range rows {
				out[i] = toElementV2(e)
			}
			writeJSON(w, http.StatusOK, out)
		})
		r.Get("/elements/{id}", func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			if err != nil {
				writeError(w, apperr.BadRequest("malformed id"))
				return
			}
			e, err := repos.Elements.SelectByID(r.Context(), id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, toElementV2(e))
		})

		r.Get("/areas", func(w http.ResponseWriter, r *http.Request) {
			since, limit, err := parseSyncParams(r)
			if err != nil {
				writeError(w, err)
				return
			}
			rows, err := repos.Areas.SelectUpdatedSince(r.Context(), since, limit)
			if err != nil {
				writeError(w, err)
				return
			}
			out := make([]areaV2, len(rows))
			for i, a := range rows {
				out[i] = toAreaV2(a)
			}
			writeJSON(w, http.StatusOK, out)
		})

		r.Get("/reports", func(w http.ResponseWriter, r *http.Request) {
			since, limit, err := parseSyncParams(r)
			if err != nil {
				writeError(w, err)
				return
			}
			rows, err := repos.Reports.SelectUpdatedSince(r.Context(), since, limit)
			if err != nil {
				writeError(w, err)
				return
			}
			out := make([]reportV2, len(rows))
			for i, rep := range rows {
				out[i] = toReportV2(rep, areaAliasOrEmpty(r.Context(), repos, rep.AreaID))
			}
			writeJSON(w, http.StatusOK, out)
		})

		r.Get("/users", func(w http.ResponseWriter, r *http.Request) {
			since, limit, err := parseSyncParams(r)
			if err != nil {
				writeError(w, err)
				return
			}
			rows, err := repos.Users.SelectUpdatedSince(r.Context(), since, limit)
			if err != nil {
				writeError(w, err)
				return
			}
			out := make([]userV2, len(rows))
			for i, u := range rows {
				out[i] = toUserV2(u)
			}
			writeJSON(w, http.StatusOK, out)
		})

		// The audit-event collection v2 clients knew no longer exists in
		// this model (Event is redefined as a calendar entity, spec §3);
		// v2 /events keeps serving that redefined shape rather than 404ing
		// every legacy client outright.
		r.Get("/events", listHandler(repos.Events.SelectUpdatedSince))
		r.Get("/events/{id}", getHandler(repos.Events.SelectByID))
	})
}

func areaAliasOrEmpty(ctx context.Context, repos *storagedb.Repos, areaID int64) string {
	area, err := repos.Areas.SelectByID(ctx, areaID)
	if err != nil {
		return ""
	}
	return area.Alias
}
