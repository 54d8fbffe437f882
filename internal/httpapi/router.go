package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/btcmap/btcmap-api/internal/storagedb"
)

// NewRouter builds the full read-only HTTP surface (spec §6): the v3 sync
// feed per collection, the wire-frozen v2 legacy equivalents, and a
// health check, over repos.
func NewRouter(repos *storagedb.Repos) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handleHealthz)

	r.Route("/v3", func(r chi.Router) {
		r.Get("/elements", listHandler(repos.Elements.SelectUpdatedSince))
		r.Get("/elements/{id}", getHandler(repos.Elements.SelectByID))

		r.Get("/areas", listHandler(repos.Areas.SelectUpdatedSince))
		r.Get("/areas/{id}", getHandler(repos.Areas.SelectByID))

		r.Get("/area-elements", listHandler(repos.AreaElements.SelectUpdatedSince))
		r.Get("/area-elements/{id}", getHandler(repos.AreaElements.SelectByID))

		r.Get("/element-comments", listHandler(repos.ElementComments.SelectUpdatedSince))
		r.Get("/element-comments/{id}", getHandler(repos.ElementComments.SelectByID))

		r.Get("/element-issues", listHandler(repos.ElementIssues.SelectUpdatedSince))
		r.Get("/element-issues/{id}", getHandler(repos.ElementIssues.SelectByID))

		r.Get("/events", listHandler(repos.Events.SelectUpdatedSince))
		r.Get("/events/{id}", getHandler(repos.Events.SelectByID))

		r.Get("/reports", listHandler(repos.Reports.SelectUpdatedSince))
		r.Get("/reports/{id}", getHandler(repos.Reports.SelectByID))

		r.Get("/users", listHandler(repos.Users.SelectUpdatedSince))
		r.Get("/users/{id}", getHandler(repos.Users.SelectByID))
	})

	mountLegacyV2(r, repos)

	return r
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
