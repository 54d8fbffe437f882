package rpcserver

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/btcmap/btcmap-api/internal/access"
	"github.com/btcmap/btcmap-api/internal/annotate"
	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/invoice"
	"github.com/btcmap/btcmap-api/internal/issuegen"
	"github.com/btcmap/btcmap-api/internal/search"
	"github.com/btcmap/btcmap-api/internal/spatial"
	"github.com/btcmap/btcmap-api/internal/storagedb"
	"github.com/btcmap/btcmap-api/internal/tagpatch"
	"github.com/btcmap/btcmap-api/internal/types"
)

// Merger is the subset of the upstream merge engine sync_elements needs.
// Implemented by internal/ingest.Engine.
type Merger interface {
	MergeAll(ctx context.Context) (created, updated, deleted int, err error)
}

// Deps bundles everything the registered handlers close over. Passing
// this instead of threading individual repos keeps Register calls short.
type Deps struct {
	Repos    *storagedb.Repos
	Invoices *invoice.Engine
	Merger   Merger
}

// RegisterAll wires every method named in spec §6's method table into
// server. Handlers needing a role check it explicitly via call.User,
// since the allowed-methods list on the token is the coarser gate already
// enforced by the dispatcher.
func RegisterAll(server *Server, deps *Deps) {
	server.Register("get_area", handleGetArea(deps))
	server.Register("get_element", handleGetElement(deps))
	server.Register("search", handleSearch(deps))

	server.Register("set_area_tag", requireRole(types.RoleAdmin, handleSetAreaTag(deps)))
	server.Register("remove_area_tag", requireRole(types.RoleAdmin, handleRemoveAreaTag(deps)))
	server.Register("set_element_tag", requireRole(types.RoleAdmin, handleSetElementTag(deps)))
	server.Register("remove_element_tag", requireRole(types.RoleAdmin, handleRemoveElementTag(deps)))
	server.Register("boost_element", requireRole(types.RoleAdmin, handleBoostElement(deps)))
	server.Register("add_element_comment", requireRole(types.RoleAdmin, handleAddElementComment(deps)))

	server.Register("add_admin", requireRole(types.RoleRoot, handleAddAdmin(deps)))
	server.Register("add_admin_action", requireRole(types.RoleRoot, handleAddAdminAction(deps)))
	server.Register("remove_admin_action", requireRole(types.RoleRoot, handleRemoveAdminAction(deps)))
	server.Register("generate_reports", requireRole(types.RoleRoot, handleGenerateReports(deps)))
	server.Register("generate_element_issues", requireRole(types.RoleRoot, handleGenerateElementIssues(deps)))
	server.Register("generate_areas_elements_mapping", requireRole(types.RoleRoot, handleGenerateAreasElementsMapping(deps)))
	server.Register("sync_elements", requireRole(types.RoleRoot, handleSyncElements(deps)))
	server.Register("sync_unpaid_invoices", requireRole(types.RoleRoot, handleSyncUnpaidInvoices(deps)))

	server.Register("paywall_add_element_comment", handlePaywallAddElementComment(deps))
	server.Register("paywall_boost_element", handlePaywallBoostElement(deps))
	server.Register("create_invoice", handleCreateInvoice(deps))
	server.Register("get_invoice", handleGetInvoice(deps))

	server.Register("submit_place", requireRole(types.RolePlacesSource, handleSubmitPlace(deps)))
	server.Register("revoke_submitted_place", requireRole(types.RolePlacesSource, handleRevokeSubmittedPlace(deps)))
	server.Register("get_submitted_place", requireRole(types.RolePlacesSource, handleGetSubmittedPlace(deps)))
	server.Register("sync_submitted_places", requireRole(types.RolePlacesSource, handleSyncSubmittedPlaces(deps)))
}

// requireRole wraps h so it 403s unless call.User (already authenticated
// by the dispatcher) holds role.
func requireRole(role types.Role, h Handler) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		if call.User == nil || !call.User.HasRole(role) {
			return nil, apperr.Forbidden("method %q requires role %q", call.Method, role)
		}
		return h(ctx, call)
	}
}

func decodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return apperr.BadRequest("missing params")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.BadRequest("decoding params: %v", err)
	}
	return nil
}

// --- read-only (C11 "any") ---

func handleGetArea(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		var args struct {
			ID    int64  `json:"id"`
			Alias string `json:"url_alias"`
		}
		if err := decodeParams(call.Params, &args); err != nil {
			return nil, err
		}
		if args.Alias != "" {
			return deps.Repos.Areas.SelectByAlias(ctx, args.Alias)
		}
		return deps.Repos.Areas.SelectByID(ctx, args.ID)
	}
}

func handleGetElement(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		var args struct {
			ID int64 `json:"id"`
		}
		if err := decodeParams(call.Params, &args); err != nil {
			return nil, err
		}
		return deps.Repos.Elements.SelectByID(ctx, args.ID)
	}
}

func handleSearch(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		var args struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		if err := decodeParams(call.Params, &args); err != nil {
			return nil, err
		}
		if args.Limit <= 0 || args.Limit > 100 {
			args.Limit = 50
		}

		all, err := deps.Repos.Elements.SelectAllLive(ctx)
		if err != nil {
			return nil, err
		}

		return search.Elements(all, args.Query, args.Limit), nil
	}
}

// --- admin mutations ---

func handleSetAreaTag(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		var args struct {
			ID    int64  `json:"id"`
			Key   string `json:"key"`
			Value any    `json:"value"`
		}
		if err := decodeParams(call.Params, &args); err != nil {
			return nil, err
		}
		area, err := deps.Repos.Areas.SelectByID(ctx, args.ID)
		if err != nil {
			return nil, err
		}
		newTags, err := tagpatch.SetKey(area.Tags, args.Key, args.Value)
		if err != nil {
			return nil, apperr.Wrap(err, "setting area tag")
		}
		return nil, deps.Repos.Areas.SetTags(ctx, args.ID, newTags)
	}
}

func handleRemoveAreaTag(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		var args struct {
			ID  int64  `json:"id"`
			Key string `json:"key"`
		}
		if err := decodeParams(call.Params, &args); err != nil {
			return nil, err
		}
		area, err := deps.Repos.Areas.SelectByID(ctx, args.ID)
		if err != nil {
			return nil, err
		}
		newTags, err := tagpatch.RemoveKey(area.Tags, args.Key)
		if err != nil {
			return nil, apperr.Wrap(err, "removing area tag")
		}
		return nil, deps.Repos.Areas.SetTags(ctx, args.ID, newTags)
	}
}

func handleSetElementTag(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		var args struct {
			ID    int64  `json:"id"`
			Key   string `json:"key"`
			Value any    `json:"value"`
		}
		if err := decodeParams(call.Params, &args); err != nil {
			return nil, err
		}
		el, err := deps.Repos.Elements.SelectByID(ctx, args.ID)
		if err != nil {
			return nil, err
		}
		newTags, err := tagpatch.SetKey(el.Tags, args.Key, args.Value)
		if err != nil {
			return nil, apperr.Wrap(err, "setting element tag")
		}
		return nil, deps.Repos.Elements.SetTags(ctx, args.ID, newTags)
	}
}

func handleRemoveElementTag(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		var args struct {
			ID  int64  `json:"id"`
			Key string `json:"key"`
		}
		if err := decodeParams(call.Params, &args); err != nil {
			return nil, err
		}
		el, err := deps.Repos.Elements.SelectByID(ctx, args.ID)
		if err != nil {
			return nil, err
		}
		newTags, err := tagpatch.RemoveKey(el.Tags, args.Key)
		if err != nil {
			return nil, apperr.Wrap(err, "removing element tag")
		}
		return nil, deps.Repos.Elements.SetTags(ctx, args.ID, newTags)
	}
}

func handleBoostElement(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		var args struct {
			ID   int64 `json:"id"`
			Days int   `json:"days"`
		}
		if err := decodeParams(call.Params, &args); err != nil {
			return nil, err
		}
		return nil, annotate.ApplyBoost(ctx, deps.Repos.Elements, args.ID, args.Days, time.Now().UTC())
	}
}

func handleAddElementComment(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		var args struct {
			ElementID int64  `json:"element_id"`
			Comment   string `json:"comment"`
		}
		if err := decodeParams(call.Params, &args); err != nil {
			return nil, err
		}
		comment, err := deps.Repos.ElementComments.Insert(ctx, args.ElementID, args.Comment)
		if err != nil {
			return nil, err
		}
		if err := annotate.RefreshCommentCount(ctx, deps.Repos.Elements, deps.Repos.ElementComments, args.ElementID); err != nil {
			return nil, err
		}
		return comment, nil
	}
}

// --- root administration ---

func handleAddAdmin(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		var args struct {
			Name     string `json:"name"`
			Password string `json:"password"`
		}
		if err := decodeParams(call.Params, &args); err != nil {
			return nil, err
		}
		hash, err := access.HashPassword(args.Password)
		if err != nil {
			return nil, apperr.Internal(err, "hashing password for %q", args.Name)
		}
		return deps.Repos.Users.Insert(ctx, args.Name, hash, []types.Role{types.RoleAdmin})
	}
}

// addOrRemoveRole is shared by add_admin_action/remove_admin_action, which
// grant/revoke a single named role on an existing user (the root-only
// analogue of the coarser add_admin bootstrap above).
func addOrRemoveRole(ctx context.Context, deps *Deps, userID int64, role types.Role, add bool) (*types.User, error) {
	u, err := deps.Repos.Users.SelectByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	roles := make([]types.Role, 0, len(u.Roles)+1)
	has := false
	for _, r := range u.Roles {
		if r == role {
			has = true
			if !add {
				continue
			}
		}
		roles = append(roles, r)
	}
	if add && !has {
		roles = append(roles, role)
	}
	if err := deps.Repos.Users.SetRoles(ctx, userID, roles); err != nil {
		return nil, err
	}
	return deps.Repos.Users.SelectByID(ctx, userID)
}

func handleAddAdminAction(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		var args struct {
			UserID int64 `json:"user_id"`
		}
		if err := decodeParams(call.Params, &args); err != nil {
			return nil, err
		}
		return addOrRemoveRole(ctx, deps, args.UserID, types.RoleAdmin, true)
	}
}

func handleRemoveAdminAction(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		var args struct {
			UserID int64 `json:"user_id"`
		}
		if err := decodeParams(call.Params, &args); err != nil {
			return nil, err
		}
		return addOrRemoveRole(ctx, deps, args.UserID, types.RoleAdmin, false)
	}
}

func handleGenerateReports(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		areas, err := deps.Repos.Areas.SelectAllLive(ctx)
		if err != nil {
			return nil, err
		}
		today := time.Now().UTC().Format("2006-01-02")
		var generated int
		for _, a := range areas {
			if _, err := deps.Repos.Reports.Upsert(ctx, a.ID, today, "{}"); err != nil {
				return nil, err
			}
			generated++
		}
		return map[string]int{"generated": generated}, nil
	}
}

func handleGenerateElementIssues(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		elements, err := deps.Repos.Elements.SelectAllLive(ctx)
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		var processed int
		for _, el := range elements {
			if err := issuegen.Reconcile(ctx, deps.Repos.ElementIssues, el.ID, el.OverpassData, el.Tags, now); err != nil {
				return nil, err
			}
			processed++
		}
		return map[string]int{"processed": processed}, nil
	}
}

func handleGenerateAreasElementsMapping(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		diff, err := spatial.Recompute(ctx, deps.Repos.Areas, deps.Repos.Elements, deps.Repos.AreaElements)
		if err != nil {
			return nil, err
		}
		return diff, nil
	}
}

func handleSyncElements(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		if deps.Merger == nil {
			return nil, apperr.Internal(nil, "merge engine not configured")
		}
		created, updated, deleted, err := deps.Merger.MergeAll(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int{"created": created, "updated": updated, "deleted": deleted}, nil
	}
}

func handleSyncUnpaidInvoices(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		if err := deps.Invoices.PollUnpaid(ctx); err != nil {
			return nil, err
		}
		return map[string]bool{"ok": true}, nil
	}
}

// --- paywalled actions & invoices (any) ---

func handlePaywallAddElementComment(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		var args struct {
			ElementID  int64  `json:"element_id"`
			Comment    string `json:"comment"`
			AmountSats int64  `json:"amount_sats"`
		}
		if err := decodeParams(call.Params, &args); err != nil {
			return nil, err
		}
		comment, err := deps.Repos.ElementComments.Insert(ctx, args.ElementID, args.Comment)
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		if err := deps.Repos.ElementComments.SetDeletedAt(ctx, comment.ID, &now); err != nil {
			return nil, err
		}
		description := "element_comment:" + strconv.FormatInt(comment.ID, 10) + ":publish"
		return deps.Invoices.Create(ctx, args.AmountSats, description)
	}
}

func handlePaywallBoostElement(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		var args struct {
			ElementID  int64 `json:"element_id"`
			Days       int   `json:"days"`
			AmountSats int64 `json:"amount_sats"`
		}
		if err := decodeParams(call.Params, &args); err != nil {
			return nil, err
		}
		description := "element_boost:" + strconv.FormatInt(args.ElementID, 10) + ":" + strconv.Itoa(args.Days)
		return deps.Invoices.Create(ctx, args.AmountSats, description)
	}
}

func handleCreateInvoice(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		var args struct {
			AmountSats  int64  `json:"amount_sats"`
			Description string `json:"description"`
		}
		if err := decodeParams(call.Params, &args); err != nil {
			return nil, err
		}
		return deps.Invoices.Create(ctx, args.AmountSats, args.Description)
	}
}

func handleGetInvoice(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		var args struct {
			UUID string `json:"uuid"`
		}
		if err := decodeParams(call.Params, &args); err != nil {
			return nil, err
		}
		return deps.Repos.Invoices.SelectByUUID(ctx, args.UUID)
	}
}

// --- places_source ---

func handleSubmitPlace(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		var args struct {
			Origin     string  `json:"origin"`
			ExternalID string  `json:"external_id"`
			Lat        float64 `json:"lat"`
			Lon        float64 `json:"lon"`
			Category   string  `json:"category"`
			Name       string  `json:"name"`
			Extra      string  `json:"extra"`
		}
		if err := decodeParams(call.Params, &args); err != nil {
			return nil, err
		}
		return deps.Repos.PlaceSubmissions.Insert(ctx, args.Origin, args.ExternalID, args.Lat, args.Lon, args.Category, args.Name, args.Extra)
	}
}

func handleRevokeSubmittedPlace(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		var args struct {
			ID int64 `json:"id"`
		}
		if err := decodeParams(call.Params, &args); err != nil {
			return nil, err
		}
		return nil, deps.Repos.PlaceSubmissions.SetRevoked(ctx, args.ID, true)
	}
}

func handleGetSubmittedPlace(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		var args struct {
			ID int64 `json:"id"`
		}
		if err := decodeParams(call.Params, &args); err != nil {
			return nil, err
		}
		return deps.Repos.PlaceSubmissions.SelectByID(ctx, args.ID)
	}
}

func handleSyncSubmittedPlaces(deps *Deps) Handler {
	return func(ctx context.Context, call *Call) (any, error) {
		return deps.Repos.PlaceSubmissions.SelectOpen(ctx)
	}
}
