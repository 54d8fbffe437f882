// Package types holds the plain entity structs shared by every repository,
// engine, and handler. No ORM: repositories hand-scan database/sql rows
// into these structs, the same way the teacher's storage layer scans rows
// into types.Issue.
package types

import (
	"strconv"
	"time"
)

// Tags is a free-form JSON object annotation bag, stored as canonical JSON
// text and patched one top-level key at a time by internal/tagpatch.
type Tags map[string]any

// Element is a merchant or ATM mirrored from the upstream geographic
// database, extended with local annotations.
type Element struct {
	ID           int64     `json:"id"`
	OverpassData string    `json:"overpass_data"` // verbatim upstream JSON, canonicalized
	Tags         string    `json:"tags"`           // canonical JSON object
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// OverpassElement is the decoded shape of Element.OverpassData, matching
// the upstream snapshot record shape (§4.5).
type OverpassElement struct {
	Type string          `json:"type"` // "node" | "way" | "relation"
	ID   int64           `json:"id"`
	Lat  *float64        `json:"lat,omitempty"`
	Lon  *float64        `json:"lon,omitempty"`
	Bounds *OverpassBounds `json:"bounds,omitempty"`
	Tags map[string]string `json:"tags"`
}

// OverpassBounds is the bounding box of a way/relation, used to compute a
// centroid when no direct lat/lon is present.
type OverpassBounds struct {
	MinLat float64 `json:"minlat"`
	MinLon float64 `json:"minlon"`
	MaxLat float64 `json:"maxlat"`
	MaxLon float64 `json:"maxlon"`
}

// Key returns the "type:id" identity used to match upstream records
// against local rows, per spec's uniqueness invariant.
func (o OverpassElement) Key() string {
	return o.Type + ":" + strconv.FormatInt(o.ID, 10)
}

// SyncID, SyncUpdatedAt, and SyncDeletedAt let httpapi shape this row into
// the sync-feed's tombstone view (spec §4.4) without a bespoke MarshalJSON
// per collection.
func (e *Element) SyncID() int64              { return e.ID }
func (e *Element) SyncUpdatedAt() time.Time   { return e.UpdatedAt }
func (e *Element) SyncDeletedAt() *time.Time  { return e.DeletedAt }

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// AreaType is the closed set of area kinds.
type AreaType string

const (
	AreaTypeCountry   AreaType = "country"
	AreaTypeCommunity AreaType = "community"
)

// Area is a named, polygonally-bounded region.
type Area struct {
	ID        int64      `json:"id"`
	Alias     string     `json:"alias"`
	Tags      string     `json:"tags"` // canonical JSON object; carries geo_json, name, url_alias, type
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func (a *Area) SyncID() int64             { return a.ID }
func (a *Area) SyncUpdatedAt() time.Time  { return a.UpdatedAt }
func (a *Area) SyncDeletedAt() *time.Time { return a.DeletedAt }

// AreaElement is the spatial membership relation between an Area and an
// Element.
type AreaElement struct {
	ID        int64      `json:"id"`
	AreaID    int64      `json:"area_id"`
	ElementID int64      `json:"element_id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func (a *AreaElement) SyncID() int64             { return a.ID }
func (a *AreaElement) SyncUpdatedAt() time.Time  { return a.UpdatedAt }
func (a *AreaElement) SyncDeletedAt() *time.Time { return a.DeletedAt }

// ElementComment is a free-form string attached to an element. Paywalled
// comments start soft-deleted; publication is "undelete".
type ElementComment struct {
	ID        int64      `json:"id"`
	ElementID int64      `json:"element_id"`
	Comment   string     `json:"comment"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func (c *ElementComment) SyncID() int64             { return c.ID }
func (c *ElementComment) SyncUpdatedAt() time.Time  { return c.UpdatedAt }
func (c *ElementComment) SyncDeletedAt() *time.Time { return c.DeletedAt }

// ElementEventType is the closed set of audit event kinds.
type ElementEventType string

const (
	ElementEventCreate ElementEventType = "create"
	ElementEventUpdate ElementEventType = "update"
	ElementEventDelete ElementEventType = "delete"
)

// ElementEvent is an append-only per-element audit record.
type ElementEvent struct {
	ID        int64            `json:"id"`
	UserID    *int64           `json:"user_id,omitempty"`
	ElementID int64            `json:"element_id"`
	Type      ElementEventType `json:"type"`
	Tags      string           `json:"tags"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	DeletedAt *time.Time       `json:"deleted_at,omitempty"`
}

// Issue codes and severities, per spec §4.8.
const (
	IssueDateFormat       = "date_format"
	IssueMisspelledTag    = "misspelled_tag"
	IssueMissingIcon      = "missing_icon"
	IssueNotVerified      = "not_verified"
	IssueOutOfDate        = "out_of_date"
	IssueOutOfDateSoon    = "out_of_date_soon"
)

// IssueSeverity maps each issue code to its severity.
var IssueSeverity = map[string]int{
	IssueDateFormat:    600,
	IssueMisspelledTag: 500,
	IssueMissingIcon:   400,
	IssueNotVerified:   300,
	IssueOutOfDate:     200,
	IssueOutOfDateSoon: 100,
}

// ElementIssue is a structured quality issue on an element.
type ElementIssue struct {
	ID        int64      `json:"id"`
	ElementID int64      `json:"element_id"`
	Code      string     `json:"code"`
	Severity  int        `json:"severity"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func (i *ElementIssue) SyncID() int64             { return i.ID }
func (i *ElementIssue) SyncUpdatedAt() time.Time  { return i.UpdatedAt }
func (i *ElementIssue) SyncDeletedAt() *time.Time { return i.DeletedAt }

// Report is a daily per-area aggregate snapshot.
type Report struct {
	ID        int64      `json:"id"`
	AreaID    int64      `json:"area_id"`
	Date      string     `json:"date"` // YYYY-MM-DD
	Tags      string     `json:"tags"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func (r *Report) SyncID() int64             { return r.ID }
func (r *Report) SyncUpdatedAt() time.Time  { return r.UpdatedAt }
func (r *Report) SyncDeletedAt() *time.Time { return r.DeletedAt }

// Event is a calendar event.
type Event struct {
	ID        int64      `json:"id"`
	Lat       float64    `json:"lat"`
	Lon       float64    `json:"lon"`
	Name      string     `json:"name"`
	Website   string     `json:"website"`
	StartsAt  time.Time  `json:"starts_at"`
	EndsAt    *time.Time `json:"ends_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func (e *Event) SyncID() int64             { return e.ID }
func (e *Event) SyncUpdatedAt() time.Time  { return e.UpdatedAt }
func (e *Event) SyncDeletedAt() *time.Time { return e.DeletedAt }

// Role is a member of the closed RPC-authorization role set.
type Role string

const (
	RoleUser          Role = "user"
	RoleAdmin         Role = "admin"
	RoleRoot          Role = "root"
	RolePlacesSource  Role = "places_source"
	RoleEventManager  Role = "event_manager"
)

// User is operator credentials.
type User struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	Roles        []Role     `json:"roles"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

func (u *User) SyncID() int64             { return u.ID }
func (u *User) SyncUpdatedAt() time.Time  { return u.UpdatedAt }
func (u *User) SyncDeletedAt() *time.Time { return u.DeletedAt }

// HasRole reports whether u carries role.
func (u *User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// OsmUser mirrors a remote OpenStreetMap identity.
type OsmUser struct {
	ID        int64      `json:"id"` // upstream numeric id
	Tags      string     `json:"tags"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// AccessToken is the bearer credential for RPC calls.
type AccessToken struct {
	ID             int64      `json:"id"`
	Secret         string     `json:"secret"`
	UserID         int64      `json:"user_id"`
	AllowedMethods []string   `json:"allowed_methods"` // "all" is a wildcard
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

// Allows reports whether the token's allowed-methods list permits method.
func (t *AccessToken) Allows(method string) bool {
	for _, m := range t.AllowedMethods {
		if m == "all" || m == method {
			return true
		}
	}
	return false
}

// InvoiceSource is the pluggable lightning provider that issued an invoice.
type InvoiceSource string

const (
	InvoiceSourceLnbits InvoiceSource = "lnbits"
	InvoiceSourceLnd    InvoiceSource = "lnd"
)

// InvoiceStatus is the invoice lifecycle state.
type InvoiceStatus string

const (
	InvoiceUnpaid InvoiceStatus = "unpaid"
	InvoicePaid   InvoiceStatus = "paid"
)

// Invoice records a lightning payment request with a deferred side effect
// encoded in Description.
type Invoice struct {
	ID             int64         `json:"id"`
	UUID           string        `json:"uuid"`
	Source         InvoiceSource `json:"source"`
	Description    string        `json:"description"`
	AmountSats     int64         `json:"amount_sats"`
	PaymentHash    string        `json:"payment_hash"`
	PaymentRequest string        `json:"payment_request"`
	Status         InvoiceStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	DeletedAt      *time.Time    `json:"deleted_at,omitempty"`
}

// Ban blocks requests whose real IP falls inside [StartAt, EndAt).
type Ban struct {
	ID        int64      `json:"id"`
	IP        string     `json:"ip"`
	Reason    string     `json:"reason"`
	StartAt   time.Time  `json:"start_at"`
	EndAt     time.Time  `json:"end_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Active reports whether the ban covers t.
func (b *Ban) Active(t time.Time) bool {
	return !t.Before(b.StartAt) && t.Before(b.EndAt)
}

// RpcCall is a per-call audit record, stored in the separate log database.
type RpcCall struct {
	ID          int64      `json:"id"`
	Method      string     `json:"method"`
	Params      string     `json:"params"`
	UserID      *int64     `json:"user_id,omitempty"`
	IP          string     `json:"ip"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	DurationMS  *int64     `json:"duration_ms,omitempty"`
}

// PlaceSubmission is a third-party-sourced candidate place.
type PlaceSubmission struct {
	ID         int64      `json:"id"`
	Origin     string     `json:"origin"`
	ExternalID string     `json:"external_id"`
	Lat        float64    `json:"lat"`
	Lon        float64    `json:"lon"`
	Category   string     `json:"category"`
	Name       string     `json:"name"`
	Extra      string     `json:"extra"` // JSON object of extra fields
	TicketURL  string     `json:"ticket_url,omitempty"`
	Revoked    bool       `json:"revoked"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}
